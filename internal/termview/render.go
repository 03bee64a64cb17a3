// Package termview draws page markup on a terminal and measures blocks for
// terminal pagination.
package termview

import (
	"errors"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"github.com/muesli/reflow/wordwrap"

	"github.com/metcalfc/leaf/internal/markup"
)

var (
	headingStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFAA00"))

	boldStyle = lipgloss.NewStyle().
			Bold(true)

	italicStyle = lipgloss.NewStyle().
			Italic(true)

	ttsStyle = lipgloss.NewStyle().
			Underline(true).
			Foreground(lipgloss.Color("#00D7FF"))

	noteStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF5F87")).
			Bold(true)

	ruleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))

	markColors = map[string]lipgloss.Color{
		"yellow": lipgloss.Color("#5F5F00"),
		"green":  lipgloss.Color("#005F00"),
		"blue":   lipgloss.Color("#00005F"),
		"pink":   lipgloss.Color("#5F005F"),
	}
)

// NoteMark is drawn after highlights that carry a note.
const NoteMark = "*"

var blockElements = map[string]bool{
	"p": true, "h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"li": true, "tr": true, "pre": true, "blockquote": true, "div": true, "table": true,
	"ul": true, "ol": true, "figure": true, "form": true, "figcaption": true,
}

type frame struct {
	name  string
	style lipgloss.Style
}

type renderer struct {
	width  int
	paras  []string
	cur    strings.Builder
	frames []frame
	pre    int
	// a dropcap runs into the block after it
	dropcap int
	join    bool
}

// Render draws markup as terminal text wrapped to width. Blocks are
// separated by a blank line.
func Render(content string, width int) string {
	r := &renderer{width: max(width, 1)}
	for _, t := range markup.Tokenize(content) {
		r.token(t)
	}
	r.flush()
	return strings.Join(r.paras, "\n\n")
}

func (r *renderer) token(t markup.Token) {
	switch t.Kind {
	case markup.Word:
		r.word(markup.PlainText(t.Raw))

	case markup.Space:
		switch {
		case r.pre > 0:
			r.cur.WriteString(t.Raw)
		case r.cur.Len() > 0 && !strings.HasSuffix(r.cur.String(), " ") && !strings.HasSuffix(r.cur.String(), "\n"):
			r.cur.WriteByte(' ')
		}

	case markup.StartTag:
		if blockElements[t.Name] {
			if r.join {
				r.join = false
			} else {
				r.flush()
			}
		}
		switch t.Name {
		case "div":
			if hasClass(t.Raw, "dropcap") {
				r.dropcap++
				r.push(t.Name, headingStyle)
			}
		case "h1", "h2", "h3", "h4", "h5", "h6":
			r.push(t.Name, headingStyle)
		case "b", "strong":
			r.push(t.Name, boldStyle)
		case "i", "em", "cite":
			r.push(t.Name, italicStyle)
		case "mark":
			r.push(t.Name, markStyle(t.Raw))
		case "span":
			if hasClass(t.Raw, "tts") {
				r.push(t.Name, ttsStyle)
			} else {
				r.push(t.Name, lipgloss.NewStyle())
			}
		case "sup":
			if hasClass(t.Raw, "hl-note") {
				r.cur.WriteString(noteStyle.Render(NoteMark))
			}
		case "li":
			r.cur.WriteString("• ")
		case "td", "th":
			if r.cur.Len() > 0 {
				r.cur.WriteString(" | ")
			}
		case "pre":
			r.pre++
		}

	case markup.EndTag:
		if t.Name == "pre" && r.pre > 0 {
			r.pre--
		}
		r.pop(t.Name)
		if t.Name == "div" && r.dropcap > 0 {
			r.dropcap--
			r.join = true
			return
		}
		if blockElements[t.Name] {
			r.flush()
		}

	case markup.VoidTag:
		switch t.Name {
		case "br":
			r.cur.WriteByte('\n')
		case "hr":
			r.flush()
			r.paras = append(r.paras, ruleStyle.Render(strings.Repeat("─", r.width)))
		case "img", "image":
			r.word("[image]")
		}
	}
}

func (r *renderer) push(name string, s lipgloss.Style) {
	r.frames = append(r.frames, frame{name: name, style: s})
}

func (r *renderer) pop(name string) {
	for i := len(r.frames) - 1; i >= 0; i-- {
		if r.frames[i].name == name {
			r.frames = r.frames[:i]
			return
		}
	}
}

func (r *renderer) word(w string) {
	w = breakWord(w, r.width)
	if len(r.frames) == 0 {
		r.cur.WriteString(w)
		return
	}
	s := lipgloss.NewStyle()
	for i := len(r.frames) - 1; i >= 0; i-- {
		s = s.Inherit(r.frames[i].style)
	}
	r.cur.WriteString(s.Render(w))
}

func (r *renderer) flush() {
	text := r.cur.String()
	r.cur.Reset()
	if r.pre == 0 {
		text = strings.TrimSpace(text)
	}
	if strings.TrimSpace(text) == "" {
		return
	}
	r.paras = append(r.paras, wordwrap.String(text, r.width))
}

// breakWord hard-breaks a word wider than the terminal.
func breakWord(w string, width int) string {
	if runewidth.StringWidth(w) <= width {
		return w
	}
	var (
		b   strings.Builder
		cur int
	)
	for _, ru := range w {
		rw := runewidth.RuneWidth(ru)
		if cur > 0 && cur+rw > width {
			b.WriteByte('\n')
			cur = 0
		}
		b.WriteRune(ru)
		cur += rw
	}
	return b.String()
}

func markStyle(raw string) lipgloss.Style {
	s := lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFFFF"))
	for name, c := range markColors {
		if hasClass(raw, "hl-"+name) {
			return s.Background(c)
		}
	}
	return s.Background(markColors["yellow"])
}

func hasClass(raw, class string) bool {
	i := strings.Index(raw, `class="`)
	if i < 0 {
		return false
	}
	rest := raw[i+len(`class="`):]
	if j := strings.IndexByte(rest, '"'); j >= 0 {
		rest = rest[:j]
	}
	for _, c := range strings.Fields(rest) {
		if c == class {
			return true
		}
	}
	return false
}

// ErrWidth is returned when measuring for a width below one column.
var ErrWidth = errors.New("terminal width must be at least one column")

// Oracle measures blocks in terminal rows. Every block is one row taller
// than its text for the blank line that follows it, so a page of n rows
// holds blocks summing to n+1.
type Oracle struct{}

func (Oracle) Measure(content string, width float64) (float64, error) {
	w := int(width)
	if w < 1 {
		return 0, ErrWidth
	}
	out := Render(content, w)
	if out == "" {
		return 0, nil
	}
	rows := 0
	for _, line := range strings.Split(out, "\n") {
		// lines a terminal would wrap on its own
		rows += max(1, (lipgloss.Width(line)+w-1)/w)
	}
	return float64(rows + 1), nil
}
