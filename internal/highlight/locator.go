// Package highlight locates stored highlight strings in a chapter and
// overlays them, and the text-to-speech position, on rendered pages.
//
// Locating works on an index built once per document: all text units are
// concatenated into one character stream with a parallel table pointing
// every character back to its unit and offset. Overlays are computed from
// that index first and only then applied to page markup, so wrapping one
// range never moves another.
package highlight

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/metcalfc/leaf/internal/layout"
	"github.com/metcalfc/leaf/internal/markup"
)

// ErrCrossesBoundary is returned when a segment cannot be wrapped because it
// starts and ends in different elements.
var ErrCrossesBoundary = markup.ErrCrossesBoundary

// Highlight is a persisted highlight record.
type Highlight struct {
	ID          string
	MatchedText string
	Color       string
	HasNote     bool
}

// Segment is a character range [Start, End) of one text unit.
type Segment struct {
	TextIndex  int
	Start, End int
}

// Anchor is the located position of a highlight, one segment per text unit
// the match touches, in document order.
type Anchor struct {
	ID       string
	Segments []Segment
}

// origin maps one stream character back to its unit. Virtual separators
// between units have unit -1.
type origin struct {
	unit       int
	start, end int
}

// Locator searches the text of a document independent of its pagination.
type Locator struct {
	text    string
	offsets []int // byte offset of every stream character
	origins []origin
	spans   map[int][2]int // unit -> stream character range
}

// NewLocator indexes the units. Whitespace runs collapse to one space and
// units are separated by a virtual space; text is compared in NFC.
func NewLocator(units []layout.TextUnit) *Locator {
	l := &Locator{spans: make(map[int][2]int, len(units))}
	var b strings.Builder
	push := func(r rune, o origin) {
		l.offsets = append(l.offsets, b.Len())
		l.origins = append(l.origins, o)
		b.WriteRune(r)
	}
	lastSpace := func() bool {
		return len(l.origins) == 0 || strings.HasSuffix(b.String(), " ")
	}

	for _, u := range units {
		if !lastSpace() {
			push(' ', origin{unit: -1})
		}
		first := len(l.origins)

		runes := []rune(u.Text)
		for i := 0; i < len(runes); {
			// a base character and its combining marks compose together
			j := i + 1
			for j < len(runes) && unicode.Is(unicode.M, runes[j]) {
				j++
			}
			cluster := string(runes[i:j])
			if j-i > 1 {
				cluster = norm.NFC.String(cluster)
			}
			for _, r := range cluster {
				if unicode.IsSpace(r) {
					if lastSpace() {
						continue
					}
					r = ' '
				}
				push(r, origin{unit: u.Index, start: i, end: j})
			}
			i = j
		}
		l.spans[u.Index] = [2]int{first, len(l.origins)}
	}
	l.text = b.String()
	return l
}

// normalize prepares a query the way the stream is built.
func normalize(s string) string {
	return strings.Join(strings.Fields(norm.NFC.String(s)), " ")
}

type options struct {
	hint    int
	hasHint bool
}

// Option changes how duplicate matches are resolved.
type Option func(*options)

// WithHint prefers the occurrence whose first unit is nearest to textIndex,
// typically the unit the highlight was found in last time. Without it the
// first occurrence in document order wins.
func WithHint(textIndex int) Option {
	return func(o *options) {
		o.hint, o.hasHint = textIndex, true
	}
}

// Locate finds matched in the document. It returns false when the text no
// longer occurs.
func (l *Locator) Locate(matched string, opts ...Option) (Anchor, bool) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	q := normalize(matched)
	if q == "" {
		return Anchor{}, false
	}

	at := strings.Index(l.text, q)
	if at < 0 {
		return Anchor{}, false
	}
	if o.hasHint {
		best, dist := at, distance(l.origins[l.char(at)].unit, o.hint)
		for from := at + 1; from < len(l.text); {
			i := strings.Index(l.text[from:], q)
			if i < 0 {
				break
			}
			cand := from + i
			if d := distance(l.origins[l.char(cand)].unit, o.hint); d < dist {
				best, dist = cand, d
			}
			from = cand + 1
		}
		at = best
	}
	start := l.char(at)
	end := l.char(at + len(q))
	return Anchor{Segments: l.segments(start, end)}, true
}

// LocateIn finds text inside a single unit.
func (l *Locator) LocateIn(textIndex int, text string) (Segment, bool) {
	span, ok := l.spans[textIndex]
	q := normalize(text)
	if !ok || q == "" || span[0] == span[1] {
		return Segment{}, false
	}
	from := l.offsets[span[0]]
	to := len(l.text)
	if span[1] < len(l.offsets) {
		to = l.offsets[span[1]]
	}
	i := strings.Index(l.text[from:to], q)
	if i < 0 {
		return Segment{}, false
	}
	segs := l.segments(l.char(from+i), l.char(from+i+len(q)))
	if len(segs) != 1 {
		return Segment{}, false
	}
	return segs[0], true
}

// char converts a byte offset of the stream into a character position.
func (l *Locator) char(byteOff int) int {
	return sort.SearchInts(l.offsets, byteOff)
}

// segments groups stream characters [start, end) by unit.
func (l *Locator) segments(start, end int) []Segment {
	first, last := l.origins[start], l.origins[end-1]
	if first.unit >= 0 && first.unit == last.unit {
		return []Segment{{TextIndex: first.unit, Start: first.start, End: last.end}}
	}

	var (
		out     []Segment
		cur     Segment
		open    bool
		visible bool
	)
	flush := func() {
		if open && visible {
			out = append(out, cur)
		}
		open, visible = false, false
	}
	for i := start; i < end; i++ {
		o := l.origins[i]
		if o.unit < 0 {
			flush()
			continue
		}
		if open && o.unit != cur.TextIndex {
			flush()
		}
		if !open {
			cur = Segment{TextIndex: o.unit, Start: o.start}
			open = true
		}
		cur.End = o.end
		if l.text[l.offsets[i]] != ' ' {
			visible = true
		}
	}
	flush()
	return out
}

func distance(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}
