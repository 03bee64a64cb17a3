//go:build gui

package main

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/driver/desktop"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"
	cli "github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/metcalfc/leaf/internal/layout"
	"github.com/metcalfc/leaf/internal/markup"
	"github.com/metcalfc/leaf/internal/navigation"
)

const (
	appName        = "gleaf"
	appUsage       = "e-book reader with pages, highlights and read-aloud"
	consoleLogging = true
)

const (
	headingScale  = 1.4
	turnDuration  = 250 * time.Millisecond
	resizeSettle  = 150 * time.Millisecond
	imageAspect   = 0.75
	minFontSize   = 8
	maxFontSize   = 48
	fontSizeDelta = 2
)

// readerTheme is the default theme with a configurable text size.
type readerTheme struct {
	fyne.Theme
	size func() float32
}

func (t readerTheme) Size(n fyne.ThemeSizeName) float32 {
	switch n {
	case theme.SizeNameText:
		return t.size()
	case theme.SizeNameSubHeadingText:
		return t.size() * headingScale
	}
	return t.Theme.Size(n)
}

type run struct {
	text   string
	bold   bool
	italic bool
	mark   string
	speech bool
	note   bool
}

type para struct {
	heading bool
	image   bool
	runs    []run
}

func (p para) text() string {
	var b strings.Builder
	for _, r := range p.runs {
		b.WriteString(r.text)
	}
	return b.String()
}

var guiBlockElements = map[string]bool{
	"p": true, "h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"li": true, "tr": true, "pre": true, "blockquote": true, "div": true, "figure": true,
	"form": true, "figcaption": true,
}

// parse splits page markup into paragraphs of styled runs.
func parse(content string) []para {
	var (
		out     []para
		cur     para
		style   run
		heading int
		bold    int
		italic  int
		marks   []string
		speech  int
	)
	flush := func() {
		if cur.image || strings.TrimSpace(cur.text()) != "" {
			out = append(out, cur)
		}
		cur = para{heading: heading > 0}
	}
	add := func(text string) {
		style.bold, style.italic, style.speech = bold > 0, italic > 0, speech > 0
		style.mark = ""
		if len(marks) > 0 {
			style.mark = marks[len(marks)-1]
		}
		if n := len(cur.runs); n > 0 {
			last := &cur.runs[n-1]
			if last.bold == style.bold && last.italic == style.italic && last.mark == style.mark && last.speech == style.speech && !last.note && !style.note {
				last.text += text
				return
			}
		}
		r := style
		r.text = text
		cur.runs = append(cur.runs, r)
	}

	for _, t := range markup.Tokenize(content) {
		switch t.Kind {
		case markup.Word:
			add(markup.PlainText(t.Raw))
		case markup.Space:
			if s := cur.text(); s != "" && !strings.HasSuffix(s, " ") {
				add(" ")
			}
		case markup.StartTag:
			if guiBlockElements[t.Name] {
				flush()
			}
			switch t.Name {
			case "h1", "h2", "h3", "h4", "h5", "h6":
				heading++
				cur.heading = true
			case "b", "strong":
				bold++
			case "i", "em", "cite":
				italic++
			case "mark":
				marks = append(marks, markColor(t.Raw))
			case "span":
				if strings.Contains(t.Raw, `class="tts"`) {
					speech++
				}
			case "sup":
				if strings.Contains(t.Raw, "hl-note") {
					style.note = true
					add("*")
					style.note = false
				}
			}
		case markup.EndTag:
			switch t.Name {
			case "h1", "h2", "h3", "h4", "h5", "h6":
				heading = max(heading-1, 0)
			case "b", "strong":
				bold = max(bold-1, 0)
			case "i", "em", "cite":
				italic = max(italic-1, 0)
			case "mark":
				if len(marks) > 0 {
					marks = marks[:len(marks)-1]
				}
			case "span":
				speech = max(speech-1, 0)
			}
			if guiBlockElements[t.Name] {
				flush()
			}
		case markup.VoidTag:
			switch t.Name {
			case "img", "image":
				flush()
				cur.image = true
				flush()
			case "hr":
				flush()
				add("⁂")
				flush()
			}
		}
	}
	flush()
	return out
}

func markColor(raw string) string {
	for _, c := range []string{"yellow", "green", "blue", "pink"} {
		if strings.Contains(raw, "hl-"+c) {
			return c
		}
	}
	return "yellow"
}

var markColors = map[string]fyne.ThemeColorName{
	"yellow": theme.ColorNameWarning,
	"green":  theme.ColorNameSuccess,
	"blue":   theme.ColorNamePrimary,
	"pink":   theme.ColorNameError,
}

func richSegments(content string) []widget.RichTextSegment {
	var segs []widget.RichTextSegment
	for _, p := range parse(content) {
		if p.image {
			segs = append(segs, &widget.TextSegment{Text: "[image]", Style: widget.RichTextStyleBlockquote})
			continue
		}
		for i, r := range p.runs {
			st := widget.RichTextStyleInline
			if p.heading {
				st.SizeName = theme.SizeNameSubHeadingText
				st.TextStyle.Bold = true
			}
			st.TextStyle.Bold = st.TextStyle.Bold || r.bold
			st.TextStyle.Italic = r.italic
			switch {
			case r.note:
				st.ColorName = theme.ColorNameError
			case r.speech:
				st.ColorName = theme.ColorNameHyperlink
				st.TextStyle.Italic = true
			case r.mark != "":
				st.ColorName = markColors[r.mark]
				st.TextStyle.Bold = true
			}
			st.Inline = i < len(p.runs)-1
			segs = append(segs, &widget.TextSegment{Text: r.text, Style: st})
		}
	}
	return segs
}

// fyneOracle measures blocks by word wrapping them with the rendered
// widths of the current text size.
type fyneOracle struct {
	size func() float32
}

func (o fyneOracle) Measure(content string, width float64) (float64, error) {
	if width <= 0 || math.IsNaN(width) {
		return 0, layout.ErrMeasure
	}
	h := 0.0
	for _, p := range parse(content) {
		if p.image {
			h += width * imageAspect
			continue
		}
		size, style := o.size(), fyne.TextStyle{}
		if p.heading {
			size, style.Bold = size*headingScale, true
		}
		lineHeight := float64(fyne.MeasureText("Mg", size, style).Height + theme.LineSpacing())
		h += float64(wrapLines(p.text(), size, style, width)) * lineHeight
	}
	return h, nil
}

func wrapLines(text string, size float32, style fyne.TextStyle, width float64) int {
	space := float64(fyne.MeasureText(" ", size, style).Width)
	lines, cur := 1, 0.0
	for _, w := range strings.Fields(text) {
		ww := float64(fyne.MeasureText(w, size, style).Width)
		switch {
		case cur == 0:
			cur = ww
		case cur+space+ww > width:
			lines++
			cur = ww
		default:
			cur += space + ww
		}
		if cur > width {
			extra := int(cur / width)
			lines += extra
			cur -= float64(extra) * width
		}
	}
	return lines
}

// pageSurface shows one page and turns pointer input into navigation.
type pageSurface struct {
	widget.BaseWidget
	text *widget.RichText

	onDrag    func(dx float32)
	onDragEnd func()
	onTap     func(x float32)
	onDown    func(y float32)
	onUp      func()
	onResize  func(fyne.Size)
}

func newPageSurface() *pageSurface {
	p := &pageSurface{text: widget.NewRichText()}
	p.text.Wrapping = fyne.TextWrapWord
	p.ExtendBaseWidget(p)
	return p
}

func (p *pageSurface) CreateRenderer() fyne.WidgetRenderer {
	return widget.NewSimpleRenderer(p.text)
}

func (p *pageSurface) Resize(s fyne.Size) {
	if s == p.Size() {
		return
	}
	p.BaseWidget.Resize(s)
	if p.onResize != nil {
		p.onResize(s)
	}
}

func (p *pageSurface) Dragged(ev *fyne.DragEvent) { p.onDrag(ev.Dragged.DX) }
func (p *pageSurface) DragEnd() { p.onDragEnd() }
func (p *pageSurface) Tapped(ev *fyne.PointEvent) { p.onTap(ev.Position.X) }

func (p *pageSurface) MouseDown(ev *desktop.MouseEvent) { p.onDown(ev.Position.Y) }
func (p *pageSurface) MouseUp(*desktop.MouseEvent) { p.onUp() }

// show replaces the page content, shifted by the drag offset.
func (p *pageSurface) show(content string, offset float32) {
	p.text.Segments = richSegments(content)
	p.text.Move(fyne.NewPos(offset, 0))
	p.text.Refresh()
}

func readBook(ctx context.Context, cmd *cli.Command) error {
	env := envFromContext(ctx)
	book, hash, err := openBook(ctx, cmd)
	if err != nil {
		return err
	}

	var (
		fontMu   sync.Mutex
		fontSize = float32(env.Cfg.Layout.FontSize)
	)
	currentFont := func() float32 {
		fontMu.Lock()
		defer fontMu.Unlock()
		return fontSize
	}

	a := app.New()
	a.Settings().SetTheme(readerTheme{Theme: theme.DefaultTheme(), size: currentFont})
	w := a.NewWindow(appName + " - " + book.Title)

	surface := newPageSurface()
	statusLabel := widget.NewLabel("")
	statusLabel.Alignment = fyne.TextAlignCenter
	controlsLabel := widget.NewLabel("←/→: page  N/P: chapter  A: auto  S: speak  T: TOC  +/-: font  F: fullscreen  Q: quit")
	controlsLabel.Alignment = fyne.TextAlignCenter

	var (
		bs       *bookSession
		speaking bool
		done     = make(chan struct{})
		once     sync.Once
	)

	settings := func() layout.Settings {
		size := surface.Size()
		pad := 2 * theme.InnerPadding()
		line := fyne.MeasureText("Mg", currentFont(), fyne.TextStyle{}).Height + theme.LineSpacing()
		return env.Cfg.LayoutSettings(float64(size.Width-pad), float64(size.Height-pad), float64(line))
	}

	updateDisplay := func() {
		if bs == nil {
			return
		}
		nav := bs.sess.Navigation().State()
		surface.show(bs.sess.RenderCurrent(), float32(nav.DragOffset))
		flags := ""
		if bs.sess.Navigation().AutoAdvancing() {
			flags += " [AUTO]"
		}
		if speaking {
			flags += " [SPEAKING]"
		}
		statusLabel.SetText(fmt.Sprintf("%s | Page %d/%d | %.0f%%%s",
			book.ChapterTitle(bs.currentChapter()), nav.CurrentPage+1, nav.TotalPages, 100*bs.sess.Progress(), flags))
	}

	// afterNavigation animates a started turn and loads a chapter navigation
	// ran into.
	var afterNavigation func()
	afterNavigation = func() {
		if mv, ok := bs.takePending(); ok {
			bs.stopSpeaking()
			if err := bs.load(ctx, mv.chapter, mv.entry); err != nil {
				dialog.ShowError(err, w)
			}
		}
		nav := bs.sess.Navigation()
		if nav.State().Animating {
			fyne.NewAnimation(turnDuration, func(f float32) {
				if f >= 1 {
					nav.Settle()
				}
				updateDisplay()
			}).Start()
		}
		updateDisplay()
	}

	h := hooks{
		autoAdvanceEnded: func() {
			statusLabel.SetText(statusLabel.Text + " - end of chapter")
		},
		longPress: func(textIndex int, text string) {
			// timer goroutine
			fyne.Do(func() {
				dialog.ShowConfirm("Highlight paragraph", ellipsis(text, 120), func(ok bool) {
					if !ok {
						return
					}
					chapter := bs.currentChapter()
					hl, err := bs.store.AddHighlight(hash, chapter, text, "", "")
					if err != nil {
						dialog.ShowError(err, w)
						return
					}
					n := bs.sess.ApplyHighlights(bs.store.Highlights(hash, chapter))
					env.Log.Debug("Paragraph highlighted", zap.String("id", hl.ID), zap.Int("text index", textIndex), zap.Int("located", n))
					updateDisplay()
				}, w)
			})
		},
	}

	w.Resize(fyne.NewSize(800, 600))
	bs = newBookSession(env, book, hash, fyneOracle{size: currentFont}, 800, settings, h)
	nav := bs.sess.Navigation()

	var resizeTimer *time.Timer
	surface.onResize = func(s fyne.Size) {
		nav.SetViewportWidth(float64(s.Width))
		if resizeTimer != nil {
			resizeTimer.Stop()
		}
		resizeTimer = time.AfterFunc(resizeSettle, func() {
			fyne.Do(func() {
				if err := bs.relayout(ctx); err != nil {
					env.Log.Warn("Unable to lay out chapter", zap.Error(err))
				}
				updateDisplay()
			})
		})
	}
	surface.onDrag = func(dx float32) {
		bs.sess.PressMove()
		nav.DragProgress(float64(dx))
		updateDisplay()
	}
	surface.onDragEnd = func() {
		nav.DragEnd()
		afterNavigation()
	}
	surface.onTap = func(x float32) {
		nav.Tap(float64(x))
		afterNavigation()
	}
	surface.onDown = func(y float32) {
		if idx, ok := bs.sess.BlockAt(nav.State().CurrentPage, float64(y-theme.InnerPadding())); ok {
			bs.sess.PressStart(idx)
		}
	}
	surface.onUp = bs.sess.PressEnd

	// TOC panel
	tocList := widget.NewList(
		func() int { return len(book.TOC) },
		func() fyne.CanvasObject { return widget.NewLabel("Title") },
		func(id widget.ListItemID, obj fyne.CanvasObject) {
			entry := book.TOC[id]
			obj.(*widget.Label).SetText(strings.Repeat("  ", entry.Level) + entry.Title)
		},
	)
	tocContainer := container.NewBorder(widget.NewLabel("Table of Contents"), nil, nil, nil, tocList)
	readingContent := container.NewBorder(statusLabel, controlsLabel, nil, nil, surface)
	split := container.NewHSplit(tocContainer, readingContent)
	split.Offset = 0.3
	tocContainer.Hide()

	tocList.OnSelected = func(id widget.ListItemID) {
		entry := book.TOC[id]
		if entry.Chapter != bs.currentChapter() {
			bs.stopSpeaking()
			if err := bs.load(ctx, entry.Chapter, 0); err != nil {
				dialog.ShowError(err, w)
				return
			}
		}
		if entry.TextIndex >= 0 {
			bs.sess.JumpToBlock(entry.TextIndex)
		}
		tocContainer.Hide()
		split.Refresh()
		afterNavigation()
	}

	if err := bs.start(ctx, int(cmd.Int("chapter")), cmd.Bool("fresh")); err != nil {
		return err
	}

	ticker := time.NewTicker(env.Cfg.Navigation.AutoAdvance)
	speech := time.NewTicker(env.Cfg.Reading.SpeechPace)
	go func() {
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				fyne.Do(a.Quit)
				return
			case <-ticker.C:
				fyne.Do(func() {
					if nav.AutoAdvancing() {
						nav.AutoAdvanceTick()
						afterNavigation()
					}
				})
			case <-speech.C:
				fyne.Do(func() {
					if speaking {
						speaking = bs.speak()
						afterNavigation()
					}
				})
			}
		}
	}()

	quit := func() {
		once.Do(func() {
			ticker.Stop()
			speech.Stop()
			close(done)
			if err := bs.close(); err != nil {
				env.Log.Warn("Unable to close reading session", zap.Error(err))
			}
		})
	}

	relayout := func() {
		if err := bs.relayout(ctx); err != nil {
			dialog.ShowError(err, w)
		}
		updateDisplay()
	}

	w.Canvas().SetOnTypedKey(func(key *fyne.KeyEvent) {
		switch key.Name {
		case fyne.KeyRight, fyne.KeySpace, fyne.KeyPageDown:
			nav.GoNext()
			afterNavigation()
		case fyne.KeyLeft, fyne.KeyPageUp:
			nav.GoPrevious()
			afterNavigation()
		case fyne.KeyN:
			bs.boundary(navigation.ChapterEnd)
			afterNavigation()
		case fyne.KeyP:
			bs.boundary(navigation.ChapterStart)
			afterNavigation()
		case fyne.KeyA:
			if nav.AutoAdvancing() {
				nav.StopAutoAdvance()
			} else {
				nav.StartAutoAdvance()
				ticker.Reset(env.Cfg.Navigation.AutoAdvance)
			}
			updateDisplay()
		case fyne.KeyS:
			if speaking {
				speaking = false
				bs.stopSpeaking()
			} else {
				speaking = bs.speak()
				speech.Reset(env.Cfg.Reading.SpeechPace)
			}
			afterNavigation()
		case fyne.KeyT:
			if tocContainer.Visible() {
				tocContainer.Hide()
			} else {
				tocContainer.Show()
			}
			split.Refresh()
		case fyne.KeyF:
			w.SetFullScreen(!w.FullScreen())
		case fyne.KeyQ, fyne.KeyEscape:
			quit()
			a.Quit()
		}
	})

	w.Canvas().SetOnTypedRune(func(r rune) {
		fontMu.Lock()
		switch r {
		case '+', '=':
			fontSize = min(fontSize+fontSizeDelta, maxFontSize)
		case '-':
			fontSize = max(fontSize-fontSizeDelta, minFontSize)
		default:
			fontMu.Unlock()
			return
		}
		fontMu.Unlock()
		a.Settings().SetTheme(readerTheme{Theme: theme.DefaultTheme(), size: currentFont})
		relayout()
	})

	w.SetOnClosed(quit)
	w.SetContent(split)
	updateDisplay()
	w.ShowAndRun()
	quit()
	return nil
}
