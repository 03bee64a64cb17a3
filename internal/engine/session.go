// Package engine runs one chapter at a time: pagination, navigation, the
// highlight and speech overlays and the long-press gesture, behind the API
// the reader front ends use.
package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/metcalfc/leaf/internal/highlight"
	"github.com/metcalfc/leaf/internal/layout"
	"github.com/metcalfc/leaf/internal/navigation"
	"github.com/metcalfc/leaf/internal/tts"
)

// ErrSuperseded is returned by a load overtaken by a newer one. Its result
// is discarded.
var ErrSuperseded = errors.New("chapter load superseded")

// DefaultLongPressDelay is how long a press has to rest on a paragraph.
const DefaultLongPressDelay = 600 * time.Millisecond

// Listener receives session events. LongPressParagraph is called from a
// timer goroutine.
type Listener interface {
	navigation.Listener
	LongPressParagraph(textIndex int, text string)
}

// Funcs adapts optional functions to Listener.
type Funcs struct {
	navigation.Funcs
	OnLongPressParagraph func(textIndex int, text string)
}

func (f Funcs) LongPressParagraph(textIndex int, text string) {
	if f.OnLongPressParagraph != nil {
		f.OnLongPressParagraph(textIndex, text)
	}
}

// Options configure a session.
type Options struct {
	Navigation     navigation.Settings
	LongPressDelay time.Duration
}

// Session holds the pagination, navigation state and overlays of the
// chapter being read; all three are replaced together by Load. Apart from
// Load, which may run on any goroutine, methods are meant for the host
// event loop.
type Session struct {
	oracle layout.Oracle
	l      Listener
	opts   Options
	log    *zap.Logger
	nav    *navigation.Controller

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
	doc    *layout.Document
	res    *layout.Result
	ov     *highlight.Overlay
	bridge *tts.Bridge
	hls    []highlight.Highlight

	press    *time.Timer
	pressGen uint64
}

// New returns a session measuring with oracle.
func New(oracle layout.Oracle, l Listener, opts Options, log *zap.Logger) *Session {
	if l == nil {
		l = Funcs{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	if opts.LongPressDelay <= 0 {
		opts.LongPressDelay = DefaultLongPressDelay
	}
	return &Session{
		oracle: oracle,
		l:      l,
		opts:   opts,
		log:    log,
		nav:    navigation.New(opts.Navigation, l, log.Named("navigation")),
	}
}

// Load paginates doc and makes it the current chapter, positioned on page
// entry (or navigation.EntryLast). A load started while another one runs
// cancels it; the older one returns ErrSuperseded and publishes nothing.
func (s *Session) Load(ctx context.Context, doc *layout.Document, settings layout.Settings, entry int) (*layout.Result, error) {
	return s.load(ctx, doc, settings, func(*layout.Result) int { return entry })
}

// Relayout paginates the current chapter again for new settings, keeping
// the text at the top of the visible page in view.
func (s *Session) Relayout(ctx context.Context, settings layout.Settings) (*layout.Result, error) {
	s.mu.Lock()
	doc, res := s.doc, s.res
	s.mu.Unlock()
	if doc == nil {
		return nil, errors.New("no chapter loaded")
	}
	idx, offset, ok := res.Position(s.nav.State().CurrentPage)
	return s.load(ctx, doc, settings, func(r *layout.Result) int {
		if !ok {
			return 0
		}
		page, _ := r.PageAt(idx, offset)
		return page
	})
}

func (s *Session) load(ctx context.Context, doc *layout.Document, settings layout.Settings, entry func(*layout.Result) int) (*layout.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.gen++
	gen := s.gen
	s.cancel = cancel
	s.mu.Unlock()

	started := time.Now()
	res, err := layout.New(s.oracle, settings, s.log.Named("layout")).Paginate(ctx, doc)

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		s.log.Debug("Discarding superseded pagination", zap.String("title", doc.Title), zap.Uint64("generation", gen))
		return nil, ErrSuperseded
	}
	s.cancel = nil
	cancel()
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("unable to paginate %q: %w", doc.Title, err)
	}
	if s.doc != doc {
		s.ov = highlight.NewOverlay(doc, s.log.Named("highlight"))
		s.ov.Apply(s.hls)
	} else {
		s.ov.SetSpeech()
	}
	s.doc, s.res = doc, res
	s.bridge = tts.NewBridge(res, s.ov, s.nav, s.log.Named("tts"))
	s.mu.Unlock()

	s.log.Debug("Chapter paginated", zap.String("title", doc.Title), zap.Int("pages", res.TotalPages), zap.Duration("elapsed", time.Since(started)))
	s.nav.Reset(res.TotalPages, entry(res))
	return res, nil
}

// Result returns the current pagination or nil.
func (s *Session) Result() *layout.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.res
}

// Document returns the current chapter or nil.
func (s *Session) Document() *layout.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc
}

// Navigation returns the controller gestures are sent to.
func (s *Session) Navigation() *navigation.Controller {
	return s.nav
}

// ApplyHighlights replaces the highlight set of the chapter and returns the
// number located. The set is kept for later loads.
func (s *Session) ApplyHighlights(hls []highlight.Highlight) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hls = slices.Clone(hls)
	if s.ov == nil {
		return 0
	}
	return s.ov.Apply(s.hls)
}

// Anchors returns the located highlights of the chapter.
func (s *Session) Anchors() []highlight.Anchor {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ov == nil {
		return nil
	}
	return s.ov.Anchors()
}

// RenderPage returns the markup of page with highlights and speech marked.
func (s *Session) RenderPage(page int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.res == nil || page < 0 || page >= len(s.res.Pages) {
		return ""
	}
	return s.ov.Render(s.res.Pages[page])
}

// RenderCurrent renders the visible page.
func (s *Session) RenderCurrent() string {
	return s.RenderPage(s.nav.State().CurrentPage)
}

// JumpToBlock turns to the page where a text unit starts.
func (s *Session) JumpToBlock(textIndex int) bool {
	res := s.Result()
	if res == nil {
		return false
	}
	page, ok := res.PageOf(textIndex)
	if !ok {
		return false
	}
	s.nav.JumpTo(page, true)
	return true
}

// JumpToFractionalProgress turns to the page at progress p of the chapter.
func (s *Session) JumpToFractionalProgress(p float64) {
	s.nav.JumpTo(navigation.PageAt(p, s.nav.State().TotalPages), false)
}

// Progress returns the reading progress through the chapter.
func (s *Session) Progress() float64 {
	st := s.nav.State()
	return navigation.Progress(st.CurrentPage+1, st.TotalPages)
}

// Speak reports the sentence the speech engine started.
func (s *Session) Speak(textIndex int, sentence string) (int, bool) {
	s.mu.Lock()
	b := s.bridge
	s.mu.Unlock()
	if b == nil {
		return 0, false
	}
	return b.OnSentence(textIndex, sentence)
}

// StopSpeaking clears the speech overlay.
func (s *Session) StopSpeaking() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ov != nil {
		s.ov.SetSpeech()
	}
}

// BlockAt returns the text index of the block at height y of a page.
func (s *Session) BlockAt(page int, y float64) (int, bool) {
	res := s.Result()
	if res == nil || page < 0 || page >= len(res.Pages) || y < 0 {
		return 0, false
	}
	top := 0.0
	for _, b := range res.Pages[page].Blocks {
		if y < top+b.Height {
			idx := b.TextIndex()
			return idx, idx >= 0
		}
		top += b.Height
	}
	return 0, false
}

// PressStart starts the long-press timer for a paragraph.
func (s *Session) PressStart(textIndex int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopPress()
	if s.doc == nil {
		return
	}
	u, ok := s.doc.Unit(textIndex)
	if !ok {
		return
	}
	gen := s.pressGen
	s.press = time.AfterFunc(s.opts.LongPressDelay, func() {
		s.mu.Lock()
		fire := gen == s.pressGen
		s.press = nil
		s.mu.Unlock()
		if fire {
			s.l.LongPressParagraph(u.Index, u.Text)
		}
	})
}

// PressMove cancels a pending long press; the finger moved or a selection
// started.
func (s *Session) PressMove() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopPress()
}

// PressEnd cancels a pending long press on release.
func (s *Session) PressEnd() {
	s.PressMove()
}

func (s *Session) stopPress() {
	s.pressGen++
	if s.press != nil {
		s.press.Stop()
		s.press = nil
	}
}

// Close cancels a running load and pending timers.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.gen++
	s.stopPress()
	s.nav.StopAutoAdvance()
	return nil
}
