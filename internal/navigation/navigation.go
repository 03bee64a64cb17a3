// Package navigation tracks the visible page of a paginated chapter and
// turns gestures, timer ticks and jumps into page transitions.
package navigation

import (
	"math"

	"go.uber.org/zap"
)

// Boundary tells which end of a chapter navigation ran into.
type Boundary int

const (
	ChapterStart Boundary = iota
	ChapterEnd
)

func (b Boundary) String() string {
	if b == ChapterStart {
		return "start"
	}
	return "end"
}

// Listener receives the outcome of committed transitions.
type Listener interface {
	// PageChanged reports the page now visible, current counts from 1.
	PageChanged(current, total int)
	// ChapterBoundary asks the application to load the neighbouring chapter.
	ChapterBoundary(b Boundary)
	// AutoAdvanceEnded reports that auto-advance stopped at the chapter end.
	AutoAdvanceEnded()
}

// Funcs adapts optional functions to Listener.
type Funcs struct {
	OnPageChanged      func(current, total int)
	OnChapterBoundary  func(b Boundary)
	OnAutoAdvanceEnded func()
}

func (f Funcs) PageChanged(current, total int) {
	if f.OnPageChanged != nil {
		f.OnPageChanged(current, total)
	}
}

func (f Funcs) ChapterBoundary(b Boundary) {
	if f.OnChapterBoundary != nil {
		f.OnChapterBoundary(b)
	}
}

func (f Funcs) AutoAdvanceEnded() {
	if f.OnAutoAdvanceEnded != nil {
		f.OnAutoAdvanceEnded()
	}
}

// DefaultDragCommitFraction is the share of the viewport width a drag has
// to cover to turn the page.
const DefaultDragCommitFraction = 0.25

// Settings configure gesture handling.
type Settings struct {
	DragCommitFraction float64
	ViewportWidth      float64
	// animate page turns; when false transitions commit immediately
	Animate bool
}

// State is the navigation state of one chapter.
type State struct {
	CurrentPage int
	TotalPages  int
	DragOffset  float64
	Animating   bool
}

// EntryLast re-homes a chapter to its last page, used when it was entered
// by paging backwards.
const EntryLast = -1

// Controller owns the State of a chapter. It is not safe for concurrent use;
// all calls come from the host event loop.
type Controller struct {
	s   Settings
	l   Listener
	log *zap.Logger

	state  State
	target int
	// drag distance including the part not shown at chapter boundaries
	intent float64
	auto   bool
}

// New returns a controller for an empty chapter.
func New(s Settings, l Listener, log *zap.Logger) *Controller {
	if l == nil {
		l = Funcs{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller{s: s, l: l, log: log, state: State{TotalPages: 1}}
}

// State returns a copy of the current state.
func (c *Controller) State() State {
	return c.state
}

// SetViewportWidth updates the width drag and tap gestures are measured
// against.
func (c *Controller) SetViewportWidth(w float64) {
	c.s.ViewportWidth = w
}

// Reset re-homes the controller after a pagination run. entry is a page
// index or EntryLast. The initial positioning is never animated.
func (c *Controller) Reset(total, entry int) {
	total = max(total, 1)
	if entry == EntryLast {
		entry = total - 1
	}
	c.state = State{CurrentPage: clamp(entry, total), TotalPages: total}
	c.target, c.intent = c.state.CurrentPage, 0
	c.l.PageChanged(c.state.CurrentPage+1, total)
}

// GoNext turns to the next page or signals the chapter end on the last one.
// It returns whether a transition started.
func (c *Controller) GoNext() bool {
	if c.busy("next") {
		return false
	}
	if c.state.CurrentPage >= c.state.TotalPages-1 {
		c.l.ChapterBoundary(ChapterEnd)
		return false
	}
	c.turn(c.state.CurrentPage+1, c.s.Animate)
	return true
}

// GoPrevious turns to the previous page or signals the chapter start on
// the first one.
func (c *Controller) GoPrevious() bool {
	if c.busy("previous") {
		return false
	}
	if c.state.CurrentPage <= 0 {
		c.l.ChapterBoundary(ChapterStart)
		return false
	}
	c.turn(c.state.CurrentPage-1, c.s.Animate)
	return true
}

// JumpTo moves to page, clamped to the chapter. A transition in flight is
// settled first.
func (c *Controller) JumpTo(page int, animate bool) {
	if c.state.Animating {
		c.Settle()
	}
	page = clamp(page, c.state.TotalPages)
	if page == c.state.CurrentPage {
		return
	}
	c.turn(page, animate && c.s.Animate)
}

// DragProgress records a horizontal drag by delta, negative towards the
// next page. Past the first or last page the visible offset stays zero.
func (c *Controller) DragProgress(delta float64) {
	if c.busy("drag") {
		return
	}
	c.intent += delta
	switch {
	case c.intent < 0 && c.state.CurrentPage >= c.state.TotalPages-1,
		c.intent > 0 && c.state.CurrentPage <= 0:
		c.state.DragOffset = 0
	default:
		c.state.DragOffset = c.intent
	}
}

// DragEnd commits a drag longer than the commit fraction of the viewport
// and snaps back otherwise.
func (c *Controller) DragEnd() {
	if c.busy("drag end") {
		return
	}
	intent := c.intent
	c.intent, c.state.DragOffset = 0, 0
	if math.Abs(intent) <= c.s.DragCommitFraction*c.s.ViewportWidth || intent == 0 {
		return
	}
	if intent < 0 {
		c.GoNext()
	} else {
		c.GoPrevious()
	}
}

// Tap handles a tap at x: the left third goes back, the right third forward.
func (c *Controller) Tap(x float64) {
	w := c.s.ViewportWidth
	if w <= 0 {
		return
	}
	switch {
	case x < w/3:
		c.GoPrevious()
	case x > 2*w/3:
		c.GoNext()
	}
}

// StartAutoAdvance enables AutoAdvanceTick.
func (c *Controller) StartAutoAdvance() {
	c.auto = true
}

// StopAutoAdvance disables AutoAdvanceTick.
func (c *Controller) StopAutoAdvance() {
	c.auto = false
}

// AutoAdvancing reports whether auto-advance is on.
func (c *Controller) AutoAdvancing() bool {
	return c.auto
}

// AutoAdvanceTick behaves like GoNext, except that on the last page it
// stops auto-advance and signals AutoAdvanceEnded instead of the chapter end.
func (c *Controller) AutoAdvanceTick() {
	if !c.auto || c.busy("auto advance") {
		return
	}
	if c.state.CurrentPage >= c.state.TotalPages-1 {
		c.auto = false
		c.l.AutoAdvanceEnded()
		return
	}
	c.turn(c.state.CurrentPage+1, c.s.Animate)
}

// Settle completes the transition in flight, if any.
func (c *Controller) Settle() {
	if !c.state.Animating {
		return
	}
	c.state.Animating = false
	c.commit(c.target)
}

func (c *Controller) turn(to int, animate bool) {
	c.intent, c.state.DragOffset = 0, 0
	if animate {
		c.target = to
		c.state.Animating = true
		return
	}
	c.commit(to)
}

func (c *Controller) commit(page int) {
	c.state.CurrentPage = page
	c.target = page
	c.l.PageChanged(page+1, c.state.TotalPages)
}

func (c *Controller) busy(input string) bool {
	if c.state.Animating {
		c.log.Debug("Ignoring input during transition", zap.String("input", input))
		return true
	}
	return false
}

func clamp(page, total int) int {
	return min(max(page, 0), max(total-1, 0))
}

// Progress returns the reading progress through a chapter, with current
// counting from 1. A single page chapter has progress 0.
func Progress(current, total int) float64 {
	if total <= 1 {
		return 0
	}
	p := float64(current-1) / float64(total-1)
	return min(max(p, 0), 1)
}

// PageAt returns the page index for a progress fraction.
func PageAt(progress float64, total int) int {
	if total <= 1 || math.IsNaN(progress) {
		return 0
	}
	return clamp(int(math.Round(progress*float64(total-1))), total)
}
