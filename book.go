package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/metcalfc/leaf/internal/engine"
	"github.com/metcalfc/leaf/internal/layout"
	"github.com/metcalfc/leaf/internal/navigation"
	"github.com/metcalfc/leaf/internal/reader"
	"github.com/metcalfc/leaf/internal/state"
	"github.com/metcalfc/leaf/internal/tts"
)

// hooks are the front end callbacks of a book session.
type hooks struct {
	pageChanged      func(current, total int)
	chapterChanged   func(chapter int)
	autoAdvanceEnded func()
	longPress        func(textIndex int, text string)
}

// bookSession drives an engine session through the chapters of a book and
// keeps the reading position in the state store.
type bookSession struct {
	book     *reader.Book
	hash     string
	store    *state.StateStore
	sess     *engine.Session
	settings func() layout.Settings
	splitter *tts.Splitter
	hooks    hooks
	log      *zap.Logger

	mu      sync.Mutex
	chapter int
	// chapter change requested by navigation, loaded by the front end
	pending *chapterMove
	script  *tts.Script
}

type chapterMove struct {
	chapter int
	entry   int
}

func newBookSession(env *appEnv, book *reader.Book, hash string, oracle layout.Oracle, viewportWidth float64, settings func() layout.Settings, h hooks) *bookSession {
	bs := &bookSession{
		book:     book,
		hash:     hash,
		store:    env.Store,
		settings: settings,
		splitter: tts.NewSplitter(env.Cfg.Language(), env.Log.Named("tts")),
		hooks:    h,
		log:      env.Log.Named("book"),
	}
	l := engine.Funcs{
		Funcs: navigation.Funcs{
			OnPageChanged:      h.pageChanged,
			OnChapterBoundary:  bs.boundary,
			OnAutoAdvanceEnded: h.autoAdvanceEnded,
		},
		OnLongPressParagraph: h.longPress,
	}
	bs.sess = engine.New(oracle, l, env.Cfg.SessionOptions(viewportWidth), env.Log.Named("engine"))
	return bs
}

// start opens the chapter to read first. A negative chapter resumes from
// the saved position unless fresh is set.
func (bs *bookSession) start(ctx context.Context, chapter int, fresh bool) error {
	progress := 0.0
	if chapter < 0 {
		chapter = 0
		if !fresh {
			st := bs.store.Get(bs.hash)
			if _, ok := bs.book.Chapter(st.Chapter); ok {
				chapter, progress = st.Chapter, st.Progress
			}
		}
	}
	if err := bs.load(ctx, chapter, 0); err != nil {
		return err
	}
	if progress > 0 {
		bs.sess.JumpToFractionalProgress(progress)
	}
	return nil
}

// load paginates chapter with its saved highlights and shows page entry.
func (bs *bookSession) load(ctx context.Context, chapter, entry int) error {
	ch, ok := bs.book.Chapter(chapter)
	if !ok {
		return fmt.Errorf("chapter %d out of range", chapter)
	}
	bs.sess.ApplyHighlights(bs.store.Highlights(bs.hash, chapter))
	if _, err := bs.sess.Load(ctx, ch.Doc, bs.settings(), entry); err != nil {
		return err
	}
	bs.mu.Lock()
	bs.chapter = chapter
	bs.script = nil
	bs.mu.Unlock()
	bs.log.Debug("Chapter opened", zap.Int("chapter", chapter), zap.String("title", ch.Title))
	if bs.hooks.chapterChanged != nil {
		bs.hooks.chapterChanged(chapter)
	}
	return nil
}

// relayout paginates the current chapter again for the current settings.
// A superseded run is not an error: a newer one is on its way.
func (bs *bookSession) relayout(ctx context.Context) error {
	if _, err := bs.sess.Relayout(ctx, bs.settings()); err != nil && !errors.Is(err, engine.ErrSuperseded) {
		return err
	}
	return nil
}

func (bs *bookSession) boundary(b navigation.Boundary) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	move := chapterMove{chapter: bs.chapter + 1}
	if b == navigation.ChapterStart {
		move = chapterMove{chapter: bs.chapter - 1, entry: navigation.EntryLast}
	}
	if _, ok := bs.book.Chapter(move.chapter); !ok {
		bs.log.Debug("No chapter beyond boundary", zap.Stringer("boundary", b))
		return
	}
	bs.pending = &move
}

// takePending returns and clears the chapter change navigation asked for.
func (bs *bookSession) takePending() (chapterMove, bool) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	if bs.pending == nil {
		return chapterMove{}, false
	}
	m := *bs.pending
	bs.pending = nil
	return m, true
}

func (bs *bookSession) currentChapter() int {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	return bs.chapter
}

// nextUtterance returns the next sentence to speak, starting from the top
// of the visible page when speech starts.
func (bs *bookSession) nextUtterance() (tts.Utterance, bool) {
	bs.mu.Lock()
	sc := bs.script
	bs.mu.Unlock()
	if sc == nil {
		doc, res := bs.sess.Document(), bs.sess.Result()
		if doc == nil {
			return tts.Utterance{}, false
		}
		sc = tts.NewScript(doc.Units(), bs.splitter)
		if idx, offset, ok := res.Position(bs.sess.Navigation().State().CurrentPage); ok {
			sc.SeekPosition(idx, offset)
		}
		bs.mu.Lock()
		bs.script = sc
		bs.mu.Unlock()
	}
	return sc.Next()
}

// speak advances speech by one sentence and reports whether there was one.
func (bs *bookSession) speak() bool {
	u, ok := bs.nextUtterance()
	if !ok {
		bs.stopSpeaking()
		return false
	}
	bs.sess.Speak(u.TextIndex, u.Sentence)
	return true
}

func (bs *bookSession) stopSpeaking() {
	bs.mu.Lock()
	bs.script = nil
	bs.mu.Unlock()
	bs.sess.StopSpeaking()
}

// save stores the reading position.
func (bs *bookSession) save() error {
	if err := bs.store.SetPosition(bs.hash, bs.currentChapter(), bs.sess.Progress()); err != nil {
		return fmt.Errorf("unable to save reading position: %w", err)
	}
	return nil
}

func (bs *bookSession) close() error {
	return multierr.Combine(bs.save(), bs.sess.Close())
}
