package tts

import (
	"go.uber.org/zap"

	"github.com/metcalfc/leaf/internal/highlight"
	"github.com/metcalfc/leaf/internal/layout"
	"github.com/metcalfc/leaf/internal/navigation"
)

// Navigator is the part of the navigation controller the bridge drives.
type Navigator interface {
	State() navigation.State
	JumpTo(page int, animate bool)
}

// Bridge follows the speech position through one pagination result.
type Bridge struct {
	res *layout.Result
	ov  *highlight.Overlay
	nav Navigator
	log *zap.Logger
}

// NewBridge returns a bridge for res. A new pagination needs a new bridge.
func NewBridge(res *layout.Result, ov *highlight.Overlay, nav Navigator, log *zap.Logger) *Bridge {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bridge{res: res, ov: ov, nav: nav, log: log}
}

// OnSentence handles a sentence boundary reported by the speech engine.
// It turns to the page holding the sentence when that is not visible and
// marks the block, and the sentence when given and found, as spoken. It
// returns the page of the sentence.
func (b *Bridge) OnSentence(textIndex int, sentence string) (int, bool) {
	page, ok := b.res.PageWith(textIndex, sentence)
	if !ok {
		b.log.Debug("Spoken block not on any page", zap.Int("text", textIndex))
		return 0, false
	}
	if page != b.nav.State().CurrentPage {
		b.nav.JumpTo(page, true)
	}

	block, ok := b.ov.UnitSegment(textIndex)
	if !ok {
		b.ov.SetSpeech()
		return page, true
	}
	if sentence == "" {
		b.ov.SetSpeech(block)
		return page, true
	}
	if seg, ok := b.ov.Locator().LocateIn(textIndex, sentence); ok {
		b.ov.SetSpeech(block, seg)
	} else {
		b.log.Debug("Spoken sentence not found", zap.Int("text", textIndex), zap.Int("length", len(sentence)))
		b.ov.SetSpeech(block)
	}
	return page, true
}

// Stop clears the speech overlay.
func (b *Bridge) Stop() {
	b.ov.SetSpeech()
}
