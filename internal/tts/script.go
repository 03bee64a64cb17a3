// Package tts connects a speech engine's reading position to the paginated
// chapter: it cuts the chapter into utterances and follows the engine's
// sentence reports with page jumps and speech overlays.
package tts

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/neurosnap/sentences"
	"github.com/neurosnap/sentences/english"
	"go.uber.org/zap"
	"golang.org/x/text/language"

	"github.com/metcalfc/leaf/internal/layout"
)

// Splitter cuts text into sentences. A nil Splitter returns its input whole.
type Splitter struct {
	*sentences.DefaultSentenceTokenizer
}

// NewSplitter returns a sentence splitter for lang, or nil when there is no
// model for it.
func NewSplitter(lang language.Tag, log *zap.Logger) *Splitter {
	if log == nil {
		log = zap.NewNop()
	}
	base, confidence := lang.Base()
	en, _ := language.English.Base()
	if confidence == language.No || base != en {
		log.Warn("No sentence model for language, speaking whole blocks", zap.Stringer("language", lang))
		return nil
	}
	tok, err := english.NewSentenceTokenizer(nil)
	if err != nil {
		log.Warn("Unable to load sentence tokenizer data", zap.Stringer("language", lang), zap.Error(err))
		return nil
	}
	return &Splitter{tok}
}

// Split returns the sentences of in with surrounding whitespace removed.
func (s *Splitter) Split(in string) []string {
	if s == nil {
		if t := strings.TrimSpace(in); t != "" {
			return []string{t}
		}
		return nil
	}
	var out []string
	for _, sentence := range s.Tokenize(in) {
		// the tokenizer hands leading whitespace to the following sentence
		if t := strings.TrimFunc(sentence.Text, unicode.IsSpace); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// Utterance is one stretch of text handed to the speech engine.
type Utterance struct {
	TextIndex int
	Sentence  string
	// character offset of the sentence within its unit
	Start int
}

// Script is the ordered list of utterances of a chapter with a cursor.
type Script struct {
	Utterances []Utterance
	pos        int
}

// NewScript cuts every text unit into sentences.
func NewScript(units []layout.TextUnit, s *Splitter) *Script {
	sc := &Script{}
	for _, u := range units {
		at := 0
		for _, sentence := range s.Split(u.Text) {
			start := at
			if i := strings.Index(u.Text[at:], sentence); i >= 0 {
				start = at + i
				at = start + len(sentence)
			}
			sc.Utterances = append(sc.Utterances, Utterance{
				TextIndex: u.Index,
				Sentence:  sentence,
				Start:     utf8.RuneCountInString(u.Text[:start]),
			})
		}
	}
	return sc
}

// Next returns the utterance at the cursor and advances it.
func (sc *Script) Next() (Utterance, bool) {
	if sc.pos >= len(sc.Utterances) {
		return Utterance{}, false
	}
	u := sc.Utterances[sc.pos]
	sc.pos++
	return u, true
}

// Seek moves the cursor to the first utterance of the text unit, or of the
// first unit after it.
func (sc *Script) Seek(textIndex int) {
	sc.SeekPosition(textIndex, 0)
}

// SeekPosition moves the cursor to the first utterance of the text unit
// starting at or after the character offset, or to the first one of a later
// unit.
func (sc *Script) SeekPosition(textIndex, offset int) {
	for i, u := range sc.Utterances {
		if u.TextIndex > textIndex || (u.TextIndex == textIndex && u.Start >= offset) {
			sc.pos = i
			return
		}
	}
	sc.pos = len(sc.Utterances)
}

// Done reports whether every utterance was handed out.
func (sc *Script) Done() bool {
	return sc.pos >= len(sc.Utterances)
}
