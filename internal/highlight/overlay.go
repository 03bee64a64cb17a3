package highlight

import (
	"errors"
	"html"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/metcalfc/leaf/internal/layout"
	"github.com/metcalfc/leaf/internal/markup"
)

// DefaultColor is used for highlights stored without a color.
const DefaultColor = "yellow"

// Overlay holds the located highlights and speech position of one document
// and renders them onto pages of any pagination of that document.
type Overlay struct {
	doc *layout.Document
	loc *Locator
	log *zap.Logger

	highlights []placed
	speech     []Segment
}

type placed struct {
	Highlight
	anchor Anchor
}

// NewOverlay indexes doc for locating highlights.
func NewOverlay(doc *layout.Document, log *zap.Logger) *Overlay {
	if log == nil {
		log = zap.NewNop()
	}
	return &Overlay{doc: doc, loc: NewLocator(doc.Units()), log: log}
}

// Locator returns the text index of the document.
func (o *Overlay) Locator() *Locator {
	return o.loc
}

// Apply replaces the highlight set and returns the number located.
// Highlights whose text is gone are dropped; repeated ids keep the first
// record. Applying the same set again has no further effect.
func (o *Overlay) Apply(hls []Highlight) int {
	seen := make(map[string]bool, len(hls))
	out := make([]placed, 0, len(hls))
	for _, h := range hls {
		if seen[h.ID] {
			continue
		}
		seen[h.ID] = true
		a, ok := o.loc.Locate(h.MatchedText)
		if !ok {
			o.log.Debug("Highlight not found", zap.String("id", h.ID), zap.Int("length", len(h.MatchedText)))
			continue
		}
		a.ID = h.ID
		out = append(out, placed{Highlight: h, anchor: a})
	}
	o.highlights = out
	return len(out)
}

// Anchors returns the located highlights in the order they were applied.
func (o *Overlay) Anchors() []Anchor {
	out := make([]Anchor, 0, len(o.highlights))
	for _, p := range o.highlights {
		out = append(out, p.anchor)
	}
	return out
}

// SetSpeech marks the ranges being spoken. Calling it without segments
// clears the speech overlay.
func (o *Overlay) SetSpeech(segs ...Segment) {
	o.speech = segs
}

// UnitSegment returns the segment covering a whole text unit.
func (o *Overlay) UnitSegment(textIndex int) (Segment, bool) {
	u, ok := o.doc.Unit(textIndex)
	if !ok {
		return Segment{}, false
	}
	return Segment{TextIndex: textIndex, End: len([]rune(u.Text))}, true
}

// Speech returns the ranges being spoken.
func (o *Overlay) Speech() []Segment {
	return o.speech
}

// wrap is one marker to insert into a block, in block character offsets.
type wrap struct {
	id         string
	start, end int
	open       string
	close      string
}

// Render returns the markup of a page with all overlays applied.
func (o *Overlay) Render(page layout.Page) string {
	var b strings.Builder
	for i := range page.Blocks {
		b.WriteString(o.RenderBlock(&page.Blocks[i]))
	}
	return b.String()
}

// RenderBlock returns the markup of one block with all overlays applied.
// Markers are inserted in reverse position order. A marker that cannot be
// inserted is skipped and the others are still applied.
func (o *Overlay) RenderBlock(blk *layout.Block) string {
	if len(blk.TextIndices) == 0 || (len(o.highlights) == 0 && len(o.speech) == 0) {
		return blk.Content
	}
	bases, length := o.bases(blk)

	var wraps []wrap
	add := func(seg Segment, w wrap, noteAtEnd string) {
		base, ok := bases[seg.TextIndex]
		if !ok {
			return
		}
		start, end := max(seg.Start+base, 0), min(seg.End+base, length)
		if start >= end {
			return
		}
		w.start, w.end = start, end
		if noteAtEnd != "" && seg.End+base <= length {
			w.close += noteAtEnd
		}
		wraps = append(wraps, w)
	}
	for _, p := range o.highlights {
		id := html.EscapeString(p.ID)
		color := p.Color
		if color == "" {
			color = DefaultColor
		}
		segs := p.anchor.Segments
		for i := len(segs) - 1; i >= 0; i-- {
			var note string
			if p.HasNote && i == len(segs)-1 {
				note = `<sup class="hl-note" data-hl-id="` + id + `"></sup>`
			}
			add(segs[i], wrap{
				id:    p.ID,
				open:  `<mark data-hl-id="` + id + `" class="hl-` + html.EscapeString(color) + `">`,
				close: "</mark>",
			}, note)
		}
	}
	for _, seg := range o.speech {
		add(seg, wrap{id: "tts", open: `<span class="tts">`, close: "</span>"}, "")
	}

	// later ranges first, inner before outer for ranges starting together
	sort.SliceStable(wraps, func(i, j int) bool {
		if wraps[i].start != wraps[j].start {
			return wraps[i].start > wraps[j].start
		}
		return wraps[i].end < wraps[j].end
	})

	content := blk.Content
	for _, w := range wraps {
		out, err := markup.Wrap(content, w.start, w.end, w.open, w.close)
		if err != nil {
			if !errors.Is(err, ErrCrossesBoundary) {
				o.log.Debug("Unable to place marker", zap.String("id", w.id), zap.Error(err))
			} else {
				o.log.Debug("Marker crosses element boundary, skipped", zap.String("id", w.id), zap.Int("start", w.start), zap.Int("end", w.end))
			}
			continue
		}
		content = out
	}
	return content
}

// bases returns, for every unit carried by blk, the offset to add to a unit
// character offset to get a block character offset, and the block length.
func (o *Overlay) bases(blk *layout.Block) (map[int]int, int) {
	bases := make(map[int]int, len(blk.TextIndices))
	pos := -blk.TextStart
	for _, idx := range blk.TextIndices {
		bases[idx] = pos
		if u, ok := o.doc.Unit(idx); ok {
			pos += len([]rune(u.Text))
		}
	}
	return bases, markup.RuneLen(blk.Content)
}
