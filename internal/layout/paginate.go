package layout

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/metcalfc/leaf/internal/markup"
)

// Page is a contiguous run of blocks.
type Page struct {
	Blocks []Block
	Height float64
}

// Result is a completed pagination run. It is never modified after
// Paginate returns; a new run produces a new Result.
type Result struct {
	Pages      []Page
	TotalPages int
	Settings   Settings

	// text index -> pages holding (part of) it, ascending
	index map[int][]int
}

// PageOf returns the first page holding the text unit.
func (r *Result) PageOf(textIndex int) (int, bool) {
	pages, ok := r.index[textIndex]
	if !ok {
		return 0, false
	}
	return pages[0], true
}

// PagesOf returns every page holding part of the text unit.
func (r *Result) PagesOf(textIndex int) []int {
	return r.index[textIndex]
}

// PageWith returns the page holding the given text of a unit. For a unit
// split across pages it looks for the fragment containing text; when text is
// empty or not found it falls back to PageOf.
func (r *Result) PageWith(textIndex int, text string) (int, bool) {
	pages := r.index[textIndex]
	if len(pages) == 0 {
		return 0, false
	}
	if len(pages) == 1 || strings.TrimSpace(text) == "" {
		return pages[0], true
	}
	needle := strings.Join(strings.Fields(text), " ")
	for _, pg := range pages {
		for _, b := range r.Pages[pg].Blocks {
			if b.Fragment == 0 || !slices.Contains(b.TextIndices, textIndex) {
				continue
			}
			if strings.Contains(strings.Join(strings.Fields(b.Text()), " "), needle) {
				return pg, true
			}
		}
	}
	return pages[0], true
}

// Position returns the text unit and the character offset within it that
// open a page, used to keep the reading position when the layout changes.
func (r *Result) Position(page int) (textIndex, offset int, ok bool) {
	if page < 0 || page >= len(r.Pages) {
		return 0, 0, false
	}
	for _, b := range r.Pages[page].Blocks {
		if idx := b.TextIndex(); idx >= 0 {
			return idx, b.TextStart, true
		}
	}
	return 0, 0, false
}

// PageAt returns the page showing the character at offset of a text unit.
// For a unit split across pages that is the last page whose fragment starts
// at or before offset.
func (r *Result) PageAt(textIndex, offset int) (int, bool) {
	pages := r.index[textIndex]
	if len(pages) == 0 {
		return 0, false
	}
	found := pages[0]
	for _, pg := range pages[1:] {
		for _, b := range r.Pages[pg].Blocks {
			if b.TextIndex() == textIndex && b.TextStart <= offset {
				found = pg
			}
		}
	}
	return found, true
}

// Text returns the decoded text of a page.
func (p *Page) Text() string {
	var b strings.Builder
	for i := range p.Blocks {
		b.WriteString(markup.PlainText(p.Blocks[i].Content))
	}
	return b.String()
}

type pageBuilder struct {
	limit float64
	pages []Page
	cur   Page
}

func (b *pageBuilder) remaining() float64 {
	return b.limit - b.cur.Height
}

func (b *pageBuilder) empty() bool {
	return len(b.cur.Blocks) == 0
}

func (b *pageBuilder) add(blk Block) {
	b.cur.Blocks = append(b.cur.Blocks, blk)
	b.cur.Height += blk.Height
}

func (b *pageBuilder) close() {
	if !b.empty() {
		b.pages = append(b.pages, b.cur)
		b.cur = Page{}
	}
}

// place is the default rule: start a new page when the block does not fit.
func (b *pageBuilder) place(blk Block) {
	if !b.empty() && blk.Height > b.remaining() {
		b.close()
	}
	b.add(blk)
}

func (b *pageBuilder) alone(blk Block) {
	b.close()
	b.add(blk)
	b.close()
}

// Paginate lays the document out into pages. The result depends only on
// the document, the settings and the oracle. Cancelling ctx abandons the run
// without a result.
func (p *Paginator) Paginate(ctx context.Context, doc *Document) (*Result, error) {
	if err := p.m.s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid layout settings: %w", err)
	}
	blocks := p.Flatten(doc)
	b := &pageBuilder{limit: p.m.s.PageHeight}

	for i := 0; i < len(blocks); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		blk := blocks[i]
		switch {
		case blk.Cover:
			b.alone(blk)

		case blk.Tag == TagTable && blk.Height > b.limit:
			p.placeTable(b, blk)

		case blk.Atomic && blk.Height > b.limit:
			b.alone(blk)

		case blk.Tag == TagHeading && i+1 < len(blocks):
			need := blk.Height + p.lead(blocks[i+1])
			if next := blocks[i+1]; next.Tag == TagDropcap && i+2 < len(blocks) {
				// the dropcap takes its paragraph along
				need = blk.Height + next.Height + p.lead(blocks[i+2])
			}
			if !b.empty() && need > b.remaining() && need <= b.limit {
				b.close()
			}
			if blk.splittable() && blk.Height > b.limit {
				p.placeText(b, blk)
			} else {
				b.place(blk)
			}

		case blk.Tag == TagDropcap && i+1 < len(blocks):
			next := blocks[i+1]
			pair := blk.Height + next.Height
			if pair > b.limit || next.Cover {
				b.place(blk)
				continue
			}
			if pair > b.remaining() {
				b.close()
			}
			b.add(blk)
			b.add(next)
			i++

		case blk.splittable() && blk.Height > b.limit:
			p.placeText(b, blk)

		default:
			b.place(blk)
		}
	}
	b.close()

	pages := b.pages
	if n := len(pages); n > 1 {
		if last := pages[n-1]; len(last.Blocks) == 1 && last.Blocks[0].Tag == TagRule {
			prev := &pages[n-2]
			prev.Blocks = append(prev.Blocks, last.Blocks[0])
			prev.Height += last.Height
			pages = pages[:n-1]
		}
	}
	if len(pages) == 0 {
		pages = []Page{{}}
	}

	res := &Result{Pages: pages, TotalPages: len(pages), Settings: p.m.s, index: make(map[int][]int)}
	for pg := range pages {
		for _, blk := range pages[pg].Blocks {
			for _, idx := range blk.TextIndices {
				if l := res.index[idx]; len(l) == 0 || l[len(l)-1] != pg {
					res.index[idx] = append(l, pg)
				}
			}
		}
	}
	p.log.Debug("Paginated", zap.String("title", doc.Title), zap.Int("blocks", len(blocks)), zap.Int("pages", res.TotalPages))
	return res, nil
}

// lead is how much of blk has to share a page with a heading in front of it.
func (p *Paginator) lead(blk Block) float64 {
	if blk.splittable() && blk.Height > p.m.s.PageHeight {
		return min(blk.Height, p.m.s.minFragment())
	}
	return blk.Height
}

func (p *Paginator) placeText(b *pageBuilder, blk Block) {
	if !b.empty() && b.remaining() < max(p.m.s.minFragment(), p.m.s.LineHeight) {
		b.close()
	}
	frags, fresh := p.Split(blk, b.remaining())
	if fresh {
		b.close()
	}
	for i, f := range frags {
		if i > 0 {
			b.close()
		}
		b.add(f)
	}
}

// placeTable splits a table taller than a page into groups of whole rows,
// each wrapped in its own table shell.
func (p *Paginator) placeTable(b *pageBuilder, blk Block) {
	rows := blk.node.Children
	if len(rows) == 0 {
		b.alone(blk)
		return
	}
	shell := func(rows []*Node) string {
		var sb strings.Builder
		sb.WriteString(blk.node.open())
		for _, r := range rows {
			r.render(&sb)
		}
		sb.WriteString(blk.node.close())
		return sb.String()
	}
	group := func(part int, rows []*Node, h float64, ok bool) Block {
		var indices []int
		for _, r := range rows {
			indices = r.indices(indices)
		}
		return Block{
			Tag:         TagTable,
			Height:      h,
			Content:     shell(rows),
			TextIndices: indices,
			Fragment:    part,
			Unmeasured:  !ok,
			Oversized:   h > b.limit,
			node:        blk.node,
		}
	}

	part := 0
	start := 0
	for start < len(rows) {
		target := b.remaining()
		end := start
		h, ok := 0.0, true
		for end < len(rows) {
			nh, nok := p.m.measure(shell(rows[start : end+1]))
			if nh > target {
				break
			}
			h, ok = nh, nok
			end++
		}
		if end == start {
			if !b.empty() {
				b.close()
				continue
			}
			// one row taller than the page
			end = start + 1
			h, ok = p.m.measure(shell(rows[start:end]))
		}
		part++
		b.add(group(part, rows[start:end], h, ok))
		start = end
		if start < len(rows) {
			b.close()
		}
	}
}
