package layout

import (
	"go.uber.org/zap"
)

// Paginator lays documents out into pages for one set of Settings. It holds
// no state between runs.
type Paginator struct {
	m   measurer
	log *zap.Logger
}

// New returns a paginator measuring with oracle.
func New(oracle Oracle, settings Settings, log *zap.Logger) *Paginator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Paginator{m: measurer{oracle: oracle, s: settings, log: log}, log: log}
}

// Settings returns the settings the paginator lays out for.
func (p *Paginator) Settings() Settings {
	return p.m.s
}

// Flatten turns the document tree into a sequence of blocks. Nodes that fit
// the page, atomic nodes and leaves are emitted whole; containers taller
// than the page are replaced by their flattened children. Tables are kept
// whole so Paginate can split them by rows. Nothing is ever dropped: an
// oversized text leaf is emitted as is and split later.
func (p *Paginator) Flatten(doc *Document) []Block {
	limit := p.m.s.PageHeight
	stack := make([]*Node, 0, len(doc.Nodes))
	for i := len(doc.Nodes) - 1; i >= 0; i-- {
		stack = append(stack, doc.Nodes[i])
	}

	var out []Block
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		content := n.Render()
		h, ok := p.m.measure(content)
		if h <= limit || n.Tag.Atomic() || len(n.Children) == 0 || n.Tag == TagTable {
			out = append(out, Block{
				Tag:         n.Tag,
				Height:      h,
				Atomic:      n.Tag.Atomic(),
				Cover:       n.Cover,
				Content:     content,
				TextIndices: n.indices(nil),
				Unmeasured:  !ok,
				Oversized:   h > limit && n.Tag.Atomic(),
				node:        n,
			})
			continue
		}
		p.log.Debug("Unwrapping oversized container", zap.Stringer("tag", n.Tag), zap.Float64("height", h), zap.Int("children", len(n.Children)))
		for i := len(n.Children) - 1; i >= 0; i-- {
			stack = append(stack, n.Children[i])
		}
	}
	return out
}
