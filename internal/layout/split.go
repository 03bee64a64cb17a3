package layout

import (
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/metcalfc/leaf/internal/markup"
)

type fragment struct {
	from, to  int
	height    float64
	budget    float64
	oversized bool
}

// splitter holds the tokenized content of one text block.
type splitter struct {
	p       *Paginator
	node    *Node
	toks    []markup.Token
	stacks  [][]markup.Token
	offsets []int
}

func newSplitter(p *Paginator, n *Node) *splitter {
	toks := markup.Tokenize(n.Markup)
	s := &splitter{
		p:       p,
		node:    n,
		toks:    toks,
		stacks:  make([][]markup.Token, len(toks)+1),
		offsets: make([]int, len(toks)+1),
	}
	var stack []markup.Token
	for i, t := range toks {
		s.stacks[i] = slices.Clone(stack)
		s.offsets[i+1] = s.offsets[i] + markup.RuneLen(t.Raw)
		stack = markup.Track(stack, t)
	}
	s.stacks[len(toks)] = stack
	return s
}

func (s *splitter) raw(from, to int) string {
	var b strings.Builder
	for _, t := range s.toks[from:to] {
		b.WriteString(t.Raw)
	}
	return b.String()
}

func (s *splitter) render(from, to int) string {
	inner, _ := markup.Balance(s.raw(from, to), s.stacks[from])
	return s.node.open() + inner + s.node.close()
}

func (s *splitter) measure(from, to int) float64 {
	h, _ := s.p.m.measure(s.render(from, to))
	return h
}

// cuts returns the token positions in (from, to) right after a whitespace
// run that follows a word, latest first.
func (s *splitter) cuts(from, to int) []int {
	var out []int
	seen := false
	for i := from; i < to; i++ {
		switch s.toks[i].Kind {
		case markup.Word:
			seen = true
		case markup.Space:
			if seen && i+1 < to {
				out = append(out, i+1)
			}
		}
	}
	slices.Reverse(out)
	return out
}

// firstOverflow returns the token position of the first word that no longer
// fits into target when the text from start is laid out, or -1 when all of
// it fits. Heights grow with every word, so the longest fitting run of
// words is found by bisection.
func (s *splitter) firstOverflow(start int, target float64) int {
	var ends []int
	for i := start; i < len(s.toks); i++ {
		if s.toks[i].Kind == markup.Word {
			ends = append(ends, i+1)
		}
	}
	fit, hi := 0, len(ends)
	for fit < hi {
		mid := (fit + hi + 1) / 2
		if s.measure(start, ends[mid-1]) <= target {
			fit = mid
		} else {
			hi = mid - 1
		}
	}
	if fit == len(ends) {
		return -1
	}
	return ends[fit] - 1
}

// Split breaks an oversized text block into fragments ending at whitespace.
// The first fragment targets the first height, the remaining ones a full
// page. When not even one word fits into first, the fragments are computed
// for a fresh page and fresh is true. A word that does not fit on a full
// page becomes an oversized fragment of its own.
func (p *Paginator) Split(b Block, first float64) (out []Block, fresh bool) {
	if !b.splittable() {
		return []Block{b}, false
	}
	s := newSplitter(p, b.node)
	full := p.m.s.PageHeight

	var frags []fragment
	target := first
	for start := 0; start < len(s.toks); {
		failed := s.firstOverflow(start, target)
		cut, seenWord := -1, false
		end := len(s.toks)
		if failed >= 0 {
			end = failed
		}
		for i := start; i < end; i++ {
			switch s.toks[i].Kind {
			case markup.Word:
				seenWord = true
			case markup.Space:
				if seenWord {
					cut = i + 1
				}
			}
		}

		if failed < 0 {
			frags = append(frags, fragment{from: start, to: len(s.toks), budget: target})
			break
		}
		if cut > start && cut <= failed {
			frags = append(frags, fragment{from: start, to: cut, budget: target})
			start, target = cut, full
			continue
		}
		if len(frags) == 0 && !fresh && target < full {
			fresh, target = true, full
			continue
		}
		// a single token taller than the page, emit it alone
		next := failed + 1
		for next < len(s.toks) && s.toks[next].Kind != markup.Space {
			next++
		}
		if next < len(s.toks) {
			next++
		}
		p.log.Debug("Oversized token", zap.String("token", s.toks[failed].Raw))
		frags = append(frags, fragment{from: start, to: next, budget: target, oversized: true})
		start, target = next, full
	}

	for i := range frags {
		frags[i].height = s.measure(frags[i].from, frags[i].to)
	}
	frags = s.mergeOrphan(frags)

	out = make([]Block, 0, len(frags))
	for i, f := range frags {
		out = append(out, Block{
			Tag:         b.Tag,
			Height:      f.height,
			Content:     s.render(f.from, f.to),
			TextIndices: b.TextIndices,
			Fragment:    i + 1,
			TextStart:   s.offsets[f.from],
			Oversized:   f.oversized || f.height > full,
			node:        b.node,
		})
	}
	return out, fresh
}

// mergeOrphan folds a too short trailing fragment back into the one before
// it. If the merged fragment no longer fits its budget, words are pulled
// back from the previous fragment until the tail is long enough; failing
// that the short fragment stays as it is.
func (s *splitter) mergeOrphan(frags []fragment) []fragment {
	limit := s.p.m.s.minFragment()
	full := s.p.m.s.PageHeight
	for attempt := 0; attempt < s.p.m.s.OrphanMergeAttempts && len(frags) > 1; attempt++ {
		last, prev := frags[len(frags)-1], frags[len(frags)-2]
		if last.height >= limit || last.oversized || prev.oversized {
			break
		}
		merged := fragment{from: prev.from, to: last.to, budget: prev.budget}
		if merged.height = s.measure(merged.from, merged.to); merged.height <= merged.budget {
			s.p.log.Debug("Merged trailing fragment", zap.Float64("height", last.height), zap.Int("attempt", attempt))
			frags = append(frags[:len(frags)-2], merged)
			continue
		}
		for _, c := range s.cuts(prev.from, prev.to) {
			th := s.measure(c, last.to)
			if th > full {
				break
			}
			if th >= limit {
				head := fragment{from: prev.from, to: c, budget: prev.budget, height: s.measure(prev.from, c)}
				tail := fragment{from: c, to: last.to, budget: full, height: th}
				frags = append(frags[:len(frags)-2], head, tail)
				s.p.log.Debug("Rebalanced trailing fragment", zap.Float64("height", th))
				break
			}
		}
		break
	}
	return frags
}
