package layout

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/metcalfc/leaf/internal/markup"
)

// wrapOracle measures content as lines of a fixed-width terminal: every
// block element starts a new line group, words wrap greedily, a word wider
// than a line takes as many full lines as it needs.
type wrapOracle struct {
	cols      int
	imageRows int
	fail      string
}

var blockElements = map[string]bool{
	"p": true, "h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"li": true, "tr": true, "pre": true, "blockquote": true, "div": true, "table": true,
	"ul": true, "figure": true, "form": true,
}

func (o wrapOracle) Measure(content string, _ float64) (float64, error) {
	if o.fail != "" && strings.Contains(content, o.fail) {
		return 0, ErrMeasure
	}
	lines := 0
	var text strings.Builder
	flush := func() {
		lines += wrapLines(text.String(), o.cols)
		text.Reset()
	}
	for _, t := range markup.Tokenize(content) {
		switch t.Kind {
		case markup.Word, markup.Space:
			text.WriteString(markup.PlainText(t.Raw))
		case markup.StartTag, markup.EndTag:
			if blockElements[t.Name] {
				flush()
			}
			if t.Kind == markup.StartTag && t.Name == "figure" {
				lines += o.imageRows
			}
		case markup.VoidTag:
			if t.Name == "hr" {
				flush()
				lines++
			}
		}
	}
	flush()
	return float64(lines), nil
}

func wrapLines(s string, cols int) int {
	lines, cur := 0, 0
	for _, w := range strings.Fields(s) {
		n := len([]rune(w))
		switch {
		case n > cols:
			if cur > 0 {
				lines++
			}
			lines += (n + cols - 1) / cols
			cur = 0
		case cur == 0:
			cur = n
		case cur+1+n <= cols:
			cur += 1 + n
		default:
			lines++
			cur = n
		}
	}
	if cur > 0 {
		lines++
	}
	return lines
}

func words(n int) string {
	return strings.TrimSpace(strings.Repeat("abcd ", n))
}

func paginate(t *testing.T, o Oracle, s Settings, doc *Document) *Result {
	t.Helper()
	res, err := New(o, s, zaptest.NewLogger(t)).Paginate(context.Background(), doc)
	if err != nil {
		t.Fatalf("Paginate failed: %v", err)
	}
	return res
}

func TestHeadingWithLongParagraph(t *testing.T) {
	doc := NewDocument("one", Heading(1, "Chapter One"), Leaf(TagParagraph, words(1000)))
	res := paginate(t, wrapOracle{cols: 60}, DefaultSettings(60, 20), doc)

	if res.TotalPages != 5 {
		t.Fatalf("Expected 5 pages, got %d", res.TotalPages)
	}
	first := res.Pages[0]
	if len(first.Blocks) != 2 || first.Blocks[0].Tag != TagHeading {
		t.Fatalf("Expected heading followed by text on first page, got %d blocks", len(first.Blocks))
	}
	if got := len(strings.Fields(first.Blocks[1].Text())); got != 228 {
		t.Errorf("Expected 228 words next to the heading, got %d", got)
	}

	var all []string
	for i, p := range res.Pages {
		if p.Height > 20 {
			t.Errorf("Page %d height %v exceeds page", i, p.Height)
		}
		for _, b := range p.Blocks {
			if b.Tag == TagParagraph && b.Fragment == 0 {
				t.Errorf("Page %d: expected paragraph to be split", i)
			}
			all = append(all, strings.Fields(b.Text())...)
		}
	}
	if want := strings.Fields("Chapter One " + words(1000)); !reflect.DeepEqual(all, want) {
		t.Errorf("Words changed by pagination: got %d words, want %d", len(all), len(want))
	}
}

type countingOracle struct {
	Oracle
	calls int
}

func (o *countingOracle) Measure(content string, w float64) (float64, error) {
	o.calls++
	return o.Oracle.Measure(content, w)
}

func TestSplitMeasuresByBisection(t *testing.T) {
	o := &countingOracle{Oracle: wrapOracle{cols: 60}}
	doc := NewDocument("long", Leaf(TagParagraph, words(1000)))
	res := paginate(t, o, DefaultSettings(60, 20), doc)
	if res.TotalPages != 5 {
		t.Fatalf("Expected 5 pages, got %d", res.TotalPages)
	}
	// one measurement per word would take over a thousand calls
	if o.calls > 100 {
		t.Errorf("Expected bisection to measure sparingly, got %d calls", o.calls)
	}
}

func TestContentConservation(t *testing.T) {
	doc := NewDocument("mixed",
		Heading(2, "Start &amp; <i>finish</i>"),
		Container(TagContainer,
			Leaf(TagParagraph, "Some <b>bold words</b> and "+words(300)),
			Leaf(TagParagraph, words(40)),
		),
		Leaf(TagDropcap, "T"),
		Leaf(TagParagraph, "he rest "+words(50)),
		Container(TagList, Leaf(TagListItem, "one"), Leaf(TagListItem, "two")),
		&Node{Tag: TagImage, Markup: `<img src="a.png" alt=""/>`},
		Container(TagTable, Leaf(TagTableRow, "<td>a</td><td>b</td>"), Leaf(TagTableRow, "<td>c</td><td>d</td>")),
		Leaf(TagParagraph, "<em>"+words(500)+"</em>"),
		Leaf(TagRule, ""),
	)
	res := paginate(t, wrapOracle{cols: 40, imageRows: 6}, DefaultSettings(40, 25), doc)

	var got strings.Builder
	for _, p := range res.Pages {
		got.WriteString(p.Text())
	}
	strip := func(s string) string { return strings.Join(strings.Fields(s), "") }
	if strip(got.String()) != strip(doc.Text()) {
		t.Errorf("Pages do not reproduce document text\n got: %.80q\nwant: %.80q", strip(got.String()), strip(doc.Text()))
	}
}

func TestFragmentsReproduceMarkup(t *testing.T) {
	inline := "Some <b>bold " + words(200) + "</b> and &amp; " + words(200)
	doc := NewDocument("raw", Leaf(TagParagraph, inline))
	p := New(wrapOracle{cols: 30}, DefaultSettings(30, 10), zaptest.NewLogger(t))
	blocks := p.Flatten(doc)
	if len(blocks) != 1 {
		t.Fatalf("Expected 1 block, got %d", len(blocks))
	}
	frags, fresh := p.Split(blocks[0], 10)
	if fresh {
		t.Error("Expected first fragment on the current page")
	}
	if len(frags) < 2 {
		t.Fatalf("Expected several fragments, got %d", len(frags))
	}
	var text strings.Builder
	for i, f := range frags {
		if f.Fragment != i+1 {
			t.Errorf("Fragment %d numbered %d", i, f.Fragment)
		}
		if !strings.HasPrefix(f.Content, "<p>") || !strings.HasSuffix(f.Content, "</p>") {
			t.Errorf("Fragment %d not wrapped in paragraph: %.40q", i, f.Content)
		}
		if strings.Count(f.Content, "<b>") != strings.Count(f.Content, "</b>") {
			t.Errorf("Fragment %d has unbalanced markup", i)
		}
		if f.TextStart != markup.RuneLen(text.String()) {
			t.Errorf("Fragment %d starts at %d, want %d", i, f.TextStart, markup.RuneLen(text.String()))
		}
		text.WriteString(f.Text())
	}
	if text.String() != markup.PlainText(inline) {
		t.Error("Fragments do not reproduce original text")
	}
}

func TestIdempotentPagination(t *testing.T) {
	doc := NewDocument("same", Heading(1, "Title"), Leaf(TagParagraph, words(700)), Leaf(TagRule, ""))
	s := DefaultSettings(50, 15)
	a := paginate(t, wrapOracle{cols: 50}, s, doc)
	b := paginate(t, wrapOracle{cols: 50}, s, doc)
	if !reflect.DeepEqual(a, b) {
		t.Error("Expected identical results for identical input")
	}
}

func TestOrphanRebalanced(t *testing.T) {
	doc := NewDocument("orphan", Leaf(TagParagraph, words(252)))
	res := paginate(t, wrapOracle{cols: 60}, DefaultSettings(60, 20), doc)
	if res.TotalPages != 2 {
		t.Fatalf("Expected 2 pages, got %d", res.TotalPages)
	}
	last := res.Pages[1].Blocks[0]
	if last.Height < 2 {
		t.Errorf("Expected trailing fragment of at least 2 lines, got %v", last.Height)
	}
	if n := len(strings.Fields(last.Text())); n != 13 {
		t.Errorf("Expected 13 words on last page, got %d", n)
	}
}

func TestOrphanKeptWithoutAttempts(t *testing.T) {
	doc := NewDocument("orphan", Leaf(TagParagraph, words(252)))
	s := DefaultSettings(60, 20)
	s.OrphanMergeAttempts = 0
	res := paginate(t, wrapOracle{cols: 60}, s, doc)
	if h := res.Pages[res.TotalPages-1].Height; h != 1 {
		t.Errorf("Expected single line trailing page, got %v", h)
	}
}

func TestHeadingAffinity(t *testing.T) {
	doc := NewDocument("affinity",
		Leaf(TagParagraph, words(216)),
		Heading(2, "Next part"),
		Leaf(TagParagraph, words(60)),
	)
	res := paginate(t, wrapOracle{cols: 60}, DefaultSettings(60, 20), doc)
	if res.TotalPages != 2 {
		t.Fatalf("Expected 2 pages, got %d", res.TotalPages)
	}
	if tag := res.Pages[1].Blocks[0].Tag; tag != TagHeading {
		t.Errorf("Expected second page to start with heading, got %v", tag)
	}
}

func TestDropcapPairing(t *testing.T) {
	doc := NewDocument("dropcap",
		Leaf(TagParagraph, words(204)),
		Leaf(TagDropcap, "T"),
		Leaf(TagParagraph, "he "+words(30)),
	)
	res := paginate(t, wrapOracle{cols: 60}, DefaultSettings(60, 20), doc)
	if res.TotalPages != 2 {
		t.Fatalf("Expected 2 pages, got %d", res.TotalPages)
	}
	second := res.Pages[1].Blocks
	if len(second) != 2 || second[0].Tag != TagDropcap || second[1].Tag != TagParagraph {
		t.Errorf("Expected dropcap and its paragraph together on page 2, got %d blocks", len(second))
	}
}

func TestHeadingKeepsDropcapParagraph(t *testing.T) {
	doc := NewDocument("dropcap heading",
		Leaf(TagParagraph, words(204)),
		Heading(2, "Next part"),
		Leaf(TagDropcap, "T"),
		Leaf(TagParagraph, "he "+words(30)),
	)
	res := paginate(t, wrapOracle{cols: 60}, DefaultSettings(60, 20), doc)
	if res.TotalPages != 2 {
		t.Fatalf("Expected 2 pages, got %d", res.TotalPages)
	}
	if got := len(res.Pages[0].Blocks); got != 1 {
		t.Errorf("Expected first page to hold only the opening paragraph, got %d blocks", got)
	}
	var tags []Tag
	for _, b := range res.Pages[1].Blocks {
		tags = append(tags, b.Tag)
	}
	if want := []Tag{TagHeading, TagDropcap, TagParagraph}; !reflect.DeepEqual(tags, want) {
		t.Errorf("Expected %v on page 2, got %v", want, tags)
	}
}

func TestCoverAlone(t *testing.T) {
	doc := NewDocument("cover",
		Leaf(TagParagraph, "before"),
		&Node{Tag: TagImage, Markup: `<img src="cover.jpg"/>`, Cover: true},
		Leaf(TagParagraph, "after"),
	)
	res := paginate(t, wrapOracle{cols: 60, imageRows: 3}, DefaultSettings(60, 20), doc)
	if res.TotalPages != 3 {
		t.Fatalf("Expected 3 pages, got %d", res.TotalPages)
	}
	if b := res.Pages[1].Blocks; len(b) != 1 || !b[0].Cover {
		t.Error("Expected cover alone on the second page")
	}
}

func TestOversizedTableSplitByRows(t *testing.T) {
	var rows []*Node
	for range 30 {
		rows = append(rows, Leaf(TagTableRow, "<td>cell</td>"))
	}
	doc := NewDocument("table", Container(TagTable, rows...))
	res := paginate(t, wrapOracle{cols: 60}, DefaultSettings(60, 20), doc)
	if res.TotalPages != 2 {
		t.Fatalf("Expected 2 pages, got %d", res.TotalPages)
	}
	for i, want := range []int{20, 10} {
		b := res.Pages[i].Blocks[0]
		if b.Fragment != i+1 {
			t.Errorf("Page %d: expected row group %d, got %d", i, i+1, b.Fragment)
		}
		if !strings.HasPrefix(b.Content, "<table>") || !strings.HasSuffix(b.Content, "</table>") {
			t.Errorf("Page %d: row group not wrapped in table shell", i)
		}
		if got := strings.Count(b.Content, "<tr>"); got != want {
			t.Errorf("Page %d: expected %d rows, got %d", i, want, got)
		}
		if len(b.TextIndices) != want {
			t.Errorf("Page %d: expected %d text indices, got %d", i, want, len(b.TextIndices))
		}
	}
}

func TestTrailingRuleMerged(t *testing.T) {
	doc := NewDocument("rule", Leaf(TagParagraph, words(240)), Leaf(TagRule, ""))
	res := paginate(t, wrapOracle{cols: 60}, DefaultSettings(60, 20), doc)
	if res.TotalPages != 1 {
		t.Fatalf("Expected 1 page, got %d", res.TotalPages)
	}
	if b := res.Pages[0].Blocks; b[len(b)-1].Tag != TagRule {
		t.Error("Expected rule at the end of the last page")
	}
}

func TestEmptyDocument(t *testing.T) {
	res := paginate(t, wrapOracle{cols: 60}, DefaultSettings(60, 20), NewDocument("empty"))
	if res.TotalPages != 1 || len(res.Pages) != 1 {
		t.Errorf("Expected a single empty page, got %d", res.TotalPages)
	}
}

func TestMeasurementFailure(t *testing.T) {
	doc := NewDocument("broken",
		Leaf(TagParagraph, "first"),
		Leaf(TagParagraph, "broken"),
		Leaf(TagParagraph, "last"),
	)
	res := paginate(t, wrapOracle{cols: 60, fail: "broken"}, DefaultSettings(60, 20), doc)
	if res.TotalPages != 3 {
		t.Fatalf("Expected 3 pages, got %d", res.TotalPages)
	}
	b := res.Pages[1].Blocks
	if len(b) != 1 || !b[0].Unmeasured || b[0].Height != 20 {
		t.Error("Expected unmeasured block alone with full page height")
	}
}

func TestOversizedToken(t *testing.T) {
	huge := strings.Repeat("x", 60*25)
	doc := NewDocument("token", Leaf(TagParagraph, words(24)+" "+huge+" "+words(24)))
	res := paginate(t, wrapOracle{cols: 60}, DefaultSettings(60, 20), doc)
	if res.TotalPages != 3 {
		t.Fatalf("Expected 3 pages, got %d", res.TotalPages)
	}
	b := res.Pages[1].Blocks
	if len(b) != 1 || !b[0].Oversized {
		t.Fatal("Expected oversized token alone on page 2")
	}
	if strings.TrimSpace(b[0].Text()) != huge {
		t.Error("Oversized token was broken")
	}
	for _, i := range []int{0, 2} {
		if res.Pages[i].Height > 20 {
			t.Errorf("Page %d exceeds page height", i)
		}
	}
}

func TestCancelledRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	doc := NewDocument("c", Leaf(TagParagraph, "text"))
	_, err := New(wrapOracle{cols: 60}, DefaultSettings(60, 20), zaptest.NewLogger(t)).Paginate(ctx, doc)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestInvalidSettings(t *testing.T) {
	_, err := New(wrapOracle{cols: 60}, Settings{}, zaptest.NewLogger(t)).Paginate(context.Background(), NewDocument("x"))
	if err == nil {
		t.Error("Expected error for zero page size")
	}
}

func TestTextIndicesStableAcrossLayouts(t *testing.T) {
	doc := NewDocument("stable",
		Heading(1, "Head"),
		Container(TagQuote, Leaf(TagParagraph, words(30)), Leaf(TagParagraph, words(30))),
		Leaf(TagParagraph, words(400)),
		Leaf(TagParagraph, "tail"),
	)
	before := make([]int, 0)
	for _, u := range doc.Units() {
		before = append(before, u.Index)
	}
	for _, h := range []float64{8, 20, 60} {
		res := paginate(t, wrapOracle{cols: 40}, DefaultSettings(40, h), doc)
		for _, u := range doc.Units() {
			if len(res.PagesOf(u.Index)) == 0 {
				t.Errorf("Height %v: text unit %d not on any page", h, u.Index)
			}
		}
	}
	for i, u := range doc.Units() {
		if u.Index != before[i] || u.Index != i {
			t.Errorf("Unit %d changed index to %d", i, u.Index)
		}
	}
}

func TestPageWithSentence(t *testing.T) {
	text := words(500) + " the final sentence."
	doc := NewDocument("s", Leaf(TagParagraph, text))
	res := paginate(t, wrapOracle{cols: 60}, DefaultSettings(60, 20), doc)
	if got := len(res.PagesOf(0)); got != res.TotalPages {
		t.Fatalf("Expected unit on all %d pages, got %d", res.TotalPages, got)
	}
	page, ok := res.PageWith(0, "the final   sentence.")
	if !ok || page != res.TotalPages-1 {
		t.Errorf("Expected sentence on last page %d, got %d", res.TotalPages-1, page)
	}
	if page, _ := res.PageWith(0, ""); page != 0 {
		t.Errorf("Expected first page without sentence, got %d", page)
	}
}
