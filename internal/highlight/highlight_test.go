package highlight

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/metcalfc/leaf/internal/layout"
	"github.com/metcalfc/leaf/internal/markup"
)

// one word per line
var wordOracle = layout.OracleFunc(func(content string, _ float64) (float64, error) {
	return float64(len(strings.Fields(markup.PlainText(content)))), nil
})

func paginate(t *testing.T, doc *layout.Document, height float64) *layout.Result {
	t.Helper()
	res, err := layout.New(wordOracle, layout.DefaultSettings(40, height), zaptest.NewLogger(t)).Paginate(context.Background(), doc)
	if err != nil {
		t.Fatalf("Paginate failed: %v", err)
	}
	return res
}

func segmentText(doc *layout.Document, segs []Segment) string {
	var parts []string
	for _, s := range segs {
		u, _ := doc.Unit(s.TextIndex)
		parts = append(parts, string([]rune(u.Text)[s.Start:s.End]))
	}
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}

func TestLocateSingleUnit(t *testing.T) {
	doc := layout.PlainDocument("t", "Call me Ishmael. Some years ago.", "Never mind how long.")
	loc := NewLocator(doc.Units())

	a, ok := loc.Locate("Some years")
	if !ok {
		t.Fatal("Expected match")
	}
	want := []Segment{{TextIndex: 0, Start: 17, End: 27}}
	if fmt.Sprint(a.Segments) != fmt.Sprint(want) {
		t.Errorf("Expected %v, got %v", want, a.Segments)
	}
	if got := segmentText(doc, a.Segments); got != "Some years" {
		t.Errorf("Round trip gave %q", got)
	}
}

func TestLocateAcrossParagraphs(t *testing.T) {
	doc := layout.PlainDocument("t", "The first paragraph ends here.", "Second one begins now.")
	a, ok := NewLocator(doc.Units()).Locate("ends here.\n\nSecond one")
	if !ok {
		t.Fatal("Expected match across paragraphs")
	}
	want := []Segment{{TextIndex: 0, Start: 20, End: 30}, {TextIndex: 1, Start: 0, End: 10}}
	if fmt.Sprint(a.Segments) != fmt.Sprint(want) {
		t.Errorf("Expected %v, got %v", want, a.Segments)
	}
}

func TestLocateNotFound(t *testing.T) {
	loc := NewLocator(layout.PlainDocument("t", "some text").Units())
	for _, q := range []string{"missing", "", "   "} {
		if _, ok := loc.Locate(q); ok {
			t.Errorf("Expected no match for %q", q)
		}
	}
}

func TestLocateFirstOccurrenceAndHint(t *testing.T) {
	doc := layout.PlainDocument("t", "the cat sat", "a dog", "the cat ran")
	loc := NewLocator(doc.Units())

	a, _ := loc.Locate("the cat")
	if a.Segments[0].TextIndex != 0 {
		t.Errorf("Expected first occurrence, got unit %d", a.Segments[0].TextIndex)
	}
	a, _ = loc.Locate("the cat", WithHint(2))
	if a.Segments[0].TextIndex != 2 {
		t.Errorf("Expected occurrence nearest the hint, got unit %d", a.Segments[0].TextIndex)
	}
	a, _ = loc.Locate("the cat", WithHint(1))
	if a.Segments[0].TextIndex != 0 {
		t.Errorf("Expected earlier occurrence on a tie, got unit %d", a.Segments[0].TextIndex)
	}
}

func TestLocateNormalizes(t *testing.T) {
	doc := layout.PlainDocument("t", "cafe\u0301 au   lait", "tab\there")
	loc := NewLocator(doc.Units())

	a, ok := loc.Locate("caf\u00e9 au lait")
	if !ok {
		t.Fatal("Expected composed query to match decomposed text")
	}
	if s := a.Segments[0]; s.Start != 0 || s.End != 15 {
		t.Errorf("Expected [0,15), got [%d,%d)", s.Start, s.End)
	}
	if _, ok := loc.Locate("tab here"); !ok {
		t.Error("Expected whitespace to collapse")
	}
}

func TestLocateIn(t *testing.T) {
	doc := layout.PlainDocument("t", "One. Two three.", "Two three.")
	loc := NewLocator(doc.Units())
	seg, ok := loc.LocateIn(1, "Two three.")
	if !ok || seg != (Segment{TextIndex: 1, Start: 0, End: 10}) {
		t.Errorf("Expected sentence in unit 1, got %v", seg)
	}
	seg, ok = loc.LocateIn(0, "Two three.")
	if !ok || seg.Start != 5 {
		t.Errorf("Expected sentence at 5 in unit 0, got %v", seg)
	}
	if _, ok := loc.LocateIn(0, "missing"); ok {
		t.Error("Expected no match")
	}
	if _, ok := loc.LocateIn(9, "One."); ok {
		t.Error("Expected no match in unknown unit")
	}
}

func TestRenderAcrossParagraphsWithNote(t *testing.T) {
	doc := layout.PlainDocument("t", "The first paragraph ends here.", "Second one begins now.")
	res := paginate(t, doc, 100)
	ov := NewOverlay(doc, zaptest.NewLogger(t))
	if n := ov.Apply([]Highlight{{ID: "h1", MatchedText: "ends here. Second one", HasNote: true}}); n != 1 {
		t.Fatalf("Expected 1 located highlight, got %d", n)
	}

	got := ov.Render(res.Pages[0])
	want := `<p>The first paragraph <mark data-hl-id="h1" class="hl-yellow">ends here.</mark></p>` +
		`<p><mark data-hl-id="h1" class="hl-yellow">Second one</mark><sup class="hl-note" data-hl-id="h1"></sup> begins now.</p>`
	if got != want {
		t.Errorf("Unexpected render\n got: %s\nwant: %s", got, want)
	}
	if n := strings.Count(got, "hl-note"); n != 1 {
		t.Errorf("Expected exactly one note indicator, got %d", n)
	}
}

func TestApplyIdempotent(t *testing.T) {
	doc := layout.PlainDocument("t", "alpha beta gamma", "delta")
	res := paginate(t, doc, 100)
	ov := NewOverlay(doc, zaptest.NewLogger(t))
	hls := []Highlight{
		{ID: "a", MatchedText: "beta", Color: "green"},
		{ID: "a", MatchedText: "alpha"},
		{ID: "b", MatchedText: "gone"},
	}
	ov.Apply(hls)
	first := ov.Render(res.Pages[0])
	if n := ov.Apply(hls); n != 1 {
		t.Errorf("Expected 1 located highlight, got %d", n)
	}
	if second := ov.Render(res.Pages[0]); second != first {
		t.Errorf("Re-applying changed output\n got: %s\nwant: %s", second, first)
	}
	if !strings.Contains(first, `<mark data-hl-id="a" class="hl-green">beta</mark>`) {
		t.Errorf("Expected beta highlighted, got %s", first)
	}
}

func TestWrapFailureSkipsSegment(t *testing.T) {
	doc := layout.NewDocument("t",
		layout.Leaf(layout.TagParagraph, "<i>one two</i> three"),
		layout.Leaf(layout.TagParagraph, "four five"),
	)
	res := paginate(t, doc, 100)
	ov := NewOverlay(doc, zaptest.NewLogger(t))
	ov.Apply([]Highlight{
		{ID: "x", MatchedText: "two three four"},
		{ID: "y", MatchedText: "five"},
	})
	got := ov.Render(res.Pages[0])
	if strings.Contains(got, `<mark data-hl-id="x" class="hl-yellow">two`) {
		t.Error("Expected crossing segment to be skipped")
	}
	if !strings.Contains(got, `<mark data-hl-id="x" class="hl-yellow">four</mark>`) {
		t.Errorf("Expected remaining segment of x applied, got %s", got)
	}
	if !strings.Contains(got, `<mark data-hl-id="y" class="hl-yellow">five</mark>`) {
		t.Errorf("Expected y applied, got %s", got)
	}
	if markup.PlainText(got) != res.Pages[0].Text() {
		t.Error("Overlay changed page text")
	}
}

func TestRenderAcrossFragments(t *testing.T) {
	var words []string
	for i := 1; i <= 25; i++ {
		words = append(words, fmt.Sprintf("w%d", i))
	}
	doc := layout.PlainDocument("t", strings.Join(words, " "))
	res := paginate(t, doc, 10)
	if res.TotalPages != 3 {
		t.Fatalf("Expected 3 pages, got %d", res.TotalPages)
	}
	ov := NewOverlay(doc, zaptest.NewLogger(t))
	ov.Apply([]Highlight{{ID: "x", MatchedText: "w9 w10 w11 w12", Color: "blue", HasNote: true}})

	p0 := ov.Render(res.Pages[0])
	if !strings.Contains(p0, `<mark data-hl-id="x" class="hl-blue">w9 w10 </mark>`) {
		t.Errorf("Expected head of highlight on first page, got %s", p0)
	}
	if strings.Contains(p0, "hl-note") {
		t.Error("Expected no note on first page")
	}
	p1 := ov.Render(res.Pages[1])
	if !strings.HasPrefix(p1, `<p><mark data-hl-id="x" class="hl-blue">w11 w12</mark><sup class="hl-note" data-hl-id="x"></sup>`) {
		t.Errorf("Expected tail of highlight with note on second page, got %s", p1)
	}
	if p2 := ov.Render(res.Pages[2]); p2 != res.Pages[2].Blocks[0].Content {
		t.Errorf("Expected third page untouched, got %s", p2)
	}
}

func TestSpeechOverlay(t *testing.T) {
	doc := layout.PlainDocument("t", "First sentence. Second sentence.")
	res := paginate(t, doc, 100)
	ov := NewOverlay(doc, zaptest.NewLogger(t))
	sentence, ok := ov.Locator().LocateIn(0, "Second sentence.")
	if !ok {
		t.Fatal("Expected sentence")
	}
	ov.SetSpeech(Segment{TextIndex: 0, Start: 0, End: 32}, sentence)
	want := `<p><span class="tts">First sentence. <span class="tts">Second sentence.</span></span></p>`
	if got := ov.Render(res.Pages[0]); got != want {
		t.Errorf("Unexpected speech overlay\n got: %s\nwant: %s", got, want)
	}
	ov.SetSpeech()
	if got := ov.Render(res.Pages[0]); got != res.Pages[0].Blocks[0].Content {
		t.Errorf("Expected overlay cleared, got %s", got)
	}
}

func TestEntitiesKept(t *testing.T) {
	doc := layout.PlainDocument("t", "fish & chips")
	res := paginate(t, doc, 100)
	ov := NewOverlay(doc, zaptest.NewLogger(t))
	ov.Apply([]Highlight{{ID: "e", MatchedText: "& chips"}})
	want := `<p>fish <mark data-hl-id="e" class="hl-yellow">&amp; chips</mark></p>`
	if got := ov.Render(res.Pages[0]); got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}
}
