package termview

import (
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

func init() {
	lipgloss.SetColorProfile(termenv.Ascii)
}

func TestRender(t *testing.T) {
	tests := []struct {
		name    string
		content string
		width   int
		want    string
	}{
		{"paragraphs", "<p>one two</p><p>three</p>", 20, "one two\n\nthree"},
		{"wrap", "<p>aaa bbb ccc ddd</p>", 7, "aaa bbb\nccc ddd"},
		{"entities", "<p>fish &amp; chips</p>", 20, "fish & chips"},
		{"collapse", "<p>  lots   of\n space </p>", 20, "lots of space"},
		{"long word", "<p>abcdefghij</p>", 4, "abcd\nefgh\nij"},
		{"list", "<ul><li>one</li><li>two</li></ul>", 20, "• one\n\n• two"},
		{"table", "<table><tr><td>a</td><td>b</td></tr></table>", 20, "a | b"},
		{"rule", "<hr/>", 3, "───"},
		{"dropcap", `<div class="dropcap">T</div><p>he end</p>`, 20, "The end"},
		{"note", `<p><mark data-hl-id="x" class="hl-blue">marked</mark><sup class="hl-note" data-hl-id="x"></sup> text</p>`, 20, "marked* text"},
		{"speech", `<p><span class="tts">spoken</span> words</p>`, 20, "spoken words"},
		{"break", "<p>a<br>b</p>", 20, "a\nb"},
		{"image", `<figure><img src="x.png"/></figure>`, 20, "[image]"},
		{"empty", "", 20, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Render(tt.content, tt.width); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestRenderPreservesPre(t *testing.T) {
	got := Render("<pre>a  b\n  c</pre>", 20)
	if got != "a  b\n  c" {
		t.Errorf("Expected preformatted text kept, got %q", got)
	}
}

func TestOracle(t *testing.T) {
	var o Oracle
	tests := []struct {
		content string
		width   float64
		want    float64
	}{
		{"<p>one two</p>", 20, 2},
		{"<p>aaa bbb ccc ddd</p>", 7, 3},
		{"<p>one</p><p>two</p>", 20, 4},
		{"", 20, 0},
		{"<p>" + strings.Repeat("x", 25) + "</p>", 10, 4},
	}
	for _, tt := range tests {
		got, err := o.Measure(tt.content, tt.width)
		if err != nil {
			t.Fatalf("Measure(%q) failed: %v", tt.content, err)
		}
		if got != tt.want {
			t.Errorf("Measure(%q, %v) = %v, want %v", tt.content, tt.width, got, tt.want)
		}
	}
	if _, err := o.Measure("<p>x</p>", 0); err == nil {
		t.Error("Expected error for zero width")
	}
}
