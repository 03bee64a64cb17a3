// Package markup works on the inline HTML-like fragments that chapter
// blocks carry: tokenizing for word-aligned splitting, decoding to plain
// text with raw byte spans, re-balancing sliced fragments and wrapping text
// ranges in marker elements.
package markup

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/net/html"
)

// Kind classifies a token of inline markup.
type Kind int

const (
	Word Kind = iota
	Space
	StartTag
	EndTag
	VoidTag
)

// Token is a slice of the original markup. Concatenating Raw of all tokens
// returned by Tokenize gives back the input exactly.
type Token struct {
	Kind Kind
	Raw  string
	Name string
}

// ErrCrossesBoundary is returned by Wrap when the requested range starts and
// ends inside different elements.
var ErrCrossesBoundary = errors.New("range crosses element boundary")

var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"source": true, "track": true, "wbr": true,
}

// IsVoid reports whether element never has a closing tag.
func IsVoid(name string) bool {
	return voidElements[name]
}

// scan walks markup with the html tokenizer calling fn with every token and
// its raw text. The raw slices are copied out of the tokenizer buffer.
func scan(s string, fn func(tt html.TokenType, raw, name string)) {
	z := html.NewTokenizer(strings.NewReader(s))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if z.Err() != io.EOF {
				// tokenizer gave up, pass the rest through as text
				fn(html.TextToken, string(z.Raw()), "")
			}
			return
		}
		raw := string(z.Raw())
		var name string
		switch tt {
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			n, _ := z.TagName()
			name = string(n)
		}
		fn(tt, raw, name)
	}
}

// Tokenize splits markup into word, whitespace and tag tokens.
func Tokenize(s string) []Token {
	var out []Token
	scan(s, func(tt html.TokenType, raw, name string) {
		switch tt {
		case html.TextToken:
			out = appendText(out, raw)
		case html.StartTagToken:
			if IsVoid(name) {
				out = append(out, Token{Kind: VoidTag, Raw: raw, Name: name})
			} else {
				out = append(out, Token{Kind: StartTag, Raw: raw, Name: name})
			}
		case html.SelfClosingTagToken:
			out = append(out, Token{Kind: VoidTag, Raw: raw, Name: name})
		case html.EndTagToken:
			out = append(out, Token{Kind: EndTag, Raw: raw, Name: name})
		default:
			// comments and doctype carry no text
			out = append(out, Token{Kind: VoidTag, Raw: raw})
		}
	})
	return out
}

func appendText(out []Token, raw string) []Token {
	start := 0
	inSpace := false
	for i, r := range raw {
		sp := unicode.IsSpace(r)
		if i == 0 {
			inSpace = sp
			continue
		}
		if sp != inSpace {
			out = append(out, textToken(raw[start:i], inSpace))
			start, inSpace = i, sp
		}
	}
	if start < len(raw) {
		out = append(out, textToken(raw[start:], inSpace))
	}
	return out
}

func textToken(raw string, space bool) Token {
	if space {
		return Token{Kind: Space, Raw: raw}
	}
	return Token{Kind: Word, Raw: raw}
}

// Char is one decoded character of text with the raw byte span it came
// from. Entities decode to a single Char spanning the whole entity.
type Char struct {
	Rune       rune
	Start, End int
	// ids of the elements enclosing the character, outermost first
	path []int
}

// Chars decodes markup into characters. Tags contribute nothing except
// <br>, which reads as a newline.
func Chars(s string) []Char {
	return analyze(s).chars
}

type analysis struct {
	chars []Char
	total int
	// start tag ending at a position -> its start
	openAt map[int]int
	// end tag starting at a position -> its end
	closeAt map[int]int
}

func analyze(s string) analysis {
	var (
		a      = analysis{openAt: map[int]int{}, closeAt: map[int]int{}}
		stack  []int
		names  []string
		nextID int
	)
	scan(s, func(tt html.TokenType, raw, name string) {
		pos := a.total
		switch tt {
		case html.TextToken:
			a.chars = decodeText(a.chars, raw, pos, append([]int(nil), stack...))
		case html.StartTagToken, html.SelfClosingTagToken:
			switch {
			case name == "br":
				a.chars = append(a.chars, Char{Rune: '\n', Start: pos, End: pos + len(raw), path: append([]int(nil), stack...)})
			case tt == html.StartTagToken && !IsVoid(name):
				nextID++
				stack = append(stack, nextID)
				names = append(names, name)
				a.openAt[pos+len(raw)] = pos
			}
		case html.EndTagToken:
			for i := len(names) - 1; i >= 0; i-- {
				if names[i] == name {
					names = names[:i]
					stack = stack[:i]
					a.closeAt[pos] = pos + len(raw)
					break
				}
			}
		}
		a.total += len(raw)
	})
	return a
}

func decodeText(out []Char, raw string, base int, path []int) []Char {
	for i := 0; i < len(raw); {
		if raw[i] == '&' {
			if j := strings.IndexByte(raw[i:], ';'); j > 1 && j < 32 {
				ent := raw[i : i+j+1]
				if dec := html.UnescapeString(ent); dec != ent {
					for _, r := range dec {
						out = append(out, Char{Rune: r, Start: base + i, End: base + i + j + 1, path: path})
					}
					i += j + 1
					continue
				}
			}
		}
		r, n := utf8.DecodeRuneInString(raw[i:])
		out = append(out, Char{Rune: r, Start: base + i, End: base + i + n, path: path})
		i += n
	}
	return out
}

// PlainText returns the decoded text of markup.
func PlainText(s string) string {
	cs := Chars(s)
	var b strings.Builder
	b.Grow(len(cs))
	for _, c := range cs {
		b.WriteRune(c.Rune)
	}
	return b.String()
}

// RuneLen returns the number of characters PlainText would produce.
func RuneLen(s string) int {
	return len(Chars(s))
}

// Balance makes a well-formed fragment out of a raw slice of markup. open is
// the stack of start tags that were open where the slice begins; they are
// re-opened in front and everything still open at the end is closed. The
// returned stack is the one open at the end of the slice.
func Balance(raw string, open []Token) (string, []Token) {
	var b strings.Builder
	for _, t := range open {
		b.WriteString(t.Raw)
	}
	b.WriteString(raw)
	stack := append([]Token(nil), open...)
	for _, t := range Tokenize(raw) {
		stack = Track(stack, t)
	}
	for i := len(stack) - 1; i >= 0; i-- {
		b.WriteString("</" + stack[i].Name + ">")
	}
	return b.String(), stack
}

// Track updates an element stack with one token.
func Track(stack []Token, t Token) []Token {
	switch t.Kind {
	case StartTag:
		return append(stack, t)
	case EndTag:
		for i := len(stack) - 1; i >= 0; i-- {
			if stack[i].Name == t.Name {
				return stack[:i]
			}
		}
	}
	return stack
}

// Wrap surrounds the characters [start, end) of the decoded text of s with
// open and close. When the ends of the range sit at different depths the
// range is widened over directly adjacent tags; if that is not enough to
// reach a common parent ErrCrossesBoundary is returned and s is left alone.
func Wrap(s string, start, end int, open, close string) (string, error) {
	a := analyze(s)
	if start < 0 || end > len(a.chars) || start >= end {
		return s, fmt.Errorf("range [%d, %d) out of bounds (%d chars)", start, end, len(a.chars))
	}
	first, last := a.chars[start], a.chars[end-1]
	common := commonPrefix(first.path, last.path)
	from, to := first.Start, last.End
	for extra := len(first.path) - common; extra > 0; extra-- {
		p, ok := a.openAt[from]
		if !ok {
			return s, ErrCrossesBoundary
		}
		from = p
	}
	for extra := len(last.path) - common; extra > 0; extra-- {
		p, ok := a.closeAt[to]
		if !ok {
			return s, ErrCrossesBoundary
		}
		to = p
	}
	return s[:from] + open + s[from:to] + close + s[to:], nil
}

func commonPrefix(a, b []int) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}
