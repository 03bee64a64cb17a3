package reader

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/metcalfc/leaf/internal/layout"
	"github.com/metcalfc/leaf/internal/markup"
)

// ParseHTML converts an XHTML content document into a block tree. It returns
// the document title from <title> and the nodes found in <body>.
func ParseHTML(r io.Reader) (string, []*layout.Node, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", nil, fmt.Errorf("failed to parse html: %w", err)
	}
	var title string
	if t := find(doc, atom.Title); t != nil {
		title = strings.TrimSpace(textOf(t))
	}
	body := find(doc, atom.Body)
	if body == nil {
		body = doc
	}
	return title, blockChildren(body), nil
}

func find(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if f := find(c, a); f != nil {
			return f
		}
	}
	return nil
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func isBlock(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	switch n.DataAtom {
	case atom.P, atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
		atom.Div, atom.Section, atom.Article, atom.Header, atom.Footer, atom.Main, atom.Aside, atom.Nav,
		atom.Table, atom.Ul, atom.Ol, atom.Li, atom.Dl, atom.Hr, atom.Blockquote, atom.Pre,
		atom.Figure, atom.Form, atom.Img, atom.Svg, atom.Image, atom.Ruby,
		atom.Script, atom.Style, atom.Noscript:
		return true
	}
	return false
}

func hasBlockChild(n *html.Node) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if isBlock(c) && c.DataAtom != atom.Img && c.DataAtom != atom.Ruby {
			return true
		}
	}
	return false
}

// blockChildren converts the children of n, collecting runs of inline
// content into anonymous paragraphs.
func blockChildren(n *html.Node) []*layout.Node {
	var (
		out    []*layout.Node
		inline []*html.Node
	)
	flush := func() {
		if s := renderInline(inline); s != "" {
			out = append(out, leaf(layout.TagParagraph, s, false))
		}
		inline = inline[:0]
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		switch {
		case c.Type == html.CommentNode:
		case isBlock(c):
			flush()
			if b := convertBlock(c); b != nil {
				out = append(out, b)
			}
		default:
			inline = append(inline, c)
		}
	}
	flush()
	return out
}

func convertBlock(n *html.Node) *layout.Node {
	switch n.DataAtom {
	case atom.Script, atom.Style, atom.Noscript:
		return nil
	case atom.P:
		return leaf(layout.TagParagraph, inner(n), isCover(n))
	case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
		s := inner(n)
		if s == "" {
			return nil
		}
		return layout.Heading(int(n.Data[1]-'0'), s)
	case atom.Img, atom.Svg, atom.Image:
		img := layout.Leaf(layout.TagImage, outer(n))
		img.Cover = isCover(n)
		return img
	case atom.Figure:
		return leaf(layout.TagImage, inner(n), isCover(n))
	case atom.Table:
		var rows []*layout.Node
		collect(n, atom.Tr, func(tr *html.Node) {
			rows = append(rows, layout.Leaf(layout.TagTableRow, inner(tr)))
		})
		if len(rows) == 0 {
			return nil
		}
		return layout.Container(layout.TagTable, rows...)
	case atom.Ul, atom.Ol:
		var items []*layout.Node
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && c.DataAtom == atom.Li {
				items = append(items, layout.Leaf(layout.TagListItem, inner(c)))
			}
		}
		if len(items) == 0 {
			return nil
		}
		return layout.Container(layout.TagList, items...)
	case atom.Li:
		return layout.Leaf(layout.TagListItem, inner(n))
	case atom.Hr:
		return layout.Leaf(layout.TagRule, "")
	case atom.Blockquote:
		return layout.Leaf(layout.TagQuote, inner(n))
	case atom.Pre:
		return layout.Leaf(layout.TagCode, inner(n))
	case atom.Ruby:
		return layout.Leaf(layout.TagRuby, outer(n))
	case atom.Form:
		return layout.Leaf(layout.TagForm, inner(n))
	}

	if hasClass(n, "dropcap") {
		return layout.Leaf(layout.TagDropcap, inner(n))
	}
	if isCover(n) && hasImage(n) {
		return leaf(layout.TagImage, inner(n), true)
	}
	if !hasBlockChild(n) {
		return leaf(layout.TagParagraph, inner(n), false)
	}
	children := blockChildren(n)
	switch len(children) {
	case 0:
		return nil
	case 1:
		return children[0]
	}
	return layout.Container(layout.TagContainer, children...)
}

// leaf returns a text leaf, an image leaf when the content is a lone
// picture, or nil when there is nothing to show.
func leaf(tag layout.Tag, s string, cover bool) *layout.Node {
	if s == "" {
		return nil
	}
	if strings.TrimSpace(markup.PlainText(s)) == "" {
		if !strings.Contains(s, "<img") && !strings.Contains(s, "<svg") && !strings.Contains(s, "<image") {
			return nil
		}
		tag = layout.TagImage
	}
	n := layout.Leaf(tag, s)
	n.Cover = cover && tag == layout.TagImage
	return n
}

func collect(n *html.Node, a atom.Atom, fn func(*html.Node)) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		if c.DataAtom == a {
			fn(c)
			continue
		}
		collect(c, a, fn)
	}
}

func hasImage(n *html.Node) bool {
	found := false
	for _, a := range []atom.Atom{atom.Img, atom.Svg, atom.Image} {
		collect(n, a, func(*html.Node) { found = true })
	}
	return found
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key || (a.Namespace != "" && a.Namespace+":"+a.Key == key) {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func isCover(n *html.Node) bool {
	if hasClass(n, "cover") {
		return true
	}
	for _, t := range strings.Fields(attr(n, "epub:type")) {
		if t == "cover" {
			return true
		}
	}
	return false
}

func inner(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		_ = html.Render(&b, c)
	}
	return strings.TrimSpace(b.String())
}

func outer(n *html.Node) string {
	var b strings.Builder
	_ = html.Render(&b, n)
	return b.String()
}

func renderInline(nodes []*html.Node) string {
	var b strings.Builder
	for _, n := range nodes {
		_ = html.Render(&b, n)
	}
	s := strings.TrimSpace(b.String())
	if strings.TrimSpace(markup.PlainText(s)) == "" && !strings.Contains(s, "<img") {
		return ""
	}
	return s
}
