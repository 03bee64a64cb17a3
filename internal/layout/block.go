// Package layout turns a chapter's block tree into fixed-height pages.
//
// Pagination runs in three passes over an immutable Document: Flatten
// unwraps containers taller than a page, Split breaks oversized text blocks
// at whitespace into fragments, and Paginate packs the resulting sequence
// into pages honouring heading, dropcap, table and cover placement rules.
// Heights come from an Oracle; the package never measures text itself.
package layout

import (
	"fmt"
	"html"
	"strings"

	"github.com/metcalfc/leaf/internal/markup"
)

// Tag is the semantic type of a block.
type Tag int

const (
	TagParagraph Tag = iota
	TagHeading
	TagImage
	TagTable
	TagTableRow
	TagList
	TagListItem
	TagRule
	TagQuote
	TagCode
	TagRuby
	TagForm
	TagDropcap
	TagContainer
)

var tagNames = [...]string{
	TagParagraph: "paragraph",
	TagHeading:   "heading",
	TagImage:     "image",
	TagTable:     "table",
	TagTableRow:  "table-row",
	TagList:      "list",
	TagListItem:  "list-item",
	TagRule:      "rule",
	TagQuote:     "quote",
	TagCode:      "code",
	TagRuby:      "ruby",
	TagForm:      "form",
	TagDropcap:   "dropcap",
	TagContainer: "container",
}

func (t Tag) String() string {
	if t >= 0 && int(t) < len(tagNames) {
		return tagNames[t]
	}
	return fmt.Sprintf("tag(%d)", int(t))
}

// Atomic reports whether blocks of this type are never split or separated
// from their immediate context.
func (t Tag) Atomic() bool {
	switch t {
	case TagImage, TagTableRow, TagListItem, TagCode, TagQuote, TagRuby, TagForm:
		return true
	}
	return false
}

// element returns the block-level element used to serialize a tag.
func (t Tag) element(level int) (name, class string) {
	switch t {
	case TagParagraph:
		return "p", ""
	case TagHeading:
		if level < 1 || level > 6 {
			level = 2
		}
		return fmt.Sprintf("h%d", level), ""
	case TagImage:
		return "figure", ""
	case TagTable:
		return "table", ""
	case TagTableRow:
		return "tr", ""
	case TagList:
		return "ul", ""
	case TagListItem:
		return "li", ""
	case TagRule:
		return "hr", ""
	case TagQuote:
		return "blockquote", ""
	case TagCode:
		return "pre", ""
	case TagRuby:
		return "div", "ruby"
	case TagForm:
		return "form", ""
	case TagDropcap:
		return "div", "dropcap"
	}
	return "div", ""
}

// Node is one element of a chapter's block tree. Leaves carry inline markup,
// containers carry children. Nodes are not modified once they are part of a
// Document.
type Node struct {
	Tag      Tag
	Level    int    // heading level
	Markup   string // inline content of a leaf
	Cover    bool   // cover image, always alone on its page
	Children []*Node

	textIndex int
}

// Leaf returns a node with inline content.
func Leaf(tag Tag, inline string) *Node {
	return &Node{Tag: tag, Markup: inline, textIndex: -1}
}

// Heading returns a heading leaf of the given level.
func Heading(level int, inline string) *Node {
	return &Node{Tag: TagHeading, Level: level, Markup: inline, textIndex: -1}
}

// Container returns a node wrapping children.
func Container(tag Tag, children ...*Node) *Node {
	return &Node{Tag: tag, Children: children, textIndex: -1}
}

// TextIndex returns the global text index of a text bearing leaf or -1.
func (n *Node) TextIndex() int {
	return n.textIndex
}

func (n *Node) open() string {
	name, class := n.Tag.element(n.Level)
	switch {
	case n.Tag == TagRule:
		return "<hr/>"
	case n.Cover:
		return "<" + name + ` class="cover">`
	case class != "":
		return "<" + name + ` class="` + class + `">`
	}
	return "<" + name + ">"
}

func (n *Node) close() string {
	if n.Tag == TagRule {
		return ""
	}
	name, _ := n.Tag.element(n.Level)
	return "</" + name + ">"
}

// Render serializes the node with its subtree.
func (n *Node) Render() string {
	var b strings.Builder
	n.render(&b)
	return b.String()
}

func (n *Node) render(b *strings.Builder) {
	b.WriteString(n.open())
	b.WriteString(n.Markup)
	for _, c := range n.Children {
		c.render(b)
	}
	b.WriteString(n.close())
}

// indices appends the text indices of all leaves under n in document order.
func (n *Node) indices(out []int) []int {
	if n.textIndex >= 0 {
		out = append(out, n.textIndex)
	}
	for _, c := range n.Children {
		out = c.indices(out)
	}
	return out
}

// TextUnit is a text bearing leaf addressed by its global text index.
type TextUnit struct {
	Index  int
	Markup string
	Text   string
}

// Document is the immutable block tree of one chapter.
type Document struct {
	Title string
	Nodes []*Node

	units []TextUnit
}

// NewDocument assigns global text indices to every leaf with text, in
// document order. Indices depend only on document order, so they stay the
// same however the document is later paginated.
func NewDocument(title string, nodes ...*Node) *Document {
	d := &Document{Title: title, Nodes: nodes}
	stack := make([]*Node, 0, len(nodes))
	for i := len(nodes) - 1; i >= 0; i-- {
		stack = append(stack, nodes[i])
	}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n.textIndex = -1
		if len(n.Children) == 0 && n.Markup != "" {
			if text := markup.PlainText(n.Markup); text != "" {
				n.textIndex = len(d.units)
				d.units = append(d.units, TextUnit{Index: n.textIndex, Markup: n.Markup, Text: text})
			}
		}
		for i := len(n.Children) - 1; i >= 0; i-- {
			stack = append(stack, n.Children[i])
		}
	}
	return d
}

// PlainDocument builds a document from paragraphs of plain text.
func PlainDocument(title string, paragraphs ...string) *Document {
	nodes := make([]*Node, 0, len(paragraphs))
	for _, p := range paragraphs {
		nodes = append(nodes, Leaf(TagParagraph, html.EscapeString(p)))
	}
	return NewDocument(title, nodes...)
}

// Units returns the text units in document order.
func (d *Document) Units() []TextUnit {
	return d.units
}

// Unit returns the text unit with the given global index.
func (d *Document) Unit(index int) (TextUnit, bool) {
	if index < 0 || index >= len(d.units) {
		return TextUnit{}, false
	}
	return d.units[index], true
}

// Text returns the concatenated text of the whole document.
func (d *Document) Text() string {
	var b strings.Builder
	for _, u := range d.units {
		b.WriteString(u.Text)
	}
	return b.String()
}

// Block is one element of the flattened, page-able sequence: either a whole
// node or a fragment of one.
type Block struct {
	Tag     Tag
	Height  float64
	Atomic  bool
	Cover   bool
	Content string
	// global text indices of the leaves this block carries
	TextIndices []int
	// fragment number starting at 1 for split text and table row groups, 0
	// for whole blocks
	Fragment int
	// character offset of a text fragment within its text unit
	TextStart int
	// the oracle could not size the block, Height is the full page
	Unmeasured bool
	// single unbreakable token or atomic block taller than a page
	Oversized bool

	node *Node
}

// TextIndex returns the first text index carried by the block or -1.
func (b *Block) TextIndex() int {
	if len(b.TextIndices) == 0 {
		return -1
	}
	return b.TextIndices[0]
}

// Text returns the decoded text of the block.
func (b *Block) Text() string {
	return markup.PlainText(b.Content)
}

func (b *Block) splittable() bool {
	if b.node == nil || b.Atomic || b.Fragment != 0 || len(b.node.Children) > 0 {
		return false
	}
	switch b.Tag {
	case TagParagraph, TagHeading, TagContainer:
		return b.node.Markup != ""
	}
	return false
}
