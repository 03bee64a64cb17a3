package reader

import (
	"github.com/metcalfc/leaf/internal/layout"
	"github.com/metcalfc/leaf/internal/markup"
)

// TOCEntry represents a single entry in a table of contents
type TOCEntry struct {
	Title string
	// index into Book.Chapters
	Chapter int
	// text index of the heading the entry points at, -1 for chapter start
	TextIndex int
	Level     int
}

// headingTOC builds a table of contents from the headings of every chapter.
// Chapters without headings get an entry with the chapter title.
func headingTOC(chapters []Chapter, maxLevel int) []TOCEntry {
	var out []TOCEntry
	for i, c := range chapters {
		found := false
		walkNodes(c.Doc.Nodes, func(n *layout.Node) {
			if n.Tag != layout.TagHeading || n.Level > maxLevel {
				return
			}
			found = true
			out = append(out, TOCEntry{
				Title:     markup.PlainText(n.Markup),
				Chapter:   i,
				TextIndex: n.TextIndex(),
				Level:     n.Level - 1,
			})
		})
		if !found {
			out = append(out, TOCEntry{Title: c.Title, Chapter: i, TextIndex: -1})
		}
	}
	return out
}

func walkNodes(nodes []*layout.Node, fn func(*layout.Node)) {
	for _, n := range nodes {
		fn(n)
		walkNodes(n.Children, fn)
	}
}
