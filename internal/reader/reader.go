// Package reader opens books and turns each chapter into a block tree ready
// for pagination.
package reader

import (
	"strings"

	"github.com/metcalfc/leaf/internal/layout"
)

// Chapter is one spine document of a book.
type Chapter struct {
	Title string
	Href  string
	Doc   *layout.Document
}

// Book holds the chapters of an opened file in reading order.
type Book struct {
	Title    string
	Format   string
	Chapters []Chapter
	TOC      []TOCEntry
	// content that could not be read and was left out, nil when complete
	Skipped error
}

// Chapter returns chapter i.
func (b *Book) Chapter(i int) (*Chapter, bool) {
	if i < 0 || i >= len(b.Chapters) {
		return nil, false
	}
	return &b.Chapters[i], true
}

// ChapterTitle returns the title of chapter i or an empty string.
func (b *Book) ChapterTitle(i int) string {
	if c, ok := b.Chapter(i); ok {
		return c.Title
	}
	return ""
}

// Words returns the number of words in the book.
func (b *Book) Words() int {
	n := 0
	for _, c := range b.Chapters {
		for _, u := range c.Doc.Units() {
			n += len(strings.Fields(u.Text))
		}
	}
	return n
}

// splitParagraphs breaks plain text into paragraphs at blank lines, joining
// the lines of each paragraph with a space.
func splitParagraphs(text string) []string {
	var (
		out  []string
		cur  []string
		push = func() {
			if len(cur) > 0 {
				out = append(out, strings.Join(cur, " "))
				cur = cur[:0]
			}
		}
	)
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			push()
			continue
		}
		cur = append(cur, line)
	}
	push()
	return out
}
