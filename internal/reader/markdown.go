package reader

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/metcalfc/leaf/internal/layout"
	"github.com/metcalfc/leaf/internal/markup"
)

// MarkdownFormat implements Format for Markdown files. Every top level
// header starts a chapter.
type MarkdownFormat struct{}

func init() {
	Register(&MarkdownFormat{})
}

func (f *MarkdownFormat) Name() string         { return "Markdown" }
func (f *MarkdownFormat) Extensions() []string { return []string{".md", ".markdown"} }

var markdown = goldmark.New(goldmark.WithExtensions(extension.Table, extension.Strikethrough))

func (f *MarkdownFormat) Open(filename string) (*Book, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := markdown.Convert(data, &buf); err != nil {
		return nil, fmt.Errorf("failed to convert markdown: %w", err)
	}
	_, nodes, err := ParseHTML(&buf)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("%s: no content found", filename)
	}

	name := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	book := &Book{Title: name, Format: f.Name(), Chapters: splitChapters(nodes, name)}
	book.TOC = headingTOC(book.Chapters, 3)
	return book, nil
}

// splitChapters cuts a node sequence before every level 1 heading. Content
// ahead of the first heading becomes a chapter of its own.
func splitChapters(nodes []*layout.Node, fallback string) []Chapter {
	var (
		out   []Chapter
		cur   []*layout.Node
		title = fallback
	)
	push := func() {
		if len(cur) > 0 {
			out = append(out, Chapter{Title: title, Doc: layout.NewDocument(title, cur...)})
		}
	}
	for _, n := range nodes {
		if n.Tag == layout.TagHeading && n.Level == 1 {
			push()
			cur = nil
			title = strings.TrimSpace(markup.PlainText(n.Markup))
		}
		cur = append(cur, n)
	}
	push()
	return out
}
