package reader

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/metcalfc/leaf/internal/layout"
)

// Format defines a file format reader producing chapter block trees.
type Format interface {
	Name() string
	Extensions() []string
	Open(filename string) (*Book, error)
}

var registry []Format

// Register adds a format reader to the registry.
func Register(f Format) {
	registry = append(registry, f)
}

// Open reads a book, using a registered format or plain text fallback.
func Open(filename string) (*Book, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, f := range registry {
		for _, e := range f.Extensions() {
			if ext == e {
				return f.Open(filename)
			}
		}
	}
	return (&TextFormat{}).Open(filename)
}

// SupportedFormats returns registered format names with their extensions.
func SupportedFormats() []string {
	var out []string
	for _, f := range registry {
		out = append(out, f.Name()+" ("+strings.Join(f.Extensions(), ", ")+")")
	}
	return out
}

// TextFormat implements Format for plain text. The whole file is one
// chapter with a paragraph per blank line separated block.
type TextFormat struct{}

func init() {
	Register(&TextFormat{})
}

func (f *TextFormat) Name() string         { return "Text" }
func (f *TextFormat) Extensions() []string { return []string{".txt"} }

func (f *TextFormat) Open(filename string) (*Book, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	title := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	paras := splitParagraphs(string(data))
	if len(paras) == 0 {
		return nil, fmt.Errorf("%s: no text found", filename)
	}
	return &Book{
		Title:    title,
		Format:   f.Name(),
		Chapters: []Chapter{{Title: title, Doc: layout.PlainDocument(title, paras...)}},
		TOC:      []TOCEntry{{Title: title, TextIndex: -1}},
	}, nil
}
