package reader

import (
	"bytes"
	"fmt"
	"io"
	"path"

	"github.com/taylorskalyo/goreader/epub"
	"go.uber.org/multierr"

	"github.com/metcalfc/leaf/internal/layout"
)

// EPUBFormat implements Format for EPUB files.
type EPUBFormat struct{}

func init() {
	Register(&EPUBFormat{})
}

func (f *EPUBFormat) Name() string         { return "EPUB" }
func (f *EPUBFormat) Extensions() []string { return []string{".epub"} }

// Open reads every spine document into a chapter. Chapter titles come from
// the NCX, then from the document <title>.
func (f *EPUBFormat) Open(filename string) (*Book, error) {
	rc, err := epub.OpenReader(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open epub: %w", err)
	}
	defer rc.Close()

	if len(rc.Rootfiles) == 0 {
		return nil, fmt.Errorf("no rootfiles found in epub")
	}

	book := rc.Rootfiles[0]
	nav, navErr := readNCX(filename, book)
	titles := nav.titles()

	out := &Book{Title: book.Metadata.Title, Format: f.Name()}
	var skipped error
	for i, ref := range book.Spine.Itemrefs {
		if ref.Item == nil {
			continue
		}
		data, err := readItem(ref.Item)
		if err != nil {
			skipped = multierr.Append(skipped, fmt.Errorf("%s: %w", ref.Item.HREF, err))
			continue
		}
		docTitle, nodes, err := ParseHTML(bytes.NewReader(data))
		if err != nil {
			skipped = multierr.Append(skipped, fmt.Errorf("%s: %w", ref.Item.HREF, err))
			continue
		}
		if len(nodes) == 0 {
			continue
		}

		title := fmt.Sprintf("Section %d", i+1)
		if t, ok := titles[ref.Item.HREF]; ok {
			title = t
		} else if t, ok := titles[path.Base(ref.Item.HREF)]; ok {
			title = t
		} else if docTitle != "" {
			title = docTitle
		}
		out.Chapters = append(out.Chapters, Chapter{
			Title: title,
			Href:  ref.Item.HREF,
			Doc:   layout.NewDocument(title, nodes...),
		})
	}

	if len(out.Chapters) == 0 {
		if skipped != nil {
			return nil, fmt.Errorf("no readable content in epub: %w", skipped)
		}
		return nil, fmt.Errorf("no readable content in epub")
	}
	out.Skipped = skipped
	if out.Title == "" {
		out.Title = out.Chapters[0].Title
	}
	if navErr == nil {
		out.TOC = nav.entries(out.Chapters)
	}
	if len(out.TOC) == 0 {
		out.TOC = headingTOC(out.Chapters, 2)
	}
	return out, nil
}

func readItem(item *epub.Item) ([]byte, error) {
	r, err := item.Open()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
