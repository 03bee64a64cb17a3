package reader

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/taylorskalyo/goreader/epub"
)

// NCX XML structures for parsing toc.ncx
type ncx struct {
	NavMap navMap `xml:"navMap"`
}

type navMap struct {
	NavPoints []navPoint `xml:"navPoint"`
}

type navPoint struct {
	ID        string     `xml:"id,attr"`
	PlayOrder int        `xml:"playOrder,attr"`
	Label     navLabel   `xml:"navLabel"`
	Content   navContent `xml:"content"`
	Children  []navPoint `xml:"navPoint"`
}

type navLabel struct {
	Text string `xml:"text"`
}

type navContent struct {
	Src string `xml:"src,attr"`
}

func readNCX(filename string, book *epub.Rootfile) (*ncx, error) {
	data, err := findAndReadNCX(filename, book)
	if err != nil {
		return nil, err
	}
	return parseNCX(data)
}

func parseNCX(data []byte) (*ncx, error) {
	var toc ncx
	if err := xml.Unmarshal(data, &toc); err != nil {
		return nil, fmt.Errorf("failed to parse NCX: %w", err)
	}
	return &toc, nil
}

func stripFragment(href string) string {
	if idx := strings.Index(href, "#"); idx != -1 {
		return href[:idx]
	}
	return href
}

// titles maps every href in the NCX, with and without fragment and
// directory, to the first label pointing at it.
func (n *ncx) titles() map[string]string {
	result := make(map[string]string)
	if n == nil {
		return result
	}
	var extract func(points []navPoint)
	extract = func(points []navPoint) {
		for _, np := range points {
			href := np.Content.Src
			title := strings.TrimSpace(np.Label.Text)
			for _, key := range []string{href, stripFragment(href), stripFragment(path.Base(href))} {
				if _, exists := result[key]; !exists {
					result[key] = title
				}
			}
			extract(np.Children)
		}
	}
	extract(n.NavMap.NavPoints)
	return result
}

// entries flattens the nav map into TOC entries pointing at chapters.
// Points whose target is not a chapter are dropped.
func (n *ncx) entries(chapters []Chapter) []TOCEntry {
	index := make(map[string]int, 2*len(chapters))
	for i, c := range chapters {
		if c.Href == "" {
			continue
		}
		if _, ok := index[c.Href]; !ok {
			index[c.Href] = i
		}
		if _, ok := index[path.Base(c.Href)]; !ok {
			index[path.Base(c.Href)] = i
		}
	}
	return flattenNavPoints(n.NavMap.NavPoints, index, 0)
}

func flattenNavPoints(points []navPoint, index map[string]int, level int) []TOCEntry {
	var entries []TOCEntry

	for _, np := range points {
		base := stripFragment(np.Content.Src)
		ch, ok := index[base]
		if !ok {
			ch, ok = index[path.Base(base)]
		}
		if ok {
			entries = append(entries, TOCEntry{
				Title:     strings.TrimSpace(np.Label.Text),
				Chapter:   ch,
				TextIndex: -1,
				Level:     level,
			})
		}
		if len(np.Children) > 0 {
			entries = append(entries, flattenNavPoints(np.Children, index, level+1)...)
		}
	}

	return entries
}

func findAndReadNCX(filename string, book *epub.Rootfile) ([]byte, error) {
	zr, err := zip.OpenReader(filename)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	var ncxPath string
	for _, item := range book.Manifest.Items {
		if item.MediaType == "application/x-dtbncx+xml" {
			ncxPath = item.HREF
			break
		}
	}
	if ncxPath == "" {
		for _, f := range zr.File {
			if strings.HasSuffix(strings.ToLower(f.Name), ".ncx") {
				ncxPath = f.Name
				break
			}
		}
	}

	if ncxPath == "" {
		return nil, fmt.Errorf("no NCX file found in EPUB")
	}

	for _, f := range zr.File {
		if f.Name == ncxPath || strings.HasSuffix(f.Name, "/"+ncxPath) || path.Base(f.Name) == path.Base(ncxPath) {
			rc, err := f.Open()
			if err != nil {
				return nil, err
			}
			defer rc.Close()
			return io.ReadAll(rc)
		}
	}

	return nil, fmt.Errorf("NCX file %s not found in archive", ncxPath)
}
