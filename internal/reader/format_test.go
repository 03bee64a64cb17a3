package reader

import (
	"archive/zip"
	"hash/crc32"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestOpenText(t *testing.T) {
	tmpDir := t.TempDir()

	t.Run("plain text", func(t *testing.T) {
		path := filepath.Join(tmpDir, "story.txt")
		os.WriteFile(path, []byte("Hello world.\nStill here.\n\nSecond paragraph."), 0644)

		book, err := Open(path)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		if book.Title != "story" || book.Format != "Text" {
			t.Errorf("Unexpected book %q (%s)", book.Title, book.Format)
		}
		units := book.Chapters[0].Doc.Units()
		if len(units) != 2 || units[0].Text != "Hello world. Still here." {
			t.Errorf("Unexpected units %+v", units)
		}
		if book.Words() != 6 {
			t.Errorf("Expected 6 words, got %d", book.Words())
		}
	})

	t.Run("unknown extension", func(t *testing.T) {
		path := filepath.Join(tmpDir, "notes.log")
		os.WriteFile(path, []byte("a <b> & c"), 0644)

		book, err := Open(path)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		if got := book.Chapters[0].Doc.Text(); got != "a <b> & c" {
			t.Errorf("got %q, want text kept verbatim", got)
		}
	})

	t.Run("empty file", func(t *testing.T) {
		path := filepath.Join(tmpDir, "empty.txt")
		os.WriteFile(path, []byte("\n\n"), 0644)
		if _, err := Open(path); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("nonexistent file", func(t *testing.T) {
		if _, err := Open(filepath.Join(tmpDir, "nonexistent.txt")); err == nil {
			t.Error("expected error")
		}
	})
}

func TestEPUBFormat(t *testing.T) {
	f := &EPUBFormat{}
	if f.Name() != "EPUB" {
		t.Errorf("Name() = %q, want EPUB", f.Name())
	}
	if exts := f.Extensions(); len(exts) != 1 || exts[0] != ".epub" {
		t.Errorf("Extensions() = %v, want [.epub]", exts)
	}
}

func TestSupportedFormats(t *testing.T) {
	formats := SupportedFormats()
	if len(formats) == 0 {
		t.Error("no formats registered")
	}
	for _, f := range formats {
		if f == "EPUB (.epub)" {
			return
		}
	}
	t.Errorf("EPUB not registered: %v", formats)
}

const (
	testContainer = `<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`

	testOPF = `<?xml version="1.0"?>
<package xmlns="http://www.idpf.org/2007/opf" version="2.0">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:title>Test Book</dc:title>
  </metadata>
  <manifest>
    <item id="ncx" href="toc.ncx" media-type="application/x-dtbncx+xml"/>
    <item id="cover" href="cover.xhtml" media-type="application/xhtml+xml"/>
    <item id="c1" href="text/ch1.xhtml" media-type="application/xhtml+xml"/>
    <item id="c2" href="text/ch2.xhtml" media-type="application/xhtml+xml"/>
  </manifest>
  <spine toc="ncx">
    <itemref idref="cover"/>
    <itemref idref="c1"/>
    <itemref idref="c2"/>
  </spine>
</package>`

	testNCX = `<?xml version="1.0"?>
<ncx xmlns="http://www.daisy.org/z3986/2005/ncx/" version="2005-1">
  <navMap>
    <navPoint id="p1" playOrder="1">
      <navLabel><text>The Beginning</text></navLabel>
      <content src="text/ch1.xhtml"/>
      <navPoint id="p2" playOrder="2">
        <navLabel><text>A Detail</text></navLabel>
        <content src="text/ch1.xhtml#detail"/>
      </navPoint>
    </navPoint>
    <navPoint id="p3" playOrder="3">
      <navLabel><text>Missing</text></navLabel>
      <content src="text/gone.xhtml"/>
    </navPoint>
  </navMap>
</ncx>`
)

func writeEPUB(t *testing.T, files map[string]string) string {
	t.Helper()
	return writeBrokenEPUB(t, files, nil)
}

// writeBrokenEPUB stores the broken entries with a wrong checksum, so they
// fail when read.
func writeBrokenEPUB(t *testing.T, files, broken map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "book.epub")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	w, _ := zw.CreateHeader(&zip.FileHeader{Name: "mimetype", Method: zip.Store})
	w.Write([]byte("application/epub+zip"))
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip: %v", err)
		}
		w.Write([]byte(content))
	}
	for name, content := range broken {
		w, err := zw.CreateRaw(&zip.FileHeader{
			Name:               name,
			Method:             zip.Store,
			CRC32:              crc32.ChecksumIEEE([]byte(content)) + 1,
			CompressedSize64:   uint64(len(content)),
			UncompressedSize64: uint64(len(content)),
		})
		if err != nil {
			t.Fatalf("zip: %v", err)
		}
		w.Write([]byte(content))
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return path
}

func TestOpenEPUB(t *testing.T) {
	path := writeEPUB(t, map[string]string{
		"META-INF/container.xml": testContainer,
		"OEBPS/content.opf":      testOPF,
		"OEBPS/toc.ncx":          testNCX,
		"OEBPS/cover.xhtml":      `<html><body><div class="cover"><img src="cover.jpg"/></div></body></html>`,
		"OEBPS/text/ch1.xhtml":   `<html><body><h1>Beginning</h1><p>First words.</p><p id="detail">More.</p></body></html>`,
		"OEBPS/text/ch2.xhtml":   `<html><head><title>Second</title></head><body><p>End.</p></body></html>`,
	})

	book, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if book.Skipped != nil {
		t.Errorf("Expected nothing skipped, got %v", book.Skipped)
	}
	if book.Title != "Test Book" {
		t.Errorf("Expected title %q, got %q", "Test Book", book.Title)
	}
	if len(book.Chapters) != 3 {
		t.Fatalf("Expected 3 chapters, got %d", len(book.Chapters))
	}

	titles := []string{"Section 1", "The Beginning", "Second"}
	for i, want := range titles {
		if book.ChapterTitle(i) != want {
			t.Errorf("Chapter %d: expected title %q, got %q", i, want, book.ChapterTitle(i))
		}
	}
	if n := book.Chapters[0].Doc.Nodes[0]; n.Tag.String() != "image" || !n.Cover {
		t.Errorf("Expected cover image in first chapter, got %v", n.Tag)
	}
	if got := book.Chapters[1].Doc.Text(); got != "BeginningFirst words.More." {
		t.Errorf("Unexpected chapter text %q", got)
	}

	if len(book.TOC) != 2 {
		t.Fatalf("Expected 2 TOC entries, got %d: %+v", len(book.TOC), book.TOC)
	}
	if book.TOC[0].Chapter != 1 || book.TOC[0].Level != 0 || book.TOC[1].Chapter != 1 || book.TOC[1].Level != 1 {
		t.Errorf("Unexpected TOC %+v", book.TOC)
	}
}

func TestOpenEPUBWithoutNCX(t *testing.T) {
	path := writeEPUB(t, map[string]string{
		"META-INF/container.xml": testContainer,
		"OEBPS/content.opf":      testOPF,
		"OEBPS/cover.xhtml":      `<html><body><p>Cover text</p></body></html>`,
		"OEBPS/text/ch1.xhtml":   `<html><body><h1>Beginning</h1><h2>Part</h2><p>Words.</p></body></html>`,
		"OEBPS/text/ch2.xhtml":   `<html><body><p>End.</p></body></html>`,
	})

	book, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(book.TOC) != 4 {
		t.Fatalf("Expected heading based TOC with 4 entries, got %+v", book.TOC)
	}
	if book.TOC[1].Title != "Beginning" || book.TOC[2].Title != "Part" || book.TOC[2].Level != 1 {
		t.Errorf("Unexpected TOC %+v", book.TOC)
	}
	if book.TOC[1].TextIndex != 0 || book.TOC[2].TextIndex != 1 {
		t.Errorf("Expected heading text indices, got %+v", book.TOC)
	}
}

func TestOpenEPUBInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.epub")
	os.WriteFile(path, []byte("not a zip"), 0644)
	if _, err := Open(path); err == nil {
		t.Error("expected error")
	}
}

func TestOpenEPUBSkippedItem(t *testing.T) {
	path := writeBrokenEPUB(t, map[string]string{
		"META-INF/container.xml": testContainer,
		"OEBPS/content.opf":      testOPF,
		"OEBPS/toc.ncx":          testNCX,
		"OEBPS/cover.xhtml":      `<html><body><div class="cover"><img src="cover.jpg"/></div></body></html>`,
		"OEBPS/text/ch1.xhtml":   `<html><body><h1>Beginning</h1><p>First words.</p></body></html>`,
	}, map[string]string{
		"OEBPS/text/ch2.xhtml": `<html><body><p>End.</p></body></html>`,
	})

	book, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(book.Chapters) != 2 {
		t.Errorf("Expected 2 readable chapters, got %d", len(book.Chapters))
	}
	if book.Skipped == nil {
		t.Fatal("Expected skipped item to be reported")
	}
	if !strings.Contains(book.Skipped.Error(), "ch2.xhtml") {
		t.Errorf("Expected skipped item to be named, got %v", book.Skipped)
	}
}
