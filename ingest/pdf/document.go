// Package pdf opens uploaded textbooks for the ingest pipeline.
//
// Page text comes from ledongthuc/pdf. The table of contents comes from
// the document outline read with pdfcpu; books without an outline fall
// back to parsing the printed contents pages.
package pdf

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/academick/academick"
	"github.com/academick/academick/ingest"
)

// contentsScanPages is how many leading pages are searched for a printed
// table of contents.
const contentsScanPages = 30

// Document implements ingest.Document over an in-memory PDF.
type Document struct {
	data   []byte
	reader *pdf.Reader
	logger *slog.Logger
}

var _ ingest.Document = (*Document)(nil)

// Option configures a Document.
type Option func(*Document)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Document) { d.logger = l }
}

// Open parses data as a PDF.
func Open(data []byte, opts ...Option) (*Document, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty PDF content")
	}
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	d := &Document{data: data, reader: r, logger: academick.NopLogger}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// OpenFile reads and parses the PDF at path.
func OpenFile(path string, opts ...Option) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pdf: %w", err)
	}
	return Open(data, opts...)
}

// NumPages returns the page count.
func (d *Document) NumPages() int { return d.reader.NumPage() }

// PageText returns the plain text of page n (1-based).
func (d *Document) PageText(n int) (string, error) {
	if n < 1 || n > d.NumPages() {
		return "", fmt.Errorf("page %d out of range 1-%d", n, d.NumPages())
	}
	page := d.reader.Page(n)
	if page.V.IsNull() {
		return "", nil
	}
	text, err := page.GetPlainText(nil)
	if err != nil {
		return "", fmt.Errorf("page %d: %w", n, err)
	}
	return strings.TrimSpace(text), nil
}

// TOC returns the outline entries, or the parsed printed contents when the
// PDF has no outline. An empty result means the book has no table of
// contents.
func (d *Document) TOC(ctx context.Context) ([]ingest.TOCEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bms, err := api.Bookmarks(bytes.NewReader(d.data), model.NewDefaultConfiguration())
	if err != nil {
		d.logger.Debug("pdf outline unavailable", "error", err)
	}
	if entries := flattenBookmarks(bms, 0, nil); len(entries) > 0 {
		return entries, nil
	}
	entries := printedContents(d, min(contentsScanPages, d.NumPages()))
	d.logger.Debug("printed contents parsed", "entries", len(entries))
	return entries, nil
}

// flattenBookmarks walks the outline depth first.
func flattenBookmarks(bms []pdfcpu.Bookmark, level int, out []ingest.TOCEntry) []ingest.TOCEntry {
	for _, bm := range bms {
		title := strings.TrimSpace(bm.Title)
		if title != "" && bm.PageFrom > 0 {
			out = append(out, ingest.TOCEntry{Title: title, Page: bm.PageFrom, Level: level})
		}
		out = flattenBookmarks(bm.Kids, level+1, out)
	}
	return out
}

// pageSource is the subset of Document used to read printed contents.
type pageSource interface {
	NumPages() int
	PageText(n int) (string, error)
}

// printedContents finds the pages headed "Contents" among the first scan
// pages, parses their entries and shifts printed page numbers onto PDF
// page indices.
func printedContents(src pageSource, scan int) []ingest.TOCEntry {
	var (
		entries []ingest.TOCEntry
		last    int
	)
	for n := 1; n <= scan; n++ {
		text, err := src.PageText(n)
		if err != nil || text == "" {
			continue
		}
		if len(entries) == 0 && !hasContentsHeading(text) {
			continue
		}
		parsed := ingest.ParseTOCText(text)
		if len(parsed) == 0 {
			break
		}
		entries = append(entries, parsed...)
		last = n
	}
	if len(entries) == 0 {
		return nil
	}
	offset := pageOffset(src, entries[0].Title, entries[0].Page, last)
	for i := range entries {
		entries[i].Page = min(max(entries[i].Page+offset, 1), src.NumPages())
	}
	return entries
}

func hasContentsHeading(text string) bool {
	for _, line := range strings.SplitN(text, "\n", 6) {
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "contents", "table of contents", "brief contents":
			return true
		}
	}
	return false
}

// pageOffset locates the first entry's title on a page after the contents
// and returns the difference to its printed page number. Zero when the
// title cannot be found.
func pageOffset(src pageSource, title string, printed, after int) int {
	want := academick.NormalizeTitle(title)
	if want == "" {
		return 0
	}
	for n := after + 1; n <= src.NumPages(); n++ {
		text, err := src.PageText(n)
		if err != nil {
			continue
		}
		head := text
		if r := []rune(text); len(r) > 300 {
			head = string(r[:300])
		}
		if strings.Contains(academick.NormalizeTitle(head), want) {
			return n - printed
		}
	}
	return 0
}
