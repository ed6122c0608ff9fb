package ingest

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// TOCEntry is one line of a table of contents.
type TOCEntry struct {
	Title string `json:"title"`
	Page  int    `json:"page"`
	// Level is the nesting depth, 0 for top-level entries.
	Level int `json:"level"`
}

// Topic is a titled page range inside a chapter.
type Topic struct {
	Title     string
	StartPage int
	EndPage   int
}

// Chapter is a titled page range with its topics in reading order.
type Chapter struct {
	Title     string
	StartPage int
	EndPage   int
	Topics    []Topic
}

// Document is the source of a book: its table of contents and page text.
// Pages are numbered from 1.
type Document interface {
	TOC(ctx context.Context) ([]TOCEntry, error)
	NumPages() int
	PageText(page int) (string, error)
}

// FormatTOC renders entries as indented lines for an LLM prompt.
func FormatTOC(entries []TOCEntry) string {
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(strings.Repeat("  ", max(e.Level, 0)))
		fmt.Fprintf(&b, "%s (page %d)\n", strings.TrimSpace(e.Title), e.Page)
	}
	return b.String()
}

// tocLine matches "Title ....... 12" and "Title 12" lines of a printed
// contents page.
var tocLine = regexp.MustCompile(`^(\s*)(.+?)(?:\s*[.·…]{2,}\s*|\s+)(\d{1,4})\s*$`)

// ParseTOCText extracts entries from the text of a printed contents page.
// Leading indentation (two spaces or one tab per level) sets Level. Lines
// that do not end in a page number are ignored.
func ParseTOCText(text string) []TOCEntry {
	var entries []TOCEntry
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		m := tocLine.FindStringSubmatch(strings.ReplaceAll(line, "\t", "  "))
		if m == nil {
			continue
		}
		title := strings.TrimSpace(strings.TrimRight(m[2], ". "))
		if title == "" {
			continue
		}
		page, err := strconv.Atoi(m[3])
		if err != nil {
			continue
		}
		entries = append(entries, TOCEntry{Title: title, Page: page, Level: len(m[1]) / 2})
	}
	return entries
}

// assignPageRanges fills EndPage for chapters and topics: each range runs
// to the page before the next sibling starts, the last one to the parent's
// end. Ranges never end before they start.
func assignPageRanges(chapters []Chapter, numPages int) {
	for i := range chapters {
		ch := &chapters[i]
		end := numPages
		if i+1 < len(chapters) {
			end = chapters[i+1].StartPage - 1
		}
		ch.EndPage = max(end, ch.StartPage)
		for j := range ch.Topics {
			t := &ch.Topics[j]
			tEnd := ch.EndPage
			if j+1 < len(ch.Topics) {
				tEnd = ch.Topics[j+1].StartPage - 1
			}
			t.EndPage = min(max(tEnd, t.StartPage), ch.EndPage)
		}
	}
}

// dropIndex removes chapters and topics titled "Index".
func dropIndex(chapters []Chapter) []Chapter {
	out := chapters[:0]
	for _, ch := range chapters {
		if isIndexTitle(ch.Title) {
			continue
		}
		topics := ch.Topics[:0]
		for _, t := range ch.Topics {
			if !isIndexTitle(t.Title) {
				topics = append(topics, t)
			}
		}
		ch.Topics = topics
		out = append(out, ch)
	}
	return out
}

func isIndexTitle(title string) bool {
	return strings.EqualFold(strings.TrimSpace(title), "index")
}
