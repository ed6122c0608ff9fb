package ingest

import (
	"strings"
	"testing"
)

func TestParseTOCText(t *testing.T) {
	text := strings.Join([]string{
		"Contents",
		"Chapter 1 Foundations ........ 5",
		"  1.1 Sets .................. 7",
		"  1.2 Functions 12",
		"",
		"Chapter 2 Optimization …… 20",
		"Some stray line without a page",
	}, "\n")
	got := ParseTOCText(text)
	want := []TOCEntry{
		{Title: "Chapter 1 Foundations", Page: 5, Level: 0},
		{Title: "1.1 Sets", Page: 7, Level: 1},
		{Title: "1.2 Functions", Page: 12, Level: 1},
		{Title: "Chapter 2 Optimization", Page: 20, Level: 0},
	}
	if len(got) != len(want) {
		t.Fatalf("entries = %+v, want %d", got, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestAssignPageRanges(t *testing.T) {
	chapters := []Chapter{
		{Title: "A", StartPage: 3, Topics: []Topic{{Title: "a1", StartPage: 4}, {Title: "a2", StartPage: 6}}},
		{Title: "B", StartPage: 10},
		{Title: "C", StartPage: 10},
	}
	assignPageRanges(chapters, 30)

	if chapters[0].EndPage != 9 {
		t.Errorf("A end = %d, want 9", chapters[0].EndPage)
	}
	if chapters[0].Topics[0].EndPage != 5 || chapters[0].Topics[1].EndPage != 9 {
		t.Errorf("A topics = %+v", chapters[0].Topics)
	}
	// same start page: the range never ends before it starts
	if chapters[1].EndPage != 10 {
		t.Errorf("B end = %d, want 10", chapters[1].EndPage)
	}
	if chapters[2].EndPage != 30 {
		t.Errorf("C end = %d, want 30", chapters[2].EndPage)
	}
}

func TestDropIndex(t *testing.T) {
	chapters := dropIndex([]Chapter{
		{Title: "Intro", Topics: []Topic{{Title: "index"}, {Title: "Indexing data"}}},
		{Title: " INDEX "},
	})
	if len(chapters) != 1 {
		t.Fatalf("chapters = %d, want 1", len(chapters))
	}
	if len(chapters[0].Topics) != 1 || chapters[0].Topics[0].Title != "Indexing data" {
		t.Errorf("topics = %+v", chapters[0].Topics)
	}
}

func TestFormatTOC(t *testing.T) {
	got := FormatTOC([]TOCEntry{{Title: "One", Page: 1}, {Title: "Sub", Page: 2, Level: 1}})
	want := "One (page 1)\n  Sub (page 2)\n"
	if got != want {
		t.Errorf("FormatTOC = %q, want %q", got, want)
	}
}
