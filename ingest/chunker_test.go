package ingest

import (
	"fmt"
	"slices"
	"strings"
	"testing"
	"unicode/utf8"
)

func prose(sentences int) string {
	var b strings.Builder
	for i := range sentences {
		fmt.Fprintf(&b, "Sentence number %d explains a small idea about gradient descent. ", i)
	}
	return strings.TrimSpace(b.String())
}

func TestSentenceChunkerEmpty(t *testing.T) {
	if got := NewSentenceChunker().Chunk("   "); len(got) != 0 {
		t.Errorf("chunks = %d, want 0", len(got))
	}
}

func TestSentenceChunkerShortText(t *testing.T) {
	got := NewSentenceChunker().Chunk("One sentence. Two sentences.")
	if len(got) != 1 || got[0] != "One sentence. Two sentences." {
		t.Errorf("chunks = %q", got)
	}
}

func TestSentenceChunkerRespectsSize(t *testing.T) {
	text := prose(400)
	chunks := NewSentenceChunker().Chunk(text)
	if len(chunks) < 2 {
		t.Fatalf("chunks = %d, want several", len(chunks))
	}
	for i, c := range chunks {
		if n := utf8.RuneCountInString(c); n > SentenceChunkSize {
			t.Errorf("chunk %d length %d > %d", i, n, SentenceChunkSize)
		}
		if !strings.HasPrefix(c, "Sentence number") {
			t.Errorf("chunk %d does not start on a sentence: %q", i, c[:30])
		}
		if !strings.HasSuffix(c, ".") {
			t.Errorf("chunk %d does not end on a sentence", i)
		}
	}
}

func TestSentenceChunkerOverlap(t *testing.T) {
	chunks := NewSentenceChunker(WithChunkSize(300), WithChunkOverlap(100)).Chunk(prose(30))
	if len(chunks) < 3 {
		t.Fatalf("chunks = %d, want >= 3", len(chunks))
	}
	for i := 1; i < len(chunks); i++ {
		prev := splitSentences(chunks[i-1], 300)
		next := splitSentences(chunks[i], 300)
		last := prev[len(prev)-1]
		if next[0] != last && !slices.Contains(prev, next[0]) {
			t.Errorf("chunk %d does not start with a sentence carried from chunk %d", i, i-1)
		}
	}
}

func TestSentenceChunkerDeterministic(t *testing.T) {
	text := prose(200)
	a := NewSentenceChunker().Chunk(text)
	b := NewSentenceChunker().Chunk(text)
	if !slices.Equal(a, b) {
		t.Error("same input produced different chunks")
	}
}

func TestSentenceChunkerLongSentence(t *testing.T) {
	long := strings.Repeat("word ", 200)
	chunks := NewSentenceChunker(WithChunkSize(100), WithChunkOverlap(20)).Chunk(long)
	for i, c := range chunks {
		if n := utf8.RuneCountInString(c); n > 100 {
			t.Errorf("chunk %d length %d > 100", i, n)
		}
	}
}

func TestFindSentenceBoundaries(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{"two sentences", "First one. Second one.", 1},
		{"abbreviation", "See Fig. 3 for details. Next.", 1},
		{"decimal", "The value is 3.14 exactly. Next.", 1},
		{"question", "Why? Because.", 1},
		{"lowercase after dot", "e.g. something else", 0},
		{"no terminator", "just words", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := findSentenceBoundaries(tt.text); len(got) != tt.want {
				t.Errorf("boundaries = %v, want %d", got, tt.want)
			}
		})
	}
}

func TestWindowChunkerSizes(t *testing.T) {
	text := strings.Repeat("abcdefghij", 200) // 2000 chars
	chunks := NewWindowChunker().Chunk(text)
	// starts at 0, 462, 924, 1386, 1848
	if len(chunks) != 5 {
		t.Fatalf("chunks = %d, want 5", len(chunks))
	}
	for i, c := range chunks[:4] {
		if n := utf8.RuneCountInString(c); n != WindowChunkSize {
			t.Errorf("chunk %d length %d, want %d", i, n, WindowChunkSize)
		}
	}
	if n := utf8.RuneCountInString(chunks[4]); n != 2000-1848 {
		t.Errorf("last chunk length %d, want %d", n, 2000-1848)
	}
}

func TestWindowChunkerOverlap(t *testing.T) {
	text := strings.Repeat("0123456789", 120)
	chunks := NewWindowChunker().Chunk(text)
	for i := 1; i < len(chunks); i++ {
		prev := []rune(chunks[i-1])
		tail := string(prev[len(prev)-WindowChunkOverlap:])
		if !strings.HasPrefix(chunks[i], tail) {
			t.Errorf("chunk %d does not repeat the last %d chars of chunk %d", i, WindowChunkOverlap, i-1)
		}
	}
}

func TestWindowChunkerCollapsesWhitespace(t *testing.T) {
	a := NewWindowChunker().Chunk("alpha   beta\n\n\tgamma")
	b := NewWindowChunker().Chunk("alpha beta gamma")
	if !slices.Equal(a, b) {
		t.Errorf("got %q vs %q", a, b)
	}
}

func TestWindowChunkerEmpty(t *testing.T) {
	if got := NewWindowChunker().Chunk("\n \t"); got != nil {
		t.Errorf("chunks = %q, want nil", got)
	}
}

func TestChunkerOptionsClampOverlap(t *testing.T) {
	wc := NewWindowChunker(WithChunkSize(10), WithChunkOverlap(10))
	if wc.overlap != 0 {
		t.Errorf("overlap = %d, want 0 when >= size", wc.overlap)
	}
}
