package ingest

import (
	"strings"
	"unicode/utf8"
)

// Chunk quality thresholds.
const (
	MinChunkLength = 300
	MaxPeriodRatio = 0.02
)

// ChunkFilter decides whether chunk text is worth storing. Index pages and
// tables of contents are dense with leader dots, so a high period ratio
// marks them for rejection.
type ChunkFilter struct {
	MinLength      int
	MaxPeriodRatio float64
}

// DefaultChunkFilter returns the filter with the standard thresholds.
func DefaultChunkFilter() ChunkFilter {
	return ChunkFilter{MinLength: MinChunkLength, MaxPeriodRatio: MaxPeriodRatio}
}

// Accept reports whether text passes both checks.
func (f ChunkFilter) Accept(text string) bool {
	return f.LongEnough(text) && !f.PeriodDense(text)
}

// LongEnough reports whether text has at least MinLength characters.
func (f ChunkFilter) LongEnough(text string) bool {
	return utf8.RuneCountInString(text) >= f.MinLength
}

// PeriodDense reports whether periods make up more than MaxPeriodRatio of
// the characters.
func (f ChunkFilter) PeriodDense(text string) bool {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return false
	}
	return float64(strings.Count(text, "."))/float64(n) > f.MaxPeriodRatio
}

// Apply returns the accepted chunks in order and the number rejected.
func (f ChunkFilter) Apply(chunks []string) (kept []string, rejected int) {
	for _, c := range chunks {
		if f.Accept(c) {
			kept = append(kept, c)
		} else {
			rejected++
		}
	}
	return kept, rejected
}
