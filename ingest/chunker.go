package ingest

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Chunker splits chapter text into overlapping chunks. Implementations are
// deterministic: the same text always yields the same chunks.
type Chunker interface {
	Chunk(text string) []string
}

// Default sizes, in characters.
const (
	SentenceChunkSize    = 3000
	SentenceChunkOverlap = 1000
	WindowChunkSize      = 512
	WindowChunkOverlap   = 50
)

// ChunkerOption configures a chunker implementation.
type ChunkerOption func(*chunkerConfig)

type chunkerConfig struct {
	size    int
	overlap int
}

// WithChunkSize sets the maximum chunk length in characters.
func WithChunkSize(n int) ChunkerOption {
	return func(c *chunkerConfig) { c.size = n }
}

// WithChunkOverlap sets how many trailing characters of one chunk are
// repeated at the start of the next.
func WithChunkOverlap(n int) ChunkerOption {
	return func(c *chunkerConfig) { c.overlap = n }
}

func buildChunkerConfig(size, overlap int, opts []ChunkerOption) chunkerConfig {
	cfg := chunkerConfig{size: size, overlap: overlap}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.size <= 0 {
		cfg.size = size
	}
	if cfg.overlap < 0 || cfg.overlap >= cfg.size {
		cfg.overlap = 0
	}
	return cfg
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }

// --- SentenceChunker (strategy A) ---

// SentenceChunker packs whole sentences into chunks of at most size
// characters. Consecutive chunks share trailing sentences totalling at most
// overlap characters. Sentence detection skips common abbreviations and
// decimal numbers. A sentence longer than size is split on words.
type SentenceChunker struct {
	size    int
	overlap int
}

var _ Chunker = (*SentenceChunker)(nil)

// NewSentenceChunker creates the primary chunker (3000 / 1000 by default).
func NewSentenceChunker(opts ...ChunkerOption) *SentenceChunker {
	cfg := buildChunkerConfig(SentenceChunkSize, SentenceChunkOverlap, opts)
	return &SentenceChunker{size: cfg.size, overlap: cfg.overlap}
}

// Chunk splits text into sentence-aligned chunks.
func (sc *SentenceChunker) Chunk(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if runeLen(text) <= sc.size {
		return []string{text}
	}
	return packSentences(splitSentences(text, sc.size), sc.size, sc.overlap)
}

// splitSentences returns the sentences of text, paragraph by paragraph,
// with oversized sentences broken on word boundaries.
func splitSentences(text string, maxChars int) []string {
	var out []string
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		start := 0
		for _, b := range findSentenceBoundaries(para) {
			out = appendSentence(out, para[start:b], maxChars)
			start = b
		}
		out = appendSentence(out, para[start:], maxChars)
	}
	return out
}

func appendSentence(out []string, s string, maxChars int) []string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return out
	}
	if runeLen(s) <= maxChars {
		return append(out, s)
	}
	return append(out, splitOnWords(s, maxChars)...)
}

// packSentences greedily fills chunks with sentences. When a chunk is
// flushed, its trailing sentences that fit within overlap seed the next one.
func packSentences(sentences []string, size, overlap int) []string {
	var (
		chunks  []string
		current []string
		length  int
	)
	joinedLen := func(n int) int {
		if length == 0 {
			return n
		}
		return length + 1 + n
	}
	for _, s := range sentences {
		n := runeLen(s)
		if len(current) > 0 && joinedLen(n) > size {
			chunks = append(chunks, strings.Join(current, " "))
			current, length = carryOverlap(current, overlap, size-n-1)
		}
		length = joinedLen(n)
		current = append(current, s)
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}
	return chunks
}

// carryOverlap keeps the longest suffix of sentences whose joined length is
// within both overlap and room.
func carryOverlap(sentences []string, overlap, room int) ([]string, int) {
	limit := min(overlap, room)
	total := 0
	i := len(sentences)
	for i > 0 {
		n := runeLen(sentences[i-1])
		next := n
		if total > 0 {
			next = total + 1 + n
		}
		if next > limit {
			break
		}
		total = next
		i--
	}
	if i == len(sentences) {
		return nil, 0
	}
	return append([]string(nil), sentences[i:]...), total
}

// abbreviations that should NOT be treated as sentence boundaries.
var abbreviations = map[string]bool{
	"mr": true, "mrs": true, "ms": true, "dr": true,
	"prof": true, "sr": true, "jr": true,
	"vs": true, "etc": true, "inc": true, "ltd": true,
	"e.g": true, "i.e": true, "viz": true, "al": true,
	"approx": true, "dept": true, "est": true,
	"fig": true, "eq": true, "eqs": true, "sec": true,
	"ch": true, "no": true, "vol": true, "pp": true,
}

// isAbbreviation checks if the word ending at dotPos is a known abbreviation.
func isAbbreviation(text string, dotPos int) bool {
	start := dotPos
	for start > 0 {
		r, size := utf8.DecodeLastRuneInString(text[:start])
		if !unicode.IsLetter(r) && r != '.' {
			break
		}
		start -= size
	}
	return abbreviations[strings.ToLower(text[start:dotPos])]
}

// isDecimalDot reports whether the dot at dotPos sits between two digits.
func isDecimalDot(text string, dotPos int) bool {
	if dotPos == 0 || dotPos+1 >= len(text) {
		return false
	}
	prev, next := text[dotPos-1], text[dotPos+1]
	return prev >= '0' && prev <= '9' && next >= '0' && next <= '9'
}

// findSentenceBoundaries returns byte offsets where a new sentence starts.
func findSentenceBoundaries(text string) []int {
	var boundaries []int
	for i, r := range text {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if r == '.' && (isDecimalDot(text, i) || isAbbreviation(text, i)) {
			continue
		}
		j := i + 1
		for j < len(text) && (text[j] == '"' || text[j] == '\'' || text[j] == ')') {
			j++
		}
		if j >= len(text) {
			continue
		}
		next, size := utf8.DecodeRuneInString(text[j:])
		if next == '\n' {
			boundaries = append(boundaries, j+size)
			continue
		}
		if next != ' ' {
			continue
		}
		k := j + size
		for k < len(text) && text[k] == ' ' {
			k++
		}
		if k < len(text) {
			after, _ := utf8.DecodeRuneInString(text[k:])
			if unicode.IsUpper(after) || unicode.IsDigit(after) {
				boundaries = append(boundaries, k)
			}
		}
	}
	return boundaries
}

// splitOnWords packs words into segments of at most maxChars characters.
// Words longer than maxChars are cut into maxChars-rune pieces.
func splitOnWords(text string, maxChars int) []string {
	var segments []string
	var current strings.Builder
	curLen := 0

	for _, word := range strings.Fields(text) {
		n := runeLen(word)
		if n > maxChars {
			if curLen > 0 {
				segments = append(segments, current.String())
				current.Reset()
				curLen = 0
			}
			rs := []rune(word)
			for i := 0; i < len(rs); i += maxChars {
				segments = append(segments, string(rs[i:min(i+maxChars, len(rs))]))
			}
			continue
		}
		if curLen > 0 && curLen+1+n > maxChars {
			segments = append(segments, current.String())
			current.Reset()
			curLen = 0
		}
		if curLen > 0 {
			current.WriteByte(' ')
			curLen++
		}
		current.WriteString(word)
		curLen += n
	}
	if curLen > 0 {
		segments = append(segments, current.String())
	}
	return segments
}

// --- WindowChunker (strategy B) ---

// WindowChunker cuts text into fixed windows of size characters, each
// starting size-overlap characters after the previous one. Whitespace runs
// are collapsed first so layout noise does not shift the windows.
type WindowChunker struct {
	size    int
	overlap int
}

var _ Chunker = (*WindowChunker)(nil)

// NewWindowChunker creates the fallback chunker (512 / 50 by default).
func NewWindowChunker(opts ...ChunkerOption) *WindowChunker {
	cfg := buildChunkerConfig(WindowChunkSize, WindowChunkOverlap, opts)
	return &WindowChunker{size: cfg.size, overlap: cfg.overlap}
}

// Chunk splits text into fixed-size overlapping windows.
func (wc *WindowChunker) Chunk(text string) []string {
	rs := []rune(strings.Join(strings.Fields(text), " "))
	if len(rs) == 0 {
		return nil
	}
	step := wc.size - wc.overlap
	var chunks []string
	for start := 0; start < len(rs); start += step {
		end := min(start+wc.size, len(rs))
		if c := strings.TrimSpace(string(rs[start:end])); c != "" {
			chunks = append(chunks, c)
		}
		if end == len(rs) {
			break
		}
	}
	return chunks
}
