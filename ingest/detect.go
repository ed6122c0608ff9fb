package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/academick/academick"
)

// Strategy names recorded on jobs.
const (
	StrategyLLM     = "llm"
	StrategyPattern = "pattern"
)

// DetectionStrategy turns a table of contents into chapters. Strategies
// set StartPage only; the detector computes page ranges.
type DetectionStrategy interface {
	Name() string
	Detect(ctx context.Context, toc []TOCEntry) ([]Chapter, error)
}

// Detection is the outcome of chapter detection.
type Detection struct {
	Chapters []Chapter
	Strategy string
	// Degraded is set when an earlier strategy failed before Strategy
	// succeeded.
	Degraded *academick.ChapterDetectionDegradedError
}

// DetectorOption configures a ChapterDetector.
type DetectorOption func(*ChapterDetector)

// WithStrategyTimeout bounds each strategy call. Default 60s.
func WithStrategyTimeout(d time.Duration) DetectorOption {
	return func(cd *ChapterDetector) { cd.timeout = d }
}

// WithDetectorLogger sets the structured logger.
func WithDetectorLogger(l *slog.Logger) DetectorOption {
	return func(cd *ChapterDetector) { cd.logger = l }
}

// ChapterDetector runs its strategies in order; the first one returning a
// non-empty tree wins.
type ChapterDetector struct {
	strategies []DetectionStrategy
	timeout    time.Duration
	logger     *slog.Logger
}

// NewChapterDetector creates a detector trying strategies in order.
func NewChapterDetector(strategies []DetectionStrategy, opts ...DetectorOption) *ChapterDetector {
	cd := &ChapterDetector{
		strategies: strategies,
		timeout:    60 * time.Second,
		logger:     academick.NopLogger,
	}
	for _, o := range opts {
		o(cd)
	}
	return cd
}

// DefaultChapterDetector tries the LLM first (when provider is non-nil) and
// falls back to pattern matching.
func DefaultChapterDetector(provider academick.Provider, opts ...DetectorOption) *ChapterDetector {
	var strategies []DetectionStrategy
	if provider != nil {
		strategies = append(strategies, NewLLMStrategy(provider))
	}
	strategies = append(strategies, PatternStrategy{})
	return NewChapterDetector(strategies, opts...)
}

// Detect builds the chapter tree for toc. An empty toc returns
// academick.ErrNoTableOfContents.
func (cd *ChapterDetector) Detect(ctx context.Context, toc []TOCEntry, numPages int) (Detection, error) {
	if len(toc) == 0 {
		return Detection{}, academick.ErrNoTableOfContents
	}

	var errs []error
	for _, s := range cd.strategies {
		chapters, err := cd.run(ctx, s, toc)
		if err == nil && len(chapters) == 0 {
			err = errors.New("no chapters detected")
		}
		if err != nil {
			if ctx.Err() != nil {
				return Detection{}, ctx.Err()
			}
			cd.logger.Warn("chapter detection strategy failed", "strategy", s.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}

		assignPageRanges(chapters, numPages)
		det := Detection{Chapters: chapters, Strategy: s.Name()}
		if len(errs) > 0 {
			det.Degraded = &academick.ChapterDetectionDegradedError{Strategy: s.Name(), Err: errors.Join(errs...)}
		}
		cd.logger.Info("chapters detected", "strategy", s.Name(), "chapters", len(chapters))
		return det, nil
	}
	return Detection{}, fmt.Errorf("detect chapters: %w", errors.Join(errs...))
}

func (cd *ChapterDetector) run(ctx context.Context, s DetectionStrategy, toc []TOCEntry) ([]Chapter, error) {
	if cd.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cd.timeout)
		defer cancel()
	}
	chapters, err := s.Detect(ctx, toc)
	if err != nil {
		return nil, err
	}
	return dropIndex(chapters), nil
}

// --- LLM strategy ---

const chapterPrompt = `You are given the table of contents of a textbook, one entry per line, indented by nesting depth.

Identify the main chapters of the book. Ignore front matter (preface, acknowledgements, contents), back matter (bibliography, index) and part headings that only group chapters.

Return ONLY a JSON object of the form {"chapters": ["..."]} listing the chapter titles, copied exactly as they appear in the table of contents, in reading order.`

// LLMStrategy asks an LLM which TOC entries are chapters. Entries between
// one chapter and the next become its topics.
type LLMStrategy struct {
	provider academick.Provider
}

var _ DetectionStrategy = (*LLMStrategy)(nil)

// NewLLMStrategy creates the primary detection strategy.
func NewLLMStrategy(provider academick.Provider) *LLMStrategy {
	return &LLMStrategy{provider: provider}
}

func (s *LLMStrategy) Name() string { return StrategyLLM }

// Detect sends the TOC to the LLM and maps the returned titles back onto
// TOC entries.
func (s *LLMStrategy) Detect(ctx context.Context, toc []TOCEntry) ([]Chapter, error) {
	resp, err := s.provider.Chat(ctx, academick.ChatRequest{
		Messages: []academick.ChatMessage{
			academick.SystemMessage(chapterPrompt),
			academick.UserMessage(FormatTOC(toc)),
		},
		JSON: true,
	})
	if err != nil {
		return nil, fmt.Errorf("llm chapter detection: %w", err)
	}
	titles, err := ParseChapterTitles(resp.Content)
	if err != nil {
		return nil, &academick.ErrLLM{Provider: s.provider.Name(), Message: err.Error()}
	}
	chapters := matchChapters(toc, titles)
	if len(chapters) == 0 {
		return nil, errors.New("llm chapter titles match no table of contents entry")
	}
	return chapters, nil
}

// ParseChapterTitles reads a JSON array of titles, or an object with a
// "chapters" array, from an LLM reply.
func ParseChapterTitles(reply string) ([]string, error) {
	raw := academick.ExtractJSON(reply)
	var titles []string
	if err := json.Unmarshal([]byte(raw), &titles); err != nil {
		var wrapped struct {
			Chapters []string `json:"chapters"`
		}
		if err2 := json.Unmarshal([]byte(raw), &wrapped); err2 != nil {
			return nil, fmt.Errorf("parse chapter titles: %w", err)
		}
		titles = wrapped.Chapters
	}
	if len(titles) == 0 {
		return nil, errors.New("no chapter titles in reply")
	}
	return titles, nil
}

// matchChapters marks TOC entries whose normalized title is one of titles
// as chapters. Entries before the first chapter are front matter and
// dropped; the rest attach as topics to the preceding chapter.
func matchChapters(toc []TOCEntry, titles []string) []Chapter {
	want := make(map[string]bool, len(titles))
	for _, t := range titles {
		if n := academick.NormalizeTitle(t); n != "" {
			want[n] = true
		}
	}
	var chapters []Chapter
	for _, e := range toc {
		n := academick.NormalizeTitle(e.Title)
		if want[n] {
			delete(want, n)
			chapters = append(chapters, Chapter{Title: strings.TrimSpace(e.Title), StartPage: e.Page})
			continue
		}
		if len(chapters) > 0 {
			last := &chapters[len(chapters)-1]
			last.Topics = append(last.Topics, Topic{Title: strings.TrimSpace(e.Title), StartPage: e.Page})
		}
	}
	return chapters
}

// --- Pattern strategy ---

var (
	chapterHeading = regexp.MustCompile(`(?i)^(chapter|chap\.|unit|lecture|module|lesson)\s+([0-9]+|[ivxlcdm]+)\b`)
	partHeading    = regexp.MustCompile(`(?i)^part\s+([0-9]+|[ivxlcdm]+|one|two|three|four|five|six)\b`)
	topNumber      = regexp.MustCompile(`^([0-9]+)\.?\s+\S`)
	subNumber      = regexp.MustCompile(`^[0-9]+\.[0-9]+`)
)

// PatternStrategy detects chapters from numbering and nesting without any
// collaborator. For a non-empty TOC it always returns at least one chapter.
type PatternStrategy struct{}

var _ DetectionStrategy = PatternStrategy{}

func (PatternStrategy) Name() string { return StrategyPattern }

// Detect applies, in order: explicit chapter headings ("Chapter 3"),
// numbered entries ("3 Title" vs "3.1 Title"), nesting levels, and finally
// one chapter per entry.
func (PatternStrategy) Detect(_ context.Context, toc []TOCEntry) ([]Chapter, error) {
	if len(toc) == 0 {
		return nil, academick.ErrNoTableOfContents
	}
	if chapters := groupBy(toc, func(e TOCEntry) bool {
		return chapterHeading.MatchString(strings.TrimSpace(e.Title))
	}); len(chapters) > 0 {
		return chapters, nil
	}
	if chapters := groupBy(toc, func(e TOCEntry) bool {
		t := strings.TrimSpace(e.Title)
		return topNumber.MatchString(t) && !subNumber.MatchString(t)
	}); len(chapters) > 0 {
		return chapters, nil
	}
	if chapters := groupByLevel(toc); len(chapters) > 0 {
		return chapters, nil
	}
	chapters := make([]Chapter, 0, len(toc))
	for _, e := range toc {
		chapters = append(chapters, Chapter{Title: strings.TrimSpace(e.Title), StartPage: e.Page})
	}
	return chapters, nil
}

// groupBy starts a chapter at every entry matching isChapter and attaches
// following entries as topics. Part headings are skipped.
func groupBy(toc []TOCEntry, isChapter func(TOCEntry) bool) []Chapter {
	var chapters []Chapter
	for _, e := range toc {
		title := strings.TrimSpace(e.Title)
		switch {
		case isChapter(e):
			chapters = append(chapters, Chapter{Title: title, StartPage: e.Page})
		case partHeading.MatchString(title):
		case len(chapters) > 0:
			last := &chapters[len(chapters)-1]
			last.Topics = append(last.Topics, Topic{Title: title, StartPage: e.Page})
		}
	}
	return chapters
}

// groupByLevel treats the shallowest level that has children as chapters.
// When the top level only holds part headings, the level below is used.
func groupByLevel(toc []TOCEntry) []Chapter {
	minLevel, maxLevel := toc[0].Level, toc[0].Level
	for _, e := range toc {
		minLevel = min(minLevel, e.Level)
		maxLevel = max(maxLevel, e.Level)
	}
	if minLevel == maxLevel {
		return nil
	}
	chapterLevel := minLevel
	allParts := true
	for _, e := range toc {
		if e.Level == minLevel && !partHeading.MatchString(strings.TrimSpace(e.Title)) {
			allParts = false
			break
		}
	}
	if allParts && minLevel+1 < maxLevel {
		chapterLevel = minLevel + 1
	}

	var chapters []Chapter
	for _, e := range toc {
		title := strings.TrimSpace(e.Title)
		switch {
		case e.Level == chapterLevel:
			chapters = append(chapters, Chapter{Title: title, StartPage: e.Page})
		case e.Level == chapterLevel+1 && len(chapters) > 0:
			last := &chapters[len(chapters)-1]
			last.Topics = append(last.Topics, Topic{Title: title, StartPage: e.Page})
		}
	}
	return chapters
}
