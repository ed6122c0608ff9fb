package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/academick/academick"
)

// IntroductionTopic is the topic given to text between a chapter's start
// and its first topic.
const IntroductionTopic = "Chapter Introduction"

// ProgressUpdate is the full progress state of an ingestion run.
type ProgressUpdate struct {
	Stage             string
	Strategy          string
	ChaptersTotal     int
	ChaptersProcessed int
	Warnings          []string
}

// Progress receives updates from the ingestor and exposes the job's
// cancellation flag. The jobs package backs it with the durable job store.
type Progress interface {
	Update(ctx context.Context, u ProgressUpdate) error
	CancelRequested(ctx context.Context) (bool, error)
}

// Result summarizes one ingestion run.
type Result struct {
	Strategy          string
	ChaptersTotal     int
	ChaptersProcessed int
	ChaptersSucceeded int
	ChaptersSkipped   int
	ChunksStored      int
	ChunksRejected    int
	Warnings          []string
}

// Ingestor turns a Document into published chunks: detect chapters, then
// per chapter chunk, filter, embed and publish atomically.
type Ingestor struct {
	store        academick.ChunkStore
	embedder     academick.Embedder
	detector     *ChapterDetector
	chunkers     map[string]Chunker
	fallback     Chunker
	filter       ChunkFilter
	batchSize    int
	embedTimeout time.Duration
	logger       *slog.Logger
	tracer       academick.Tracer
}

// NewIngestor creates an Ingestor with pattern-only chapter detection,
// sentence chunking for LLM-detected books and window chunking otherwise.
func NewIngestor(store academick.ChunkStore, embedder academick.Embedder, opts ...Option) *Ingestor {
	ing := &Ingestor{
		store:    store,
		embedder: embedder,
		detector: DefaultChapterDetector(nil),
		chunkers: map[string]Chunker{
			StrategyLLM:     NewSentenceChunker(),
			StrategyPattern: NewWindowChunker(),
		},
		fallback:     NewWindowChunker(),
		filter:       DefaultChunkFilter(),
		batchSize:    32,
		embedTimeout: 60 * time.Second,
		logger:       academick.NopLogger,
	}
	for _, o := range opts {
		o(ing)
	}
	return ing
}

// Ingest processes doc as book, reporting to p. Per-chapter embedding or
// storage failures become warnings; the run fails only when detection
// fails or no chapter publishes a chunk. A cancellation request observed
// between chapters returns academick.ErrCancellationRequested together
// with the partial result.
func (ing *Ingestor) Ingest(ctx context.Context, doc Document, book string, p Progress) (Result, error) {
	if ing.tracer != nil {
		var span academick.Span
		ctx, span = ing.tracer.Start(ctx, "ingest", academick.StringAttr("ingest.book", book))
		defer span.End()
	}
	start := time.Now()
	var res Result
	state := ProgressUpdate{Stage: academick.StageExtractingTOC}
	if err := p.Update(ctx, state); err != nil {
		return res, err
	}

	toc, err := doc.TOC(ctx)
	if err != nil {
		return res, fmt.Errorf("extract toc: %w", err)
	}
	det, err := ing.detector.Detect(ctx, toc, doc.NumPages())
	if err != nil {
		return res, err
	}
	if det.Degraded != nil {
		state.Warnings = append(state.Warnings, det.Degraded.Error())
	}
	chunker, ok := ing.chunkers[det.Strategy]
	if !ok {
		chunker = ing.fallback
	}

	res.Strategy = det.Strategy
	res.ChaptersTotal = len(det.Chapters)
	state.Strategy = det.Strategy
	state.ChaptersTotal = len(det.Chapters)

	pages := newPageCache(doc)
	for _, ch := range det.Chapters {
		cancelled, err := p.CancelRequested(ctx)
		if err != nil {
			ing.logger.Warn("read cancellation flag", "error", err)
		}
		if cancelled {
			res.Warnings = state.Warnings
			return res, academick.ErrCancellationRequested
		}

		state.Stage = academick.StageChunking
		if err := p.Update(ctx, state); err != nil {
			return res, err
		}
		records, rejected := ing.chunkChapter(pages, book, ch, chunker)
		res.ChunksRejected += rejected

		if len(records) > 0 {
			if err := ing.processChapter(ctx, p, &state, records); err != nil {
				var skipped *academick.ChapterSkippedError
				if !errors.As(err, &skipped) {
					return res, err
				}
				skipped.Chapter = ch.Title
				ing.logger.Warn("chapter skipped", "book", book, "chapter", ch.Title, "stage", skipped.Stage, "error", skipped.Err)
				state.Warnings = append(state.Warnings, skipped.Error())
				res.ChaptersSkipped++
			} else {
				res.ChaptersSucceeded++
				res.ChunksStored += len(records)
			}
		} else {
			ing.logger.Warn("chapter skipped", "book", book, "chapter", ch.Title, "rejected", rejected)
			state.Warnings = append(state.Warnings, fmt.Sprintf("chapter %q skipped: no usable text", ch.Title))
			res.ChaptersSkipped++
		}

		state.ChaptersProcessed++
		res.ChaptersProcessed = state.ChaptersProcessed
		if err := p.Update(ctx, state); err != nil {
			return res, err
		}
	}

	res.Warnings = state.Warnings
	ing.logger.Info("ingest finished",
		"book", book, "strategy", det.Strategy,
		"chapters", res.ChaptersTotal, "skipped", res.ChaptersSkipped,
		"chunks", res.ChunksStored, "rejected", res.ChunksRejected,
		"duration", time.Since(start))
	if res.ChaptersSucceeded == 0 {
		return res, academick.ErrNoChapterProcessed
	}
	return res, nil
}

// processChapter embeds and publishes one chapter's records. Failures come
// back as *academick.ChapterSkippedError; progress write failures are
// returned as-is.
func (ing *Ingestor) processChapter(ctx context.Context, p Progress, state *ProgressUpdate, records []academick.ChunkRecord) error {
	state.Stage = academick.StageEmbedding
	if err := p.Update(ctx, *state); err != nil {
		return err
	}
	if err := ing.batchEmbed(ctx, records); err != nil {
		return &academick.ChapterSkippedError{Stage: academick.StageEmbedding, Err: err}
	}

	state.Stage = academick.StageStoring
	if err := p.Update(ctx, *state); err != nil {
		return err
	}
	if err := ing.store.PublishChapter(ctx, records); err != nil {
		return &academick.ChapterSkippedError{Stage: academick.StageStoring, Err: err}
	}
	return nil
}

// section is a page range chunked under one topic name.
type section struct {
	topic     string
	startPage int
	endPage   int
}

// chapterSections splits a chapter into its introduction and topics. A
// chapter without topics is a single section named after the chapter.
func chapterSections(ch Chapter) []section {
	if len(ch.Topics) == 0 {
		return []section{{topic: ch.Title, startPage: ch.StartPage, endPage: ch.EndPage}}
	}
	var out []section
	if first := ch.Topics[0].StartPage; first > ch.StartPage {
		out = append(out, section{topic: IntroductionTopic, startPage: ch.StartPage, endPage: first - 1})
	}
	for _, t := range ch.Topics {
		out = append(out, section{topic: t.Title, startPage: t.StartPage, endPage: t.EndPage})
	}
	return out
}

// sectionTexts returns the text of each section. Sections that start on
// the same page share it: the page is cut where each title appears, in
// order. When a title cannot be found the whole page goes to the last
// section starting on it, so no text is stored twice.
func sectionTexts(pages *pageCache, secs []section) []string {
	out := make([]string, len(secs))
	for i := 0; i < len(secs); {
		j := i
		for j+1 < len(secs) && secs[j+1].startPage == secs[i].startPage {
			j++
		}
		last := secs[j]
		if j == i {
			out[i] = pages.text(last.startPage, last.endPage)
			i++
			continue
		}

		rest := pages.text(last.startPage+1, last.endPage)
		page := strings.TrimSpace(pages.page(last.startPage))
		cuts := titleOffsets(page, secs[i:j+1])
		if cuts == nil {
			out[j] = joinText(page, rest)
		} else {
			for k := i; k < j; k++ {
				from := cuts[k-i]
				if k == i {
					from = 0
				}
				out[k] = strings.TrimSpace(page[from:cuts[k-i+1]])
			}
			out[j] = joinText(page[cuts[j-i]:], rest)
		}
		i = j + 1
	}
	return out
}

// titleOffsets locates each section title in text, in order. It returns
// nil unless every title is found after the previous one.
func titleOffsets(text string, secs []section) []int {
	offsets := make([]int, len(secs))
	pos := 0
	for k, sec := range secs {
		words := strings.Fields(sec.topic)
		if len(words) == 0 {
			return nil
		}
		for w := range words {
			words[w] = regexp.QuoteMeta(words[w])
		}
		re, err := regexp.Compile(`(?i)` + strings.Join(words, `\s+`))
		if err != nil {
			return nil
		}
		loc := re.FindStringIndex(text[pos:])
		if loc == nil {
			return nil
		}
		offsets[k] = pos + loc[0]
		pos += loc[1]
	}
	return offsets
}

func joinText(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n\n")
}

// chunkChapter chunks and filters every section of ch. The first accepted
// chunk of the chapter is flagged as its introduction.
func (ing *Ingestor) chunkChapter(pages *pageCache, book string, ch Chapter, chunker Chunker) ([]academick.ChunkRecord, int) {
	var (
		records  []academick.ChunkRecord
		rejected int
	)
	secs := chapterSections(ch)
	for i, text := range sectionTexts(pages, secs) {
		sec := secs[i]
		if text == "" {
			continue
		}
		kept, rej := ing.filter.Apply(chunker.Chunk(text))
		rejected += rej
		for _, t := range kept {
			records = append(records, academick.ChunkRecord{
				ID:      academick.NewID(),
				Book:    book,
				Chapter: ch.Title,
				Topic:   sec.topic,
				Text:    t,
			})
		}
	}
	if len(records) > 0 {
		records[0].IsIntroduction = true
	}
	return records, rejected
}

// batchEmbed embeds records in batches of ing.batchSize, one
// timeout-bounded attempt per batch.
func (ing *Ingestor) batchEmbed(ctx context.Context, records []academick.ChunkRecord) error {
	for i := 0; i < len(records); i += ing.batchSize {
		end := min(i+ing.batchSize, len(records))
		texts := make([]string, end-i)
		for j := range texts {
			texts[j] = records[i+j].Text
		}

		embs, err := ing.embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed batch %d-%d: %w", i, end, err)
		}
		if len(embs) != len(texts) {
			return fmt.Errorf("embed batch %d-%d: got %d embeddings", i, end, len(embs))
		}
		for j, e := range embs {
			records[i+j].Dense = e.Dense
			records[i+j].Sparse = e.Sparse
		}
	}
	return nil
}

func (ing *Ingestor) embed(ctx context.Context, texts []string) ([]academick.Embedding, error) {
	if ing.embedTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ing.embedTimeout)
		defer cancel()
	}
	return ing.embedder.Embed(ctx, texts)
}

// pageCache memoizes page text; unreadable pages read as empty.
type pageCache struct {
	doc   Document
	pages map[int]string
}

func newPageCache(doc Document) *pageCache {
	return &pageCache{doc: doc, pages: make(map[int]string)}
}

func (pc *pageCache) page(n int) string {
	if t, ok := pc.pages[n]; ok {
		return t
	}
	t, err := pc.doc.PageText(n)
	if err != nil {
		t = ""
	}
	pc.pages[n] = t
	return t
}

// text joins pages [from, to], clamped to the document.
func (pc *pageCache) text(from, to int) string {
	from = max(from, 1)
	to = min(to, pc.doc.NumPages())
	var parts []string
	for n := from; n <= to; n++ {
		if t := strings.TrimSpace(pc.page(n)); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n\n")
}
