package ingest

import (
	"log/slog"
	"time"

	"github.com/academick/academick"
)

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithDetector sets the chapter detector.
func WithDetector(d *ChapterDetector) Option {
	return func(ing *Ingestor) { ing.detector = d }
}

// WithStrategyChunker sets the chunker used for books whose chapters were
// found by the named detection strategy.
func WithStrategyChunker(strategy string, c Chunker) Option {
	return func(ing *Ingestor) { ing.chunkers[strategy] = c }
}

// WithFallbackChunker sets the chunker for strategies without a dedicated one.
func WithFallbackChunker(c Chunker) Option {
	return func(ing *Ingestor) { ing.fallback = c }
}

// WithFilter replaces the chunk quality filter.
func WithFilter(f ChunkFilter) Option {
	return func(ing *Ingestor) { ing.filter = f }
}

// WithBatchSize sets the number of chunks per Embed() call (default 32).
func WithBatchSize(n int) Option {
	return func(ing *Ingestor) {
		if n > 0 {
			ing.batchSize = n
		}
	}
}

// WithEmbedTimeout bounds each embedding call (default 60s).
func WithEmbedTimeout(d time.Duration) Option {
	return func(ing *Ingestor) { ing.embedTimeout = d }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(ing *Ingestor) { ing.logger = l }
}

// WithTracer enables spans around each ingestion run.
func WithTracer(t academick.Tracer) Option {
	return func(ing *Ingestor) { ing.tracer = t }
}
