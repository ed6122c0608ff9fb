package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/academick/academick"
)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithWorkers sets the pool size. Default: 2.
func WithWorkers(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithMaxUploadSize sets the upload limit in bytes. Default: 100 MB.
func WithMaxUploadSize(n int64) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxUpload = n
		}
	}
}

// WithPollInterval sets how often idle workers poll the store. Default: 1s.
func WithPollInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.poll = d
		}
	}
}

// WithTTL sets how long finished jobs stay listed. Default: 12h.
func WithTTL(d time.Duration) Option {
	return func(c *Coordinator) { c.ttl = d }
}

// WithMaxVisible caps the number of listed jobs. Default: 10.
func WithMaxVisible(n int) Option {
	return func(c *Coordinator) { c.maxVisible = n }
}

// WithMetrics records job outcomes.
func WithMetrics(m Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithOnPublished calls fn once a job ends having published at least one
// chapter, whatever its final status.
func WithOnPublished(fn func(ctx context.Context, job academick.Job)) Option {
	return func(c *Coordinator) { c.published = fn }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}
