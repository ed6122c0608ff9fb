package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/academick/academick"
	"github.com/academick/academick/ingest"
)

// handle is the ingest.Progress of one running job. Every update is a
// guarded store write, so a job that already left processing is never
// overwritten.
type handle struct {
	store academick.JobStore
	id    string
	now   func() time.Time

	mu      sync.Mutex
	current ingest.ProgressUpdate
}

var _ ingest.Progress = (*handle)(nil)

func newHandle(store academick.JobStore, id string, now func() time.Time) *handle {
	return &handle{store: store, id: id, now: now}
}

func (h *handle) Update(ctx context.Context, u ingest.ProgressUpdate) error {
	h.mu.Lock()
	u.Warnings = append([]string(nil), u.Warnings...)
	h.current = u
	h.mu.Unlock()

	return h.store.UpdateJob(ctx, h.id, academick.Processing{
		Stage:             u.Stage,
		Strategy:          u.Strategy,
		ChaptersTotal:     u.ChaptersTotal,
		ChaptersProcessed: u.ChaptersProcessed,
		Warnings:          u.Warnings,
	}, h.now().Unix())
}

func (h *handle) CancelRequested(ctx context.Context) (bool, error) {
	return h.store.CancelRequested(ctx, h.id)
}

func (h *handle) last() ingest.ProgressUpdate {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}
