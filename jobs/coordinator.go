// Package jobs runs ingestion jobs on a bounded worker pool.
//
// Jobs live in a durable academick.JobStore. Callers submit an upload and
// get a job id back immediately; workers claim queued jobs in FIFO order
// and report progress through guarded store updates. Everything a caller
// observes comes from polling the store.
package jobs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/academick/academick"
	"github.com/academick/academick/ingest"
	"github.com/academick/academick/ingest/pdf"
)

// Defaults for the coordinator.
const (
	DefaultWorkers      = 2
	DefaultPollInterval = time.Second
	DefaultTTL          = 12 * time.Hour
	DefaultMaxVisible   = 10
	DefaultWatchEvery   = 3 * time.Second
)

// Pipeline processes one claimed job, reporting through p.
type Pipeline interface {
	Run(ctx context.Context, job academick.Job, p ingest.Progress) (ingest.Result, error)
}

// Metrics receives job outcomes. observer.JobMetrics implements it.
type Metrics interface {
	JobFinished(ctx context.Context, status academick.JobStatus, d time.Duration, res ingest.Result)
}

// Coordinator owns the worker pool and the job lifecycle.
type Coordinator struct {
	store      academick.JobStore
	pipeline   Pipeline
	uploadDir  string
	maxUpload  int64
	workers    int
	poll       time.Duration
	ttl        time.Duration
	maxVisible int
	metrics    Metrics
	published  func(ctx context.Context, job academick.Job)
	logger     *slog.Logger
	now        func() time.Time
	wake       chan struct{}
}

// New creates a Coordinator. Uploads are written under uploadDir.
func New(store academick.JobStore, pipeline Pipeline, uploadDir string, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:      store,
		pipeline:   pipeline,
		uploadDir:  uploadDir,
		maxUpload:  pdf.MaxUploadSize,
		workers:    DefaultWorkers,
		poll:       DefaultPollInterval,
		ttl:        DefaultTTL,
		maxVisible: DefaultMaxVisible,
		logger:     academick.NopLogger,
		now:        time.Now,
		wake:       make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Submit validates and stores an upload, then queues a job for it. The
// book name is the file name without its extension. It returns without
// waiting for any processing.
func (c *Coordinator) Submit(ctx context.Context, filename string, r io.Reader) (academick.JobSnapshot, error) {
	return c.SubmitAs(ctx, filename, "", r)
}

// SubmitAs is Submit with an explicit book name. An empty book falls back
// to the file name.
func (c *Coordinator) SubmitAs(ctx context.Context, filename, book string, r io.Reader) (academick.JobSnapshot, error) {
	br := bufio.NewReader(r)
	peeked, _ := br.Peek(len("%PDF"))
	head := append([]byte(nil), peeked...)

	id := academick.NewID()
	if err := os.MkdirAll(c.uploadDir, 0o755); err != nil {
		return academick.JobSnapshot{}, fmt.Errorf("create upload dir: %w", err)
	}
	path := filepath.Join(c.uploadDir, id+".pdf")
	size, err := writeUpload(path, br, c.maxUpload)
	if err != nil {
		return academick.JobSnapshot{}, err
	}
	if err := pdf.ValidateUpload(filename, size, c.maxUpload, head); err != nil {
		os.Remove(path)
		return academick.JobSnapshot{}, err
	}

	book = strings.TrimSpace(book)
	if book == "" {
		book = pdf.BookName(filename)
	}
	now := c.now().Unix()
	job := academick.Job{
		ID:        id,
		Filename:  filepath.Base(strings.ReplaceAll(filename, "\\", "/")),
		Book:      book,
		Source:    path,
		CreatedAt: now,
		UpdatedAt: now,
		State:     academick.Queued{},
	}
	if err := c.store.CreateJob(ctx, job); err != nil {
		os.Remove(path)
		return academick.JobSnapshot{}, fmt.Errorf("create job: %w", err)
	}
	c.logger.Info("job queued", "job_id", id, "filename", job.Filename, "book", job.Book, "bytes", size)
	c.signal()
	return job.Snapshot(), nil
}

// writeUpload copies at most limit+1 bytes so oversized uploads are
// detected without reading them whole.
func writeUpload(path string, r io.Reader, limit int64) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create upload file: %w", err)
	}
	n, err := io.Copy(f, io.LimitReader(r, limit+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return 0, fmt.Errorf("write upload: %w", err)
	}
	return n, nil
}

func (c *Coordinator) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Start runs the worker pool and the expiry sweep until ctx is done.
// Returns nil on clean shutdown.
func (c *Coordinator) Start(ctx context.Context) error {
	c.logger.Info("job workers starting", "workers", c.workers, "poll", c.poll)
	g, ctx := errgroup.WithContext(ctx)
	for i := range c.workers {
		g.Go(func() error {
			c.runLoop(ctx, i+1)
			return nil
		})
	}
	g.Go(func() error {
		c.sweepLoop(ctx)
		return nil
	})
	return g.Wait()
}

func (c *Coordinator) runLoop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()
	for {
		// Drain the queue before waiting again.
		for ctx.Err() == nil {
			job, ok, err := c.store.ClaimNextJob(ctx, c.now().Unix())
			if err != nil {
				if ctx.Err() == nil {
					c.logger.Warn("claim job failed", "worker_id", workerID, "error", err)
				}
				break
			}
			if !ok {
				break
			}
			c.execute(ctx, workerID, job)
		}
		select {
		case <-ctx.Done():
			c.logger.Debug("job worker stopped", "worker_id", workerID)
			return
		case <-ticker.C:
		case <-c.wake:
		}
	}
}

func (c *Coordinator) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.expire(ctx); err != nil && ctx.Err() == nil {
				c.logger.Warn("expire jobs failed", "error", err)
			}
		}
	}
}

// execute runs one job to a terminal state. A panic in the pipeline fails
// the job instead of killing the worker.
func (c *Coordinator) execute(ctx context.Context, workerID int, job academick.Job) {
	start := c.now()
	h := newHandle(c.store, job.ID, c.now)
	log := c.logger.With("worker_id", workerID, "job_id", job.ID, "book", job.Book)
	log.Info("job started")

	var (
		res ingest.Result
		err error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error("job pipeline panic", "panic", r)
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		res, err = c.pipeline.Run(ctx, job, h)
	}()

	// The final write must land even when shutdown cancelled ctx.
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	state := finalState(h.last(), res, err, ctx.Err() != nil, c.now().Unix())
	if uerr := c.store.UpdateJob(fctx, job.ID, state, c.now().Unix()); uerr != nil {
		log.Error("write final job state", "status", state.Status(), "error", uerr)
	}

	switch st := state.(type) {
	case academick.Failed:
		log.Warn("job failed", "stage", st.Stage, "error", st.Error, "duration", c.now().Sub(start))
	default:
		log.Info("job finished", "status", state.Status(), "chapters", res.ChaptersProcessed,
			"chunks", res.ChunksStored, "duration", c.now().Sub(start))
	}
	if c.metrics != nil {
		c.metrics.JobFinished(fctx, state.Status(), c.now().Sub(start), res)
	}
	// Chapters publish as they finish, so a failed or cancelled job may
	// still have changed the corpus.
	if c.published != nil && res.ChunksStored > 0 {
		c.published(fctx, job)
	}
}

// finalState maps a pipeline outcome onto a terminal job state.
func finalState(last ingest.ProgressUpdate, res ingest.Result, err error, shutdown bool, now int64) academick.JobState {
	warnings := res.Warnings
	if warnings == nil {
		warnings = last.Warnings
	}
	total := max(res.ChaptersTotal, last.ChaptersTotal)
	processed := min(max(res.ChaptersProcessed, last.ChaptersProcessed), total)

	switch {
	case err == nil:
		return academick.Completed{
			Strategy:          res.Strategy,
			ChaptersTotal:     total,
			ChaptersProcessed: processed,
			Warnings:          warnings,
			FinishedAt:        now,
		}
	case errors.Is(err, academick.ErrCancellationRequested):
		return academick.Cancelled{ChaptersTotal: total, ChaptersProcessed: processed, Warnings: warnings, FinishedAt: now}
	default:
		msg := err.Error()
		if shutdown {
			msg = "interrupted by shutdown: " + msg
		}
		stage := last.Stage
		if stage == "" {
			stage = academick.StageExtractingTOC
		}
		return academick.Failed{
			Error:             msg,
			Stage:             stage,
			ChaptersTotal:     total,
			ChaptersProcessed: processed,
			Warnings:          warnings,
			FinishedAt:        now,
		}
	}
}

// Get returns the snapshot of one job.
func (c *Coordinator) Get(ctx context.Context, id string) (academick.JobSnapshot, error) {
	job, err := c.store.GetJob(ctx, id)
	if err != nil {
		return academick.JobSnapshot{}, err
	}
	return job.Snapshot(), nil
}

// List expires stale jobs and returns the visible ones, oldest first.
func (c *Coordinator) List(ctx context.Context) ([]academick.JobSnapshot, error) {
	if _, err := c.expire(ctx); err != nil {
		return nil, err
	}
	jobs, err := c.store.ListJobs(ctx, academick.JobFilter{})
	if err != nil {
		return nil, err
	}
	out := make([]academick.JobSnapshot, len(jobs))
	for i, j := range jobs {
		out[i] = j.Snapshot()
	}
	return out, nil
}

func (c *Coordinator) expire(ctx context.Context) (int, error) {
	cutoff := c.now().Add(-c.ttl).Unix()
	n, err := c.store.ExpireJobs(ctx, cutoff, c.maxVisible)
	if err != nil {
		return 0, fmt.Errorf("expire jobs: %w", err)
	}
	if n > 0 {
		c.logger.Debug("jobs expired", "count", n)
	}
	return n, nil
}

// Cancel cancels a queued job immediately or asks a processing job to
// stop at its next chapter boundary. Terminal jobs return
// academick.ErrJobTerminal.
func (c *Coordinator) Cancel(ctx context.Context, id string) (academick.JobSnapshot, error) {
	status, err := c.store.RequestCancel(ctx, id, c.now().Unix())
	if err != nil {
		return academick.JobSnapshot{}, err
	}
	c.logger.Info("job cancel requested", "job_id", id, "status", status)
	return c.Get(ctx, id)
}

// Dismiss hides a terminal job from listings. Its chunks are kept.
func (c *Coordinator) Dismiss(ctx context.Context, id string) error {
	return c.store.DismissJob(ctx, id)
}

// Watch polls a job every interval, calling fn on each snapshot, until it
// reaches a terminal state or ctx is done.
func (c *Coordinator) Watch(ctx context.Context, id string, interval time.Duration, fn func(academick.JobSnapshot)) (academick.JobSnapshot, error) {
	if interval <= 0 {
		interval = DefaultWatchEvery
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		snap, err := c.Get(ctx, id)
		if err != nil {
			return academick.JobSnapshot{}, err
		}
		if fn != nil {
			fn(snap)
		}
		if snap.Status.Terminal() {
			return snap, nil
		}
		select {
		case <-ctx.Done():
			return snap, ctx.Err()
		case <-ticker.C:
		}
	}
}
