package academick

import "context"

// ChunkStore persists published chunks. A chapter becomes visible to
// ScanChunks only after PublishChapter returns nil.
type ChunkStore interface {
	// PublishChapter stores all chunks of one chapter in a single
	// transaction. Either every chunk is stored or none is.
	PublishChapter(ctx context.Context, chunks []ChunkRecord) error
	// ScanChunks returns every chunk in storage order. An empty book
	// means the whole corpus.
	ScanChunks(ctx context.Context, book string) ([]ChunkRecord, error)
	// ListBooks returns the known books with their chunk counts.
	ListBooks(ctx context.Context) ([]BookInfo, error)
	// DeleteBook removes every chunk of book and returns how many were removed.
	DeleteBook(ctx context.Context, book string) (int, error)
}

// JobFilter narrows ListJobs.
type JobFilter struct {
	// IncludeHidden returns dismissed and expired jobs too.
	IncludeHidden bool
}

// JobStore is the durable, shared job table. Every mutation is a guarded
// conditional update so concurrent readers and writers never observe an
// illegal transition.
type JobStore interface {
	// CreateJob inserts a queued job.
	CreateJob(ctx context.Context, job Job) error
	// ClaimNextJob atomically moves the oldest queued job to processing.
	// Returns ok=false when the queue is empty.
	ClaimNextJob(ctx context.Context, now int64) (job Job, ok bool, err error)
	// GetJob returns a job by id or ErrJobNotFound.
	GetJob(ctx context.Context, id string) (Job, error)
	// UpdateJob writes the state of a processing job. It is a no-op
	// returning ErrJobTerminal when the job already left processing.
	UpdateJob(ctx context.Context, id string, state JobState, now int64) error
	// RequestCancel cancels a queued job directly, or flags a processing
	// job for cooperative cancellation. Terminal jobs return ErrJobTerminal.
	RequestCancel(ctx context.Context, id string, now int64) (JobStatus, error)
	// CancelRequested reads the durable cancellation flag.
	CancelRequested(ctx context.Context, id string) (bool, error)
	// DismissJob hides a terminal job from listings.
	DismissJob(ctx context.Context, id string) error
	// ListJobs returns jobs oldest first.
	ListJobs(ctx context.Context, filter JobFilter) ([]Job, error)
	// ExpireJobs hides terminal jobs finished before finishedBefore, then
	// hides the oldest terminal jobs until at most maxVisible remain.
	// Returns the number of jobs hidden.
	ExpireJobs(ctx context.Context, finishedBefore int64, maxVisible int) (int, error)
}
