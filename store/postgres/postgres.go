// Package postgres implements academick.ChunkStore and academick.JobStore
// on PostgreSQL.
//
// Store accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/academick/academick"
)

// Store implements the chunk and job stores. Dense vectors are REAL[] and
// sparse weights JSONB; scoring happens in the search engine.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Option configures a PostgreSQL Store.
type Option func(*Store)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

var (
	_ academick.ChunkStore = (*Store)(nil)
	_ academick.JobStore   = (*Store)(nil)
)

// New creates a Store using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{pool: pool, logger: academick.NopLogger}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Connect opens a pool for dsn and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return pool, nil
}

// Init creates all required tables and indexes.
// Safe to call multiple times (all statements are idempotent).
func (s *Store) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chunks (
			seq BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
			id TEXT NOT NULL UNIQUE,
			book TEXT NOT NULL,
			chapter TEXT NOT NULL,
			topic TEXT NOT NULL,
			content TEXT NOT NULL,
			is_introduction BOOLEAN NOT NULL DEFAULT FALSE,
			dense REAL[] NOT NULL,
			sparse JSONB
		)`,
		`CREATE INDEX IF NOT EXISTS chunks_book_idx ON chunks(book)`,
		`CREATE TABLE IF NOT EXISTS jobs (
			seq BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
			id TEXT NOT NULL UNIQUE,
			filename TEXT NOT NULL,
			book TEXT NOT NULL,
			source TEXT NOT NULL,
			status TEXT NOT NULL,
			stage TEXT NOT NULL,
			strategy TEXT NOT NULL DEFAULT '',
			chapters_total INTEGER NOT NULL DEFAULT 0,
			chapters_processed INTEGER NOT NULL DEFAULT 0,
			warnings JSONB NOT NULL DEFAULT '[]'::jsonb,
			error TEXT NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			finished_at BIGINT NOT NULL DEFAULT 0,
			dismissed BOOLEAN NOT NULL DEFAULT FALSE,
			cancel_requested BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE INDEX IF NOT EXISTS jobs_status_idx ON jobs(status, seq)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: init: %w", err)
		}
	}
	return nil
}

// --- chunks ---

// PublishChapter copies all chunks of one chapter inside one transaction.
func (s *Store) PublishChapter(ctx context.Context, chunks []academick.ChunkRecord) error {
	if len(chunks) == 0 {
		return nil
	}
	start := time.Now()
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"chunks"},
		[]string{"id", "book", "chapter", "topic", "content", "is_introduction", "dense", "sparse"},
		pgx.CopyFromSlice(len(chunks), func(i int) ([]any, error) {
			c := chunks[i]
			var sparse any
			if len(c.Sparse) > 0 {
				sparse = c.Sparse
			}
			return []any{c.ID, c.Book, c.Chapter, c.Topic, c.Text, c.IsIntroduction, c.Dense, sparse}, nil
		}))
	if err != nil {
		return fmt.Errorf("postgres: copy chunks: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	s.logger.Debug("postgres: chapter published", "book", chunks[0].Book, "chapter", chunks[0].Chapter,
		"chunks", len(chunks), "duration", time.Since(start))
	return nil
}

// ScanChunks returns chunks in insertion order, optionally for one book.
func (s *Store) ScanChunks(ctx context.Context, book string) ([]academick.ChunkRecord, error) {
	q := `SELECT seq, id, book, chapter, topic, content, is_introduction, dense, sparse FROM chunks`
	var args []any
	if book != "" {
		q += ` WHERE book = $1`
		args = append(args, book)
	}
	q += ` ORDER BY seq`

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan chunks: %w", err)
	}
	defer rows.Close()

	var out []academick.ChunkRecord
	for rows.Next() {
		var c academick.ChunkRecord
		if err := rows.Scan(&c.Seq, &c.ID, &c.Book, &c.Chapter, &c.Topic, &c.Text, &c.IsIntroduction, &c.Dense, &c.Sparse); err != nil {
			return nil, fmt.Errorf("postgres: scan chunk row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListBooks returns every book with its chunk count, by name.
func (s *Store) ListBooks(ctx context.Context) ([]academick.BookInfo, error) {
	rows, err := s.pool.Query(ctx, `SELECT book, COUNT(*) FROM chunks GROUP BY book ORDER BY book`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list books: %w", err)
	}
	defer rows.Close()
	var out []academick.BookInfo
	for rows.Next() {
		var b academick.BookInfo
		if err := rows.Scan(&b.Name, &b.Chunks); err != nil {
			return nil, fmt.Errorf("postgres: scan book row: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// DeleteBook removes every chunk of book.
func (s *Store) DeleteBook(ctx context.Context, book string) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM chunks WHERE book = $1`, book)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete book: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// --- jobs ---

const jobColumns = `id, filename, book, source, status, stage, strategy, chapters_total,
	chapters_processed, warnings, error, created_at, updated_at, finished_at, dismissed, cancel_requested`

var terminalStatuses = []string{
	string(academick.JobCompleted),
	string(academick.JobFailed),
	string(academick.JobCancelled),
}

func scanJob(row pgx.Row) (academick.Job, error) {
	var (
		snap   academick.JobSnapshot
		status string
	)
	if err := row.Scan(&snap.ID, &snap.Filename, &snap.Book, &snap.Source, &status, &snap.Stage,
		&snap.Strategy, &snap.ChaptersTotal, &snap.ChaptersProcessed, &snap.Warnings, &snap.Error,
		&snap.CreatedAt, &snap.UpdatedAt, &snap.FinishedAt, &snap.Dismissed, &snap.CancelRequested); err != nil {
		return academick.Job{}, err
	}
	snap.Status = academick.JobStatus(status)
	return snap.Job()
}

func warningsOrEmpty(w []string) []string {
	if w == nil {
		return []string{}
	}
	return w
}

// CreateJob inserts a queued job.
func (s *Store) CreateJob(ctx context.Context, job academick.Job) error {
	snap := job.Snapshot()
	if snap.Status != academick.JobQueued {
		return fmt.Errorf("postgres: create job %s: status %s, want queued", job.ID, snap.Status)
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, filename, book, source, status, stage, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		snap.ID, snap.Filename, snap.Book, snap.Source, string(snap.Status), snap.Stage, snap.CreatedAt, snap.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: insert job: %w", err)
	}
	return nil
}

// ClaimNextJob moves the oldest queued job to processing. Concurrent
// claimers skip rows locked by each other.
func (s *Store) ClaimNextJob(ctx context.Context, now int64) (academick.Job, bool, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE jobs
		SET status = $1, stage = $2, updated_at = $3
		WHERE seq = (
			SELECT seq FROM jobs
			WHERE status = $4
			ORDER BY seq ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns,
		string(academick.JobProcessing), academick.StageExtractingTOC, now, string(academick.JobQueued))
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return academick.Job{}, false, nil
	}
	if err != nil {
		return academick.Job{}, false, fmt.Errorf("postgres: claim job: %w", err)
	}
	return job, true, nil
}

// GetJob returns a job by id.
func (s *Store) GetJob(ctx context.Context, id string) (academick.Job, error) {
	job, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return academick.Job{}, academick.ErrJobNotFound
	}
	if err != nil {
		return academick.Job{}, fmt.Errorf("postgres: get job: %w", err)
	}
	return job, nil
}

// UpdateJob writes state onto a processing job. chapters_processed may
// only grow.
func (s *Store) UpdateJob(ctx context.Context, id string, state academick.JobState, now int64) error {
	if !(state.Status() == academick.JobProcessing || academick.CanTransition(academick.JobProcessing, state.Status())) {
		return fmt.Errorf("postgres: update job %s: illegal transition to %s", id, state.Status())
	}
	snap := academick.Job{ID: id, State: state}.Snapshot()
	if snap.ChaptersProcessed > snap.ChaptersTotal {
		return fmt.Errorf("postgres: update job %s: %d chapters processed of %d", id, snap.ChaptersProcessed, snap.ChaptersTotal)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $1, stage = $2, strategy = $3, chapters_total = $4, chapters_processed = $5,
			warnings = $6, error = $7, finished_at = $8, updated_at = $9
		WHERE id = $10 AND status = $11 AND chapters_processed <= $5`,
		string(snap.Status), snap.Stage, snap.Strategy, snap.ChaptersTotal, snap.ChaptersProcessed,
		warningsOrEmpty(snap.Warnings), snap.Error, snap.FinishedAt, now,
		id, string(academick.JobProcessing))
	if err != nil {
		return fmt.Errorf("postgres: update job: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	cur, err := s.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if cur.Status() != academick.JobProcessing {
		return academick.ErrJobTerminal
	}
	return fmt.Errorf("postgres: update job %s: chapters_processed would decrease", id)
}

// RequestCancel cancels a queued job or flags a processing one.
func (s *Store) RequestCancel(ctx context.Context, id string, now int64) (academick.JobStatus, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $1, stage = $1, cancel_requested = TRUE, finished_at = $2, updated_at = $2
		WHERE id = $3 AND status = $4`,
		string(academick.JobCancelled), now, id, string(academick.JobQueued))
	if err != nil {
		return "", fmt.Errorf("postgres: cancel queued job: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return academick.JobCancelled, nil
	}

	tag, err = s.pool.Exec(ctx,
		`UPDATE jobs SET cancel_requested = TRUE, updated_at = $1 WHERE id = $2 AND status = $3`,
		now, id, string(academick.JobProcessing))
	if err != nil {
		return "", fmt.Errorf("postgres: flag job cancel: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return academick.JobProcessing, nil
	}

	cur, err := s.GetJob(ctx, id)
	if err != nil {
		return "", err
	}
	return cur.Status(), academick.ErrJobTerminal
}

// CancelRequested reads the cancellation flag.
func (s *Store) CancelRequested(ctx context.Context, id string) (bool, error) {
	var flag bool
	err := s.pool.QueryRow(ctx, `SELECT cancel_requested FROM jobs WHERE id = $1`, id).Scan(&flag)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, academick.ErrJobNotFound
	}
	if err != nil {
		return false, fmt.Errorf("postgres: read cancel flag: %w", err)
	}
	return flag, nil
}

// DismissJob hides a terminal job.
func (s *Store) DismissJob(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET dismissed = TRUE WHERE id = $1 AND status = ANY($2)`, id, terminalStatuses)
	if err != nil {
		return fmt.Errorf("postgres: dismiss job: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := s.GetJob(ctx, id); err != nil {
		return err
	}
	return academick.ErrJobNotTerminal
}

// ListJobs returns jobs in creation order.
func (s *Store) ListJobs(ctx context.Context, filter academick.JobFilter) ([]academick.Job, error) {
	q := `SELECT ` + jobColumns + ` FROM jobs`
	if !filter.IncludeHidden {
		q += ` WHERE NOT dismissed`
	}
	q += ` ORDER BY seq ASC`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("postgres: list jobs: %w", err)
	}
	defer rows.Close()
	var out []academick.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan job row: %w", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// ExpireJobs hides terminal jobs past the TTL, then the oldest terminal
// jobs beyond the visible cap.
func (s *Store) ExpireJobs(ctx context.Context, finishedBefore int64, maxVisible int) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx,
		`UPDATE jobs SET dismissed = TRUE
		 WHERE NOT dismissed AND finished_at < $1 AND status = ANY($2)`,
		finishedBefore, terminalStatuses)
	if err != nil {
		return 0, fmt.Errorf("postgres: expire jobs: %w", err)
	}
	expired := tag.RowsAffected()

	var visible int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM jobs WHERE NOT dismissed`).Scan(&visible); err != nil {
		return 0, fmt.Errorf("postgres: count visible jobs: %w", err)
	}
	if excess := visible - maxVisible; maxVisible > 0 && excess > 0 {
		tag, err := tx.Exec(ctx,
			`UPDATE jobs SET dismissed = TRUE WHERE seq IN (
				SELECT seq FROM jobs
				WHERE NOT dismissed AND status = ANY($1)
				ORDER BY finished_at ASC, seq ASC
				LIMIT $2
			)`, terminalStatuses, excess)
		if err != nil {
			return 0, fmt.Errorf("postgres: evict jobs: %w", err)
		}
		expired += tag.RowsAffected()
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("postgres: commit: %w", err)
	}
	return int(expired), nil
}
