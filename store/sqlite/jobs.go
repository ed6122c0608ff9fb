package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/academick/academick"
)

const jobColumns = `id, filename, book, source, status, stage, strategy, chapters_total,
	chapters_processed, warnings, error, created_at, updated_at, finished_at, dismissed, cancel_requested`

var terminalStatuses = []any{
	string(academick.JobCompleted),
	string(academick.JobFailed),
	string(academick.JobCancelled),
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(r rowScanner) (academick.Job, error) {
	var (
		snap                 academick.JobSnapshot
		status, warnings     string
		dismissed, cancelReq int
	)
	if err := r.Scan(&snap.ID, &snap.Filename, &snap.Book, &snap.Source, &status, &snap.Stage,
		&snap.Strategy, &snap.ChaptersTotal, &snap.ChaptersProcessed, &warnings, &snap.Error,
		&snap.CreatedAt, &snap.UpdatedAt, &snap.FinishedAt, &dismissed, &cancelReq); err != nil {
		return academick.Job{}, err
	}
	snap.Status = academick.JobStatus(status)
	snap.Dismissed = dismissed != 0
	snap.CancelRequested = cancelReq != 0
	if warnings != "" {
		if err := json.Unmarshal([]byte(warnings), &snap.Warnings); err != nil {
			return academick.Job{}, fmt.Errorf("decode warnings for job %s: %w", snap.ID, err)
		}
	}
	return snap.Job()
}

func encodeWarnings(w []string) string {
	if len(w) == 0 {
		return "[]"
	}
	data, _ := json.Marshal(w)
	return string(data)
}

// CreateJob inserts a queued job.
func (s *Store) CreateJob(ctx context.Context, job academick.Job) error {
	snap := job.Snapshot()
	if snap.Status != academick.JobQueued {
		return fmt.Errorf("create job %s: status %s, want queued", job.ID, snap.Status)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, filename, book, source, status, stage, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.Filename, snap.Book, snap.Source, string(snap.Status), snap.Stage, snap.CreatedAt, snap.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	s.logger.Debug("sqlite: job created", "id", job.ID, "book", job.Book)
	return nil
}

// ClaimNextJob moves the oldest queued job to processing.
func (s *Store) ClaimNextJob(ctx context.Context, now int64) (academick.Job, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE jobs
		SET status = ?, stage = ?, updated_at = ?
		WHERE seq = (
			SELECT seq FROM jobs
			WHERE status = ?
			ORDER BY seq ASC
			LIMIT 1
		)
		RETURNING `+jobColumns,
		string(academick.JobProcessing), academick.StageExtractingTOC, now, string(academick.JobQueued))
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return academick.Job{}, false, nil
	}
	if err != nil {
		return academick.Job{}, false, fmt.Errorf("claim job: %w", err)
	}
	s.logger.Debug("sqlite: job claimed", "id", job.ID)
	return job, true, nil
}

// GetJob returns a job by id.
func (s *Store) GetJob(ctx context.Context, id string) (academick.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return academick.Job{}, academick.ErrJobNotFound
	}
	if err != nil {
		return academick.Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// UpdateJob writes state onto a processing job. chapters_processed may
// only grow.
func (s *Store) UpdateJob(ctx context.Context, id string, state academick.JobState, now int64) error {
	if !(state.Status() == academick.JobProcessing || academick.CanTransition(academick.JobProcessing, state.Status())) {
		return fmt.Errorf("update job %s: illegal transition to %s", id, state.Status())
	}
	snap := academick.Job{ID: id, State: state}.Snapshot()
	if snap.ChaptersProcessed > snap.ChaptersTotal {
		return fmt.Errorf("update job %s: %d chapters processed of %d", id, snap.ChaptersProcessed, snap.ChaptersTotal)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = ?, stage = ?, strategy = ?, chapters_total = ?, chapters_processed = ?,
			warnings = ?, error = ?, finished_at = ?, updated_at = ?
		WHERE id = ? AND status = ? AND chapters_processed <= ?`,
		string(snap.Status), snap.Stage, snap.Strategy, snap.ChaptersTotal, snap.ChaptersProcessed,
		encodeWarnings(snap.Warnings), snap.Error, snap.FinishedAt, now,
		id, string(academick.JobProcessing), snap.ChaptersProcessed)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	cur, err := s.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if cur.Status() != academick.JobProcessing {
		return academick.ErrJobTerminal
	}
	return fmt.Errorf("update job %s: chapters_processed would decrease", id)
}

// RequestCancel cancels a queued job or flags a processing one.
func (s *Store) RequestCancel(ctx context.Context, id string, now int64) (academick.JobStatus, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = ?, stage = ?, cancel_requested = 1, finished_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(academick.JobCancelled), string(academick.JobCancelled), now, now, id, string(academick.JobQueued))
	if err != nil {
		return "", fmt.Errorf("cancel queued job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return academick.JobCancelled, nil
	}

	res, err = s.db.ExecContext(ctx,
		`UPDATE jobs SET cancel_requested = 1, updated_at = ? WHERE id = ? AND status = ?`,
		now, id, string(academick.JobProcessing))
	if err != nil {
		return "", fmt.Errorf("flag job cancel: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
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
	var flag int
	err := s.db.QueryRowContext(ctx, `SELECT cancel_requested FROM jobs WHERE id = ?`, id).Scan(&flag)
	if errors.Is(err, sql.ErrNoRows) {
		return false, academick.ErrJobNotFound
	}
	if err != nil {
		return false, fmt.Errorf("read cancel flag: %w", err)
	}
	return flag != 0, nil
}

// DismissJob hides a terminal job.
func (s *Store) DismissJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET dismissed = 1 WHERE id = ? AND status IN (`+placeholders(len(terminalStatuses))+`)`,
		append([]any{id}, terminalStatuses...)...)
	if err != nil {
		return fmt.Errorf("dismiss job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
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
		q += ` WHERE dismissed = 0`
	}
	q += ` ORDER BY seq ASC`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	var out []academick.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// ExpireJobs hides terminal jobs past the TTL, then the oldest terminal
// jobs beyond the visible cap.
func (s *Store) ExpireJobs(ctx context.Context, finishedBefore int64, maxVisible int) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	in := placeholders(len(terminalStatuses))
	res, err := tx.ExecContext(ctx,
		`UPDATE jobs SET dismissed = 1
		 WHERE dismissed = 0 AND finished_at < ? AND status IN (`+in+`)`,
		append([]any{finishedBefore}, terminalStatuses...)...)
	if err != nil {
		return 0, fmt.Errorf("expire jobs: %w", err)
	}
	expired, _ := res.RowsAffected()

	var visible int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE dismissed = 0`).Scan(&visible); err != nil {
		return 0, fmt.Errorf("count visible jobs: %w", err)
	}
	if excess := visible - maxVisible; maxVisible > 0 && excess > 0 {
		res, err := tx.ExecContext(ctx,
			`UPDATE jobs SET dismissed = 1 WHERE seq IN (
				SELECT seq FROM jobs
				WHERE dismissed = 0 AND status IN (`+in+`)
				ORDER BY finished_at ASC, seq ASC
				LIMIT ?
			)`,
			append(append([]any{}, terminalStatuses...), excess)...)
		if err != nil {
			return 0, fmt.Errorf("evict jobs: %w", err)
		}
		n, _ := res.RowsAffected()
		expired += n
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	if expired > 0 {
		s.logger.Debug("sqlite: jobs expired", "count", expired)
	}
	return int(expired), nil
}
