// Package storetest holds behavioural tests shared by every ChunkStore and
// JobStore implementation.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/academick/academick"
)

// Store is the combined interface the backends implement.
type Store interface {
	academick.ChunkStore
	academick.JobStore
}

// Run executes every shared test against stores produced by newStore.
// Each subtest gets a fresh, initialized store.
func Run(t *testing.T, newStore func(t *testing.T) Store) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s Store)
	}{
		{"PublishAndScan", testPublishAndScan},
		{"ScanByBook", testScanByBook},
		{"BooksListAndDelete", testBooksListAndDelete},
		{"ClaimFIFO", testClaimFIFO},
		{"ConcurrentClaim", testConcurrentClaim},
		{"UpdateGuards", testUpdateGuards},
		{"CancelQueued", testCancelQueued},
		{"CancelProcessing", testCancelProcessing},
		{"CancelTerminal", testCancelTerminal},
		{"Dismiss", testDismiss},
		{"ExpireTTL", testExpireTTL},
		{"ExpireCap", testExpireCap},
		{"NotFound", testNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) { tt.fn(t, newStore(t)) })
	}
}

func chapter(book, name string, n int) []academick.ChunkRecord {
	out := make([]academick.ChunkRecord, n)
	for i := range out {
		out[i] = academick.ChunkRecord{
			ID:             academick.NewID(),
			Book:           book,
			Chapter:        name,
			Topic:          fmt.Sprintf("topic %d", i),
			Text:           fmt.Sprintf("%s %s chunk %d", book, name, i),
			IsIntroduction: i == 0,
			Dense:          []float32{float32(i), 1, 0.5},
			Sparse:         map[string]float32{"term": float32(i) + 1},
		}
	}
	return out
}

func queued(filename string, at int64) academick.Job {
	return academick.Job{
		ID:        academick.NewID(),
		Filename:  filename,
		Book:      filename,
		Source:    "/uploads/" + filename,
		CreatedAt: at,
		UpdatedAt: at,
		State:     academick.Queued{},
	}
}

func mustCreate(t *testing.T, s Store, jobs ...academick.Job) {
	t.Helper()
	for _, j := range jobs {
		if err := s.CreateJob(context.Background(), j); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
	}
}

func mustClaim(t *testing.T, s Store) academick.Job {
	t.Helper()
	j, ok, err := s.ClaimNextJob(context.Background(), 100)
	if err != nil || !ok {
		t.Fatalf("ClaimNextJob: ok=%v err=%v", ok, err)
	}
	return j
}

func testPublishAndScan(t *testing.T, s Store) {
	ctx := context.Background()
	ch := chapter("calculus", "Limits", 3)
	if err := s.PublishChapter(ctx, ch); err != nil {
		t.Fatalf("PublishChapter: %v", err)
	}
	got, err := s.ScanChunks(ctx, "")
	if err != nil {
		t.Fatalf("ScanChunks: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(got))
	}
	for i, c := range got {
		if c.ID != ch[i].ID {
			t.Errorf("chunk %d out of storage order", i)
		}
		if c.Text != ch[i].Text || c.Topic != ch[i].Topic || c.IsIntroduction != ch[i].IsIntroduction {
			t.Errorf("chunk %d round trip mismatch: %+v", i, c)
		}
		if len(c.Dense) != 3 || c.Dense[0] != float32(i) {
			t.Errorf("chunk %d dense = %v", i, c.Dense)
		}
		if c.Sparse["term"] != float32(i)+1 {
			t.Errorf("chunk %d sparse = %v", i, c.Sparse)
		}
		if i > 0 && c.Seq <= got[i-1].Seq {
			t.Errorf("seq not increasing at %d", i)
		}
	}
}

func testScanByBook(t *testing.T, s Store) {
	ctx := context.Background()
	_ = s.PublishChapter(ctx, chapter("a", "one", 2))
	_ = s.PublishChapter(ctx, chapter("b", "one", 1))
	_ = s.PublishChapter(ctx, chapter("a", "two", 2))
	got, err := s.ScanChunks(ctx, "a")
	if err != nil {
		t.Fatalf("ScanChunks: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("expected 4 chunks of book a, got %d", len(got))
	}
	if got[0].Chapter != "one" || got[3].Chapter != "two" {
		t.Errorf("unexpected order: %s ... %s", got[0].Chapter, got[3].Chapter)
	}
}

func testBooksListAndDelete(t *testing.T, s Store) {
	ctx := context.Background()
	_ = s.PublishChapter(ctx, chapter("algebra", "groups", 2))
	_ = s.PublishChapter(ctx, chapter("biology", "cells", 3))
	books, err := s.ListBooks(ctx)
	if err != nil {
		t.Fatalf("ListBooks: %v", err)
	}
	if len(books) != 2 || books[0].Name != "algebra" || books[1].Chunks != 3 {
		t.Fatalf("unexpected books: %+v", books)
	}
	n, err := s.DeleteBook(ctx, "algebra")
	if err != nil || n != 2 {
		t.Fatalf("DeleteBook: n=%d err=%v", n, err)
	}
	left, _ := s.ScanChunks(ctx, "")
	if len(left) != 3 {
		t.Errorf("expected 3 chunks left, got %d", len(left))
	}
}

func testClaimFIFO(t *testing.T, s Store) {
	ctx := context.Background()
	first, second := queued("first.pdf", 10), queued("second.pdf", 10)
	mustCreate(t, s, first, second)

	j := mustClaim(t, s)
	if j.ID != first.ID {
		t.Errorf("claimed %s, want the first job", j.Filename)
	}
	if j.Status() != academick.JobProcessing {
		t.Errorf("claimed status %s", j.Status())
	}
	if j = mustClaim(t, s); j.ID != second.ID {
		t.Errorf("claimed %s, want the second job", j.Filename)
	}
	if _, ok, err := s.ClaimNextJob(ctx, 100); ok || err != nil {
		t.Errorf("empty queue: ok=%v err=%v", ok, err)
	}
}

func testConcurrentClaim(t *testing.T, s Store) {
	ctx := context.Background()
	for i := range 10 {
		mustCreate(t, s, queued(fmt.Sprintf("%d.pdf", i), 1))
	}
	var (
		mu      sync.Mutex
		claimed = map[string]int{}
		wg      sync.WaitGroup
	)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				j, ok, err := s.ClaimNextJob(ctx, 2)
				if err != nil || !ok {
					return
				}
				mu.Lock()
				claimed[j.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if len(claimed) != 10 {
		t.Fatalf("claimed %d distinct jobs, want 10", len(claimed))
	}
	for id, n := range claimed {
		if n != 1 {
			t.Errorf("job %s claimed %d times", id, n)
		}
	}
}

func testUpdateGuards(t *testing.T, s Store) {
	ctx := context.Background()
	mustCreate(t, s, queued("a.pdf", 1))
	j := mustClaim(t, s)

	progress := academick.Processing{Stage: academick.StageChunking, Strategy: "llm", ChaptersTotal: 4, ChaptersProcessed: 2, Warnings: []string{"w1"}}
	if err := s.UpdateJob(ctx, j.ID, progress, 5); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}
	got, _ := s.GetJob(ctx, j.ID)
	snap := got.Snapshot()
	if snap.ChaptersProcessed != 2 || snap.Stage != academick.StageChunking || snap.Warning != "w1" {
		t.Errorf("unexpected snapshot: %+v", snap)
	}

	progress.ChaptersProcessed = 1
	if err := s.UpdateJob(ctx, j.ID, progress, 6); err == nil {
		t.Error("decreasing chapters_processed accepted")
	}
	if err := s.UpdateJob(ctx, j.ID, academick.Queued{}, 6); err == nil {
		t.Error("processing -> queued accepted")
	}

	done := academick.Completed{Strategy: "llm", ChaptersTotal: 4, ChaptersProcessed: 4, FinishedAt: 7}
	if err := s.UpdateJob(ctx, j.ID, done, 7); err != nil {
		t.Fatalf("complete: %v", err)
	}
	err := s.UpdateJob(ctx, j.ID, academick.Failed{Error: "late", ChaptersTotal: 4, ChaptersProcessed: 4}, 8)
	if !errors.Is(err, academick.ErrJobTerminal) {
		t.Errorf("update after terminal: err=%v, want ErrJobTerminal", err)
	}
	got, _ = s.GetJob(ctx, j.ID)
	if got.Status() != academick.JobCompleted {
		t.Errorf("terminal job changed to %s", got.Status())
	}
}

func testCancelQueued(t *testing.T, s Store) {
	ctx := context.Background()
	job := queued("a.pdf", 1)
	mustCreate(t, s, job)
	status, err := s.RequestCancel(ctx, job.ID, 3)
	if err != nil || status != academick.JobCancelled {
		t.Fatalf("RequestCancel: status=%s err=%v", status, err)
	}
	got, _ := s.GetJob(ctx, job.ID)
	snap := got.Snapshot()
	if snap.Status != academick.JobCancelled || snap.ChaptersProcessed != 0 || snap.FinishedAt != 3 {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
	if _, ok, _ := s.ClaimNextJob(ctx, 4); ok {
		t.Error("cancelled job was claimed")
	}
}

func testCancelProcessing(t *testing.T, s Store) {
	ctx := context.Background()
	mustCreate(t, s, queued("a.pdf", 1))
	j := mustClaim(t, s)
	if flag, _ := s.CancelRequested(ctx, j.ID); flag {
		t.Fatal("fresh job already flagged")
	}
	status, err := s.RequestCancel(ctx, j.ID, 3)
	if err != nil || status != academick.JobProcessing {
		t.Fatalf("RequestCancel: status=%s err=%v", status, err)
	}
	if flag, _ := s.CancelRequested(ctx, j.ID); !flag {
		t.Error("cancel flag not set")
	}
	got, _ := s.GetJob(ctx, j.ID)
	if got.Status() != academick.JobProcessing {
		t.Errorf("processing job status changed to %s before the worker saw the flag", got.Status())
	}
}

func testCancelTerminal(t *testing.T, s Store) {
	ctx := context.Background()
	mustCreate(t, s, queued("a.pdf", 1))
	j := mustClaim(t, s)
	_ = s.UpdateJob(ctx, j.ID, academick.Failed{Error: "boom", Stage: academick.StageEmbedding, FinishedAt: 2}, 2)
	status, err := s.RequestCancel(ctx, j.ID, 3)
	if !errors.Is(err, academick.ErrJobTerminal) || status != academick.JobFailed {
		t.Errorf("RequestCancel on failed job: status=%s err=%v", status, err)
	}
}

func testDismiss(t *testing.T, s Store) {
	ctx := context.Background()
	active, done := queued("active.pdf", 1), queued("done.pdf", 1)
	mustCreate(t, s, active)
	if err := s.DismissJob(ctx, active.ID); !errors.Is(err, academick.ErrJobNotTerminal) {
		t.Errorf("dismiss active: err=%v, want ErrJobNotTerminal", err)
	}
	mustCreate(t, s, done)
	_, _ = s.RequestCancel(ctx, done.ID, 2)
	if err := s.DismissJob(ctx, done.ID); err != nil {
		t.Fatalf("DismissJob: %v", err)
	}
	visible, _ := s.ListJobs(ctx, academick.JobFilter{})
	if len(visible) != 1 || visible[0].ID != active.ID {
		t.Errorf("visible jobs = %d, want only the active one", len(visible))
	}
	all, _ := s.ListJobs(ctx, academick.JobFilter{IncludeHidden: true})
	if len(all) != 2 {
		t.Errorf("all jobs = %d, want 2", len(all))
	}
}

func testExpireTTL(t *testing.T, s Store) {
	ctx := context.Background()
	old, recent, running := queued("old.pdf", 1), queued("recent.pdf", 1), queued("running.pdf", 1)
	mustCreate(t, s, old, recent, running)
	_, _ = s.RequestCancel(ctx, old.ID, 100)
	_, _ = s.RequestCancel(ctx, recent.ID, 900)
	_ = mustClaim(t, s)

	n, err := s.ExpireJobs(ctx, 500, 10)
	if err != nil || n != 1 {
		t.Fatalf("ExpireJobs: n=%d err=%v", n, err)
	}
	visible, _ := s.ListJobs(ctx, academick.JobFilter{})
	if len(visible) != 2 {
		t.Fatalf("visible = %d, want 2", len(visible))
	}
	for _, j := range visible {
		if j.ID == old.ID {
			t.Error("expired job still listed")
		}
	}
}

func testExpireCap(t *testing.T, s Store) {
	ctx := context.Background()
	var ids []string
	for i := range 12 {
		j := queued(fmt.Sprintf("%d.pdf", i), 1)
		mustCreate(t, s, j)
		_, _ = s.RequestCancel(ctx, j.ID, int64(100+i))
		ids = append(ids, j.ID)
	}
	mustCreate(t, s, queued("active.pdf", 1))

	n, err := s.ExpireJobs(ctx, 0, 10)
	if err != nil || n != 3 {
		t.Fatalf("ExpireJobs: n=%d err=%v", n, err)
	}
	visible, _ := s.ListJobs(ctx, academick.JobFilter{})
	if len(visible) != 10 {
		t.Fatalf("visible = %d, want 10", len(visible))
	}
	for _, j := range visible {
		if j.ID == ids[0] || j.ID == ids[1] || j.ID == ids[2] {
			t.Errorf("oldest terminal job %s not evicted", j.Filename)
		}
	}
}

func testNotFound(t *testing.T, s Store) {
	ctx := context.Background()
	if _, err := s.GetJob(ctx, "nope"); !errors.Is(err, academick.ErrJobNotFound) {
		t.Errorf("GetJob: %v", err)
	}
	if _, err := s.RequestCancel(ctx, "nope", 1); !errors.Is(err, academick.ErrJobNotFound) {
		t.Errorf("RequestCancel: %v", err)
	}
	if err := s.DismissJob(ctx, "nope"); !errors.Is(err, academick.ErrJobNotFound) {
		t.Errorf("DismissJob: %v", err)
	}
}
