package jobs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/academick/academick"
	"github.com/academick/academick/ingest"
	"github.com/academick/academick/store/sqlite"
)

// --- test doubles ---

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock { return &clock{t: time.Unix(1_700_000_000, 0)} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// pipelineFunc adapts a function to Pipeline.
type pipelineFunc func(ctx context.Context, job academick.Job, p ingest.Progress) (ingest.Result, error)

func (f pipelineFunc) Run(ctx context.Context, job academick.Job, p ingest.Progress) (ingest.Result, error) {
	return f(ctx, job, p)
}

type fakeDoc struct {
	toc   []ingest.TOCEntry
	pages []string
}

func (d *fakeDoc) TOC(context.Context) ([]ingest.TOCEntry, error) { return d.toc, nil }
func (d *fakeDoc) NumPages() int                                   { return len(d.pages) }
func (d *fakeDoc) PageText(n int) (string, error) {
	if n < 1 || n > len(d.pages) {
		return "", fmt.Errorf("page %d out of range", n)
	}
	return d.pages[n-1], nil
}

// docPipeline ingests a fixed document for every job.
func docPipeline(ing *ingest.Ingestor, doc ingest.Document) Pipeline {
	return pipelineFunc(func(ctx context.Context, job academick.Job, p ingest.Progress) (ingest.Result, error) {
		return ing.Ingest(ctx, doc, job.Book, p)
	})
}

var vocab = []string{"gradient", "descent", "tree", "forest", "vector", "matrix"}

// wordEmbedder embeds texts as vocabulary counts.
type wordEmbedder struct {
	gate    chan struct{} // when non-nil, each call waits for a value
	started chan struct{}
}

func (e *wordEmbedder) Embed(ctx context.Context, texts []string) ([]academick.Embedding, error) {
	if e.started != nil {
		select {
		case e.started <- struct{}{}:
		default:
		}
	}
	if e.gate != nil {
		select {
		case <-e.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	out := make([]academick.Embedding, len(texts))
	for i, t := range texts {
		lower := strings.ToLower(t)
		dense := make([]float32, len(vocab))
		sparse := map[string]float32{}
		for j, w := range vocab {
			n := float32(strings.Count(lower, w))
			dense[j] = n
			if n > 0 {
				sparse[w] = float32(math.Log1p(float64(n)))
			}
		}
		out[i] = academick.Embedding{Dense: dense, Sparse: sparse}
	}
	return out, nil
}

func (e *wordEmbedder) Name() string { return "words" }

func page(topic string) string {
	var b strings.Builder
	for b.Len() < 800 {
		fmt.Fprintf(&b, "This section about %s explains how the %s idea is used in practice and why it matters for learners ", topic, topic)
	}
	return b.String() + "today."
}

func book() *fakeDoc {
	return &fakeDoc{
		toc: []ingest.TOCEntry{
			{Title: "Chapter 1 Gradient Descent", Page: 1},
			{Title: "Chapter 2 Decision Trees", Page: 2},
			{Title: "Chapter 3 Linear Algebra", Page: 3},
		},
		pages: []string{page("gradient descent"), page("decision tree forest"), page("vector matrix")},
	}
}

func testStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s := sqlite.New(filepath.Join(t.TempDir(), "jobs.db"))
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func pdfBytes() []byte { return []byte("%PDF-1.7\nfake body") }

func startCoordinator(t *testing.T, c *Coordinator) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Start returned %v", err)
		}
	})
}

func waitTerminal(t *testing.T, c *Coordinator, id string) academick.JobSnapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	snap, err := c.Watch(ctx, id, 10*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("Watch: %v (last %+v)", err, snap)
	}
	return snap
}

// --- tests ---

func TestSubmitRejectsInvalidUpload(t *testing.T) {
	store := testStore(t)
	c := New(store, pipelineFunc(nil), t.TempDir())
	ctx := context.Background()

	tests := []struct {
		name     string
		filename string
		body     []byte
	}{
		{"wrong extension", "notes.txt", pdfBytes()},
		{"bad header", "book.pdf", []byte("PK\x03\x04zip")},
		{"empty", "book.pdf", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Submit(ctx, tt.filename, bytes.NewReader(tt.body))
			if !errors.Is(err, academick.ErrInvalidUpload) {
				t.Errorf("err = %v, want ErrInvalidUpload", err)
			}
		})
	}
	jobs, _ := store.ListJobs(ctx, academick.JobFilter{IncludeHidden: true})
	if len(jobs) != 0 {
		t.Errorf("jobs created for invalid uploads: %d", len(jobs))
	}
}

func TestSubmitReturnsQueuedJob(t *testing.T) {
	c := New(testStore(t), pipelineFunc(nil), t.TempDir())
	snap, err := c.Submit(context.Background(), "/home/me/Deep Learning.pdf", bytes.NewReader(pdfBytes()))
	if err != nil {
		t.Fatal(err)
	}
	if snap.ID == "" || snap.Status != academick.JobQueued {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.Book != "Deep Learning" || snap.Filename != "Deep Learning.pdf" {
		t.Errorf("book = %q filename = %q", snap.Book, snap.Filename)
	}
}

func TestCancelQueuedJob(t *testing.T) {
	c := New(testStore(t), pipelineFunc(nil), t.TempDir())
	ctx := context.Background()
	snap, _ := c.Submit(ctx, "a.pdf", bytes.NewReader(pdfBytes()))

	got, err := c.Cancel(ctx, snap.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != academick.JobCancelled || got.ChaptersProcessed != 0 {
		t.Errorf("snapshot = %+v", got)
	}
	if _, err := c.Cancel(ctx, snap.ID); !errors.Is(err, academick.ErrJobTerminal) {
		t.Errorf("second cancel err = %v, want ErrJobTerminal", err)
	}
}

func TestWorkerCompletesJob(t *testing.T) {
	pipe := pipelineFunc(func(ctx context.Context, job academick.Job, p ingest.Progress) (ingest.Result, error) {
		_ = p.Update(ctx, ingest.ProgressUpdate{Stage: academick.StageChunking, Strategy: "llm", ChaptersTotal: 2})
		_ = p.Update(ctx, ingest.ProgressUpdate{Stage: academick.StageStoring, Strategy: "llm", ChaptersTotal: 2, ChaptersProcessed: 2})
		return ingest.Result{Strategy: "llm", ChaptersTotal: 2, ChaptersProcessed: 2, ChaptersSucceeded: 2}, nil
	})
	c := New(testStore(t), pipe, t.TempDir(), WithPollInterval(10*time.Millisecond))
	startCoordinator(t, c)

	snap, err := c.Submit(context.Background(), "a.pdf", bytes.NewReader(pdfBytes()))
	if err != nil {
		t.Fatal(err)
	}
	final := waitTerminal(t, c, snap.ID)
	if final.Status != academick.JobCompleted || final.ProgressPercent != 100 || final.Stage != academick.StageDone {
		t.Errorf("final = %+v", final)
	}
	if final.FinishedAt == 0 {
		t.Error("finished_at not set")
	}
}

func TestOnPublishedFiresOnlyWhenChunksStored(t *testing.T) {
	tests := []struct {
		name     string
		res      ingest.Result
		err      error
		wantCall bool
	}{
		{"completed with chunks", ingest.Result{ChaptersTotal: 1, ChaptersProcessed: 1, ChaptersSucceeded: 1, ChunksStored: 4}, nil, true},
		{"failed after one chapter", ingest.Result{ChaptersTotal: 2, ChaptersProcessed: 1, ChaptersSucceeded: 1, ChunksStored: 2}, errors.New("embedder down"), true},
		{"nothing stored", ingest.Result{ChaptersTotal: 1, ChaptersProcessed: 1}, academick.ErrNoChapterProcessed, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pipe := pipelineFunc(func(context.Context, academick.Job, ingest.Progress) (ingest.Result, error) {
				return tt.res, tt.err
			})
			called := make(chan string, 1)
			c := New(testStore(t), pipe, t.TempDir(),
				WithPollInterval(10*time.Millisecond),
				WithOnPublished(func(_ context.Context, job academick.Job) { called <- job.ID }),
			)
			startCoordinator(t, c)

			snap, err := c.Submit(context.Background(), "a.pdf", bytes.NewReader(pdfBytes()))
			if err != nil {
				t.Fatal(err)
			}
			waitTerminal(t, c, snap.ID)

			select {
			case id := <-called:
				if !tt.wantCall {
					t.Errorf("hook called for %s, want no call", id)
				} else if id != snap.ID {
					t.Errorf("hook job = %s, want %s", id, snap.ID)
				}
			case <-time.After(200 * time.Millisecond):
				if tt.wantCall {
					t.Error("hook not called")
				}
			}
		})
	}
}

func TestNoTOCJobFails(t *testing.T) {
	store := testStore(t)
	ing := ingest.NewIngestor(store, &wordEmbedder{})
	doc := &fakeDoc{pages: []string{page("anything")}}
	c := New(store, docPipeline(ing, doc), t.TempDir(), WithPollInterval(10*time.Millisecond))
	startCoordinator(t, c)

	snap, _ := c.Submit(context.Background(), "scan.pdf", bytes.NewReader(pdfBytes()))
	final := waitTerminal(t, c, snap.ID)
	if final.Status != academick.JobFailed {
		t.Fatalf("status = %s, want failed", final.Status)
	}
	if final.Error != "no table of contents found" {
		t.Errorf("error = %q", final.Error)
	}
}

func TestPanicFailsJob(t *testing.T) {
	pipe := pipelineFunc(func(context.Context, academick.Job, ingest.Progress) (ingest.Result, error) {
		panic("nil map write")
	})
	c := New(testStore(t), pipe, t.TempDir(), WithPollInterval(10*time.Millisecond))
	startCoordinator(t, c)

	snap, _ := c.Submit(context.Background(), "a.pdf", bytes.NewReader(pdfBytes()))
	final := waitTerminal(t, c, snap.ID)
	if final.Status != academick.JobFailed || !strings.Contains(final.Error, "nil map write") {
		t.Errorf("final = %+v", final)
	}
}

func TestFIFOWithOneWorker(t *testing.T) {
	var (
		mu    sync.Mutex
		order []string
	)
	pipe := pipelineFunc(func(_ context.Context, job academick.Job, _ ingest.Progress) (ingest.Result, error) {
		mu.Lock()
		order = append(order, job.Book)
		mu.Unlock()
		return ingest.Result{}, nil
	})
	c := New(testStore(t), pipe, t.TempDir(), WithWorkers(1), WithPollInterval(10*time.Millisecond))
	ctx := context.Background()
	var ids []string
	for _, name := range []string{"first", "second", "third"} {
		snap, err := c.Submit(ctx, name+".pdf", bytes.NewReader(pdfBytes()))
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, snap.ID)
	}
	startCoordinator(t, c)
	for _, id := range ids {
		waitTerminal(t, c, id)
	}
	mu.Lock()
	defer mu.Unlock()
	if strings.Join(order, ",") != "first,second,third" {
		t.Errorf("order = %v", order)
	}
}

func TestCancelAtChapterBoundary(t *testing.T) {
	store := testStore(t)
	emb := &wordEmbedder{gate: make(chan struct{}), started: make(chan struct{}, 1)}
	ing := ingest.NewIngestor(store, emb)
	c := New(store, docPipeline(ing, book()), t.TempDir(), WithPollInterval(10*time.Millisecond))
	startCoordinator(t, c)
	ctx := context.Background()

	snap, _ := c.Submit(ctx, "ml.pdf", bytes.NewReader(pdfBytes()))
	select {
	case <-emb.started:
	case <-time.After(10 * time.Second):
		t.Fatal("first chapter never reached embedding")
	}
	got, err := c.Cancel(ctx, snap.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != academick.JobProcessing || !got.CancelRequested {
		t.Errorf("after cancel request: %+v", got)
	}
	close(emb.gate) // let the in-flight chapter finish

	final := waitTerminal(t, c, snap.ID)
	if final.Status != academick.JobCancelled {
		t.Fatalf("status = %s, want cancelled", final.Status)
	}
	if final.ChaptersProcessed != 1 || final.ChaptersTotal != 3 {
		t.Errorf("chapters = %d/%d, want 1/3", final.ChaptersProcessed, final.ChaptersTotal)
	}
	chunks, _ := store.ScanChunks(ctx, "ml")
	for _, ch := range chunks {
		if ch.Chapter != "Chapter 1 Gradient Descent" {
			t.Errorf("chunk from chapter %q published after cancel", ch.Chapter)
		}
	}
	if len(chunks) == 0 {
		t.Error("in-flight chapter was not published")
	}
}

func TestListExpiresOldJobsButKeepsChunks(t *testing.T) {
	store := testStore(t)
	clk := newClock()
	ing := ingest.NewIngestor(store, &wordEmbedder{})
	c := New(store, docPipeline(ing, book()), t.TempDir(), WithPollInterval(10*time.Millisecond), WithClock(clk.Now))
	startCoordinator(t, c)
	ctx := context.Background()

	snap, _ := c.Submit(ctx, "ml.pdf", bytes.NewReader(pdfBytes()))
	if final := waitTerminal(t, c, snap.ID); final.Status != academick.JobCompleted {
		t.Fatalf("final = %+v", final)
	}
	listed, _ := c.List(ctx)
	if len(listed) != 1 {
		t.Fatalf("listed = %d, want 1", len(listed))
	}

	clk.Advance(DefaultTTL + time.Minute)
	listed, _ = c.List(ctx)
	if len(listed) != 0 {
		t.Errorf("listed = %d after TTL, want 0", len(listed))
	}
	chunks, _ := store.ScanChunks(ctx, "ml")
	if len(chunks) == 0 {
		t.Error("chunks removed with the expired job")
	}
}

func TestListCapsVisibleJobs(t *testing.T) {
	c := New(testStore(t), pipelineFunc(nil), t.TempDir())
	ctx := context.Background()
	for i := range 12 {
		snap, _ := c.Submit(ctx, fmt.Sprintf("%d.pdf", i), bytes.NewReader(pdfBytes()))
		if _, err := c.Cancel(ctx, snap.ID); err != nil {
			t.Fatal(err)
		}
	}
	listed, err := c.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(listed) != DefaultMaxVisible {
		t.Errorf("listed = %d, want %d", len(listed), DefaultMaxVisible)
	}
}

func TestDismiss(t *testing.T) {
	c := New(testStore(t), pipelineFunc(nil), t.TempDir())
	ctx := context.Background()
	active, _ := c.Submit(ctx, "a.pdf", bytes.NewReader(pdfBytes()))
	if err := c.Dismiss(ctx, active.ID); !errors.Is(err, academick.ErrJobNotTerminal) {
		t.Errorf("dismiss queued job: %v", err)
	}
	_, _ = c.Cancel(ctx, active.ID)
	if err := c.Dismiss(ctx, active.ID); err != nil {
		t.Fatal(err)
	}
	listed, _ := c.List(ctx)
	if len(listed) != 0 {
		t.Errorf("dismissed job still listed")
	}
}

func TestCompletedJobIsSearchable(t *testing.T) {
	store := testStore(t)
	emb := &wordEmbedder{}
	ing := ingest.NewIngestor(store, emb)
	c := New(store, docPipeline(ing, book()), t.TempDir(), WithPollInterval(10*time.Millisecond))
	startCoordinator(t, c)
	ctx := context.Background()

	snap, _ := c.Submit(ctx, "ml.pdf", bytes.NewReader(pdfBytes()))
	if final := waitTerminal(t, c, snap.ID); final.Status != academick.JobCompleted {
		t.Fatalf("final = %+v", final)
	}

	engine := academick.NewHybridSearchEngine(store, emb)
	resp, err := engine.Search(ctx, academick.SearchRequest{Query: "gradient descent"})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) == 0 {
		t.Fatal("no results")
	}
	if got := resp.Results[0].Chunk.Chapter; got != "Chapter 1 Gradient Descent" {
		t.Errorf("top result from %q", got)
	}
}

func TestFinalState(t *testing.T) {
	last := ingest.ProgressUpdate{Stage: academick.StageEmbedding, ChaptersTotal: 4, ChaptersProcessed: 2, Warnings: []string{"w"}}
	tests := []struct {
		name string
		err  error
		want academick.JobStatus
	}{
		{"success", nil, academick.JobCompleted},
		{"cancelled", academick.ErrCancellationRequested, academick.JobCancelled},
		{"failure", errors.New("boom"), academick.JobFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := finalState(last, ingest.Result{}, tt.err, false, 10)
			if st.Status() != tt.want {
				t.Fatalf("status = %s, want %s", st.Status(), tt.want)
			}
			snap := academick.Job{State: st}.Snapshot()
			if snap.ChaptersProcessed != 2 || snap.Warning != "w" || snap.FinishedAt != 10 {
				t.Errorf("snapshot = %+v", snap)
			}
		})
	}
	st := finalState(last, ingest.Result{}, errors.New("context canceled"), true, 10).(academick.Failed)
	if st.Stage != academick.StageEmbedding || !strings.HasPrefix(st.Error, "interrupted by shutdown") {
		t.Errorf("failed = %+v", st)
	}
}

func TestSubmitAsExplicitBook(t *testing.T) {
	c := New(testStore(t), pipelineFunc(nil), t.TempDir())
	snap, err := c.SubmitAs(context.Background(), "scan_0042.pdf", "  Linear Algebra ", bytes.NewReader(pdfBytes()))
	if err != nil {
		t.Fatal(err)
	}
	if snap.Book != "Linear Algebra" {
		t.Errorf("book = %q", snap.Book)
	}
}

func TestSubmitRespectsUploadLimit(t *testing.T) {
	dir := t.TempDir()
	c := New(testStore(t), pipelineFunc(nil), dir, WithMaxUploadSize(8))
	_, err := c.Submit(context.Background(), "big.pdf", bytes.NewReader(pdfBytes()))
	if !errors.Is(err, academick.ErrInvalidUpload) {
		t.Fatalf("err = %v, want ErrInvalidUpload", err)
	}
	matches, _ := filepath.Glob(filepath.Join(dir, "*.pdf"))
	if len(matches) != 0 {
		t.Errorf("rejected upload left on disk: %v", matches)
	}
}
