package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/academick/academick"
)

// --- fakes ---

type fakeJobs struct {
	jobs      map[string]academick.JobSnapshot
	submitted []string // "filename|book"
	listErr   error
}

func newFakeJobs() *fakeJobs { return &fakeJobs{jobs: map[string]academick.JobSnapshot{}} }

func (f *fakeJobs) SubmitAs(_ context.Context, filename, book string, r io.Reader) (academick.JobSnapshot, error) {
	body, _ := io.ReadAll(r)
	if !bytes.HasPrefix(body, []byte("%PDF")) {
		return academick.JobSnapshot{}, fmt.Errorf("%w: missing PDF header", academick.ErrInvalidUpload)
	}
	f.submitted = append(f.submitted, filename+"|"+book)
	snap := academick.JobSnapshot{ID: fmt.Sprintf("job-%d", len(f.jobs)+1), Filename: filename, Status: academick.JobQueued}
	f.jobs[snap.ID] = snap
	return snap, nil
}

func (f *fakeJobs) Get(_ context.Context, id string) (academick.JobSnapshot, error) {
	snap, ok := f.jobs[id]
	if !ok {
		return academick.JobSnapshot{}, academick.ErrJobNotFound
	}
	return snap, nil
}

func (f *fakeJobs) List(context.Context) ([]academick.JobSnapshot, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []academick.JobSnapshot
	for _, s := range f.jobs {
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeJobs) Cancel(ctx context.Context, id string) (academick.JobSnapshot, error) {
	snap, err := f.Get(ctx, id)
	if err != nil {
		return snap, err
	}
	if snap.Status.Terminal() {
		return academick.JobSnapshot{}, academick.ErrJobTerminal
	}
	snap.Status = academick.JobCancelled
	f.jobs[id] = snap
	return snap, nil
}

func (f *fakeJobs) Dismiss(ctx context.Context, id string) error {
	snap, err := f.Get(ctx, id)
	if err != nil {
		return err
	}
	if !snap.Status.Terminal() {
		return academick.ErrJobNotTerminal
	}
	delete(f.jobs, id)
	return nil
}

type fakeSearch struct {
	got         academick.SearchRequest
	invalidated int
}

func (f *fakeSearch) Search(_ context.Context, req academick.SearchRequest) (academick.SearchResponse, error) {
	f.got = req
	if strings.TrimSpace(req.Query) == "" {
		return academick.SearchResponse{}, academick.ErrEmptyQuery
	}
	return academick.SearchResponse{
		Results: []academick.SearchResult{{Chunk: academick.ChunkRecord{ID: "c1", Book: "ml"}, Score: 0.9}},
		Intent:  academick.IntentQA,
		Weights: academick.WeightsFor(academick.IntentQA),
	}, nil
}

func (f *fakeSearch) InvalidateCache(context.Context) error {
	f.invalidated++
	return nil
}

type fakeLibrary struct {
	books   map[string]int
	deleted []string
}

func (f *fakeLibrary) ListBooks(context.Context) ([]academick.BookInfo, error) {
	var out []academick.BookInfo
	for name, n := range f.books {
		out = append(out, academick.BookInfo{Name: name, Chunks: n})
	}
	return out, nil
}

func (f *fakeLibrary) DeleteBook(_ context.Context, book string) (int, error) {
	n := f.books[book]
	delete(f.books, book)
	f.deleted = append(f.deleted, book)
	return n, nil
}

type fixture struct {
	jobs    *fakeJobs
	search  *fakeSearch
	library *fakeLibrary
	srv     *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		jobs:    newFakeJobs(),
		search:  &fakeSearch{},
		library: &fakeLibrary{books: map[string]int{"Deep Learning": 12}},
	}
	f.srv = httptest.NewServer(New(f.jobs, f.search, f.library).Handler())
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path, contentType string, body io.Reader) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, body)
	if err != nil {
		t.Fatal(err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

func multipartBody(t *testing.T, book string, files map[string][]byte) (string, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if book != "" {
		mw.WriteField("book", book)
	}
	for name, data := range files {
		w, err := mw.CreateFormFile("files", name)
		if err != nil {
			t.Fatal(err)
		}
		w.Write(data)
	}
	mw.Close()
	return mw.FormDataContentType(), &buf
}

// --- tests ---

func TestHealth(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, http.MethodGet, "/healthz", "", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "ok") {
		t.Errorf("status %d body %s", resp.StatusCode, body)
	}
}

func TestUploadPerFileResults(t *testing.T) {
	f := newFixture(t)
	ct, body := multipartBody(t, "Algebra", map[string][]byte{
		"good.pdf": []byte("%PDF-1.7 ..."),
		"bad.pdf":  []byte("not a pdf"),
	})
	resp, data := f.do(t, http.MethodPost, "/api/uploads", ct, body)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", resp.StatusCode, data)
	}

	var out struct {
		Uploads []UploadResult `json:"uploads"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Uploads) != 2 {
		t.Fatalf("uploads = %+v", out.Uploads)
	}
	for _, u := range out.Uploads {
		switch u.Filename {
		case "good.pdf":
			if u.JobID == "" || u.Status != academick.JobQueued || u.Error != "" {
				t.Errorf("good upload = %+v", u)
			}
		case "bad.pdf":
			if u.JobID != "" || !strings.Contains(u.Error, "invalid upload") {
				t.Errorf("bad upload = %+v", u)
			}
		}
	}
	if len(f.jobs.submitted) != 1 || f.jobs.submitted[0] != "good.pdf|Algebra" {
		t.Errorf("submitted = %v", f.jobs.submitted)
	}
}

func TestUploadAllRejected(t *testing.T) {
	f := newFixture(t)
	ct, body := multipartBody(t, "", map[string][]byte{"x.pdf": []byte("zip")})
	resp, _ := f.do(t, http.MethodPost, "/api/uploads", ct, body)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestUploadRequiresMultipart(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.do(t, http.MethodPost, "/api/uploads", "application/json", strings.NewReader(`{}`))
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestJobEndpoints(t *testing.T) {
	f := newFixture(t)
	f.jobs.jobs["q"] = academick.JobSnapshot{ID: "q", Status: academick.JobQueued}
	f.jobs.jobs["done"] = academick.JobSnapshot{ID: "done", Status: academick.JobCompleted}

	tests := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{"list", http.MethodGet, "/api/jobs", http.StatusOK},
		{"get", http.MethodGet, "/api/jobs/q", http.StatusOK},
		{"get unknown", http.MethodGet, "/api/jobs/nope", http.StatusNotFound},
		{"dismiss active", http.MethodPost, "/api/jobs/q/dismiss", http.StatusConflict},
		{"cancel terminal", http.MethodPost, "/api/jobs/done/cancel", http.StatusConflict},
		{"cancel unknown", http.MethodPost, "/api/jobs/nope/cancel", http.StatusNotFound},
		{"cancel queued", http.MethodPost, "/api/jobs/q/cancel", http.StatusOK},
		{"dismiss cancelled", http.MethodPost, "/api/jobs/q/dismiss", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := f.do(t, tt.method, tt.path, "", nil)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d (body %s)", resp.StatusCode, tt.want, body)
			}
		})
	}
}

func TestListJobsInternalErrorHidesDetail(t *testing.T) {
	f := newFixture(t)
	f.jobs.listErr = errors.New("database is locked")
	resp, body := f.do(t, http.MethodGet, "/api/jobs", "", nil)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if strings.Contains(string(body), "locked") {
		t.Errorf("internal error leaked: %s", body)
	}
}

func TestSearch(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, http.MethodPost, "/api/search", "application/json",
		strings.NewReader(`{"query":"what is backprop","book":"Deep Learning","top_n":3}`))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d body %s", resp.StatusCode, body)
	}
	if f.search.got.Book != "Deep Learning" || f.search.got.TopN != 3 {
		t.Errorf("request = %+v", f.search.got)
	}
	var out academick.SearchResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Results) != 1 || out.Intent != academick.IntentQA {
		t.Errorf("response = %+v", out)
	}
}

func TestSearchBadInput(t *testing.T) {
	f := newFixture(t)
	for _, body := range []string{`{"query":""}`, `{not json`, `{"query":"x","top_n":-1}`} {
		resp, data := f.do(t, http.MethodPost, "/api/search", "application/json", strings.NewReader(body))
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d body %s", body, resp.StatusCode, data)
		}
	}
}

func TestBooks(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, http.MethodGet, "/api/books", "", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"Deep Learning"`) {
		t.Fatalf("list: %d %s", resp.StatusCode, body)
	}

	resp, body = f.do(t, http.MethodDelete, "/api/books/Deep%20Learning", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete: %d %s", resp.StatusCode, body)
	}
	if !strings.Contains(string(body), `"deleted_chunks":12`) {
		t.Errorf("delete body = %s", body)
	}
	if len(f.library.deleted) != 1 || f.library.deleted[0] != "Deep Learning" {
		t.Errorf("deleted = %v", f.library.deleted)
	}
	if f.search.invalidated != 1 {
		t.Errorf("cache invalidated %d times, want 1", f.search.invalidated)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrap: %w", academick.ErrInvalidUpload), http.StatusBadRequest},
		{academick.ErrEmptyQuery, http.StatusBadRequest},
		{academick.ErrJobNotFound, http.StatusNotFound},
		{academick.ErrJobTerminal, http.StatusConflict},
		{academick.ErrJobNotTerminal, http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
