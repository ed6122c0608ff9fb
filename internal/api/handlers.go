package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/academick/academick"
)

// UploadResult reports one file of a multipart upload.
type UploadResult struct {
	Filename string              `json:"filename"`
	JobID    string              `json:"job_id,omitempty"`
	Status   academick.JobStatus `json:"status,omitempty"`
	Error    string              `json:"error,omitempty"`
}

// handleUpload accepts multipart "files" plus an optional "book" field.
// Every file is validated and queued independently.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(s.maxMemory); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "expected multipart form: " + err.Error()})
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: `no files in field "files"`})
		return
	}
	book := r.FormValue("book")

	results := make([]UploadResult, 0, len(files))
	accepted := 0
	for _, fh := range files {
		res := UploadResult{Filename: fh.Filename}
		f, err := fh.Open()
		if err != nil {
			res.Error = err.Error()
			results = append(results, res)
			continue
		}
		snap, err := s.jobs.SubmitAs(r.Context(), fh.Filename, book, f)
		f.Close()
		if err != nil {
			if statusFor(err) == http.StatusInternalServerError {
				s.logger.Error("submit upload", "filename", fh.Filename, "error", err)
			}
			res.Error = err.Error()
		} else {
			res.JobID, res.Status = snap.ID, snap.Status
			accepted++
		}
		results = append(results, res)
	}

	status := http.StatusAccepted
	if accepted == 0 {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]any{"uploads": results})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.jobs.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []academick.JobSnapshot{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	snap, err := s.jobs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	snap, err := s.jobs.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleDismissJob(w http.ResponseWriter, r *http.Request) {
	if err := s.jobs.Dismiss(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req academick.SearchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}
	if req.TopN < 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "top_n must not be negative"})
		return
	}
	resp, err := s.search.Search(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if resp.Results == nil {
		resp.Results = []academick.SearchResult{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListBooks(w http.ResponseWriter, r *http.Request) {
	books, err := s.library.ListBooks(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if books == nil {
		books = []academick.BookInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"books": books})
}

func (s *Server) handleDeleteBook(w http.ResponseWriter, r *http.Request) {
	book := chi.URLParam(r, "book")
	if u, err := url.PathUnescape(book); err == nil {
		book = u
	}
	book = strings.TrimSpace(book)
	if book == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "book is required"})
		return
	}
	n, err := s.library.DeleteBook(r.Context(), book)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.search.InvalidateCache(r.Context()); err != nil {
		s.logger.Warn("invalidate search cache", "book", book, "error", err)
	}
	s.logger.Info("book deleted", "book", book, "chunks", n)
	writeJSON(w, http.StatusOK, map[string]any{"book": book, "deleted_chunks": n})
}
