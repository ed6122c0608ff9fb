// Package api serves the HTTP interface: uploads, job tracking, search and
// book management.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/academick/academick"
)

// Jobs is the job coordinator surface the API needs. *jobs.Coordinator
// implements it.
type Jobs interface {
	SubmitAs(ctx context.Context, filename, book string, r io.Reader) (academick.JobSnapshot, error)
	Get(ctx context.Context, id string) (academick.JobSnapshot, error)
	List(ctx context.Context) ([]academick.JobSnapshot, error)
	Cancel(ctx context.Context, id string) (academick.JobSnapshot, error)
	Dismiss(ctx context.Context, id string) error
}

// Searcher runs queries. *academick.HybridSearchEngine implements it.
type Searcher interface {
	Search(ctx context.Context, req academick.SearchRequest) (academick.SearchResponse, error)
	InvalidateCache(ctx context.Context) error
}

// Library lists and deletes books.
type Library interface {
	ListBooks(ctx context.Context) ([]academick.BookInfo, error)
	DeleteBook(ctx context.Context, book string) (int, error)
}

// Server holds the API dependencies.
type Server struct {
	jobs      Jobs
	search    Searcher
	library   Library
	logger    *slog.Logger
	maxMemory int64
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMultipartMemory sets how much of a multipart upload is held in
// memory before spilling to temp files. Default: 32 MB.
func WithMultipartMemory(n int64) Option {
	return func(s *Server) { s.maxMemory = n }
}

// New creates a Server.
func New(jobs Jobs, search Searcher, library Library, opts ...Option) *Server {
	s := &Server{
		jobs:      jobs,
		search:    search,
		library:   library,
		logger:    academick.NopLogger,
		maxMemory: 32 << 20,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Post("/uploads", s.handleUpload)

		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/{id}", s.handleGetJob)
		r.Post("/jobs/{id}/cancel", s.handleCancelJob)
		r.Post("/jobs/{id}/dismiss", s.handleDismissJob)

		r.Post("/search", s.handleSearch)

		r.Get("/books", s.handleListBooks)
		r.Delete("/books/{book}", s.handleDeleteBook)
	})
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"request_id", middleware.GetReqID(r.Context()),
			"duration", time.Since(start))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- helpers ---

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps domain errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, academick.ErrInvalidUpload), errors.Is(err, academick.ErrEmptyQuery):
		return http.StatusBadRequest
	case errors.Is(err, academick.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, academick.ErrJobTerminal), errors.Is(err, academick.ErrJobNotTerminal):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		msg = "internal error"
	}
	writeJSON(w, status, errorBody{Error: msg})
}
