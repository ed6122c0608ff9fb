package academick

import (
	"errors"
	"fmt"
)

// ErrLLM is returned when a chat or classification collaborator fails in a
// way that is not an HTTP status error.
type ErrLLM struct {
	Provider string
	Message  string
}

func (e *ErrLLM) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// ErrHTTP carries a non-2xx response from an HTTP collaborator.
type ErrHTTP struct {
	Status int
	Body   string
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

var (
	// ErrNoTableOfContents is fatal for an ingestion job.
	ErrNoTableOfContents = errors.New("no table of contents found")
	// ErrNoChapterProcessed is returned when every chapter of a document
	// was skipped.
	ErrNoChapterProcessed = errors.New("no chapter could be processed")
	// ErrCancellationRequested signals a cooperative exit. It is not a failure.
	ErrCancellationRequested = errors.New("cancellation requested")

	ErrEmptyQuery     = errors.New("query is empty")
	ErrJobNotFound    = errors.New("job not found")
	ErrJobTerminal    = errors.New("job already finished")
	ErrJobNotTerminal = errors.New("job is still active")
	ErrInvalidUpload  = errors.New("invalid upload")
)

// ChapterSkippedError records a chapter whose embedding or storage failed.
// The job continues with the next chapter.
type ChapterSkippedError struct {
	Chapter string
	Stage   string
	Err     error
}

func (e *ChapterSkippedError) Error() string {
	return fmt.Sprintf("chapter %q skipped during %s: %v", e.Chapter, e.Stage, e.Err)
}

func (e *ChapterSkippedError) Unwrap() error { return e.Err }

// ChapterDetectionDegradedError records that the primary chapter detection
// strategy failed and a fallback produced the tree.
type ChapterDetectionDegradedError struct {
	Strategy string
	Err      error
}

func (e *ChapterDetectionDegradedError) Error() string {
	return fmt.Sprintf("chapter detection fell back to %s: %v", e.Strategy, e.Err)
}

func (e *ChapterDetectionDegradedError) Unwrap() error { return e.Err }
