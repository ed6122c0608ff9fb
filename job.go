package academick

import (
	"fmt"
	"strings"
)

// JobStatus is the lifecycle state of an ingestion job.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// CanTransition reports whether from → to is a legal job transition.
func CanTransition(from, to JobStatus) bool {
	switch from {
	case JobQueued:
		return to == JobProcessing || to == JobCancelled
	case JobProcessing:
		return to == JobCompleted || to == JobFailed || to == JobCancelled
	}
	return false
}

// Pipeline stages written to a processing job.
const (
	StageQueued        = "queued"
	StageExtractingTOC = "extracting_toc"
	StageChunking      = "chunking"
	StageEmbedding     = "embedding"
	StageStoring       = "storing"
	StageDone          = "done"
)

// JobState is the state-specific part of a job. Each implementation holds
// only the fields valid for its status.
type JobState interface {
	Status() JobStatus
	jobState()
}

// Queued is a job waiting for a worker.
type Queued struct{}

// Processing is a job owned by a worker.
type Processing struct {
	Stage             string
	Strategy          string
	ChaptersTotal     int
	ChaptersProcessed int
	Warnings          []string
}

// Completed is a job whose chapters were all handled.
type Completed struct {
	Strategy          string
	ChaptersTotal     int
	ChaptersProcessed int
	Warnings          []string
	FinishedAt        int64
}

// Failed is a job stopped by a fatal error.
type Failed struct {
	Error             string
	Stage             string
	ChaptersTotal     int
	ChaptersProcessed int
	Warnings          []string
	FinishedAt        int64
}

// Cancelled is a job stopped by a cancel request, either before dequeue or
// at a chapter boundary.
type Cancelled struct {
	ChaptersTotal     int
	ChaptersProcessed int
	Warnings          []string
	FinishedAt        int64
}

func (Queued) Status() JobStatus     { return JobQueued }
func (Processing) Status() JobStatus { return JobProcessing }
func (Completed) Status() JobStatus  { return JobCompleted }
func (Failed) Status() JobStatus     { return JobFailed }
func (Cancelled) Status() JobStatus  { return JobCancelled }

func (Queued) jobState()     {}
func (Processing) jobState() {}
func (Completed) jobState()  {}
func (Failed) jobState()     {}
func (Cancelled) jobState()  {}

// Job is one uploaded file moving through the ingestion pipeline.
type Job struct {
	ID              string
	Filename        string
	Book            string
	Source          string // path of the stored upload
	CreatedAt       int64
	UpdatedAt       int64
	Dismissed       bool
	CancelRequested bool
	State           JobState
}

// Status returns the job's current status.
func (j Job) Status() JobStatus {
	if j.State == nil {
		return JobQueued
	}
	return j.State.Status()
}

// JobSnapshot is the flat, serializable view of a job. Stores persist it
// and listings return it.
type JobSnapshot struct {
	ID                string    `json:"job_id"`
	Filename          string    `json:"filename"`
	Book              string    `json:"book"`
	Status            JobStatus `json:"status"`
	Stage             string    `json:"stage"`
	Strategy          string    `json:"strategy,omitempty"`
	ChaptersTotal     int       `json:"chapters_total"`
	ChaptersProcessed int       `json:"chapters_processed"`
	ProgressPercent   int       `json:"progress_percent"`
	Progress          string    `json:"progress"`
	Warnings          []string  `json:"warnings,omitempty"`
	Warning           string    `json:"warning,omitempty"`
	Error             string    `json:"error,omitempty"`
	CreatedAt         int64     `json:"created_at"`
	UpdatedAt         int64     `json:"updated_at"`
	FinishedAt        int64     `json:"finished_at,omitempty"`
	Dismissed         bool      `json:"dismissed"`
	CancelRequested   bool      `json:"cancel_requested"`
	Source            string    `json:"-"`
}

// Snapshot flattens the job for storage and display.
func (j Job) Snapshot() JobSnapshot {
	s := JobSnapshot{
		ID:              j.ID,
		Filename:        j.Filename,
		Book:            j.Book,
		Status:          j.Status(),
		CreatedAt:       j.CreatedAt,
		UpdatedAt:       j.UpdatedAt,
		Dismissed:       j.Dismissed,
		CancelRequested: j.CancelRequested,
		Source:          j.Source,
	}
	switch st := j.State.(type) {
	case nil, Queued:
		s.Stage = StageQueued
	case Processing:
		s.Stage = st.Stage
		s.Strategy = st.Strategy
		s.ChaptersTotal, s.ChaptersProcessed = st.ChaptersTotal, st.ChaptersProcessed
		s.Warnings = st.Warnings
	case Completed:
		s.Stage = StageDone
		s.Strategy = st.Strategy
		s.ChaptersTotal, s.ChaptersProcessed = st.ChaptersTotal, st.ChaptersProcessed
		s.Warnings = st.Warnings
		s.FinishedAt = st.FinishedAt
	case Failed:
		s.Stage = st.Stage
		s.Error = st.Error
		s.ChaptersTotal, s.ChaptersProcessed = st.ChaptersTotal, st.ChaptersProcessed
		s.Warnings = st.Warnings
		s.FinishedAt = st.FinishedAt
	case Cancelled:
		s.Stage = string(JobCancelled)
		s.ChaptersTotal, s.ChaptersProcessed = st.ChaptersTotal, st.ChaptersProcessed
		s.Warnings = st.Warnings
		s.FinishedAt = st.FinishedAt
	}
	s.ProgressPercent = progressPercent(s.Status, s.ChaptersProcessed, s.ChaptersTotal)
	s.Progress = progressLabel(s)
	s.Warning = strings.Join(s.Warnings, "; ")
	return s
}

// Job rebuilds the tagged job from a flat snapshot, rejecting field
// combinations that are illegal for the snapshot's status.
func (s JobSnapshot) Job() (Job, error) {
	j := Job{
		ID:              s.ID,
		Filename:        s.Filename,
		Book:            s.Book,
		Source:          s.Source,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
		Dismissed:       s.Dismissed,
		CancelRequested: s.CancelRequested,
	}
	if s.ChaptersProcessed > s.ChaptersTotal {
		return Job{}, fmt.Errorf("job %s: %d chapters processed of %d", s.ID, s.ChaptersProcessed, s.ChaptersTotal)
	}
	if s.Error != "" && s.Status != JobFailed {
		return Job{}, fmt.Errorf("job %s: error set on %s job", s.ID, s.Status)
	}
	switch s.Status {
	case JobQueued:
		if s.ChaptersProcessed != 0 {
			return Job{}, fmt.Errorf("job %s: queued job has processed chapters", s.ID)
		}
		j.State = Queued{}
	case JobProcessing:
		j.State = Processing{Stage: s.Stage, Strategy: s.Strategy, ChaptersTotal: s.ChaptersTotal, ChaptersProcessed: s.ChaptersProcessed, Warnings: s.Warnings}
	case JobCompleted:
		j.State = Completed{Strategy: s.Strategy, ChaptersTotal: s.ChaptersTotal, ChaptersProcessed: s.ChaptersProcessed, Warnings: s.Warnings, FinishedAt: s.FinishedAt}
	case JobFailed:
		if s.Error == "" {
			return Job{}, fmt.Errorf("job %s: failed job without error", s.ID)
		}
		j.State = Failed{Error: s.Error, Stage: s.Stage, ChaptersTotal: s.ChaptersTotal, ChaptersProcessed: s.ChaptersProcessed, Warnings: s.Warnings, FinishedAt: s.FinishedAt}
	case JobCancelled:
		j.State = Cancelled{ChaptersTotal: s.ChaptersTotal, ChaptersProcessed: s.ChaptersProcessed, Warnings: s.Warnings, FinishedAt: s.FinishedAt}
	default:
		return Job{}, fmt.Errorf("job %s: unknown status %q", s.ID, s.Status)
	}
	return j, nil
}

func progressPercent(status JobStatus, processed, total int) int {
	if status == JobCompleted {
		return 100
	}
	if total <= 0 {
		return 0
	}
	return processed * 100 / total
}

// progressLabel renders a human-readable position, e.g. "chapter 5 of 10 (chunking)".
func progressLabel(s JobSnapshot) string {
	switch s.Status {
	case JobQueued:
		return "queued"
	case JobProcessing:
		if s.ChaptersTotal == 0 {
			return s.Stage
		}
		current := s.ChaptersProcessed + 1
		if current > s.ChaptersTotal {
			current = s.ChaptersTotal
		}
		return fmt.Sprintf("chapter %d of %d (%s)", current, s.ChaptersTotal, s.Stage)
	case JobCompleted:
		return fmt.Sprintf("%d of %d chapters", s.ChaptersProcessed, s.ChaptersTotal)
	default:
		return string(s.Status)
	}
}
