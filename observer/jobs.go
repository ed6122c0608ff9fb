package observer

import (
	"context"
	"time"

	"github.com/academick/academick"
	"github.com/academick/academick/ingest"

	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
)

// JobMetrics records ingestion job outcomes. It satisfies jobs.Metrics.
type JobMetrics struct {
	inst *Instruments
}

// NewJobMetrics creates a job outcome recorder.
func NewJobMetrics(inst *Instruments) *JobMetrics {
	return &JobMetrics{inst: inst}
}

// JobFinished records one terminal job.
func (m *JobMetrics) JobFinished(ctx context.Context, status academick.JobStatus, d time.Duration, res ingest.Result) {
	attrs := metric.WithAttributes(
		AttrJobStatus.String(string(status)),
		AttrJobStrategy.String(res.Strategy),
	)
	m.inst.JobsFinished.Add(ctx, 1, attrs)
	m.inst.JobDuration.Record(ctx, float64(d.Milliseconds()), attrs)
	m.inst.ChunksStored.Add(ctx, int64(res.ChunksStored))
	m.inst.ChunksDropped.Add(ctx, int64(res.ChunksRejected))

	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	if status == academick.JobFailed {
		rec.SetSeverity(otellog.SeverityWarn)
	}
	rec.SetBody(otellog.StringValue("ingestion job finished"))
	rec.AddAttributes(
		otellog.String("job.status", string(status)),
		otellog.String("job.strategy", res.Strategy),
		otellog.Int("job.chapters_total", res.ChaptersTotal),
		otellog.Int("job.chapters_succeeded", res.ChaptersSucceeded),
		otellog.Int("job.chapters_skipped", res.ChaptersSkipped),
		otellog.Int("job.chunks_stored", res.ChunksStored),
		otellog.Float64("job.duration_ms", float64(d.Milliseconds())),
	)
	m.inst.Logger.Emit(ctx, rec)
}
