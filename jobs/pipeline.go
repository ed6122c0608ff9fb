package jobs

import (
	"context"
	"log/slog"

	"github.com/academick/academick"
	"github.com/academick/academick/ingest"
	"github.com/academick/academick/ingest/pdf"
)

// PDFPipeline opens a job's stored upload and ingests it.
type PDFPipeline struct {
	ingestor *ingest.Ingestor
	logger   *slog.Logger
}

var _ Pipeline = (*PDFPipeline)(nil)

// NewPDFPipeline creates the production pipeline.
func NewPDFPipeline(ing *ingest.Ingestor, logger *slog.Logger) *PDFPipeline {
	if logger == nil {
		logger = academick.NopLogger
	}
	return &PDFPipeline{ingestor: ing, logger: logger}
}

// Run implements Pipeline.
func (p *PDFPipeline) Run(ctx context.Context, job academick.Job, progress ingest.Progress) (ingest.Result, error) {
	doc, err := pdf.OpenFile(job.Source, pdf.WithLogger(p.logger))
	if err != nil {
		return ingest.Result{}, err
	}
	return p.ingestor.Ingest(ctx, doc, job.Book, progress)
}
