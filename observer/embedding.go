package observer

import (
	"context"
	"time"

	"github.com/academick/academick"

	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedEmbedder wraps an academick.Embedder with OTEL instrumentation.
type ObservedEmbedder struct {
	inner academick.Embedder
	inst  *Instruments
	model string
}

var _ academick.Embedder = (*ObservedEmbedder)(nil)

// WrapEmbedder returns an instrumented embedder.
func WrapEmbedder(inner academick.Embedder, model string, inst *Instruments) *ObservedEmbedder {
	return &ObservedEmbedder{inner: inner, inst: inst, model: model}
}

func (o *ObservedEmbedder) Name() string { return o.inner.Name() }

func (o *ObservedEmbedder) Embed(ctx context.Context, texts []string) ([]academick.Embedding, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "embed", trace.WithAttributes(
		AttrLLMModel.String(o.model),
		AttrLLMProvider.String(o.inner.Name()),
		AttrEmbedTextCount.Int(len(texts)),
	))
	defer span.End()
	start := time.Now()

	result, err := o.inner.Embed(ctx, texts)

	durationMs := float64(time.Since(start).Milliseconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	sparse := len(result) > 0 && result[0].Sparse != nil
	span.SetAttributes(AttrEmbedSparse.Bool(sparse))

	model := AttrLLMModel.String(o.model)
	provider := AttrLLMProvider.String(o.inner.Name())
	o.inst.EmbedRequests.Add(ctx, 1, metric.WithAttributes(model, provider, AttrStatus.String(statusOf(err))))
	o.inst.EmbedTexts.Add(ctx, int64(len(texts)), metric.WithAttributes(model, provider))
	o.inst.EmbedDuration.Record(ctx, durationMs, metric.WithAttributes(model, provider))

	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("embedding completed"))
	rec.AddAttributes(
		otellog.String("llm.model", o.model),
		otellog.String("llm.provider", o.inner.Name()),
		otellog.Int("embed.text_count", len(texts)),
		otellog.Bool("embed.sparse", sparse),
		otellog.Float64("llm.duration_ms", durationMs),
		otellog.String("status", statusOf(err)),
	)
	o.inst.Logger.Emit(ctx, rec)

	return result, err
}
