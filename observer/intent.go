package observer

import (
	"context"
	"time"

	"github.com/academick/academick"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedIntent wraps an academick.IntentClassifier with OTEL instrumentation.
type ObservedIntent struct {
	inner academick.IntentClassifier
	inst  *Instruments
}

var _ academick.IntentClassifier = (*ObservedIntent)(nil)

// WrapIntent returns an instrumented intent classifier.
func WrapIntent(inner academick.IntentClassifier, inst *Instruments) *ObservedIntent {
	return &ObservedIntent{inner: inner, inst: inst}
}

func (o *ObservedIntent) Name() string { return o.inner.Name() }

func (o *ObservedIntent) Classify(ctx context.Context, text string) (academick.IntentCategory, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "intent.classify", trace.WithAttributes(
		AttrLLMProvider.String(o.inner.Name()),
	))
	defer span.End()
	start := time.Now()

	intent, err := o.inner.Classify(ctx, text)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(AttrIntent.String(string(intent)))
	}
	o.inst.IntentRequests.Add(ctx, 1, metric.WithAttributes(
		AttrLLMProvider.String(o.inner.Name()),
		AttrIntent.String(string(intent)),
		AttrStatus.String(statusOf(err)),
	))
	o.inst.IntentDuration.Record(ctx, float64(time.Since(start).Milliseconds()),
		metric.WithAttributes(AttrLLMProvider.String(o.inner.Name())))
	return intent, err
}
