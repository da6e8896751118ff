package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/lemonstate/internal/engine"
)

// Span names.
const (
	SpanPass = "lemonstate.pass"
	SpanRead = "lemonstate.read"
)

const instrumentationName = "github.com/roach88/lemonstate/internal/telemetry"

// Tracer is an engine.Observer that opens one span per propagation pass.
// Nested passes become child spans; recomputations are span events.
type Tracer struct {
	tracer trace.Tracer
	stack  []trace.Span
}

// NewTracer creates a Tracer from tp.
func NewTracer(tp trace.TracerProvider) *Tracer {
	return &Tracer{tracer: tp.Tracer(instrumentationName)}
}

func (t *Tracer) parent() context.Context {
	ctx := context.Background()
	if n := len(t.stack); n > 0 {
		ctx = trace.ContextWithSpan(ctx, t.stack[n-1])
	}
	return ctx
}

func (t *Tracer) pop() trace.Span {
	n := len(t.stack)
	if n == 0 {
		return nil
	}
	span := t.stack[n-1]
	t.stack = t.stack[:n-1]
	return span
}

// PassStarted implements engine.Observer.
func (t *Tracer) PassStarted(seeds int) {
	_, span := t.tracer.Start(t.parent(), SpanPass,
		trace.WithAttributes(attribute.Int("lemonstate.seeds", seeds)))
	t.stack = append(t.stack, span)
}

// Recomputed implements engine.Observer.
func (t *Tracer) Recomputed(ref engine.ValueRef) {
	if len(t.stack) == 0 {
		return
	}
	t.stack[len(t.stack)-1].AddEvent("recompute", trace.WithAttributes(
		attribute.String("lemonstate.value", ref.Name),
		attribute.String("lemonstate.store", ref.Store),
	))
}

// PassCompleted implements engine.Observer.
func (t *Tracer) PassCompleted(stats engine.PassStats) {
	span := t.pop()
	if span == nil {
		return
	}
	span.SetAttributes(
		attribute.Int("lemonstate.recomputed", stats.Recomputed),
		attribute.Int("lemonstate.changed", stats.Changed),
		attribute.Int("lemonstate.stores", stats.Stores),
	)
	span.SetStatus(codes.Ok, "")
	span.End()
}

// PassFailed implements engine.Observer.
func (t *Tracer) PassFailed(err error) {
	span := t.pop()
	if span == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.End()
}

// Failed implements engine.Observer. Reads fail outside passes, so the
// failure gets a span of its own.
func (t *Tracer) Failed(err error) {
	_, span := t.tracer.Start(t.parent(), SpanRead)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.End()
}
