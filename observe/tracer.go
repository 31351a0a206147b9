package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// RequestMeta identifies one logical request for telemetry purposes.
type RequestMeta struct {
	Method string // HTTP method
	Path   string // request path, unexpanded
}

// SpanName returns the deterministic span name for this request.
// Format: http.client.<METHOD>
func (m RequestMeta) SpanName() string {
	return "http.client." + m.Method
}

// Tracer wraps OpenTelemetry tracing with request-scoped span
// management.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: EndSpan must be best-effort and must not panic.
type Tracer interface {
	// StartSpan starts a new span for one logical request.
	StartSpan(ctx context.Context, meta RequestMeta) (context.Context, trace.Span)

	// EndSpan ends the span, recording the final status.
	EndSpan(span trace.Span, statusCode int, err error)
}

// tracerImpl is the concrete implementation of Tracer.
type tracerImpl struct {
	tracer trace.Tracer
}

// NewTracer creates a Tracer wrapping the given OpenTelemetry tracer.
func NewTracer(t trace.Tracer) Tracer {
	return &tracerImpl{tracer: t}
}

// StartSpan starts a new span with the request as attributes.
func (t *tracerImpl) StartSpan(ctx context.Context, meta RequestMeta) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, meta.SpanName(),
		trace.WithAttributes(
			attribute.String("http.request.method", meta.Method),
			attribute.String("url.path", meta.Path),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	return ctx, span
}

// EndSpan ends the span with the exchange outcome.
func (t *tracerImpl) EndSpan(span trace.Span, statusCode int, err error) {
	if statusCode > 0 {
		span.SetAttributes(attribute.Int("http.response.status_code", statusCode))
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// noopTracer is a tracer that does nothing.
type noopTracer struct {
	noop trace.Tracer
}

// NewNoopTracer creates a no-op tracer.
func NewNoopTracer() Tracer {
	return &noopTracer{noop: tracenoop.NewTracerProvider().Tracer("noop")}
}

func (t *noopTracer) StartSpan(ctx context.Context, meta RequestMeta) (context.Context, trace.Span) {
	return t.noop.Start(ctx, meta.SpanName())
}

func (t *noopTracer) EndSpan(span trace.Span, _ int, _ error) {
	span.End()
}
