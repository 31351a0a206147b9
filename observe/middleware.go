package observe

import (
	"context"
	"time"
)

// ExchangeFunc runs one logical request and reports its final status
// code (0 when no response was produced).
type ExchangeFunc func(ctx context.Context) (statusCode int, err error)

// Middleware wraps one logical request with tracing, metrics and
// logging.
//
// Contract:
//   - Concurrency: Wrap() returns a thread-safe ExchangeFunc.
//   - Context: propagates context through tracing spans.
//   - Errors: errors from the wrapped function are recorded and
//     propagated unchanged.
type Middleware struct {
	tracer  Tracer
	metrics Metrics
	logger  Logger
}

// NewMiddleware creates a Middleware from its components.
func NewMiddleware(tracer Tracer, metrics Metrics, logger Logger) *Middleware {
	return &Middleware{
		tracer:  tracer,
		metrics: metrics,
		logger:  logger,
	}
}

// MiddlewareFromObserver creates a Middleware from an Observer.
func MiddlewareFromObserver(obs Observer) (*Middleware, error) {
	metrics, err := NewMetrics(obs.Meter())
	if err != nil {
		return nil, err
	}
	return NewMiddleware(NewTracer(obs.Tracer()), metrics, obs.Logger()), nil
}

// Metrics exposes the middleware's metrics sink so other pipeline
// stages can record subsystem events.
func (m *Middleware) Metrics() Metrics {
	return m.metrics
}

// Logger exposes the middleware's logger.
func (m *Middleware) Logger() Logger {
	return m.logger
}

// Wrap wraps fn with a span, exchange metrics and one log line.
func (m *Middleware) Wrap(meta RequestMeta, fn ExchangeFunc) ExchangeFunc {
	return func(ctx context.Context) (int, error) {
		ctx, span := m.tracer.StartSpan(ctx, meta)
		start := time.Now()

		status, err := fn(ctx)

		duration := time.Since(start)
		m.tracer.EndSpan(span, status, err)
		m.metrics.RecordExchange(ctx, meta, duration, status, err)

		reqLogger := m.logger.WithRequest(meta)
		fields := []Field{
			{Key: "duration_ms", Value: float64(duration.Milliseconds())},
			{Key: "status", Value: status},
		}
		if err != nil {
			fields = append(fields, Field{Key: "error", Value: err.Error()})
			reqLogger.Error(ctx, "request failed", fields...)
		} else {
			reqLogger.Info(ctx, "request completed", fields...)
		}

		return status, err
	}
}
