package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records pipeline metrics per exchange and per subsystem
// event.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordExchange records one completed logical request.
	RecordExchange(ctx context.Context, meta RequestMeta, duration time.Duration, statusCode int, err error)

	// RecordRetry records one retry attempt.
	RecordRetry(ctx context.Context, meta RequestMeta, attempt int)

	// RecordCacheLookup records a cache hit or miss.
	RecordCacheLookup(ctx context.Context, hit bool)

	// RecordDedupCollapse records a request collapsed onto an
	// in-flight exchange.
	RecordDedupCollapse(ctx context.Context)

	// RecordRefresh records one token refresh exchange.
	RecordRefresh(ctx context.Context, success bool)
}

// metricsImpl is the concrete implementation of Metrics.
type metricsImpl struct {
	meter          metric.Meter
	totalCount     metric.Int64Counter
	errorCount     metric.Int64Counter
	durationHist   metric.Float64Histogram
	retryCount     metric.Int64Counter
	cacheHitCount  metric.Int64Counter
	cacheMissCount metric.Int64Counter
	dedupCount     metric.Int64Counter
	refreshCount   metric.Int64Counter
}

// NewMetrics creates a Metrics instance on the given meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	m := &metricsImpl{meter: meter}

	var err error
	if m.totalCount, err = meter.Int64Counter(
		"httpkit.request.total",
		metric.WithDescription("Total number of logical requests"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}
	if m.errorCount, err = meter.Int64Counter(
		"httpkit.request.errors",
		metric.WithDescription("Total number of failed requests"),
		metric.WithUnit("{error}"),
	); err != nil {
		return nil, err
	}
	if m.durationHist, err = meter.Float64Histogram(
		"httpkit.request.duration_ms",
		metric.WithDescription("Logical request duration in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.retryCount, err = meter.Int64Counter(
		"httpkit.retry.attempts",
		metric.WithDescription("Total number of retry attempts"),
		metric.WithUnit("{attempt}"),
	); err != nil {
		return nil, err
	}
	if m.cacheHitCount, err = meter.Int64Counter(
		"httpkit.cache.hits",
		metric.WithDescription("Cache lookup hits"),
		metric.WithUnit("{lookup}"),
	); err != nil {
		return nil, err
	}
	if m.cacheMissCount, err = meter.Int64Counter(
		"httpkit.cache.misses",
		metric.WithDescription("Cache lookup misses"),
		metric.WithUnit("{lookup}"),
	); err != nil {
		return nil, err
	}
	if m.dedupCount, err = meter.Int64Counter(
		"httpkit.dedup.collapsed",
		metric.WithDescription("Requests collapsed onto an in-flight exchange"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}
	if m.refreshCount, err = meter.Int64Counter(
		"httpkit.auth.refresh.total",
		metric.WithDescription("Token refresh exchanges"),
		metric.WithUnit("{exchange}"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *metricsImpl) RecordExchange(ctx context.Context, meta RequestMeta, duration time.Duration, statusCode int, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("http.request.method", meta.Method),
		attribute.String("url.path", meta.Path),
	}
	if statusCode > 0 {
		attrs = append(attrs, attribute.Int("http.response.status_code", statusCode))
	}
	opt := metric.WithAttributes(attrs...)

	m.totalCount.Add(ctx, 1, opt)
	if err != nil {
		m.errorCount.Add(ctx, 1, opt)
	}
	m.durationHist.Record(ctx, float64(duration.Milliseconds()), opt)
}

func (m *metricsImpl) RecordRetry(ctx context.Context, meta RequestMeta, attempt int) {
	m.retryCount.Add(ctx, 1, metric.WithAttributes(
		attribute.String("http.request.method", meta.Method),
		attribute.String("url.path", meta.Path),
		attribute.Int("retry.attempt", attempt),
	))
}

func (m *metricsImpl) RecordCacheLookup(ctx context.Context, hit bool) {
	if hit {
		m.cacheHitCount.Add(ctx, 1)
		return
	}
	m.cacheMissCount.Add(ctx, 1)
}

func (m *metricsImpl) RecordDedupCollapse(ctx context.Context) {
	m.dedupCount.Add(ctx, 1)
}

func (m *metricsImpl) RecordRefresh(ctx context.Context, success bool) {
	m.refreshCount.Add(ctx, 1, metric.WithAttributes(attribute.Bool("success", success)))
}

// noopMetrics is a metrics implementation that does nothing.
type noopMetrics struct{}

// NopMetrics returns a Metrics that discards everything.
func NopMetrics() Metrics { return &noopMetrics{} }

func (m *noopMetrics) RecordExchange(context.Context, RequestMeta, time.Duration, int, error) {}
func (m *noopMetrics) RecordRetry(context.Context, RequestMeta, int)                          {}
func (m *noopMetrics) RecordCacheLookup(context.Context, bool)                                {}
func (m *noopMetrics) RecordDedupCollapse(context.Context)                                    {}
func (m *noopMetrics) RecordRefresh(context.Context, bool)                                    {}
