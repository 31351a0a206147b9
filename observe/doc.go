// Package observe provides telemetry for the request pipeline: an
// OpenTelemetry tracer and meter, a structured JSON logger, and a
// middleware that wraps one exchange with a span, metrics and a log
// line. Exporter setup (otlp, prometheus, stdout) lives in the
// exporters subpackage.
package observe
