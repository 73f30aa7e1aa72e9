// Package observability provides structured logging, Prometheus metrics,
// optional OpenTelemetry tracing, and graceful shutdown coordination for
// the crunch asset server.
package observability
