package tracing

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// TracerProvider defines the interface for acquiring tracers for store spans.
// It lets callers plug rdx into an existing OpenTelemetry setup.
type TracerProvider interface {
	// GetTracer returns a Tracer instance with the specified name and options.
	GetTracer(name string, opts ...trace.TracerOption) trace.Tracer

	// Shutdown flushes and stops the provider. NoOp providers return nil.
	Shutdown(ctx context.Context) error
}
