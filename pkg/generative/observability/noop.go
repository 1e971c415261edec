package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// NoopMetrics is a MetricsRecorder that does nothing.
// Use when metrics are disabled to avoid overhead.
type NoopMetrics struct{}

// Compile-time interface check.
var _ MetricsRecorder = NoopMetrics{}

// RecordAction does nothing.
func (NoopMetrics) RecordAction(_ context.Context, _ string, _ time.Duration, _ error) {}

// RecordAbort does nothing.
func (NoopMetrics) RecordAbort(_ context.Context, _ string) {}

// RecordDelta does nothing.
func (NoopMetrics) RecordDelta(_ context.Context) {}

// RecordIteration does nothing.
func (NoopMetrics) RecordIteration(_ context.Context) {}

// RecordSettle does nothing.
func (NoopMetrics) RecordSettle(_ context.Context, _ time.Duration) {}

// NoopSpanManager is a SpanManager that does nothing.
// Use when tracing is disabled to avoid overhead.
type NoopSpanManager struct{}

// Compile-time interface check.
var _ SpanManager = NoopSpanManager{}

// noopSpan is a span that does nothing.
var noopSpan = noop.Span{}

// StartActionSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartActionSpan(ctx context.Context, _ string, _ uint64) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// EndSpanWithError does nothing.
func (NoopSpanManager) EndSpanWithError(_ trace.Span, _ error) {}

// AddSpanEvent does nothing.
func (NoopSpanManager) AddSpanEvent(_ context.Context, _ string, _ ...attribute.KeyValue) {}
