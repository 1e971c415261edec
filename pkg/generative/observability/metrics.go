package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records runtime metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordAction records a finished action generation with its duration and error status.
	// mode is "message", "stream" or "none" depending on what the action produced.
	RecordAction(ctx context.Context, mode string, duration time.Duration, err error)

	// RecordAbort records a cancelled action generation.
	RecordAbort(ctx context.Context, reason string)

	// RecordDelta records a stream delta merged into the log.
	RecordDelta(ctx context.Context)

	// RecordIteration records a Repeat iteration mount.
	RecordIteration(ctx context.Context)

	// RecordSettle records how long a settlement wait took.
	RecordSettle(ctx context.Context, duration time.Duration)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	actionExecutions metric.Int64Counter
	actionLatency    metric.Float64Histogram
	actionErrors     metric.Int64Counter
	actionAborts     metric.Int64Counter
	streamDeltas     metric.Int64Counter
	repeatIterations metric.Int64Counter
	settleWait       metric.Float64Histogram
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates a new OTel metrics instance.
func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("generative")

	actionExecutions, err := meter.Int64Counter("generative.action.executions",
		metric.WithDescription("Number of finished action generations"),
	)
	if err != nil {
		return nil, err
	}

	actionLatency, err := meter.Float64Histogram("generative.action.latency_ms",
		metric.WithDescription("Action latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	actionErrors, err := meter.Int64Counter("generative.action.errors",
		metric.WithDescription("Number of failed action generations"),
	)
	if err != nil {
		return nil, err
	}

	actionAborts, err := meter.Int64Counter("generative.action.aborts",
		metric.WithDescription("Number of cancelled action generations"),
	)
	if err != nil {
		return nil, err
	}

	streamDeltas, err := meter.Int64Counter("generative.stream.deltas",
		metric.WithDescription("Number of stream deltas merged into the log"),
	)
	if err != nil {
		return nil, err
	}

	repeatIterations, err := meter.Int64Counter("generative.repeat.iterations",
		metric.WithDescription("Number of mounted Repeat iterations"),
	)
	if err != nil {
		return nil, err
	}

	settleWait, err := meter.Float64Histogram("generative.settle.wait_ms",
		metric.WithDescription("Settlement wait in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		actionExecutions: actionExecutions,
		actionLatency:    actionLatency,
		actionErrors:     actionErrors,
		actionAborts:     actionAborts,
		streamDeltas:     streamDeltas,
		repeatIterations: repeatIterations,
		settleWait:       settleWait,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordAction records a finished action generation.
func (m *otelMetrics) RecordAction(ctx context.Context, mode string, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("mode", mode),
	}

	m.actionExecutions.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.actionLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))

	if err != nil {
		m.actionErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordAbort records a cancelled action generation.
func (m *otelMetrics) RecordAbort(ctx context.Context, reason string) {
	m.actionAborts.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordDelta records a merged stream delta.
func (m *otelMetrics) RecordDelta(ctx context.Context) {
	m.streamDeltas.Add(ctx, 1)
}

// RecordIteration records a Repeat iteration mount.
func (m *otelMetrics) RecordIteration(ctx context.Context) {
	m.repeatIterations.Add(ctx, 1)
}

// RecordSettle records a settlement wait.
func (m *otelMetrics) RecordSettle(ctx context.Context, duration time.Duration) {
	m.settleWait.Record(ctx, float64(duration.Milliseconds()))
}
