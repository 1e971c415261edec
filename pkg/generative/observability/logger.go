// Package observability provides structured logging, metrics, and tracing
// for the generative runtime.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
// Every logging helper accepts a nil logger and does nothing with it.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds node context to a logger.
// Returns a new logger with node_id, instance, and generation fields.
//
// Example:
//
//	enriched := EnrichLogger(logger, "6f1c...", "a93e...", 2)
//	enriched.Info("streaming") // includes node_id, instance, generation
func EnrichLogger(logger *slog.Logger, nodeID, instance string, generation uint64) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("node_id", nodeID),
		slog.String("instance", instance),
		slog.Uint64("generation", generation),
	)
}

// LogNodeRegister logs a node mount.
func LogNodeRegister(logger *slog.Logger, nodeID, kind, position string) {
	if logger == nil {
		return
	}
	logger.Debug("node registered",
		slog.String("node_id", nodeID),
		slog.String("kind", kind),
		slog.String("position", position),
	)
}

// LogNodeUnregister logs a node unmount.
func LogNodeUnregister(logger *slog.Logger, nodeID string, retained bool) {
	if logger == nil {
		return
	}
	logger.Debug("node unregistered",
		slog.String("node_id", nodeID),
		slog.Bool("message_retained", retained),
	)
}

// LogNodeTrigger logs the start of a node generation.
func LogNodeTrigger(logger *slog.Logger, nodeID string, generation uint64, visible int) {
	if logger == nil {
		return
	}
	logger.Debug("node triggered",
		slog.String("node_id", nodeID),
		slog.Uint64("generation", generation),
		slog.Int("visible_messages", visible),
	)
}

// LogNodeReady logs successful node resolution.
func LogNodeReady(logger *slog.Logger, nodeID string, generation uint64, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("node ready",
		slog.String("node_id", nodeID),
		slog.Uint64("generation", generation),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogNodeError logs an action failure.
func LogNodeError(logger *slog.Logger, nodeID string, generation uint64, err error) {
	if logger == nil {
		return
	}
	logger.Error("node failed",
		slog.String("node_id", nodeID),
		slog.Uint64("generation", generation),
		slog.String("error", err.Error()),
	)
}

// LogNodeAborted logs a cancelled generation.
func LogNodeAborted(logger *slog.Logger, nodeID string, generation uint64, reason string) {
	if logger == nil {
		return
	}
	logger.Debug("node aborted",
		slog.String("node_id", nodeID),
		slog.Uint64("generation", generation),
		slog.String("reason", reason),
	)
}

// LogStaleResult logs a completion discarded because its generation was superseded.
func LogStaleResult(logger *slog.Logger, nodeID string, generation, current uint64) {
	if logger == nil {
		return
	}
	logger.Debug("stale result discarded",
		slog.String("node_id", nodeID),
		slog.Uint64("generation", generation),
		slog.Uint64("current_generation", current),
	)
}

// LogIterationMount logs a Repeat iteration mount.
func LogIterationMount(logger *slog.Logger, repeatID string, iteration int) {
	if logger == nil {
		return
	}
	logger.Debug("repeat iteration mounted",
		slog.String("node_id", repeatID),
		slog.Int("iteration", iteration),
	)
}

// LogRepeatComplete logs a Repeat controller reaching Completed.
func LogRepeatComplete(logger *slog.Logger, repeatID string, iterations int, stopped bool) {
	if logger == nil {
		return
	}
	logger.Debug("repeat completed",
		slog.String("node_id", repeatID),
		slog.Int("iterations", iterations),
		slog.Bool("stopped", stopped),
	)
}

// LogSettled logs a resolved settlement wait.
func LogSettled(logger *slog.Logger, messages int, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Info("runtime settled",
		slog.Int("messages", messages),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogCallbackPanic logs a host callback that panicked (non-fatal).
func LogCallbackPanic(logger *slog.Logger, nodeID, callback string, value any) {
	if logger == nil {
		return
	}
	logger.Error("callback panicked",
		slog.String("node_id", nodeID),
		slog.String("callback", callback),
		slog.Any("panic", value),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
//
// Example:
//
//	done := TimedOperation()
//	// ... do work ...
//	durationMs := done()
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Milliseconds())
	}
}
