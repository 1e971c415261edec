package generative

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/randalmurphal/generative/pkg/generative/config"
	"github.com/randalmurphal/generative/pkg/generative/observability"
)

// UnmountPolicy decides what happens to a node's message when it is unregistered.
type UnmountPolicy int

const (
	// UnmountRemove deletes the message from the log.
	UnmountRemove UnmountPolicy = iota
	// UnmountRetain keeps the message in the log as a historical entry.
	UnmountRetain
)

// String returns the policy name used in configuration.
func (p UnmountPolicy) String() string {
	if p == UnmountRetain {
		return "retain"
	}
	return "remove"
}

// ParseUnmountPolicy parses "remove" or "retain".
func ParseUnmountPolicy(s string) (UnmountPolicy, error) {
	switch s {
	case "remove", "":
		return UnmountRemove, nil
	case "retain":
		return UnmountRetain, nil
	default:
		return UnmountRemove, fmt.Errorf("unknown unmount policy %q", s)
	}
}

// options holds runtime configuration.
type options struct {
	logger         *slog.Logger
	metricsEnabled bool
	tracingEnabled bool
	unmount        UnmountPolicy
	errorHandler   func(error)
	settleTurns    int
	ctx            context.Context

	metrics observability.MetricsRecorder
	spans   observability.SpanManager
}

// defaultOptions returns the default runtime configuration.
func defaultOptions() options {
	return options{
		logger:      slog.Default(),
		unmount:     UnmountRemove,
		settleTurns: 1,
		ctx:         context.Background(),
	}
}

// Option configures a Runtime.
type Option func(*options)

// WithLogger sets the logger. Default: slog.Default().
// A nil logger disables logging.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics enables OpenTelemetry metrics. Default: false.
//
// Metrics recorded:
//   - generative.action.executions (counter)
//   - generative.action.latency_ms (histogram)
//   - generative.action.errors (counter)
//   - generative.action.aborts (counter)
//   - generative.stream.deltas (counter)
//   - generative.repeat.iterations (counter)
//   - generative.settle.wait_ms (histogram)
func WithMetrics(enabled bool) Option {
	return func(o *options) {
		o.metricsEnabled = enabled
	}
}

// WithTracing enables an OpenTelemetry span per action generation. Default: false.
func WithTracing(enabled bool) Option {
	return func(o *options) {
		o.tracingEnabled = enabled
	}
}

// WithUnmountPolicy sets what Unregister does with messages. Default: UnmountRemove.
func WithUnmountPolicy(p UnmountPolicy) Option {
	return func(o *options) {
		o.unmount = p
	}
}

// WithErrorHandler receives action failures that no OnError boundary caught.
func WithErrorHandler(fn func(error)) Option {
	return func(o *options) {
		o.errorHandler = fn
	}
}

// WithSettleTurns sets how many scheduler yields WaitUntilSettled waits
// after the pending count reaches zero before it trusts it. Default: 1.
func WithSettleTurns(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.settleTurns = n
		}
	}
}

// WithContext sets the parent context of every action. Cancelling it
// aborts all in-flight actions. Default: context.Background().
func WithContext(ctx context.Context) Option {
	return func(o *options) {
		if ctx != nil {
			o.ctx = ctx
		}
	}
}

// OptionsFromConfig builds options from configuration keys
// unmount_policy, metrics, tracing and settle_turns.
//
// Example YAML:
//
//	unmount_policy: retain
//	metrics: true
//	settle_turns: 2
func OptionsFromConfig(cfg config.Config) ([]Option, error) {
	var opts []Option
	if cfg.Has("unmount_policy") {
		p, err := ParseUnmountPolicy(cfg.String("unmount_policy", ""))
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithUnmountPolicy(p))
	}
	if cfg.Has("metrics") {
		opts = append(opts, WithMetrics(cfg.Bool("metrics", false)))
	}
	if cfg.Has("tracing") {
		opts = append(opts, WithTracing(cfg.Bool("tracing", false)))
	}
	if cfg.Has("settle_turns") {
		opts = append(opts, WithSettleTurns(cfg.Int("settle_turns", 1)))
	}
	return opts, nil
}
