package generative

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/randalmurphal/generative/pkg/generative/message"
	"github.com/randalmurphal/generative/pkg/generative/observability"
)

var errStale = errors.New("stale generation")

// advance triggers every node whose turn has come, repeating until the
// tree stops changing. Called under mu.
func (rt *Runtime) advance() {
	if rt.closed {
		return
	}
	for rt.step(rt.root) {
	}
}

// step walks n's subtree in pre-order. A child is visited only after every
// earlier sibling is done, so nothing triggers out of turn. It reports
// whether anything changed.
func (rt *Runtime) step(n *node) bool {
	changed := false
	if n.state == StateIdle {
		rt.trigger(n)
		changed = true
	}
	if n.state != StateReady {
		return changed
	}

	if n.spec.Render != nil && n.rendered == nil && !n.renderQueued {
		rt.queueRender(n)
		changed = true
	}

	for i := 0; i < len(n.children); i++ {
		c := n.children[i]
		if rt.step(c) {
			changed = true
		}
		if !c.done() {
			break
		}
	}

	if n.spec.Kind == KindRepeat && !n.repeatDone && rt.stepRepeat(n) {
		changed = true
	}

	if n.spec.OnSettled != nil && !n.settled && !n.settleQueued && n.quiescent() {
		n.settleQueued = true
		fn := n.spec.OnSettled
		instance := n.instance
		rt.enqueue(callback{node: n, name: "on_settled", fn: fn, after: func() {
			if n.instance == instance {
				n.settled = true
			}
		}})
		changed = true
	}
	return changed
}

// trigger starts a new generation of n. Called under mu.
func (rt *Runtime) trigger(n *node) {
	switch n.spec.Kind {
	case KindStatic:
		n.gen++
		msg := n.spec.Value.Clone()
		if msg.Role == "" {
			msg.Role = message.RoleAssistant
		}
		msg.Complete = true
		rt.log.Put(n.source(), n.pos, msg)
		n.state = StateReady
		rt.deliverMessage(n)

	case KindNoop, KindGroup:
		n.gen++
		n.state = StateReady

	case KindRepeat:
		n.gen++
		n.state = StateReady

	case KindAction:
		n.gen++
		ctx, cancel := context.WithCancel(rt.ctx)
		n.cancel = cancel
		n.state = StatePending
		n.err = nil

		rt.log.Begin(n.source(), n.pos, "")
		visible := rt.log.Snapshot(n.pos)
		observability.LogNodeTrigger(rt.opts.logger, string(n.id), n.gen, len(visible))

		logger := observability.EnrichLogger(rt.opts.logger, string(n.id), n.instance, n.gen)
		if logger == nil {
			logger = slog.New(slog.DiscardHandler)
		}
		ctx = context.WithValue(ctx, loggerKey{}, logger)

		rt.tracker.Add()
		rt.wg.Add(1)
		go rt.run(ctx, n, n.gen, n.spec.Action, visible)
	}
}

// run executes one action generation on its own goroutine.
func (rt *Runtime) run(ctx context.Context, n *node, gen uint64, action Action, visible []message.Message) {
	defer rt.wg.Done()
	defer rt.tracker.Done()

	start := time.Now()
	spanCtx, span := rt.opts.spans.StartActionSpan(ctx, string(n.id), gen)

	out, err := rt.execute(spanCtx, n.id, action, visible)
	if err == nil && out.stream != nil {
		err = message.Drain(spanCtx, out.stream, func(d message.Delta) error {
			return rt.applyDelta(spanCtx, n, gen, d)
		})
	}

	spanErr := err
	if ctx.Err() != nil || errors.Is(err, errStale) {
		spanErr = nil
	}
	rt.opts.spans.EndSpanWithError(span, spanErr)

	rt.finish(ctx, n, gen, out, err, time.Since(start))
}

// execute calls action with panic recovery.
func (rt *Runtime) execute(ctx context.Context, id NodeID, action Action, visible []message.Message) (out Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{
				NodeID: id,
				Value:  r,
				Stack:  string(debug.Stack()),
			}
		}
	}()
	return action(ctx, visible)
}

// applyDelta merges one streamed delta into n's message, unless the
// generation has been superseded.
func (rt *Runtime) applyDelta(ctx context.Context, n *node, gen uint64, d message.Delta) error {
	rt.mu.Lock()
	defer rt.unlockAndFlush()
	if !n.current(gen) {
		return errStale
	}
	if err := rt.log.Apply(n.source(), d); err != nil {
		return fmt.Errorf("apply delta: %w", err)
	}
	rt.opts.metrics.RecordDelta(ctx)
	rt.opts.spans.AddSpanEvent(ctx, "delta")
	return nil
}

// finish records the outcome of a generation and advances the tree.
func (rt *Runtime) finish(ctx context.Context, n *node, gen uint64, out Output, err error, elapsed time.Duration) {
	rt.mu.Lock()
	defer rt.unlockAndFlush()

	if !n.current(gen) {
		observability.LogStaleResult(rt.opts.logger, string(n.id), gen, n.gen)
		return
	}
	if n.cancel != nil {
		n.cancel()
		n.cancel = nil
	}

	switch {
	case err == nil:
		rt.complete(n, out)
		rt.opts.metrics.RecordAction(ctx, out.mode(), elapsed, nil)
		observability.LogNodeReady(rt.opts.logger, string(n.id), gen, float64(elapsed.Milliseconds()))

	case ctx.Err() != nil:
		n.state = StateAborted
		n.err = &AbortError{NodeID: n.id, Generation: gen, Cause: ctx.Err()}
		rt.opts.metrics.RecordAbort(ctx, "cancelled")
		observability.LogNodeAborted(rt.opts.logger, string(n.id), gen, "cancelled")

	default:
		actionErr := &ActionError{NodeID: n.id, Generation: gen, Err: err}
		n.state = StateError
		n.err = actionErr
		rt.opts.metrics.RecordAction(ctx, out.mode(), elapsed, err)
		observability.LogNodeError(rt.opts.logger, string(n.id), gen, err)
		rt.fail(n, actionErr)
	}
	rt.advance()
}

// complete stores a successful output and marks n ready. Called under mu.
func (rt *Runtime) complete(n *node, out Output) {
	n.state = StateReady
	src := n.source()
	switch {
	case out.msg != nil:
		msg := *out.msg
		if msg.Role == "" {
			msg.Role = message.RoleAssistant
		}
		msg.Complete = true
		rt.log.Put(src, n.pos, msg)
	case out.stream != nil:
		if m, ok := rt.log.Get(src); ok && m.Role == "" {
			_ = rt.log.Apply(src, message.Delta{Role: message.RoleAssistant})
		}
		_ = rt.log.Complete(src)
	default:
		rt.log.Remove(src)
		return
	}
	rt.deliverMessage(n)
}

// deliverMessage queues OnMessage with n's completed message. Called under mu.
func (rt *Runtime) deliverMessage(n *node) {
	if n.spec.OnMessage == nil {
		return
	}
	msg, ok := rt.log.Get(n.source())
	if !ok {
		return
	}
	fn := n.spec.OnMessage
	rt.enqueue(callback{node: n, name: "on_message", fn: func() { fn(msg) }})
}

// fail delivers err to the nearest ancestor with OnError, falling back to
// the runtime error handler. Called under mu.
func (rt *Runtime) fail(n *node, err *ActionError) {
	for p := n.parent; p != nil; p = p.parent {
		if p.spec.OnError != nil {
			fn := p.spec.OnError
			rt.enqueue(callback{node: p, name: "on_error", fn: func() { fn(err) }})
			return
		}
	}
	if h := rt.opts.errorHandler; h != nil {
		rt.enqueue(callback{name: "error_handler", fn: func() { h(err) }})
	}
}

// queueRender asks n's Render for children. Render runs outside mu and the
// returned specs are mounted once it returns. Called under mu.
func (rt *Runtime) queueRender(n *node) {
	msg, _ := rt.log.Get(n.source())
	render := n.spec.Render
	gen := n.gen
	var specs []Spec
	n.renderQueued = true
	rt.enqueue(callback{node: n, name: "render", fn: func() {
		specs = render(msg)
	}, after: func() {
		n.renderQueued = false
		if n.retired || n.gen != gen || n.state != StateReady {
			return
		}
		n.rendered = []*node{}
		for _, s := range specs {
			if err := s.validate(); err != nil {
				observability.LogNodeError(rt.opts.logger, string(n.id), gen, err)
				continue
			}
			n.rendered = append(n.rendered, rt.mount(n, s.clone()))
		}
	}})
}
