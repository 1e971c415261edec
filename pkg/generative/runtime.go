package generative

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/randalmurphal/generative/pkg/generative/message"
	"github.com/randalmurphal/generative/pkg/generative/observability"
)

// Runtime owns a node tree and its message log.
// All methods are safe for concurrent use.
type Runtime struct {
	opts options

	mu      sync.Mutex
	log     *message.Log
	nodes   map[NodeID]*node
	root    *node
	closed  bool
	subs    []*logSubscriber
	nextSub int

	// outbox holds host callbacks queued under mu. They run after mu is
	// released, one at a time, by whichever goroutine is flushing.
	outbox   []callback
	flushing bool

	tracker *Tracker
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type callback struct {
	// node is charged for the callback until it has run. Nil for
	// runtime-level subscribers.
	node *node
	name string
	fn   func()
	// after runs under mu once fn has returned.
	after func()
}

type logSubscriber struct {
	id     int
	fn     func(message.Change)
	active atomic.Bool
}

// New creates a runtime with an empty root group.
func New(opts ...Option) *Runtime {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.metricsEnabled {
		o.metrics = observability.NewMetricsRecorder()
	} else {
		o.metrics = observability.NoopMetrics{}
	}
	if o.tracingEnabled {
		o.spans = observability.NewSpanManager()
	} else {
		o.spans = observability.NoopSpanManager{}
	}

	ctx, cancel := context.WithCancel(o.ctx)
	rt := &Runtime{
		opts:    o,
		log:     message.NewLog(),
		nodes:   make(map[NodeID]*node),
		tracker: NewTracker(),
		ctx:     ctx,
		cancel:  cancel,
	}
	rt.root = &node{
		id:       NodeID(uuid.NewString()),
		instance: uuid.NewString(),
		spec:     Spec{Kind: KindGroup},
		state:    StateReady,
	}
	rt.nodes[rt.root.id] = rt.root
	rt.log.Subscribe(rt.publish)
	return rt
}

// Root returns the ID of the root group. Top-level nodes are registered
// under it.
func (rt *Runtime) Root() NodeID {
	return rt.root.id
}

// Close cancels every in-flight action and waits for their goroutines to
// return. No further nodes trigger after Close. Close is idempotent.
func (rt *Runtime) Close() error {
	rt.mu.Lock()
	if rt.closed {
		rt.mu.Unlock()
		return nil
	}
	rt.closed = true
	rt.cancel()
	rt.unlockAndFlush()

	rt.wg.Wait()
	return nil
}

// Messages returns a copy of every message in log order, including
// incomplete ones.
func (rt *Runtime) Messages() []message.Message {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.log.All()
}

// Message returns the message currently stored for a node.
func (rt *Runtime) Message(id NodeID) (message.Message, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.log.Get(string(id))
}

// Subscribe calls fn for every change to the message log, in mutation
// order, after the runtime lock is released. Calls never overlap.
// The returned function removes the subscription.
func (rt *Runtime) Subscribe(fn func(message.Change)) (unsubscribe func()) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.nextSub++
	sub := &logSubscriber{id: rt.nextSub, fn: fn}
	sub.active.Store(true)
	rt.subs = append(rt.subs, sub)
	return func() {
		sub.active.Store(false)
		rt.mu.Lock()
		defer rt.mu.Unlock()
		for i, s := range rt.subs {
			if s.id == sub.id {
				rt.subs = append(rt.subs[:i], rt.subs[i+1:]...)
				break
			}
		}
	}
}

// publish fans a log change out to runtime subscribers. Called under mu.
func (rt *Runtime) publish(c message.Change) {
	for _, sub := range rt.subs {
		sub := sub
		rt.enqueue(callback{name: "subscribe", fn: func() {
			if sub.active.Load() {
				sub.fn(c)
			}
		}})
	}
}

// enqueue queues cb to run after mu is released. Called under mu.
func (rt *Runtime) enqueue(cb callback) {
	rt.tracker.Add()
	if cb.node != nil {
		cb.node.queued++
	}
	rt.outbox = append(rt.outbox, cb)
}

// unlockAndFlush releases mu and runs queued callbacks in order. If another
// goroutine is already flushing, it picks up anything queued here.
func (rt *Runtime) unlockAndFlush() {
	if rt.flushing {
		rt.mu.Unlock()
		return
	}
	rt.flushing = true
	for len(rt.outbox) > 0 {
		cb := rt.outbox[0]
		rt.outbox = rt.outbox[1:]

		rt.mu.Unlock()
		rt.invoke(cb)
		rt.mu.Lock()

		if cb.node != nil {
			cb.node.queued--
		}
		if cb.after != nil {
			cb.after()
		}
		rt.advance()
		rt.tracker.Done()
	}
	rt.flushing = false
	rt.mu.Unlock()
}

// invoke runs a host callback, recovering panics so one bad callback
// cannot stall the outbox.
func (rt *Runtime) invoke(cb callback) {
	defer func() {
		if r := recover(); r != nil {
			id := ""
			if cb.node != nil {
				id = string(cb.node.id)
			}
			observability.LogCallbackPanic(rt.opts.logger, id, cb.name, r)
		}
	}()
	cb.fn()
}

type loggerKey struct{}

// Logger returns the logger attached to an action's context, enriched with
// the node ID, instance and generation. It falls back to slog.Default().
func Logger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}
