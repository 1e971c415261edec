package generative

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/randalmurphal/generative/pkg/generative/observability"
)

// Tracker counts pending work across the whole tree: in-flight actions
// and queued host callbacks. It is safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	pending int
	epoch   uint64
	idle    chan struct{}
}

// NewTracker returns a tracker with nothing pending.
func NewTracker() *Tracker {
	idle := make(chan struct{})
	close(idle)
	return &Tracker{idle: idle}
}

// Add records one more pending operation.
func (t *Tracker) Add() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pending == 0 {
		t.idle = make(chan struct{})
	}
	t.pending++
	t.epoch++
}

// Done records that a pending operation reached a terminal state.
func (t *Tracker) Done() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pending == 0 {
		panic("generative: Tracker.Done called with nothing pending")
	}
	t.pending--
	if t.pending == 0 {
		close(t.idle)
	}
}

// Pending returns the number of pending operations.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending
}

// idleState returns a channel closed once nothing is pending, plus the
// epoch observed with it.
func (t *Tracker) idleState() (<-chan struct{}, uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.idle, t.epoch
}

// quiet reports whether nothing is pending and nothing was added since epoch.
func (t *Tracker) quiet(epoch uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending == 0 && t.epoch == epoch
}

// Wait blocks until the count reaches zero and stays there across turns
// scheduler yields. It returns ctx.Err() if ctx ends first.
func (t *Tracker) Wait(ctx context.Context, turns int) error {
	for {
		idle, _ := t.idleState()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-idle:
		}

		_, epoch := t.idleState()
		for range turns {
			runtime.Gosched()
		}
		if t.quiet(epoch) {
			return nil
		}
	}
}

// WaitUntilSettled blocks until no node is pending, no callback is queued,
// and no structural consequence of the last completion is still to come.
// It returns ctx.Err() if ctx is cancelled first.
func (rt *Runtime) WaitUntilSettled(ctx context.Context) error {
	done := observability.TimedOperation()
	start := time.Now()
	if err := rt.tracker.Wait(ctx, rt.opts.settleTurns); err != nil {
		return err
	}
	rt.opts.metrics.RecordSettle(ctx, time.Since(start))

	rt.mu.Lock()
	n := rt.log.Len()
	rt.mu.Unlock()
	observability.LogSettled(rt.opts.logger, n, done())
	return nil
}

// Pending returns the number of in-flight actions and queued callbacks.
func (rt *Runtime) Pending() int {
	return rt.tracker.Pending()
}
