package generative

import (
	"slices"

	"github.com/randalmurphal/generative/pkg/generative/observability"
)

// stepRepeat runs the iteration boundary of a ready repeat node: it mounts
// the first iteration, or, once the current iteration is done, decides
// between mounting the next one and completing. Stopped is only sampled
// at a boundary, so an iteration in flight always runs to the end.
// Called under mu.
func (rt *Runtime) stepRepeat(n *node) bool {
	if n.boundaryQueued {
		return false
	}
	if len(n.iterations) == 0 {
		if n.spec.Stopped {
			rt.completeRepeat(n)
		} else {
			rt.mountIteration(n, 0)
		}
		return true
	}

	last := &n.iterations[len(n.iterations)-1]
	group := rt.nodes[last.Group]
	if !group.retired && !group.done() {
		return false
	}
	last.Settled = true

	next := last.Index + 1
	if n.spec.Stopped || n.limitReached(next) {
		rt.completeRepeat(n)
	} else {
		rt.queueBoundary(n, next)
	}
	return true
}

// queueBoundary mounts iteration next from another goroutine so that mu is
// released between iterations that finish without suspending. Stopped is
// sampled again before mounting. Called under mu.
func (rt *Runtime) queueBoundary(n *node, next int) {
	n.boundaryQueued = true
	instance := n.instance
	rt.tracker.Add()
	rt.wg.Add(1)
	go func() {
		defer rt.wg.Done()
		defer rt.tracker.Done()

		rt.mu.Lock()
		defer rt.unlockAndFlush()
		if rt.closed || n.retired || n.instance != instance {
			return
		}
		n.boundaryQueued = false
		if n.spec.Stopped {
			rt.completeRepeat(n)
		} else {
			rt.mountIteration(n, next)
		}
		rt.advance()
	}()
}

func (n *node) limitReached(next int) bool {
	return n.spec.Limit > 0 && next == n.spec.Limit
}

// mountIteration mounts a fresh group holding copies of the repeat's
// children. Every iteration gets new node IDs and positions after the
// previous iteration. Called under mu.
func (rt *Runtime) mountIteration(n *node, index int) {
	group := rt.mount(n, Spec{Kind: KindGroup, Children: n.spec.Children})
	n.iterations = append(n.iterations, IterationState{Index: index, Group: group.id})
	rt.opts.metrics.RecordIteration(rt.ctx)
	observability.LogIterationMount(rt.opts.logger, string(n.id), index)
}

func (rt *Runtime) completeRepeat(n *node) {
	n.repeatDone = true
	observability.LogRepeatComplete(rt.opts.logger, string(n.id), len(n.iterations), n.spec.Stopped)
}

// Iterations returns the iterations a repeat node has mounted so far.
// The slice is frozen once the repeat completes.
func (rt *Runtime) Iterations(id NodeID) ([]IterationState, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	n, ok := rt.nodes[id]
	if !ok {
		return nil, ErrNodeNotFound
	}
	if n.spec.Kind != KindRepeat {
		return nil, invalidSpec("node %s is a %s, not a repeat", id, n.spec.Kind)
	}
	return slices.Clone(n.iterations), nil
}
