package generative

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/generative/pkg/generative/message"
)

// TestScheduler_OrderingUnderAsynchrony tests that the log follows mount
// order whatever each action's latency.
func TestScheduler_OrderingUnderAsynchrony(t *testing.T) {
	latencies := [][]time.Duration{
		{30 * time.Millisecond, 1 * time.Millisecond, 10 * time.Millisecond},
		{1 * time.Millisecond, 20 * time.Millisecond, 0},
		{0, 0, 25 * time.Millisecond},
	}
	for i, l := range latencies {
		t.Run(fmt.Sprintf("latencies_%d", i), func(t *testing.T) {
			rt := newTestRuntime(t)

			register(t, rt, rt.Root(), Static(message.System("S")))
			a := register(t, rt, rt.Root(), Act(delayed(l[0], "A")))
			register(t, rt, a, Act(delayed(l[1], "A.1")))
			register(t, rt, rt.Root(), Act(delayed(l[2], "B")))
			register(t, rt, rt.Root(), Static(message.User("U")))

			settle(t, rt)
			assert.Equal(t, []string{"S", "A", "A.1", "B", "U"}, contents(rt))
		})
	}
}

// TestScheduler_LateChildKeepsPreOrder tests that a node registered under
// an earlier parent after settlement lands before the parent's later siblings.
func TestScheduler_LateChildKeepsPreOrder(t *testing.T) {
	rt := newTestRuntime(t)

	x := register(t, rt, rt.Root(), Static(message.User("X")))
	register(t, rt, rt.Root(), Static(message.User("Y")))
	settle(t, rt)

	register(t, rt, x, Act(reply("X.child")))
	settle(t, rt)

	assert.Equal(t, []string{"X", "X.child", "Y"}, contents(rt))
}

// TestScheduler_VisibleSnapshot tests that an action sees exactly the
// messages positioned before it.
func TestScheduler_VisibleSnapshot(t *testing.T) {
	rt := newTestRuntime(t)
	seen := &recorder[[]string]{}
	observe := func(ctx context.Context, visible []message.Message) (Output, error) {
		seen.add(message.Contents(visible))
		return Text(fmt.Sprintf("saw %d", len(visible))), nil
	}

	register(t, rt, rt.Root(), Static(message.System("sys")))
	register(t, rt, rt.Root(), Static(message.User("hi")))
	register(t, rt, rt.Root(), Act(observe))
	register(t, rt, rt.Root(), Act(observe))
	settle(t, rt)

	want := [][]string{
		{"sys", "hi"},
		{"sys", "hi", "saw 2"},
	}
	if diff := cmp.Diff(want, seen.all()); diff != "" {
		t.Errorf("visible snapshots mismatch (-want +got):\n%s", diff)
	}
}

// TestScheduler_StreamingPartialVisibility tests that streamed deltas are
// visible before completion and that later siblings wait for the stream.
func TestScheduler_StreamingPartialVisibility(t *testing.T) {
	rt := newTestRuntime(t)
	deltas := make(chan message.Delta)
	started := &recorder[string]{}

	stream := register(t, rt, rt.Root(), Act(func(ctx context.Context, _ []message.Message) (Output, error) {
		return Streamed(message.ChanStream(deltas)), nil
	}))
	register(t, rt, rt.Root(), Act(func(ctx context.Context, _ []message.Message) (Output, error) {
		started.add("next")
		return Text("next"), nil
	}))

	deltas <- message.Delta{Content: "Hel"}
	require.Eventually(t, func() bool {
		m, ok := rt.Message(stream)
		return ok && m.Content == "Hel"
	}, time.Second, time.Millisecond)

	m, _ := rt.Message(stream)
	assert.False(t, m.Complete)
	assert.Empty(t, started.all(), "sibling must wait for the stream to finish")

	deltas <- message.Delta{Content: "lo", ToolCalls: []message.ToolCallDelta{{Index: 0, Name: "lookup", Arguments: `{"q":`}}}
	deltas <- message.Delta{ToolCalls: []message.ToolCallDelta{{Index: 0, Arguments: `"x"}`}}}
	close(deltas)
	settle(t, rt)

	m, ok := rt.Message(stream)
	require.True(t, ok)
	assert.True(t, m.Complete)
	assert.Equal(t, "Hello", m.Content)
	assert.Equal(t, message.RoleAssistant, m.Role)
	require.Len(t, m.ToolCalls, 1)
	assert.Equal(t, `{"q":"x"}`, m.ToolCalls[0].Arguments)
	assert.Equal(t, []string{"next"}, started.all())
}

// TestScheduler_DependencyChangeRestart tests that changing the dependency
// key while pending yields one completed message and drops the stale result.
func TestScheduler_DependencyChangeRestart(t *testing.T) {
	rt := newTestRuntime(t)
	release := make(chan struct{})

	// The first generation ignores cancellation so its late result arrives.
	stubborn := func(ctx context.Context, _ []message.Message) (Output, error) {
		<-release
		return Text("old"), nil
	}
	spec := Act(stubborn)
	spec.DepKey = 1
	id := register(t, rt, rt.Root(), spec)

	completes := &recorder[string]{}
	unsubscribe := rt.Subscribe(func(c message.Change) {
		if c.Kind == message.ChangeComplete || (c.Kind == message.ChangeUpdate && c.Message.Complete) {
			completes.add(c.Message.Content)
		}
	})
	defer unsubscribe()

	before, ok := rt.Node(id)
	require.True(t, ok)
	assert.Equal(t, StatePending, before.State)

	next := Act(reply("new"))
	next.DepKey = 2
	require.NoError(t, rt.Update(id, next))

	close(release)
	settle(t, rt)

	assert.Equal(t, []string{"new"}, contents(rt))
	assert.Equal(t, []string{"new"}, completes.all())

	after, _ := rt.Node(id)
	assert.Equal(t, StateReady, after.State)
	assert.Equal(t, uint64(2), after.Generation)
	assert.NotEqual(t, before.Instance, after.Instance)
}

// TestScheduler_UnchangedDepKeyReusesMessage tests that an update with the
// same key neither re-runs the action nor replaces the message.
func TestScheduler_UnchangedDepKeyReusesMessage(t *testing.T) {
	rt := newTestRuntime(t)
	calls := &recorder[string]{}
	counting := func(content string) Action {
		return func(context.Context, []message.Message) (Output, error) {
			calls.add(content)
			return Text(content), nil
		}
	}

	spec := Act(counting("first"))
	spec.DepKey = "k"
	id := register(t, rt, rt.Root(), spec)
	settle(t, rt)
	before, _ := rt.Node(id)

	same := Act(counting("second"))
	same.DepKey = "k"
	require.NoError(t, rt.Update(id, same))
	settle(t, rt)

	after, _ := rt.Node(id)
	assert.Equal(t, []string{"first"}, calls.all())
	assert.Equal(t, []string{"first"}, contents(rt))
	assert.Equal(t, before.Instance, after.Instance)
	assert.Equal(t, before.Generation, after.Generation)
}

// TestScheduler_DependencyChangeRerunsChildren tests that children declared
// under a re-triggered node run again against the node's new message.
func TestScheduler_DependencyChangeRerunsChildren(t *testing.T) {
	t.Run("settled child", func(t *testing.T) {
		rt := newTestRuntime(t)
		seen := &recorder[string]{}
		child := func(_ context.Context, visible []message.Message) (Output, error) {
			last := visible[len(visible)-1].Content
			seen.add(last)
			return Text("child saw " + last), nil
		}

		parent := Act(reply("p1"))
		parent.DepKey = 1
		parent.Children = []Spec{Act(child)}
		id := register(t, rt, rt.Root(), parent)
		settle(t, rt)
		require.Equal(t, []string{"p1", "child saw p1"}, contents(rt))

		next := Act(reply("p2"))
		next.DepKey = 2
		require.NoError(t, rt.Update(id, next))
		settle(t, rt)

		assert.Equal(t, []string{"p2", "child saw p2"}, contents(rt))
		assert.Equal(t, []string{"p1", "p2"}, seen.all())

		info, _ := rt.Node(id)
		require.Len(t, info.Children, 1)
		c, _ := rt.Node(info.Children[0])
		assert.Equal(t, StateReady, c.State)
		assert.Equal(t, uint64(2), c.Generation)
	})

	t.Run("child in flight", func(t *testing.T) {
		rt := newTestRuntime(t)
		childRelease := make(chan struct{})
		var calls atomic.Int32
		// The first run ignores cancellation so its result arrives while
		// the child waits for the parent's new generation.
		child := func(_ context.Context, visible []message.Message) (Output, error) {
			if calls.Add(1) == 1 {
				<-childRelease
				return Text("stale"), nil
			}
			return Text("child saw " + visible[len(visible)-1].Content), nil
		}

		parent := Act(reply("p1"))
		parent.DepKey = 1
		parent.Children = []Spec{Act(child)}
		id := register(t, rt, rt.Root(), parent)
		info, _ := rt.Node(id)
		childID := info.Children[0]
		require.Eventually(t, func() bool {
			c, _ := rt.Node(childID)
			return c.State == StatePending
		}, 2*time.Second, time.Millisecond)

		parentRelease := make(chan struct{})
		next := Act(blocking(parentRelease, "p2"))
		next.DepKey = 2
		require.NoError(t, rt.Update(id, next))

		close(childRelease)
		require.Eventually(t, func() bool { return rt.Pending() == 1 }, 2*time.Second, time.Millisecond)
		c, _ := rt.Node(childID)
		assert.Equal(t, StateIdle, c.State)
		assert.NotContains(t, contents(rt), "stale")

		close(parentRelease)
		settle(t, rt)
		assert.Equal(t, []string{"p2", "child saw p2"}, contents(rt))
		assert.Equal(t, int32(2), calls.Load())
	})
}

// TestScheduler_ErrorBlocksSubtreeAndSiblings tests that a failed node
// stops its children and later siblings from triggering.
func TestScheduler_ErrorBlocksSubtreeAndSiblings(t *testing.T) {
	errs := &recorder[error]{}
	rt := newTestRuntime(t, WithErrorHandler(errs.add))

	register(t, rt, rt.Root(), Static(message.User("A")))
	failed := Act(failing(errBackend))
	failed.Children = []Spec{Static(message.User("child"))}
	b := register(t, rt, rt.Root(), failed)
	c := register(t, rt, rt.Root(), Act(reply("C")))
	settle(t, rt)

	info, _ := rt.Node(b)
	assert.Equal(t, StateError, info.State)
	var actionErr *ActionError
	require.ErrorAs(t, info.Err, &actionErr)
	assert.Equal(t, b, actionErr.NodeID)
	assert.Equal(t, uint64(1), actionErr.Generation)
	assert.ErrorIs(t, info.Err, errBackend)

	child, _ := rt.Node(info.Children[0])
	assert.Equal(t, StateIdle, child.State)
	sibling, _ := rt.Node(c)
	assert.Equal(t, StateIdle, sibling.State)

	msgs := rt.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "A", msgs[0].Content)
	assert.False(t, msgs[1].Complete, "failed message stays incomplete")

	require.Len(t, errs.all(), 1)
	assert.ErrorIs(t, errs.all()[0], errBackend)
}

// TestScheduler_FailureBoundary tests that the nearest OnError ancestor
// receives the failure instead of the runtime handler.
func TestScheduler_FailureBoundary(t *testing.T) {
	global := &recorder[error]{}
	local := &recorder[error]{}
	rt := newTestRuntime(t, WithErrorHandler(global.add))

	outer := Noop()
	outer.OnError = func(err error) { t.Errorf("outer boundary should not see %v", err) }
	outerID := register(t, rt, rt.Root(), outer)

	inner := Noop()
	inner.OnError = local.add
	innerID := register(t, rt, outerID, inner)

	register(t, rt, innerID, Act(failing(errBackend)))
	settle(t, rt)

	assert.Empty(t, global.all())
	require.Len(t, local.all(), 1)
	assert.ErrorIs(t, local.all()[0], errBackend)
}

// TestScheduler_FailureBoundaryReset tests that a boundary can re-run a
// failed node by changing its dependency key.
func TestScheduler_FailureBoundaryReset(t *testing.T) {
	rt := newTestRuntime(t)
	attempts := &recorder[int]{}
	flaky := func(ctx context.Context, _ []message.Message) (Output, error) {
		attempts.add(1)
		if len(attempts.all()) == 1 {
			return Output{}, errBackend
		}
		return Text("recovered"), nil
	}

	spec := Act(flaky)
	spec.Key = "flaky"
	spec.DepKey = 0

	var boundaryID NodeID
	boundary := Noop()
	boundary.OnError = func(err error) {
		retry := spec
		retry.DepKey = 1
		_, regErr := rt.Register(boundaryID, retry)
		assert.NoError(t, regErr)
	}
	boundaryID = register(t, rt, rt.Root(), boundary)

	register(t, rt, boundaryID, spec)
	settle(t, rt)

	assert.Len(t, attempts.all(), 2)
	assert.Equal(t, []string{"recovered"}, contents(rt))
}

// TestScheduler_AbortNotReported tests that cancellation never reaches
// the failure boundary.
func TestScheduler_AbortNotReported(t *testing.T) {
	t.Run("unregister", func(t *testing.T) {
		errs := &recorder[error]{}
		rt := newTestRuntime(t, WithErrorHandler(errs.add))

		id := register(t, rt, rt.Root(), Act(blocking(make(chan struct{}), "never")))
		require.NoError(t, rt.Unregister(id))
		settle(t, rt)

		assert.Empty(t, errs.all())
		assert.Empty(t, rt.Messages())
	})

	t.Run("close", func(t *testing.T) {
		errs := &recorder[error]{}
		rt := New(WithLogger(nil), WithErrorHandler(errs.add))

		id := register(t, rt, rt.Root(), Act(blocking(make(chan struct{}), "never")))
		require.NoError(t, rt.Close())

		info, _ := rt.Node(id)
		assert.Equal(t, StateAborted, info.State)
		var abortErr *AbortError
		require.ErrorAs(t, info.Err, &abortErr)
		assert.ErrorIs(t, abortErr, context.Canceled)
		assert.Empty(t, errs.all())

		_, err := rt.Register(rt.Root(), Noop())
		assert.ErrorIs(t, err, ErrClosed)
	})
}

// TestScheduler_PanicRecovery tests that a panicking action becomes an
// ActionError carrying a PanicError.
func TestScheduler_PanicRecovery(t *testing.T) {
	errs := &recorder[error]{}
	rt := newTestRuntime(t, WithErrorHandler(errs.add))

	id := register(t, rt, rt.Root(), Act(func(context.Context, []message.Message) (Output, error) {
		panic("boom")
	}))
	settle(t, rt)

	info, _ := rt.Node(id)
	assert.Equal(t, StateError, info.State)

	var panicErr *PanicError
	require.True(t, errors.As(info.Err, &panicErr))
	assert.Equal(t, "boom", panicErr.Value)
	assert.Equal(t, id, panicErr.NodeID)
	assert.Contains(t, panicErr.Stack, "goroutine")
	require.Len(t, errs.all(), 1)
}

// TestScheduler_ZeroOutput tests that an action returning no output holds
// its turn without leaving a message.
func TestScheduler_ZeroOutput(t *testing.T) {
	rt := newTestRuntime(t)

	register(t, rt, rt.Root(), Static(message.User("before")))
	id := register(t, rt, rt.Root(), Act(func(ctx context.Context, _ []message.Message) (Output, error) {
		select {
		case <-time.After(5 * time.Millisecond):
		case <-ctx.Done():
		}
		return Output{}, nil
	}))
	register(t, rt, rt.Root(), Static(message.User("after")))
	settle(t, rt)

	assert.Equal(t, []string{"before", "after"}, contents(rt))
	info, _ := rt.Node(id)
	assert.Equal(t, StateReady, info.State)
	_, ok := rt.Message(id)
	assert.False(t, ok)
}

// TestScheduler_OnMessage tests that OnMessage receives the completed message.
func TestScheduler_OnMessage(t *testing.T) {
	rt := newTestRuntime(t)
	got := &recorder[message.Message]{}

	spec := Act(delayed(time.Millisecond, "done"))
	spec.OnMessage = got.add
	id := register(t, rt, rt.Root(), spec)
	settle(t, rt)

	require.Len(t, got.all(), 1)
	assert.Equal(t, "done", got.all()[0].Content)
	assert.True(t, got.all()[0].Complete)
	assert.Equal(t, string(id), got.all()[0].Source)
}

// TestScheduler_OnSettledBeforeNextSibling tests that OnSettled runs once,
// after the subtree is done and before the next sibling triggers.
func TestScheduler_OnSettledBeforeNextSibling(t *testing.T) {
	rt := newTestRuntime(t)
	events := &recorder[string]{}

	first := Act(delayed(2*time.Millisecond, "first"))
	first.Children = []Spec{Act(delayed(5*time.Millisecond, "first.child"))}
	first.OnSettled = func() { events.add("settled") }
	register(t, rt, rt.Root(), first)

	register(t, rt, rt.Root(), Act(func(context.Context, []message.Message) (Output, error) {
		events.add("second")
		return Text("second"), nil
	}))
	settle(t, rt)

	assert.Equal(t, []string{"settled", "second"}, events.all())
	assert.Equal(t, []string{"first", "first.child", "second"}, contents(rt))
}

// TestScheduler_Render tests that rendered children mount after the
// message is ready and stay ahead of later siblings.
func TestScheduler_Render(t *testing.T) {
	rt := newTestRuntime(t)

	spec := Act(reply("question"))
	spec.Render = func(m message.Message) []Spec {
		return []Spec{Static(message.User("answer to " + m.Content))}
	}
	register(t, rt, rt.Root(), spec)
	register(t, rt, rt.Root(), Static(message.User("tail")))
	settle(t, rt)

	assert.Equal(t, []string{"question", "answer to question", "tail"}, contents(rt))
}

// TestScheduler_ActionLogger tests that actions get an enriched logger.
func TestScheduler_ActionLogger(t *testing.T) {
	h := newTestLogHandler()
	rt := New(WithLogger(slog.New(h)))
	t.Cleanup(func() { _ = rt.Close() })

	register(t, rt, rt.Root(), Act(func(ctx context.Context, _ []message.Message) (Output, error) {
		Logger(ctx).Info("inside action")
		return Text("ok"), nil
	}))
	settle(t, rt)

	msgs := h.messages()
	assert.Contains(t, msgs, "node registered")
	assert.Contains(t, msgs, "node triggered")
	assert.Contains(t, msgs, "inside action")
	assert.Contains(t, msgs, "node ready")
	assert.Contains(t, msgs, "runtime settled")
}

// TestScheduler_CallbackPanicDoesNotStall tests that a panicking callback
// is logged and the tree keeps going.
func TestScheduler_CallbackPanicDoesNotStall(t *testing.T) {
	rt := newTestRuntime(t)

	spec := Static(message.User("one"))
	spec.OnMessage = func(message.Message) { panic("callback") }
	register(t, rt, rt.Root(), spec)
	register(t, rt, rt.Root(), Act(reply("two")))
	settle(t, rt)

	assert.Equal(t, []string{"one", "two"}, contents(rt))
}
