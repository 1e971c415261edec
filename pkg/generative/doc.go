// Package generative coordinates an ordered tree of generative nodes.
//
// Every node produces at most one message: a static value, the result of
// an asynchronous action, or a message assembled from streamed deltas.
// The runtime keeps those messages in a single log ordered by each node's
// position in the tree, so the log always reads as the conversation so far
// regardless of which action finished first.
//
// # Turn-taking
//
// A node runs only after its parent is ready and every sibling before it
// is done (its own message complete, its whole subtree done and any
// callbacks delivered). Actions therefore always see every earlier message
// in their visible snapshot:
//
//	rt := generative.New()
//	defer rt.Close()
//
//	rt.Register(rt.Root(), generative.Static(message.System("You are terse.")))
//	rt.Register(rt.Root(), generative.Static(message.User("Say hi")))
//	rt.Register(rt.Root(), generative.Act(func(ctx context.Context, visible []message.Message) (generative.Output, error) {
//	    return generative.Text("hi"), nil
//	}))
//
//	if err := rt.WaitUntilSettled(ctx); err != nil {
//	    return err
//	}
//	for _, m := range rt.Messages() {
//	    fmt.Println(m.Role, m.Content)
//	}
//
// # Dependency keys
//
// Update compares the new Spec.DepKey with the current one. An unchanged
// key keeps the existing message. A changed key cancels any in-flight
// action, discards its late result and runs the node again.
//
// # Repeat
//
// A Repeat node mounts copies of its children once per iteration. After
// each iteration is done it stops if Stopped is set or Limit is reached,
// otherwise it mounts the next one. Nested repeats multiply.
//
// # Settlement
//
// WaitUntilSettled blocks until no action is in flight, no callback is
// queued, and that stays true across a scheduling turn.
//
// # Concurrency
//
// Actions run on their own goroutines without the runtime lock. All tree
// and log mutations happen under a single mutex. Host callbacks
// (OnMessage, OnSettled, OnError, Render, Subscribe) run after the lock is
// released, one at a time, in the order they were queued. Callbacks may
// call back into the Runtime but must not call WaitUntilSettled.
package generative
