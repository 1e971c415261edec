package generative

import (
	"slices"

	"github.com/google/uuid"

	"github.com/randalmurphal/generative/pkg/generative/observability"
)

// Register mounts spec as the last child of parent and returns its ID.
// Spec.Children are mounted below it. The node triggers as soon as the
// turn-taking rules allow, possibly before Register returns.
//
// If spec.Key matches a live child of parent, the call updates that child
// instead and returns its ID.
func (rt *Runtime) Register(parent NodeID, spec Spec) (NodeID, error) {
	if err := spec.validate(); err != nil {
		return "", err
	}

	rt.mu.Lock()
	defer rt.unlockAndFlush()
	if rt.closed {
		return "", ErrClosed
	}
	p, err := rt.lookup(parent)
	if err != nil {
		return "", err
	}
	if p.spec.Kind == KindRepeat {
		return "", invalidSpec("children of a repeat are declared in its Spec")
	}

	if spec.Key != "" {
		for _, c := range p.children {
			if c.spec.Key == spec.Key {
				if err := rt.update(c, spec); err != nil {
					return "", err
				}
				rt.advance()
				return c.id, nil
			}
		}
	}

	n := rt.mount(p, spec)
	rt.advance()
	return n.id, nil
}

// Update replaces the declaration of a mounted node. If the dependency key
// is unchanged the existing message is kept; otherwise any in-flight
// action is cancelled and the node runs again with a new instance.
// The kind of a node cannot change.
func (rt *Runtime) Update(id NodeID, spec Spec) error {
	if err := spec.validate(); err != nil {
		return err
	}

	rt.mu.Lock()
	defer rt.unlockAndFlush()
	if rt.closed {
		return ErrClosed
	}
	n, err := rt.lookup(id)
	if err != nil {
		return err
	}
	if n == rt.root {
		return invalidSpec("the root cannot be updated")
	}
	if err := rt.update(n, spec); err != nil {
		return err
	}
	rt.advance()
	return nil
}

// Unregister retires a node and its subtree, cancelling in-flight actions.
// Their messages are removed or kept according to the UnmountPolicy.
func (rt *Runtime) Unregister(id NodeID) error {
	rt.mu.Lock()
	defer rt.unlockAndFlush()
	if rt.closed {
		return ErrClosed
	}
	n, err := rt.lookup(id)
	if err != nil {
		return err
	}
	if n == rt.root {
		return invalidSpec("the root cannot be unregistered")
	}

	rt.retire(n)
	rt.detach(n)
	rt.advance()
	return nil
}

// Node returns a read-only view of a node, including retired ones.
func (rt *Runtime) Node(id NodeID) (NodeInfo, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	n, ok := rt.nodes[id]
	if !ok {
		return NodeInfo{}, false
	}
	return n.info(), true
}

// lookup resolves a live node. Called under mu.
func (rt *Runtime) lookup(id NodeID) (*node, error) {
	if id == "" {
		return rt.root, nil
	}
	n, ok := rt.nodes[id]
	if !ok {
		return nil, ErrNodeNotFound
	}
	if n.retired {
		return nil, ErrNodeRetired
	}
	return n, nil
}

// mount creates a node for spec under parent at the next ordinal, then
// mounts spec.Children below it. Repeat children are a template and are
// only mounted per iteration. Called under mu.
func (rt *Runtime) mount(parent *node, spec Spec) *node {
	n := &node{
		id:       NodeID(uuid.NewString()),
		instance: uuid.NewString(),
		parent:   parent,
		spec:     spec,
		pos:      parent.pos.Child(parent.nextOrdinal),
		state:    StateIdle,
	}
	parent.nextOrdinal++
	parent.children = append(parent.children, n)
	rt.nodes[n.id] = n
	observability.LogNodeRegister(rt.opts.logger, string(n.id), spec.Kind.String(), n.pos.String())

	if spec.Kind != KindRepeat {
		for _, c := range spec.Children {
			rt.mount(n, c.clone())
		}
	}
	return n
}

// update applies a new declaration to n. Called under mu.
func (rt *Runtime) update(n *node, spec Spec) error {
	if spec.Kind != n.spec.Kind {
		return invalidSpec("cannot change kind from %s to %s", n.spec.Kind, spec.Kind)
	}
	keyChanged := !sameKey(spec.DepKey, n.spec.DepKey)
	n.spec = spec
	if keyChanged {
		rt.reset(n, "superseded")
	}
	return nil
}

// reset returns n to Idle with a fresh instance so that it triggers again.
// Anything it rendered or mounted as iterations is retired, and its
// declared children are rewound so they run again once n is ready.
// Called under mu.
func (rt *Runtime) reset(n *node, reason string) {
	n.instance = uuid.NewString()
	n.settled = false
	n.settleQueued = false
	if n.state == StateIdle {
		return
	}
	rt.abort(n, reason)

	for _, c := range slices.Clone(n.rendered) {
		rt.retire(c)
		rt.detach(c)
	}
	n.rendered = nil
	if n.spec.Kind == KindRepeat {
		for _, c := range n.children {
			rt.retire(c)
		}
		n.children = nil
		n.iterations = nil
		n.repeatDone = false
		n.boundaryQueued = false
	} else {
		for _, c := range n.children {
			rt.rewind(c, reason)
		}
	}
	n.state = StateIdle
	n.err = nil
}

// rewind resets a declared descendant of a re-triggered node and drops
// its message. Called under mu.
func (rt *Runtime) rewind(n *node, reason string) {
	rt.reset(n, reason)
	rt.log.Remove(n.source())
}

// abort cancels n's in-flight action, if any. Its late result is
// discarded by the generation check. Called under mu.
func (rt *Runtime) abort(n *node, reason string) {
	if n.cancel == nil {
		return
	}
	n.cancel()
	n.cancel = nil
	rt.opts.metrics.RecordAbort(rt.ctx, reason)
	observability.LogNodeAborted(rt.opts.logger, string(n.id), n.gen, reason)
}

// retire marks n and its subtree retired. Called under mu.
func (rt *Runtime) retire(n *node) {
	for _, c := range n.children {
		rt.retire(c)
	}
	rt.abort(n, "unmount")
	n.retired = true

	retained := rt.opts.unmount == UnmountRetain
	if !retained {
		rt.log.Remove(n.source())
	}
	observability.LogNodeUnregister(rt.opts.logger, string(n.id), retained)
}

// detach removes n from its parent's children.
func (rt *Runtime) detach(n *node) {
	p := n.parent
	for i, c := range p.children {
		if c == n {
			p.children = append(p.children[:i], p.children[i+1:]...)
			break
		}
	}
	for i, c := range p.rendered {
		if c == n {
			p.rendered = append(p.rendered[:i], p.rendered[i+1:]...)
			break
		}
	}
}
