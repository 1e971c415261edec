package generative

import (
	"context"
	"reflect"
	"slices"

	"github.com/randalmurphal/generative/pkg/generative/message"
)

// NodeID identifies a logical position in the tree.
type NodeID string

// Kind is the kind of a node.
type Kind int

// Node kinds.
const (
	// KindStatic produces its Value as a complete message when triggered.
	KindStatic Kind = iota + 1
	// KindAction runs an Action and stores its output.
	KindAction
	// KindRepeat mounts copies of its children once per iteration.
	KindRepeat
	// KindNoop produces nothing. It only holds a turn.
	KindNoop
	// KindGroup is a structural container (the root and repeat iterations).
	KindGroup
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindStatic:
		return "static"
	case KindAction:
		return "action"
	case KindRepeat:
		return "repeat"
	case KindNoop:
		return "noop"
	case KindGroup:
		return "group"
	default:
		return "unknown"
	}
}

// State is the scheduling state of a node.
type State int

// Node states.
const (
	StateIdle State = iota
	StatePending
	StateReady
	StateError
	StateAborted
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePending:
		return "pending"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Action computes a node's output from the messages positioned before it.
//
// ctx is cancelled when the node is unregistered, its dependency key
// changes, or the runtime closes. Actions must stop producing once ctx is
// done. A returned error marks the node failed unless ctx was cancelled.
type Action func(ctx context.Context, visible []message.Message) (Output, error)

// Spec declares a node.
type Spec struct {
	Kind Kind

	// Value is the message produced by a KindStatic node.
	Value message.Message

	// Action is run by a KindAction node.
	Action Action

	// DepKey decides whether Update re-runs the node. It must be comparable.
	// A key holding an uncomparable value in an interface field always
	// counts as changed.
	DepKey any

	// Key identifies the node among its siblings. Registering a Spec whose
	// Key matches a live sibling updates that sibling instead.
	Key string

	// Children are mounted below the node at registration. For KindRepeat
	// they are the template copied into every iteration.
	Children []Spec

	// Render returns children to mount once the node's message is ready.
	Render func(message.Message) []Spec

	// OnMessage receives the node's message each time it completes.
	OnMessage func(message.Message)

	// OnSettled is called once, after the node and all of its descendants
	// are done and before any later sibling is triggered.
	OnSettled func()

	// OnError receives failures of descendant actions. A node with OnError
	// is a failure boundary for its subtree.
	OnError func(error)

	// Limit bounds the iterations of a KindRepeat node. Zero is unbounded.
	Limit int

	// Stopped ends a KindRepeat node at the next iteration boundary.
	Stopped bool
}

// Static declares a node that produces msg.
func Static(msg message.Message) Spec {
	return Spec{Kind: KindStatic, Value: msg}
}

// Act declares a node that runs action.
func Act(action Action) Spec {
	return Spec{Kind: KindAction, Action: action}
}

// Repeat declares a repeat with the given iteration limit (zero is unbounded).
// An unbounded repeat runs until Stopped is set through Update, typically
// from an OnMessage callback inside the iteration.
func Repeat(limit int, children ...Spec) Spec {
	return Spec{Kind: KindRepeat, Limit: limit, Children: children}
}

// Noop declares a placeholder that takes a turn but produces no message.
func Noop() Spec {
	return Spec{Kind: KindNoop}
}

// clone copies the Children tree so iterations never share slices.
func (s Spec) clone() Spec {
	if s.Children != nil {
		children := make([]Spec, len(s.Children))
		for i, c := range s.Children {
			children[i] = c.clone()
		}
		s.Children = children
	}
	return s
}

// validate reports whether s (and its children) can be mounted.
func (s Spec) validate() error {
	switch s.Kind {
	case KindStatic, KindNoop:
	case KindAction:
		if s.Action == nil {
			return invalidSpec("action node requires an Action")
		}
	case KindRepeat:
		if s.Limit < 0 {
			return invalidSpec("repeat limit must not be negative")
		}
		if s.Limit == 0 && !s.Stopped && len(s.Children) == 0 {
			return invalidSpec("unbounded repeat needs children")
		}
	case KindGroup:
		return invalidSpec("group nodes are created by the runtime")
	default:
		return invalidSpec("unknown kind %d", s.Kind)
	}
	if s.DepKey != nil && !reflect.TypeOf(s.DepKey).Comparable() {
		return invalidSpec("dependency key of type %T is not comparable", s.DepKey)
	}
	for _, c := range s.Children {
		if err := c.validate(); err != nil {
			return err
		}
	}
	return nil
}

// IterationState records one iteration of a repeat.
type IterationState struct {
	Index int
	// Group is the container node holding the iteration's children.
	Group NodeID
	// Settled is true once every node in the iteration is done.
	Settled bool
}

// NodeInfo is a read-only view of a node.
type NodeInfo struct {
	ID         NodeID
	Parent     NodeID
	Instance   string
	Kind       Kind
	State      State
	Generation uint64
	Position   message.Position
	Children   []NodeID
	Iterations []IterationState
	// Err is the last failure (*ActionError) or abort (*AbortError).
	Err     error
	Retired bool
}

type node struct {
	id       NodeID
	instance string
	parent   *node
	spec     Spec
	pos      message.Position

	children    []*node
	nextOrdinal int

	state  State
	gen    uint64
	cancel context.CancelFunc
	err    error

	retired bool
	// queued counts host callbacks for this node not yet delivered.
	queued int

	// settled is set once OnSettled has been delivered.
	settled      bool
	settleQueued bool
	renderQueued bool
	rendered     []*node

	iterations []IterationState
	repeatDone bool

	// boundaryQueued is set while the next iteration is being decided on
	// another goroutine.
	boundaryQueued bool
}

// current reports whether a result for generation gen still belongs to n.
func (n *node) current(gen uint64) bool {
	return !n.retired && n.gen == gen && n.state == StatePending
}

// sameKey compares two dependency keys. Keys whose dynamic values cannot
// be compared, such as a struct holding a slice in an interface field,
// are treated as changed.
func sameKey(a, b any) (same bool) {
	defer func() {
		if recover() != nil {
			same = false
		}
	}()
	return a == b
}

func (n *node) source() string {
	return string(n.id)
}

// quiescent reports whether n and its subtree have finished everything
// except delivering n's own OnSettled.
func (n *node) quiescent() bool {
	if n.retired || n.state != StateReady || n.queued > 0 || n.renderQueued {
		return false
	}
	if n.spec.Kind == KindRepeat && !n.repeatDone {
		return false
	}
	for _, c := range n.children {
		if !c.done() {
			return false
		}
	}
	return true
}

// done reports whether later siblings of n may trigger.
func (n *node) done() bool {
	if n.spec.OnSettled != nil && !n.settled {
		return false
	}
	return n.quiescent()
}

func (n *node) info() NodeInfo {
	info := NodeInfo{
		ID:         n.id,
		Instance:   n.instance,
		Kind:       n.spec.Kind,
		State:      n.state,
		Generation: n.gen,
		Position:   slices.Clone(n.pos),
		Iterations: slices.Clone(n.iterations),
		Err:        n.err,
		Retired:    n.retired,
	}
	if n.parent != nil {
		info.Parent = n.parent.id
	}
	for _, c := range n.children {
		info.Children = append(info.Children, c.id)
	}
	return info
}
