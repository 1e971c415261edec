package message

import (
	"errors"
	"slices"
)

// ErrUnknownSource indicates a log operation referenced a source with no entry.
var ErrUnknownSource = errors.New("no message for source")

// ChangeKind describes a log mutation.
type ChangeKind int

// Log mutation kinds.
const (
	// ChangeInsert is emitted when an entry is created or replaced by a fresh trigger.
	ChangeInsert ChangeKind = iota + 1
	// ChangeUpdate is emitted when a delta or full message is applied to an entry.
	ChangeUpdate
	// ChangeComplete is emitted when an entry is marked complete.
	ChangeComplete
	// ChangeRemove is emitted when an entry leaves the log.
	ChangeRemove
)

// String returns the change kind name.
func (k ChangeKind) String() string {
	switch k {
	case ChangeInsert:
		return "insert"
	case ChangeUpdate:
		return "update"
	case ChangeComplete:
		return "complete"
	case ChangeRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// Change is delivered to log subscribers after every mutation.
type Change struct {
	Kind     ChangeKind
	Source   string
	Position Position
	// Message is a copy of the entry after the mutation
	// (before it, for ChangeRemove).
	Message Message
}

type entry struct {
	pos Position
	msg Message
}

type subscriber struct {
	id int
	fn func(Change)
}

// Log stores one message per source ordered by Position.
//
// Log is NOT safe for concurrent use. The runtime serializes every call
// behind its own lock. Subscribers run synchronously on the mutating
// goroutine, after the mutation is applied.
type Log struct {
	entries []*entry
	index   map[string]*entry
	subs    []subscriber
	nextSub int
}

// NewLog creates an empty log.
func NewLog() *Log {
	return &Log{index: make(map[string]*entry)}
}

// Begin creates an empty, incomplete entry for source at pos.
// An existing entry for source is replaced.
func (l *Log) Begin(source string, pos Position, role Role) {
	l.put(source, pos, Message{Role: role}, ChangeInsert)
}

// Put stores msg for source at pos, inserting or replacing the entry.
func (l *Log) Put(source string, pos Position, msg Message) {
	kind := ChangeInsert
	if _, ok := l.index[source]; ok {
		kind = ChangeUpdate
	}
	l.put(source, pos, msg.Clone(), kind)
}

func (l *Log) put(source string, pos Position, msg Message, kind ChangeKind) {
	msg.Source = source
	if e, ok := l.index[source]; ok {
		if e.pos.Compare(pos) == 0 {
			e.msg = msg
			l.notify(Change{Kind: kind, Source: source, Position: e.pos, Message: e.msg.Clone()})
			return
		}
		l.unlink(e)
	}

	e := &entry{pos: slices.Clone(pos), msg: msg}
	i, _ := slices.BinarySearchFunc(l.entries, pos, func(e *entry, p Position) int {
		return e.pos.Compare(p)
	})
	l.entries = slices.Insert(l.entries, i, e)
	l.index[source] = e
	l.notify(Change{Kind: kind, Source: source, Position: e.pos, Message: e.msg.Clone()})
}

// Apply merges d into the entry for source.
func (l *Log) Apply(source string, d Delta) error {
	e, ok := l.index[source]
	if !ok {
		return ErrUnknownSource
	}
	Merge(&e.msg, d)
	l.notify(Change{Kind: ChangeUpdate, Source: source, Position: e.pos, Message: e.msg.Clone()})
	return nil
}

// Complete marks the entry for source complete.
func (l *Log) Complete(source string) error {
	e, ok := l.index[source]
	if !ok {
		return ErrUnknownSource
	}
	e.msg.Complete = true
	l.notify(Change{Kind: ChangeComplete, Source: source, Position: e.pos, Message: e.msg.Clone()})
	return nil
}

// Remove deletes the entry for source. It reports whether an entry existed.
func (l *Log) Remove(source string) bool {
	e, ok := l.index[source]
	if !ok {
		return false
	}
	l.unlink(e)
	l.notify(Change{Kind: ChangeRemove, Source: source, Position: e.pos, Message: e.msg.Clone()})
	return true
}

func (l *Log) unlink(e *entry) {
	i, found := slices.BinarySearchFunc(l.entries, e.pos, func(x *entry, p Position) int {
		return x.pos.Compare(p)
	})
	if found && l.entries[i] == e {
		l.entries = slices.Delete(l.entries, i, i+1)
	}
	delete(l.index, e.msg.Source)
}

// Get returns a copy of the entry for source.
func (l *Log) Get(source string) (Message, bool) {
	e, ok := l.index[source]
	if !ok {
		return Message{}, false
	}
	return e.msg.Clone(), true
}

// Snapshot returns the messages positioned strictly before upto, in log
// order. Incomplete messages are included as they currently stand.
func (l *Log) Snapshot(upto Position) []Message {
	n, _ := slices.BinarySearchFunc(l.entries, upto, func(e *entry, p Position) int {
		return e.pos.Compare(p)
	})
	return cloneEntries(l.entries[:n])
}

// All returns every message in log order.
func (l *Log) All() []Message {
	return cloneEntries(l.entries)
}

// Len returns the number of entries.
func (l *Log) Len() int {
	return len(l.entries)
}

// Subscribe registers fn for every subsequent mutation.
// The returned function removes the subscription.
func (l *Log) Subscribe(fn func(Change)) (unsubscribe func()) {
	l.nextSub++
	id := l.nextSub
	l.subs = append(l.subs, subscriber{id: id, fn: fn})
	return func() {
		l.subs = slices.DeleteFunc(l.subs, func(s subscriber) bool { return s.id == id })
	}
}

func (l *Log) notify(c Change) {
	for _, s := range slices.Clone(l.subs) {
		s.fn(c)
	}
}

func cloneEntries(entries []*entry) []Message {
	out := make([]Message, len(entries))
	for i, e := range entries {
		out[i] = e.msg.Clone()
	}
	return out
}
