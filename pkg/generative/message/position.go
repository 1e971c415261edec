package message

import (
	"cmp"
	"strconv"
	"strings"
)

// Position is the path of a node from the tree root, one ordinal per level.
//
// Positions order nodes in pre-order: paths compare element by element and
// an ancestor sorts before all of its descendants. A position is assigned
// once at mount and never changes.
type Position []int

// Compare returns -1, 0 or +1 depending on whether p sorts before, equal to
// or after q in pre-order.
func (p Position) Compare(q Position) int {
	for i := 0; i < len(p) && i < len(q); i++ {
		if c := cmp.Compare(p[i], q[i]); c != 0 {
			return c
		}
	}
	return cmp.Compare(len(p), len(q))
}

// Child returns the position of the child with the given ordinal.
func (p Position) Child(ordinal int) Position {
	child := make(Position, len(p)+1)
	copy(child, p)
	child[len(p)] = ordinal
	return child
}

// IsAncestorOf reports whether p is a strict prefix of q.
func (p Position) IsAncestorOf(q Position) bool {
	if len(p) >= len(q) {
		return false
	}
	for i := range p {
		if p[i] != q[i] {
			return false
		}
	}
	return true
}

// String renders the position as dotted ordinals ("0.2.1"). The root is "".
func (p Position) String() string {
	parts := make([]string, len(p))
	for i, v := range p {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ".")
}
