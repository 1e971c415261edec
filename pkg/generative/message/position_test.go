package message

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPosition_Compare(t *testing.T) {
	tests := []struct {
		name string
		a, b Position
		want int
	}{
		{"equal", Position{0, 1}, Position{0, 1}, 0},
		{"sibling before", Position{0, 1}, Position{0, 2}, -1},
		{"sibling after", Position{2}, Position{1, 5}, 1},
		{"ancestor before descendant", Position{0}, Position{0, 0}, -1},
		{"descendant before later sibling of ancestor", Position{0, 9, 9}, Position{1}, -1},
		{"root before everything", Position{}, Position{0}, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Compare(tt.b))
		})
	}
}

func TestPosition_PreOrderSort(t *testing.T) {
	positions := []Position{{1}, {0, 1}, {0}, {0, 0, 3}, {0, 0}, {2, 0}}
	slices.SortFunc(positions, Position.Compare)

	got := make([]string, len(positions))
	for i, p := range positions {
		got[i] = p.String()
	}
	assert.Equal(t, []string{"0", "0.0", "0.0.3", "0.1", "1", "2.0"}, got)
}

func TestPosition_Child(t *testing.T) {
	parent := Position{3}
	child := parent.Child(7)

	assert.Equal(t, Position{3, 7}, child)
	assert.True(t, parent.IsAncestorOf(child))
	assert.False(t, child.IsAncestorOf(parent))
	assert.False(t, parent.IsAncestorOf(parent))

	child[0] = 9
	assert.Equal(t, Position{3}, parent, "child must not alias the parent")
}
