package message

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestMerge_ContentAppends(t *testing.T) {
	var m Message
	Merge(&m, Delta{Role: RoleAssistant, Content: "Hel"})
	Merge(&m, Delta{Content: "lo"})

	assert.Equal(t, RoleAssistant, m.Role)
	assert.Equal(t, "Hello", m.Content)
	assert.False(t, m.Complete, "merging never completes a message")
}

func TestMerge_RoleSetOnce(t *testing.T) {
	var m Message
	Merge(&m, Delta{Role: RoleAssistant})
	Merge(&m, Delta{Role: RoleUser, Content: "x"})

	assert.Equal(t, RoleAssistant, m.Role)
}

func TestMerge_ToolCallFragments(t *testing.T) {
	var m Message
	deltas := []Delta{
		{Role: RoleAssistant, ToolCalls: []ToolCallDelta{{Index: 0, ID: "call_a", Name: "extractCount"}}},
		{ToolCalls: []ToolCallDelta{{Index: 0, Arguments: `{"cou`}}},
		{ToolCalls: []ToolCallDelta{{Index: 1, ID: "call_b", Name: "extractName", Arguments: `{"name":`}}},
		{ToolCalls: []ToolCallDelta{{Index: 0, Arguments: `nt":42}`}, {Index: 1, Arguments: `"Gizmo"}`}}},
		{ToolCalls: []ToolCallDelta{{Index: 1, Name: "ignored"}}},
	}
	for _, d := range deltas {
		Merge(&m, d)
	}

	want := []ToolCall{
		{Index: 0, ID: "call_a", Name: "extractCount", Arguments: `{"count":42}`},
		{Index: 1, ID: "call_b", Name: "extractName", Arguments: `{"name":"Gizmo"}`},
	}
	if diff := cmp.Diff(want, m.ToolCalls); diff != "" {
		t.Errorf("tool calls mismatch (-want +got):\n%s", diff)
	}
}

func TestDelta_IsEmpty(t *testing.T) {
	assert.True(t, Delta{}.IsEmpty())
	assert.False(t, Delta{Content: "x"}.IsEmpty())
	assert.False(t, Delta{ToolCalls: []ToolCallDelta{{Index: 0}}}.IsEmpty())
}

func TestMessage_CloneIsIndependent(t *testing.T) {
	m := Message{ToolCalls: []ToolCall{{Name: "a"}}}
	c := m.Clone()
	c.ToolCalls[0].Name = "b"

	assert.Equal(t, "a", m.ToolCalls[0].Name)
}
