package message

import "slices"

// ToolCallDelta appends to the tool call with the same Index.
// ID and Name are taken from the first fragment that carries them.
type ToolCallDelta struct {
	Index     int    `json:"index"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// Delta is an incremental update to an in-progress message.
// Every field is optional.
type Delta struct {
	Role      Role            `json:"role,omitempty"`
	Content   string          `json:"content,omitempty"`
	ToolCalls []ToolCallDelta `json:"tool_calls,omitempty"`
}

// IsEmpty reports whether applying d would change nothing.
func (d Delta) IsEmpty() bool {
	return d.Role == "" && d.Content == "" && len(d.ToolCalls) == 0
}

// Merge folds d into m in place.
//
// Content is appended. Tool-call argument text is appended to the fragment
// keyed by the delta's index, creating it on first sight. The role is set
// once and never overwritten.
func Merge(m *Message, d Delta) {
	if m.Role == "" && d.Role != "" {
		m.Role = d.Role
	}
	m.Content += d.Content

	for _, tcd := range d.ToolCalls {
		i := slices.IndexFunc(m.ToolCalls, func(tc ToolCall) bool {
			return tc.Index == tcd.Index
		})
		if i < 0 {
			m.ToolCalls = append(m.ToolCalls, ToolCall{Index: tcd.Index})
			i = len(m.ToolCalls) - 1
		}
		call := &m.ToolCalls[i]
		if call.ID == "" {
			call.ID = tcd.ID
		}
		if call.Name == "" {
			call.Name = tcd.Name
		}
		call.Arguments += tcd.Arguments
	}
}
