// Package message holds the conversation vocabulary of the runtime: messages,
// incremental deltas, tree positions, the ordered message log and delta
// streams.
package message

import "slices"

// Role identifies the message sender.
type Role string

// Standard message roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a tool invocation fragment inside a message.
// Arguments accumulate as raw text while a stream is in flight and are only
// meaningful once the owning message is complete.
type ToolCall struct {
	Index     int    `json:"index" yaml:"index"`
	ID        string `json:"id,omitempty" yaml:"id,omitempty"`
	Name      string `json:"name" yaml:"name"`
	Arguments string `json:"arguments" yaml:"arguments"`
}

// Message is the single output of a generative node.
type Message struct {
	// Source is the ID of the node that owns this message.
	Source    string     `json:"source" yaml:"source"`
	Role      Role       `json:"role" yaml:"role"`
	Content   string     `json:"content" yaml:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty" yaml:"tool_calls,omitempty"`
	Complete  bool       `json:"complete" yaml:"complete"`
}

// Clone returns a copy that shares no mutable state with m.
func (m Message) Clone() Message {
	m.ToolCalls = slices.Clone(m.ToolCalls)
	return m
}

// ToolCall returns the first tool call with the given name.
func (m Message) ToolCall(name string) (ToolCall, bool) {
	for _, tc := range m.ToolCalls {
		if tc.Name == name {
			return tc, true
		}
	}
	return ToolCall{}, false
}

// System returns a complete system message.
func System(content string) Message {
	return Message{Role: RoleSystem, Content: content, Complete: true}
}

// User returns a complete user message.
func User(content string) Message {
	return Message{Role: RoleUser, Content: content, Complete: true}
}

// Assistant returns a complete assistant message.
func Assistant(content string) Message {
	return Message{Role: RoleAssistant, Content: content, Complete: true}
}

// Contents returns the content of each message, in order.
func Contents(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

// Count returns how many messages carry exactly the given content.
func Count(msgs []Message, content string) int {
	n := 0
	for _, m := range msgs {
		if m.Content == content {
			n++
		}
	}
	return n
}
