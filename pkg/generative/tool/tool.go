// Package tool resolves tool calls inside completed messages against
// registered tool descriptors.
//
// Matching is by strict name equality. A descriptor never matches a
// differently named call, even when it is the only tool offered.
//
//	countTool := tool.New("extractCount", "Extract count of widgets",
//	    tool.JSON[struct{ Count int `json:"count"` }]())
//
//	call, err := tool.Match(countTool, msg)
//	var vErr *tool.ValidationError
//	switch {
//	case errors.As(err, &vErr):
//	    // name matched, arguments did not parse
//	case call == nil:
//	    // no call named extractCount
//	default:
//	    fmt.Println(call.Data.Count)
//	}
package tool

import (
	"encoding/json"
	"fmt"

	"github.com/randalmurphal/generative/pkg/generative/message"
)

// Tool describes a callable tool and how to parse its arguments.
type Tool[T any] struct {
	Name        string
	Description string
	Schema      Schema[T]
}

// New creates a tool descriptor.
// Panics if name is empty or schema is nil.
func New[T any](name, description string, schema Schema[T]) Tool[T] {
	if name == "" {
		panic("tool: name cannot be empty")
	}
	if schema == nil {
		panic("tool: schema cannot be nil")
	}
	return Tool[T]{Name: name, Description: description, Schema: schema}
}

// ToolName returns the tool name.
func (t Tool[T]) ToolName() string {
	return t.Name
}

// Definition returns the backend-facing description of the tool.
// Schemas that describe themselves contribute their parameters; others
// advertise a generic object.
func (t Tool[T]) Definition() Definition {
	params := json.RawMessage(`{"type":"object"}`)
	if p, ok := t.Schema.(interface{ Parameters() json.RawMessage }); ok {
		params = p.Parameters()
	}
	return Definition{
		Name:        t.Name,
		Description: t.Description,
		Parameters:  params,
	}
}

// Definition is the description of a tool sent to a completion backend.
type Definition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Call is a tool call whose arguments parsed successfully.
type Call[T any] struct {
	Index int
	ID    string
	Name  string
	// Raw is the accumulated argument text.
	Raw  string
	Data T
}

// ValidationError indicates a tool call matched by name but its arguments
// failed to parse against the tool schema.
type ValidationError struct {
	// Tool is the matched tool name.
	Tool string
	// CallID is the ID of the offending call, if the backend supplied one.
	CallID string
	// Raw is the argument text that failed to parse.
	Raw string
	// Err is the underlying parse error.
	Err error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("tool %s: invalid arguments: %v", e.Tool, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Match returns the first call in msg named t.Name with parsed arguments.
// It returns (nil, nil) when msg has no call with that name and a
// *ValidationError when the arguments do not parse.
func Match[T any](t Tool[T], msg message.Message) (*Call[T], error) {
	for _, tc := range msg.ToolCalls {
		if tc.Name != t.Name {
			continue
		}
		return parseCall(t, tc)
	}
	return nil, nil
}

// MatchAll returns every call in msg named t.Name, in message order.
// It stops at the first call whose arguments do not parse.
func MatchAll[T any](t Tool[T], msg message.Message) ([]Call[T], error) {
	var calls []Call[T]
	for _, tc := range msg.ToolCalls {
		if tc.Name != t.Name {
			continue
		}
		call, err := parseCall(t, tc)
		if err != nil {
			return calls, err
		}
		calls = append(calls, *call)
	}
	return calls, nil
}

func parseCall[T any](t Tool[T], tc message.ToolCall) (*Call[T], error) {
	data, err := t.Schema.Parse(tc.Arguments)
	if err != nil {
		return nil, &ValidationError{
			Tool:   t.Name,
			CallID: tc.ID,
			Raw:    tc.Arguments,
			Err:    err,
		}
	}
	return &Call[T]{
		Index: tc.Index,
		ID:    tc.ID,
		Name:  tc.Name,
		Raw:   tc.Arguments,
		Data:  data,
	}, nil
}
