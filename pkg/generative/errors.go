package generative

import (
	"errors"
	"fmt"
)

// Sentinel errors for registry operations.
var (
	// ErrNodeNotFound indicates the node ID was never registered.
	ErrNodeNotFound = errors.New("node not found")

	// ErrNodeRetired indicates the node has been unregistered.
	ErrNodeRetired = errors.New("node retired")

	// ErrInvalidSpec indicates a Spec cannot be mounted.
	ErrInvalidSpec = errors.New("invalid spec")

	// ErrClosed indicates the runtime has been closed.
	ErrClosed = errors.New("runtime closed")
)

func invalidSpec(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidSpec, fmt.Sprintf(format, args...))
}

// ActionError wraps a failure returned (or panicked) by a node's action.
// It is delivered to the nearest failure boundary and never retried.
type ActionError struct {
	// NodeID is the node whose action failed.
	NodeID NodeID
	// Generation is the trigger cycle that failed.
	Generation uint64
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *ActionError) Error() string {
	return fmt.Sprintf("node %s generation %d: %v", e.NodeID, e.Generation, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ActionError) Unwrap() error {
	return e.Err
}

// AbortError records that a generation was cancelled before it finished.
// Aborts are never reported to failure boundaries.
type AbortError struct {
	NodeID     NodeID
	Generation uint64
	// Cause is the context error that ended the action.
	Cause error
}

// Error implements the error interface.
func (e *AbortError) Error() string {
	return fmt.Sprintf("node %s generation %d aborted: %v", e.NodeID, e.Generation, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *AbortError) Unwrap() error {
	return e.Cause
}

// PanicError captures a panic raised by an action.
// It includes the stack trace for debugging.
type PanicError struct {
	// NodeID is the node whose action panicked.
	NodeID NodeID
	// Value is the value passed to panic().
	Value any
	// Stack is the full stack trace at the point of panic.
	Stack string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("node %s panicked: %v", e.NodeID, e.Value)
}
