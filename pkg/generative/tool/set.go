package tool

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/randalmurphal/generative/pkg/generative/message"
)

// Descriptor is the type-erased view of a Tool held by a Set.
type Descriptor interface {
	ToolName() string
	Definition() Definition
}

// ErrDuplicateTool is returned when a tool name is registered twice.
var ErrDuplicateTool = errors.New("tool already registered")

// Set is a thread-safe collection of tool descriptors indexed by name.
// Registration order is preserved for Definitions.
type Set struct {
	mu    sync.RWMutex
	tools map[string]Descriptor
	order []string
}

// NewSet creates a set holding the given tools.
// Panics on duplicate names.
func NewSet(tools ...Descriptor) *Set {
	s := &Set{tools: make(map[string]Descriptor)}
	for _, t := range tools {
		if err := s.Register(t); err != nil {
			panic(err)
		}
	}
	return s
}

// Register adds a descriptor.
func (s *Set) Register(d Descriptor) error {
	if d == nil || d.ToolName() == "" {
		return errors.New("tool name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name := d.ToolName()
	if _, exists := s.tools[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, name)
	}
	s.tools[name] = d
	s.order = append(s.order, name)
	return nil
}

// Get returns the descriptor registered under name.
func (s *Set) Get(name string) (Descriptor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.tools[name]
	return d, ok
}

// Names returns the registered names in registration order.
func (s *Set) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.order)
}

// Definitions returns every tool definition in registration order.
func (s *Set) Definitions() []Definition {
	s.mu.RLock()
	defer s.mu.RUnlock()

	defs := make([]Definition, 0, len(s.order))
	for _, name := range s.order {
		defs = append(defs, s.tools[name].Definition())
	}
	return defs
}

// Unknown returns the calls in msg whose names are not registered.
func (s *Set) Unknown(msg message.Message) []message.ToolCall {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var unknown []message.ToolCall
	for _, tc := range msg.ToolCalls {
		if _, ok := s.tools[tc.Name]; !ok {
			unknown = append(unknown, tc)
		}
	}
	return unknown
}
