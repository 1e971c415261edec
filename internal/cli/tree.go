package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/randalmurphal/generative/pkg/generative"
	"github.com/randalmurphal/generative/pkg/generative/config"
	"github.com/randalmurphal/generative/pkg/generative/message"
)

// Tree is a node tree declared in YAML:
//
//	nodes:
//	  - type: system
//	    content: You are terse.
//	  - type: user
//	    content: hello there
//	  - type: repeat
//	    limit: 2
//	    children:
//	      - type: echo
type Tree struct {
	Nodes []NodeDecl `mapstructure:"nodes"`
}

// NodeDecl declares one node.
//
// Types: system, user, assistant (static messages), noop, echo (streams
// the last user message back word by word), count (reports how many
// messages it can see), fail (fails with content as the error) and
// repeat (limit, stopped).
type NodeDecl struct {
	Type     string     `mapstructure:"type"`
	Content  string     `mapstructure:"content"`
	Limit    int        `mapstructure:"limit"`
	Stopped  bool       `mapstructure:"stopped"`
	Children []NodeDecl `mapstructure:"children"`
}

// LoadTree reads and validates a tree file.
func LoadTree(path string) (*Tree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tree: %w", err)
	}
	return ParseTree(data)
}

// ParseTree decodes and validates YAML tree data.
func ParseTree(data []byte) (*Tree, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse tree: %w", err)
	}
	var tree Tree
	if err := config.Decode(raw, &tree); err != nil {
		return nil, err
	}
	if len(tree.Nodes) == 0 {
		return nil, errors.New("tree declares no nodes")
	}
	for i, n := range tree.Nodes {
		if err := n.validate(fmt.Sprintf("nodes[%d]", i)); err != nil {
			return nil, err
		}
	}
	return &tree, nil
}

func (d NodeDecl) validate(path string) error {
	switch d.Type {
	case "system", "user", "assistant", "fail":
		if d.Content == "" {
			return fmt.Errorf("%s: %s node requires content", path, d.Type)
		}
	case "noop", "echo", "count":
	case "repeat":
		if d.Limit < 0 {
			return fmt.Errorf("%s: repeat limit must not be negative", path)
		}
		if d.Limit == 0 && !d.Stopped {
			return fmt.Errorf("%s: repeat needs a limit or stopped", path)
		}
	case "":
		return fmt.Errorf("%s: missing type", path)
	default:
		return fmt.Errorf("%s: unknown type %q", path, d.Type)
	}
	if d.Type != "repeat" && (d.Limit != 0 || d.Stopped) {
		return fmt.Errorf("%s: limit and stopped only apply to repeat", path)
	}
	for i, c := range d.Children {
		if err := c.validate(fmt.Sprintf("%s.children[%d]", path, i)); err != nil {
			return err
		}
	}
	return nil
}

// Count returns the number of declared nodes, children included.
func (t *Tree) Count() int {
	var count func([]NodeDecl) int
	count = func(nodes []NodeDecl) int {
		n := len(nodes)
		for _, d := range nodes {
			n += count(d.Children)
		}
		return n
	}
	return count(t.Nodes)
}

// Specs converts the tree into runtime declarations.
func (t *Tree) Specs() []generative.Spec {
	specs := make([]generative.Spec, len(t.Nodes))
	for i, d := range t.Nodes {
		specs[i] = d.Spec()
	}
	return specs
}

// Spec converts one declaration.
func (d NodeDecl) Spec() generative.Spec {
	var spec generative.Spec
	switch d.Type {
	case "system":
		spec = generative.Static(message.System(d.Content))
	case "user":
		spec = generative.Static(message.User(d.Content))
	case "assistant":
		spec = generative.Static(message.Assistant(d.Content))
	case "noop":
		spec = generative.Noop()
	case "echo":
		spec = generative.Act(echo)
	case "count":
		spec = generative.Act(count)
	case "fail":
		spec = generative.Act(fail(d.Content))
	case "repeat":
		spec = generative.Repeat(d.Limit)
		spec.Stopped = d.Stopped
	}
	for _, c := range d.Children {
		spec.Children = append(spec.Children, c.Spec())
	}
	return spec
}

// echo streams the last visible user message back one word at a time.
func echo(_ context.Context, visible []message.Message) (generative.Output, error) {
	var last string
	for _, m := range visible {
		if m.Role == message.RoleUser {
			last = m.Content
		}
	}
	words := strings.Fields(last)
	deltas := make([]message.Delta, len(words))
	for i, w := range words {
		if i > 0 {
			w = " " + w
		}
		deltas[i] = message.Delta{Content: w}
	}
	if len(deltas) > 0 {
		deltas[0].Role = message.RoleAssistant
	}
	return generative.Streamed(message.StreamOf(deltas...)), nil
}

// count reports how many messages precede it.
func count(_ context.Context, visible []message.Message) (generative.Output, error) {
	return generative.Text(fmt.Sprintf("%d messages visible", len(visible))), nil
}

func fail(reason string) generative.Action {
	return func(context.Context, []message.Message) (generative.Output, error) {
		return generative.Output{}, errors.New(reason)
	}
}
