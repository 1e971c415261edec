package cli

import (
	"errors"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/generative/pkg/generative"
	"github.com/randalmurphal/generative/pkg/generative/message"
)

// MessageView is the printed form of a log entry.
type MessageView struct {
	Role      string             `json:"role"`
	Content   string             `json:"content"`
	ToolCalls []message.ToolCall `json:"tool_calls,omitempty"`
	Complete  bool               `json:"complete"`
}

// RunResult is the JSON payload of run.
type RunResult struct {
	Messages []MessageView `json:"messages"`
	Failures []string      `json:"failures,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run <tree.yaml>",
		Short: "Run a tree until it settles and print the message log",
		Long: `Run mounts every node declared in the tree file, waits until no node is
pending and prints the messages in tree order. Nodes after a failed node
never run; the failure is reported and the command exits non-zero.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTree(rootOpts, args[0], cmd)
		},
	}
}

func runTree(opts *RootOptions, path string, cmd *cobra.Command) error {
	tree, err := LoadTree(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "load tree", err)
	}

	var (
		mu       sync.Mutex
		failures []string
	)
	onError := func(err error) {
		// Report the action's own error; node IDs differ per run.
		var actionErr *generative.ActionError
		if errors.As(err, &actionErr) {
			err = actionErr.Err
		}
		mu.Lock()
		failures = append(failures, err.Error())
		mu.Unlock()
	}

	rtOpts := append([]generative.Option{
		generative.WithLogger(opts.logger(cmd.ErrOrStderr())),
		generative.WithErrorHandler(onError),
		generative.WithContext(cmd.Context()),
	}, opts.runtimeOpts...)
	rt := generative.New(rtOpts...)
	defer rt.Close()

	for _, spec := range tree.Specs() {
		if _, err := rt.Register(rt.Root(), spec); err != nil {
			return WrapExitError(ExitCommandError, "register node", err)
		}
	}
	if err := rt.WaitUntilSettled(cmd.Context()); err != nil {
		return WrapExitError(ExitFailure, "wait for settlement", err)
	}

	result := RunResult{}
	for _, m := range rt.Messages() {
		result.Messages = append(result.Messages, MessageView{
			Role:      string(m.Role),
			Content:   m.Content,
			ToolCalls: m.ToolCalls,
			Complete:  m.Complete,
		})
	}
	mu.Lock()
	result.Failures = failures
	mu.Unlock()

	if err := printRun(&OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}, result); err != nil {
		return err
	}
	if len(result.Failures) > 0 {
		return NewExitError(ExitFailure, "tree did not complete")
	}
	return nil
}

func printRun(out *OutputFormatter, result RunResult) error {
	if out.JSON() {
		status := "ok"
		if len(result.Failures) > 0 {
			status = "error"
		}
		return out.Encode(status, result, "")
	}
	for _, m := range result.Messages {
		role := m.Role
		if role == "" {
			role = "-"
		}
		line := strings.TrimRight(role+": "+m.Content, " ")
		if !m.Complete {
			line += " (incomplete)"
		}
		out.Printf("%s\n", line)
	}
	for _, f := range result.Failures {
		out.Printf("failed: %s\n", f)
	}
	return nil
}
