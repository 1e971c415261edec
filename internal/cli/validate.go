package cli

import (
	"github.com/spf13/cobra"
)

// ValidationResult is the JSON payload of a successful validate.
type ValidationResult struct {
	Valid bool `json:"valid"`
	Nodes int  `json:"nodes"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "validate <tree.yaml>",
		Short:         "Check a tree file without running it",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	tree, err := LoadTree(path)
	if err != nil {
		if out.JSON() {
			_ = out.Encode("error", nil, err.Error())
		} else {
			out.Printf("✗ %v\n", err)
		}
		return WrapExitError(ExitFailure, "invalid tree", err)
	}

	if out.JSON() {
		return out.Encode("ok", ValidationResult{Valid: true, Nodes: tree.Count()}, "")
	}
	out.Printf("✓ tree valid (%d nodes)\n", tree.Count())
	return nil
}
