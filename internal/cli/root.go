// Package cli implements the generative command-line host.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/generative/pkg/generative"
	"github.com/randalmurphal/generative/pkg/generative/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	Config  string

	runtimeOpts []generative.Option
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// settings is the layout of a --config file.
type settings struct {
	Format  string         `mapstructure:"format"`
	Verbose bool           `mapstructure:"verbose"`
	Runtime map[string]any `mapstructure:"runtime"`
}

// NewRootCommand creates the root command for the generative CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "generative",
		Short: "Run ordered generative node trees",
		Long: `Declare a tree of generative nodes in YAML, run it until every node has
settled and print the resulting message log in order.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.load(cmd); err != nil {
				return err
			}
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log scheduling to stderr")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Config, "config", "", "YAML or JSON settings file")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))

	return cmd
}

// load applies the --config file. Flags set on the command line win.
func (o *RootOptions) load(cmd *cobra.Command) error {
	if o.Config == "" {
		return nil
	}
	cfg, err := config.FromFile(o.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "load config", err)
	}
	var s settings
	if err := cfg.Decode(&s); err != nil {
		return WrapExitError(ExitCommandError, "load config", err)
	}

	flags := cmd.Flags()
	if s.Format != "" && !flags.Changed("format") {
		o.Format = s.Format
	}
	if s.Verbose && !flags.Changed("verbose") {
		o.Verbose = true
	}
	o.runtimeOpts, err = generative.OptionsFromConfig(config.New(s.Runtime))
	if err != nil {
		return WrapExitError(ExitCommandError, "load config", err)
	}
	return nil
}

// logger returns the runtime logger for the current flags.
func (o *RootOptions) logger(w io.Writer) *slog.Logger {
	if !o.Verbose {
		return nil
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}
