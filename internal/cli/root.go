package cli

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/livestate/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "text" | "json" | "table"
	Config  string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json", "table"}

// DefaultConfig is read when --config is not given.
const DefaultConfig = "livestate.yaml"

// NewRootCommand creates the root command for the livestate CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "livestate",
		Short: "Live views of remote documents and keys",
		Long: `Read, watch and change the resources declared in a livestate configuration.

Resources are collections, documents, aggregates, nodes and node lists
backed by a document store and a key-value store.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json|table)")
	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", DefaultConfig, "configuration file")

	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewAddCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewSaveCommand(opts))
	cmd.AddCommand(NewPushCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// logger writes resource and store logs to stderr: warnings by default,
// everything with --verbose.
func (o *RootOptions) logger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelWarn
	if o.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

// openEnv loads the configuration and opens its stores.
func (o *RootOptions) openEnv(ctx context.Context, cmd *cobra.Command) (*config.Env, error) {
	cfg, err := config.Load(o.Config)
	if err != nil {
		if config.IsValidationError(err) {
			return nil, WrapExitError(ExitFailure, "invalid configuration", err)
		}
		return nil, WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	env, err := config.Open(ctx, cfg, config.WithLogger(o.logger(cmd)))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open stores", err)
	}
	return env, nil
}
