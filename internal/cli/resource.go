package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/livestate/internal/config"
)

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <resource>...",
		Short: "Read resources once",
		Long: `Read each named resource once and print its data.

A document or node that does not exist prints null.

Examples:
  livestate get todos
  livestate get todos profile --format table`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, rootOpts, func(ctx context.Context, env *config.Env, out *OutputFormatter) error {
				for _, name := range args {
					r, err := resource(env, name, config.Listening(false))
					if err != nil {
						return err
					}
					if err := r.Refetch(ctx); err != nil {
						return WrapExitError(ExitCommandError, fmt.Sprintf("failed to read %s", name), err)
					}
					data, _ := r.Data()
					if err := out.Data(name, data); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	For time.Duration // stop after; zero watches until interrupted
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch <resource>...",
		Short: "Print resources every time they change",
		Long: `Observe the named resources and print their data on every change.

Resources configured with listen: true follow the stores live; the others
print once. Watching stops on interrupt, after --for, or when a resource
reports an error.

Examples:
  livestate watch todos
  livestate watch todos presence --for 30s --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, rootOpts, func(ctx context.Context, env *config.Env, out *OutputFormatter) error {
				if opts.For > 0 {
					var cancel context.CancelFunc
					ctx, cancel = context.WithTimeout(ctx, opts.For)
					defer cancel()
				}
				return watch(ctx, env, out, args)
			})
		},
	}

	cmd.Flags().DurationVar(&opts.For, "for", 0, "stop watching after this long")

	return cmd
}

// watch observes every resource until ctx ends or one fails.
func watch(ctx context.Context, env *config.Env, out *OutputFormatter, names []string) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, name := range names {
		failed := make(chan error, 1)
		r, err := resource(env, name, config.OnError(func(err error) {
			select {
			case failed <- err:
			default:
			}
		}))
		if err != nil {
			return err
		}

		g.Go(func() error {
			release := r.Observe(func(data any) {
				if err := out.Data(name, data); err != nil {
					out.VerboseLog("write %s: %v", name, err)
				}
			})
			defer release()

			select {
			case <-ctx.Done():
				return nil
			case err := <-failed:
				return WrapExitError(ExitCommandError, fmt.Sprintf("%s failed", name), err)
			}
		})
	}
	return g.Wait()
}

// NewAddCommand creates the add command.
func NewAddCommand(rootOpts *RootOptions) *cobra.Command {
	var data string

	cmd := &cobra.Command{
		Use:   "add <collection>",
		Short: "Add a record to a collection",
		Long: `Add a record to a collection and print the id the store assigned.

Examples:
  livestate add todos --data '{"title": "review", "done": false}'`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var rec map[string]any
			if err := decodeFlag("data", data, &rec); err != nil {
				return err
			}
			return withEnv(cmd, rootOpts, func(ctx context.Context, env *config.Env, out *OutputFormatter) error {
				r, err := resource(env, args[0], config.Listening(false))
				if err != nil {
					return err
				}
				id, err := r.Add(ctx, rec)
				if err != nil {
					return WrapExitError(ExitFailure, "add failed", err)
				}
				return out.Success(map[string]any{"id": id})
			})
		},
	}

	cmd.Flags().StringVar(&data, "data", "{}", "record as a JSON object")

	return cmd
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <collection> <id>",
		Short: "Delete a record from a collection",
		Long: `Delete one record from a collection by id.

Examples:
  livestate delete todos t1`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, rootOpts, func(ctx context.Context, env *config.Env, out *OutputFormatter) error {
				r, err := resource(env, args[0], config.Listening(false))
				if err != nil {
					return err
				}
				if err := r.Delete(ctx, args[1]); err != nil {
					return WrapExitError(ExitFailure, "delete failed", err)
				}
				return out.Success(map[string]any{"deleted": args[1]})
			})
		},
	}
}

// NewSaveCommand creates the save command.
func NewSaveCommand(rootOpts *RootOptions) *cobra.Command {
	var field, value string

	cmd := &cobra.Command{
		Use:   "save <document|node>",
		Short: "Set one field of a document or node",
		Long: `Read a document or node, set one field and write it back.

Nothing is written when the document or node does not exist.

Examples:
  livestate save profile --field name --value '"Ada"'
  livestate save presence --field online --value true`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if field == "" {
				return NewExitError(ExitCommandError, "--field is required")
			}
			var v any
			if err := decodeFlag("value", value, &v); err != nil {
				return err
			}
			return withEnv(cmd, rootOpts, func(ctx context.Context, env *config.Env, out *OutputFormatter) error {
				r, err := resource(env, args[0], config.Listening(false))
				if err != nil {
					return err
				}
				if err := r.Refetch(ctx); err != nil {
					return WrapExitError(ExitCommandError, fmt.Sprintf("failed to read %s", args[0]), err)
				}
				if err := r.SaveField(ctx, field, v); err != nil {
					return WrapExitError(ExitFailure, "save failed", err)
				}
				data, _ := r.Data()
				return out.Data(args[0], data)
			})
		},
	}

	cmd.Flags().StringVar(&field, "field", "", "field to set")
	cmd.Flags().StringVar(&value, "value", "null", "new value as JSON")

	return cmd
}

// NewPushCommand creates the push command.
func NewPushCommand(rootOpts *RootOptions) *cobra.Command {
	var value string

	cmd := &cobra.Command{
		Use:   "push <nodelist>",
		Short: "Append a child to a node list",
		Long: `Write a value under a new child key of a node list and print the key.

Examples:
  livestate push chat --value '{"text": "hi"}'`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var v any
			if err := decodeFlag("value", value, &v); err != nil {
				return err
			}
			return withEnv(cmd, rootOpts, func(ctx context.Context, env *config.Env, out *OutputFormatter) error {
				r, err := resource(env, args[0], config.Listening(false))
				if err != nil {
					return err
				}
				key, err := r.Push(ctx, v)
				if err != nil {
					return WrapExitError(ExitFailure, "push failed", err)
				}
				return out.Success(map[string]any{"key": key})
			})
		},
	}

	cmd.Flags().StringVar(&value, "value", "null", "value as JSON")

	return cmd
}

// withEnv opens the configured environment, runs fn and closes it.
func withEnv(cmd *cobra.Command, opts *RootOptions, fn func(context.Context, *config.Env, *OutputFormatter) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	env, err := opts.openEnv(ctx, cmd)
	if err != nil {
		return err
	}
	defer env.Close()
	return fn(ctx, env, opts.formatter(cmd))
}

func resource(env *config.Env, name string, opts ...config.ResourceOption) (*config.Resource, error) {
	r, err := env.Resource(name, opts...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to build resource", err)
	}
	return r, nil
}

func decodeFlag(name, raw string, v any) error {
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("--%s is not valid JSON", name), err)
	}
	return nil
}
