package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/netrunner/regfeed/internal/ir"
)

// PutOptions holds options for the put command.
type PutOptions struct {
	*RootOptions
	Update bool
}

// NewPutCommand creates the put command.
func NewPutCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PutOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "put <name> <json-object>",
		Short: "Register a value under a name",
		Long: `Append a value for name to the writable feed and apply it to the
registry. The value must be a JSON object. All feeds are ingested first so
the new entry supersedes every version already known.`,
		Example: `  regfeed put service/api '{"port":8080}' --writer local.feed --feed peer.feed`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := opts.formatter(cmd)

			var value ir.IRObject
			if err := json.Unmarshal([]byte(args[1]), &value); err != nil {
				return out.Fail(ExitCommandError, CodeBadArgs, "value must be a JSON object", err)
			}

			op := "create"
			if opts.Update {
				op = "update"
			}
			return author(cmd, opts.RootOptions, op, ir.Entry{Name: args[0], Value: value})
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "record the write as an update")

	return cmd
}

// NewRemoveCommand creates the rm command.
func NewRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <name>",
		Short: "Remove a name",
		Long: `Append a tombstone for name to the writable feed. The tombstone
outranks every version of name known when it was written.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return author(cmd, rootOpts, "remove", ir.Entry{Name: args[0]})
		},
	}
}

// author catches up on every feed, appends entry through the engine's
// writer and waits for it to reach the registry.
func author(cmd *cobra.Command, rootOpts *RootOptions, op string, entry ir.Entry) error {
	out := rootOpts.formatter(cmd)
	ctx := cmd.Context()

	cfg, err := loadConfig(rootOpts)
	if err != nil {
		return out.Fail(ExitCommandError, CodeConfig, "load config", err)
	}
	rt, err := openRuntime(ctx, cfg, true)
	if err != nil {
		return out.Fail(ExitCommandError, CodeOpen, "open runtime", err)
	}
	defer rt.Close()

	e, err := rt.catchUp(ctx)
	if err != nil {
		return failure(out, op, err)
	}
	defer e.Close()

	var written ir.Entry
	switch op {
	case "remove":
		written, err = e.Remove(ctx, entry)
	case "update":
		written, err = e.Update(ctx, entry)
	default:
		written, err = e.Create(ctx, entry)
	}
	if err != nil {
		return failure(out, fmt.Sprintf("%s %s", op, entry.Name), err)
	}

	if err := rt.settle(ctx, e.Clock(), written); err != nil {
		return failure(out, fmt.Sprintf("%s %s", op, entry.Name), err)
	}
	return out.Success(viewEntry(written), formatEntry(written))
}
