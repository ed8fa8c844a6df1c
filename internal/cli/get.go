package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/netrunner/regfeed/internal/store"
)

// GetOptions holds options for the get command.
type GetOptions struct {
	*RootOptions
	Sync bool
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GetOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "get <name>",
		Short: "Show the registered value of a name",
		Long: `Print the current value registered under name. Removed names are
reported as not found. With --sync every feed is ingested first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := opts.formatter(cmd)
			ctx := cmd.Context()

			rt, err := openForRead(cmd, opts.RootOptions, opts.Sync)
			if err != nil {
				return err
			}
			defer rt.Close()

			if opts.Sync {
				e, err := rt.catchUp(ctx)
				if err != nil {
					return failure(out, "sync", err)
				}
				e.Close()
			}

			entry, err := store.Visible(ctx, rt.registry, args[0])
			if err != nil {
				return failure(out, fmt.Sprintf("get %s", args[0]), err)
			}
			return out.Success(viewEntry(entry), formatEntry(entry))
		},
	}

	cmd.Flags().BoolVar(&opts.Sync, "sync", false, "ingest all feeds before reading")

	return cmd
}

// ListOptions holds options for the list command.
type ListOptions struct {
	*RootOptions
	Prefix     string
	Tombstones bool
	Limit      int
	Sync       bool
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered names",
		Long: `List the registry in name order. Removed names are hidden unless
--tombstones is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := opts.formatter(cmd)
			ctx := cmd.Context()

			if opts.Limit < 0 {
				return out.Fail(ExitCommandError, CodeBadArgs, "limit must not be negative", nil)
			}

			rt, err := openForRead(cmd, opts.RootOptions, opts.Sync)
			if err != nil {
				return err
			}
			defer rt.Close()

			if opts.Sync {
				e, err := rt.catchUp(ctx)
				if err != nil {
					return failure(out, "sync", err)
				}
				e.Close()
			}

			lister, ok := rt.registry.(store.Lister)
			if !ok {
				return out.Fail(ExitFailure, CodeInternal, "registry cannot list names", nil)
			}
			entries, err := lister.List(ctx, store.ListOptions{
				Prefix:            opts.Prefix,
				IncludeTombstones: opts.Tombstones,
				Limit:             opts.Limit,
			})
			if err != nil {
				return failure(out, "list", err)
			}

			views := make([]EntryView, len(entries))
			for i, e := range entries {
				views[i] = viewEntry(e)
			}
			return out.Success(views, formatEntries(entries))
		},
	}

	cmd.Flags().StringVar(&opts.Prefix, "prefix", "", "only names starting with prefix")
	cmd.Flags().BoolVar(&opts.Tombstones, "tombstones", false, "include removed names")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of names (0 = all)")
	cmd.Flags().BoolVar(&opts.Sync, "sync", false, "ingest all feeds before reading")

	return cmd
}

func openForRead(cmd *cobra.Command, rootOpts *RootOptions, withFeeds bool) (*runtime, error) {
	out := rootOpts.formatter(cmd)
	cfg, err := loadConfig(rootOpts)
	if err != nil {
		return nil, out.Fail(ExitCommandError, CodeConfig, "load config", err)
	}
	rt, err := openRuntime(cmd.Context(), cfg, withFeeds)
	if err != nil {
		return nil, out.Fail(ExitCommandError, CodeOpen, "open runtime", err)
	}
	return rt, nil
}
