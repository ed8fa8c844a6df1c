package cli

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/netrunner/regfeed/internal/ir"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	// Config is the config file path. Empty looks for regfeed.yaml.
	Config string

	// DB overrides the configured SQLite registry path.
	DB string

	// Feeds and Writer replace the configured feeds when either is set.
	Feeds  []string
	Writer string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the regfeed CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:     "regfeed",
		Version: ir.EngineVersion,
		Short:   "regfeed - a registry merged from append-only feeds",
		Long: `regfeed maintains a name -> value registry built from any number of
append-only feeds. Concurrent edits converge: the highest (seq, author)
version of each name wins, and removals are tombstones that win over
older values.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			level := slog.LevelWarn
			if opts.Verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "", "config file (default ./regfeed.yaml)")
	cmd.PersistentFlags().StringVar(&opts.DB, "db", "", "SQLite registry path (overrides config)")
	cmd.PersistentFlags().StringArrayVar(&opts.Feeds, "feed", nil, "read-only feed file (repeatable, overrides config)")
	cmd.PersistentFlags().StringVar(&opts.Writer, "writer", "", "writable feed file (overrides config)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewPutCommand(opts))
	cmd.AddCommand(NewRemoveCommand(opts))
	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))
	cmd.AddCommand(NewVerifyCommand(opts))

	return cmd
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:  o.Format,
		Writer:  cmd.OutOrStdout(),
		Verbose: o.Verbose,
	}
}
