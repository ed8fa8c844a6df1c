package cli

import (
	"github.com/spf13/cobra"
)

// NewReplayCommand creates the replay command, which ingests every feed
// from the beginning without following it.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "replay",
		Short: "Ingest all feeds once and print entry counters",
		Long: `Read every configured feed from its first entry and apply it to the
registry, then exit. Entries already applied are dropped as duplicates,
so replaying is always safe.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)

			cfg, err := loadConfig(rootOpts)
			if err != nil {
				return out.Fail(ExitCommandError, CodeConfig, "load config", err)
			}
			rt, err := openRuntime(cmd.Context(), cfg, true)
			if err != nil {
				return out.Fail(ExitCommandError, CodeOpen, "open runtime", err)
			}
			defer rt.Close()

			e, err := rt.catchUp(cmd.Context())
			if err != nil {
				return failure(out, "replay", err)
			}
			defer e.Close()

			stats := e.Stats()
			return out.Success(stats, formatCounts(statsCounts(stats)))
		},
	}
}
