package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/netrunner/regfeed/internal/engine"
)

// NewServeCommand creates the serve command, which follows every feed
// and keeps the registry current until interrupted.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Follow all feeds and keep the registry current",
		Long: `Follow every configured feed and apply new entries to the registry
as they are appended. Runs until interrupted, then prints the entry
counters.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)

			cfg, err := loadConfig(rootOpts)
			if err != nil {
				return out.Fail(ExitCommandError, CodeConfig, "load config", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := openRuntime(ctx, cfg, true)
			if err != nil {
				return out.Fail(ExitCommandError, CodeOpen, "open runtime", err)
			}
			defer rt.Close()

			e := engine.New(rt.Feeds(), rt.registry, rt.EngineOptions(cfg.Live)...)
			defer e.Close()

			if err := e.Ready(ctx); err != nil && ctx.Err() == nil {
				return failure(out, "ready", err)
			}
			if w := e.Writer(); w != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "serving %d feeds, writer %s\n", len(e.Feeds()), w.FeedID())
			} else {
				fmt.Fprintf(cmd.ErrOrStderr(), "serving %d feeds, read-only\n", len(e.Feeds()))
			}

			if cfg.Live {
				<-ctx.Done()
			} else if err := e.Wait(ctx); err != nil && ctx.Err() == nil {
				return failure(out, "wait", err)
			}

			stats := e.Stats()
			return out.Success(stats, formatCounts(statsCounts(stats)))
		},
	}
}

func statsCounts(s engine.Stats) map[string]int64 {
	return map[string]int64{
		"applied":  s.Applied,
		"removed":  s.Removed,
		"retained": s.Retained,
		"dropped":  s.Dropped,
		"errors":   s.Errors,
	}
}
