package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/netrunner/regfeed/internal/feed"
)

// VerifyResult is the outcome of verifying one feed file.
type VerifyResult struct {
	Path   string             `json:"path"`
	Report *feed.VerifyReport `json:"report,omitempty"`
	Error  string             `json:"error,omitempty"`
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <feed-file>...",
		Short: "Check the hash chain of feed files",
		Long: `Walk every record of each feed file and check that it links to the
previous one. Exits non-zero if any chain is broken.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)

			results := make([]VerifyResult, 0, len(args))
			var errs []error
			for _, path := range args {
				report, err := feed.VerifyFile(path)
				if err != nil {
					errs = append(errs, err)
					results = append(results, VerifyResult{Path: path, Error: err.Error()})
					continue
				}
				results = append(results, VerifyResult{Path: path, Report: &report})
			}

			if len(errs) > 0 {
				return out.Fail(ExitFailure, CodeVerify,
					fmt.Sprintf("%d of %d feeds failed verification", len(errs), len(args)),
					errors.Join(errs...))
			}
			return out.Success(results, formatVerify(results))
		},
	}
}

func formatVerify(results []VerifyResult) string {
	var sb strings.Builder
	for _, r := range results {
		fmt.Fprintf(&sb, "%s\t%s\t%d records\thead=%s", r.Path, r.Report.Feed, r.Report.Records, r.Report.Head)
		if r.Report.Partial {
			sb.WriteString("\t(partial tail)")
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
