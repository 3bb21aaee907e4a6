package main

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"pkgmirror/pkg/errlog"
	"pkgmirror/pkg/ui"
)

var (
	errorsPhase string
	errorsRun   string
	errorsLimit int
)

// errorsCmd represents the errors command
var errorsCmd = &cobra.Command{
	Use:   "errors",
	Short: "List failures recorded in the error log",
	Long: `List the per-item failures that harvest and mirror appended to the error
log, newest last. Failed items can be retried with --from-errors.`,
	Example: `  # Show every recorded failure
  pkgmirror errors

  # Show the last 20 mirror failures
  pkgmirror errors --phase mirror --limit 20`,
	Args: cobra.NoArgs,
	RunE: runErrors,
}

func init() {
	rootCmd.AddCommand(errorsCmd)

	errorsCmd.Flags().StringVar(&errorsPhase, "phase", "", "only show this phase (harvest, mirror)")
	errorsCmd.Flags().StringVar(&errorsRun, "run", "", "only show this run id")
	errorsCmd.Flags().IntVarP(&errorsLimit, "limit", "n", 0, "show at most this many of the newest records")
}

func runErrors(cmd *cobra.Command, args []string) error {
	env, err := loadEnvironment(globalFlags())
	if err != nil {
		return err
	}

	records, torn, err := errlog.Read(env.cfg.Logging.ErrorLog)
	if err != nil {
		return fmt.Errorf("failed to read error log: %w", err)
	}
	if torn > 0 {
		ui.PrintWarning("Skipped unreadable error log lines", torn)
	}

	records = errlog.Filter(records, errorsPhase, errorsRun)
	if len(records) == 0 {
		ui.PrintSuccess("No failures recorded")
		return nil
	}

	shown := records
	if errorsLimit > 0 && len(shown) > errorsLimit {
		shown = shown[len(shown)-errorsLimit:]
	}

	tbl := ui.NewTable("Time", "Phase", "Item", "Version", "Kind", "Error")
	for _, r := range shown {
		tbl.Row(r.Time.Local().Format("2006-01-02 15:04:05"), r.Phase, r.Item, r.Version, r.Kind, truncate(r.Error, 80))
	}
	tbl.Footer("", "", fmt.Sprintf("%s items", humanize.Comma(int64(len(errlog.Items(records))))), "", "", fmt.Sprintf("%s records", humanize.Comma(int64(len(records)))))
	tbl.Render()
	return nil
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
