package main

import (
	"fmt"

	"github.com/spf13/cobra"

	errs "pkgmirror/pkg/errors"
	"pkgmirror/pkg/report"
	"pkgmirror/pkg/ui"
)

// compareCmd represents the compare command
var compareCmd = &cobra.Command{
	Use:   "compare [previous current]",
	Short: "Show how query totals changed between two count snapshots",
	Long: `Compare two count snapshots. Without arguments the two most recent
snapshots in the counts directory are used.

Changed queries are listed by the size of the change, largest first.
Queries that could not be counted in either snapshot are listed last.`,
	Example: `  # Compare the two latest snapshots
  pkgmirror compare

  # Compare two specific snapshots
  pkgmirror compare package-counts/package-counts-2024-01-01.json package-counts/package-counts-2024-02-01.json`,
	Args: cobra.MatchAll(cobra.MaximumNArgs(2), func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			return fmt.Errorf("expected both a previous and a current snapshot")
		}
		return nil
	}),
	RunE: runCompare,
}

func init() {
	rootCmd.AddCommand(compareCmd)
}

func runCompare(cmd *cobra.Command, args []string) error {
	env, err := loadEnvironment(globalFlags())
	if err != nil {
		return err
	}

	var previous, current string
	if len(args) == 2 {
		previous, current = args[0], args[1]
	} else {
		previous, current, err = report.LatestPair(env.cfg.Report.CountsDir)
		if err != nil {
			if errs.IsNotFound(err) {
				return fmt.Errorf("need two snapshots in %s; run 'pkgmirror counts' on different days", env.cfg.Report.CountsDir)
			}
			return err
		}
	}

	prev, err := report.ReadSnapshot(previous)
	if err != nil {
		return err
	}
	cur, err := report.ReadSnapshot(current)
	if err != nil {
		return err
	}

	ui.PrintInfo("Previous", previous)
	ui.PrintInfo("Current", current)

	changes := report.Compare(prev, cur)
	if len(changes) == 0 {
		ui.PrintSuccess("No changes")
		return nil
	}
	report.Render(ui.Output(), changes)
	return nil
}
