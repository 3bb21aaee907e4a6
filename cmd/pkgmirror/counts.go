package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	errs "pkgmirror/pkg/errors"
	"pkgmirror/pkg/report"
	"pkgmirror/pkg/retry"
	"pkgmirror/pkg/ui"
)

var countQueries []string

// countsCmd represents the counts command
var countsCmd = &cobra.Command{
	Use:   "counts",
	Short: "Record the total the registry reports for each query",
	Long: `Ask the search endpoint for the total number of results of every query
and store the snapshot as package-counts-<date>.json in the counts directory.

Transient failures are retried; a query that still fails is recorded as
null. Use 'pkgmirror compare' to diff the two most recent snapshots.`,
	Args: cobra.NoArgs,
	RunE: runCounts,
}

func init() {
	rootCmd.AddCommand(countsCmd)

	countsCmd.Flags().StringSliceVar(&countQueries, "queries", nil, "comma separated search queries (default: built-in vocabulary)")
}

func runCounts(cmd *cobra.Command, args []string) error {
	flags := globalFlags()
	if len(countQueries) > 0 {
		flags["queries"] = countQueries
	}

	env, err := loadEnvironment(flags)
	if err != nil {
		return err
	}
	cfg := env.cfg

	client, err := env.registryClient()
	if err != nil {
		return err
	}

	queries := cfg.Harvest.Queries
	ui.PrintInfo("Queries", humanize.Comma(int64(len(queries))))

	done := 0
	counter := report.NewCounter(client, report.CounterOptions{
		MaxRetries: cfg.Report.MaxRetries,
		Backoff:    retry.NewStatusBackoff(),
		Logger:     env.log,
		OnCount: func(query string, total *int, err error) {
			done++
			if err != nil {
				ui.PrintWarning(fmt.Sprintf("[%d/%d] %s", done, len(queries), query), err)
				return
			}
			ui.PrintInfo(fmt.Sprintf("[%d/%d] %s", done, len(queries), query), humanize.Comma(int64(*total)))
		},
	})

	ctx, stop := signalContext()
	defer stop()

	snap, err := counter.Snapshot(ctx, queries)
	if err != nil {
		if errors.Is(err, errs.ErrInterrupted) {
			ui.PrintWarning("Interrupted, snapshot not written")
			return nil
		}
		return err
	}

	path, err := report.WriteSnapshot(cfg.Report.CountsDir, time.Now(), snap)
	if err != nil {
		return err
	}

	report.RenderSnapshot(ui.Output(), snap)
	ui.PrintSuccess("[SNAPSHOT WRITTEN] " + path)
	return nil
}
