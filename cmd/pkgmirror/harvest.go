package main

import (
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"pkgmirror/pkg/harvest"
	"pkgmirror/pkg/storage"
	"pkgmirror/pkg/ui"
)

var (
	pageSize       int
	flushThreshold int
	queries        []string
	harvestSel     selection
)

// harvestCmd represents the harvest command
var harvestCmd = &cobra.Command{
	Use:   "harvest",
	Short: "Collect package names from paginated registry searches",
	Long: `Page through every configured search query and store the package names
of each query in its own result file.

Queries are processed one at a time in the configured order. Progress is
checkpointed after every flush, so an interrupted harvest resumes at the
query and page where it stopped. Completed queries are skipped.`,
	Example: `  # Harvest the default query vocabulary
  pkgmirror harvest

  # Harvest two queries with a slower request pace
  pkgmirror harvest --queries react,vue --delay-ms 2000

  # Only finish the query that was interrupted
  pkgmirror harvest --resume-only

  # Retry the queries recorded in the error log
  pkgmirror harvest --from-errors

  # Start over, keeping a backup of the old checkpoint
  pkgmirror harvest --force-restart`,
	Args: cobra.NoArgs,
	RunE: runHarvest,
}

func init() {
	rootCmd.AddCommand(harvestCmd)

	harvestCmd.Flags().IntVar(&pageSize, "page-size", 0, "results requested per page (max 250)")
	harvestCmd.Flags().IntVar(&flushThreshold, "flush-threshold", 0, "unflushed results that trigger a flush and checkpoint")
	harvestCmd.Flags().StringSliceVar(&queries, "queries", nil, "comma separated search queries (default: built-in vocabulary)")
	harvestSel.bind(harvestCmd, "query", "queries")
}

func runHarvest(cmd *cobra.Command, args []string) error {
	flags := globalFlags()
	if pageSize > 0 {
		flags["page-size"] = pageSize
	}
	if flushThreshold > 0 {
		flags["flush-threshold"] = flushThreshold
	}
	if len(queries) > 0 {
		flags["queries"] = queries
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

	store, err := env.openCheckpoint(cfg.Harvest.ProgressFile, harvestSel)
	if err != nil {
		return err
	}

	results, err := storage.NewResultStore(cfg.Harvest.ResultsDir)
	if err != nil {
		return err
	}

	items, err := env.workList("harvest", cfg.Harvest.Queries, store, harvestSel)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		ui.PrintInfo("Nothing to do", "no queries selected")
		return nil
	}

	ui.PrintInfo("Queries", humanize.Comma(int64(len(items))))
	ui.PrintInfo("Results", cfg.Harvest.ResultsDir)
	ui.PrintInfo("Checkpoint", store.Path())
	ui.PrintHighlight("[HARVEST STARTED]")

	failures, err := env.openErrorLog()
	if err != nil {
		return err
	}
	defer failures.Close()

	harvester := harvest.New(client, store, results, harvest.Options{
		PageSize:       cfg.Harvest.PageSize,
		FlushThreshold: cfg.Harvest.FlushThreshold,
		Logger:         env.log,
	})

	ctx, stop := signalContext()
	defer stop()

	summary, err := env.runQueue(ctx, "harvest", harvester, store, items, failures)
	if err == nil {
		ui.PrintSuccess("[HARVEST COMPLETED] run 'pkgmirror merge' to build the catalog")
	}
	return env.finish("harvest", summary, err)
}
