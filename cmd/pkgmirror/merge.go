package main

import (
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"pkgmirror/pkg/catalog"
	"pkgmirror/pkg/ui"
)

// mergeCmd represents the merge command
var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Union the harvested result files into the package catalog",
	Long: `Read every per-query result file in lexical file order and write the
union of their package names to the catalog file. The first appearance of a
name fixes its position. Unreadable result files are skipped with a warning.`,
	Args: cobra.NoArgs,
	RunE: runMerge,
}

func init() {
	rootCmd.AddCommand(mergeCmd)
}

func runMerge(cmd *cobra.Command, args []string) error {
	env, err := loadEnvironment(globalFlags())
	if err != nil {
		return err
	}
	cfg := env.cfg

	ids, report, err := catalog.NewMerger(env.log).Merge(cfg.Harvest.ResultsDir)
	if err != nil {
		return err
	}

	for _, path := range report.Skipped {
		ui.PrintWarning("Skipped unreadable result file", path)
	}

	if err := catalog.Write(cfg.Harvest.CatalogFile, ids); err != nil {
		return err
	}

	ui.PrintInfo("Result files", humanize.Comma(int64(report.Files)))
	ui.PrintInfo("Names read", humanize.Comma(int64(report.Records)))
	ui.PrintInfo("Unique packages", humanize.Comma(int64(report.Unique)))
	ui.PrintSuccess("[CATALOG WRITTEN] " + cfg.Harvest.CatalogFile)
	return nil
}
