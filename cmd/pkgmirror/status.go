package main

import (
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"pkgmirror/pkg/catalog"
	"pkgmirror/pkg/checkpoint"
	errs "pkgmirror/pkg/errors"
	"pkgmirror/pkg/storage"
	"pkgmirror/pkg/ui"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show checkpoint progress of harvest and mirror",
	Long: `Show what the harvest and mirror checkpoints record: the active item and
its offset, the number of completed items, and when progress was last
saved. Also reports the catalog size and the mirror's disk usage.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	env, err := loadEnvironment(globalFlags())
	if err != nil {
		return err
	}
	cfg := env.cfg

	total := map[string]int{"harvest": len(cfg.Harvest.Queries)}
	if ids, err := catalog.Load(cfg.Harvest.CatalogFile); err == nil {
		total["mirror"] = len(ids)
	}

	tbl := ui.NewTable("Phase", "Checkpoint", "Active", "Offset", "Completed", "Updated")
	for _, phase := range []struct{ name, path string }{
		{"harvest", cfg.Harvest.ProgressFile},
		{"mirror", cfg.Mirror.ProgressFile},
	} {
		cp, err := checkpoint.ReadFile(phase.path)
		switch {
		case errs.IsNotFound(err):
			tbl.Row(phase.name, phase.path, "", "", "not started", "")
			continue
		case err != nil:
			tbl.Row(phase.name, phase.path, "", "", "unreadable", "")
			env.log.WithError(err).WithField("checkpoint", phase.path).Warn("Checkpoint unreadable")
			continue
		}

		active, offset := "-", "-"
		if item, ok := cp.Active(); ok {
			active = item
			offset = humanize.Comma(int64(cp.Offset))
		}
		completed := humanize.Comma(int64(len(cp.CompletedItems)))
		if n, ok := total[phase.name]; ok {
			completed += " / " + humanize.Comma(int64(n))
		}
		tbl.Row(phase.name, phase.path, active, offset, completed, humanize.Time(cp.UpdatedAt))
	}
	tbl.Render()

	if n, ok := total["mirror"]; ok {
		ui.PrintInfo("Catalog", humanize.Comma(int64(n))+" packages in "+cfg.Harvest.CatalogFile)
	}

	if _, err := os.Stat(cfg.Mirror.Directory); err == nil {
		artifacts, err := storage.NewArtifactStore(cfg.Mirror.Directory)
		if err != nil {
			return err
		}
		files, size, err := artifacts.Usage()
		if err != nil {
			return err
		}
		ui.PrintInfo("Mirror", humanize.Comma(int64(files))+" tarballs, "+humanize.Bytes(uint64(size))+" in "+artifacts.Dir())
	}
	return nil
}
