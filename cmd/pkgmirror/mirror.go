package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"pkgmirror/pkg/catalog"
	errs "pkgmirror/pkg/errors"
	"pkgmirror/pkg/mirror"
	"pkgmirror/pkg/storage"
	"pkgmirror/pkg/ui"
)

var (
	mirrorDir      string
	versionsToKeep int
	mirrorSel      selection
)

// mirrorCmd represents the mirror command
var mirrorCmd = &cobra.Command{
	Use:   "mirror",
	Short: "Download the newest versions of every catalog package",
	Long: `Download tarballs for every package in the catalog built by 'merge'.

For each package the newest versions by semantic version order are kept.
Artifacts already on disk are skipped, partial downloads never replace a
complete file, and completed packages are checkpointed so an interrupted
mirror resumes with the package it was working on.`,
	Example: `  # Mirror the catalog with the configured settings
  pkgmirror mirror

  # Keep only the 5 newest versions in a custom directory
  pkgmirror mirror --versions 5 --mirror-dir /srv/npm

  # Retry packages recorded as failed in the error log
  pkgmirror mirror --from-errors`,
	Args: cobra.NoArgs,
	RunE: runMirror,
}

func init() {
	rootCmd.AddCommand(mirrorCmd)

	mirrorCmd.Flags().StringVarP(&mirrorDir, "mirror-dir", "o", "", "directory to store tarballs in")
	mirrorCmd.Flags().IntVar(&versionsToKeep, "versions", 0, "number of newest versions to keep per package")
	mirrorSel.bind(mirrorCmd, "package", "packages")
}

func runMirror(cmd *cobra.Command, args []string) error {
	flags := globalFlags()
	if mirrorDir != "" {
		flags["mirror-dir"] = mirrorDir
	}
	if versionsToKeep > 0 {
		flags["versions"] = versionsToKeep
	}

	env, err := loadEnvironment(flags)
	if err != nil {
		return err
	}
	cfg := env.cfg

	packages, err := catalog.Load(cfg.Harvest.CatalogFile)
	if err != nil {
		if errs.IsNotFound(err) {
			return fmt.Errorf("no catalog at %s; run 'pkgmirror merge' first", cfg.Harvest.CatalogFile)
		}
		return err
	}

	client, err := env.registryClient()
	if err != nil {
		return err
	}

	artifacts, err := storage.NewArtifactStore(cfg.Mirror.Directory)
	if err != nil {
		return err
	}
	if removed, err := artifacts.CleanPartials(); err != nil {
		env.log.WithError(err).Warn("Failed to clean partial downloads")
	} else if removed > 0 {
		env.log.WithField("count", removed).Info("Removed partial downloads from an earlier run")
	}

	store, err := env.openCheckpoint(cfg.Mirror.ProgressFile, mirrorSel)
	if err != nil {
		return err
	}

	items, err := env.workList("mirror", packages, store, mirrorSel)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		ui.PrintInfo("Nothing to do", "no packages selected")
		return nil
	}

	ui.PrintInfo("Packages", humanize.Comma(int64(len(items))))
	ui.PrintInfo("Versions per package", fmt.Sprintf("%d", cfg.Mirror.VersionsToKeep))
	ui.PrintInfo("Mirror", artifacts.Dir())
	ui.PrintHighlight("[MIRROR STARTED]")

	failures, err := env.openErrorLog()
	if err != nil {
		return err
	}
	defer failures.Close()

	display := ui.NewProgressDisplay(cfg.Logging.Level == "debug")
	driver := mirror.New(client, artifacts, store, mirror.Options{
		VersionsToKeep: cfg.Mirror.VersionsToKeep,
		Logger:         env.log,
		Failures:       failures,
		OnArtifact: func(ev mirror.Event) {
			name := ev.Entity + "@" + ev.Version
			switch ev.Outcome {
			case mirror.OutcomeDownloaded:
				display.CompleteDownload(name, ev.Bytes)
			case mirror.OutcomeSkipped:
				display.SkipDownload(name)
			case mirror.OutcomeFailed:
				display.FailDownload(name, ev.Err)
			}
		},
	})

	ctx, stop := signalContext()
	defer stop()

	summary, err := env.runQueue(ctx, "mirror", driver, store, items, failures)
	display.Finish()

	stats := driver.Stats()
	env.log.WithFields(map[string]interface{}{
		"entities":   stats.Entities,
		"downloaded": stats.Downloaded,
		"skipped":    stats.Skipped,
		"failed":     stats.Failed,
		"bytes":      stats.Bytes,
	}).Info("Mirror run finished")

	if err == nil {
		ui.PrintSuccess(fmt.Sprintf("[MIRROR COMPLETED] %s stored in %s", humanize.Bytes(uint64(stats.Bytes)), artifacts.Dir()))
	}
	return env.finish("mirror", summary, err)
}
