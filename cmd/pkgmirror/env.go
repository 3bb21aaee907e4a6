package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/spf13/cobra"

	"pkgmirror/pkg/auth"
	"pkgmirror/pkg/checkpoint"
	"pkgmirror/pkg/config"
	"pkgmirror/pkg/errlog"
	errs "pkgmirror/pkg/errors"
	"pkgmirror/pkg/logger"
	"pkgmirror/pkg/queue"
	"pkgmirror/pkg/registry"
	"pkgmirror/pkg/ui"
)

// selection holds the work list flags of one driver command
type selection struct {
	resumeOnly   bool
	forceRestart bool
	fromErrors   bool
}

// bind registers the selection flags on cmd; one and many name the work item
func (s *selection) bind(cmd *cobra.Command, one, many string) {
	cmd.Flags().BoolVar(&s.resumeOnly, "resume-only", false, "only finish the "+one+" active in the checkpoint")
	cmd.Flags().BoolVar(&s.forceRestart, "force-restart", false, "discard the checkpoint and start over")
	cmd.Flags().BoolVar(&s.fromErrors, "from-errors", false, "only run "+many+" recorded as failed in the error log")
	cmd.MarkFlagsMutuallyExclusive("resume-only", "from-errors")
}

// environment is what every command builds before doing any work
type environment struct {
	cfg      *config.Config
	log      logger.Logger
	notifier *ui.Notifier
}

// loadEnvironment loads the configuration and initializes the global logger
func loadEnvironment(flags map[string]interface{}) (*environment, error) {
	cfg, err := config.Load(configFile, flags)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := logger.Initialize(&cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return &environment{
		cfg:      cfg,
		log:      logger.GetLogger(),
		notifier: ui.NewNotifier(notifications),
	}, nil
}

// registryClient builds the registry client, picking up a stored token for
// the configured registry when none was configured
func (e *environment) registryClient() (*registry.Client, error) {
	if e.cfg.Registry.Token == "" {
		manager, err := auth.NewManager()
		if err != nil {
			e.log.WithError(err).Warn("Credential stores unavailable, continuing without a stored token")
		} else {
			auth.ResolveToken(manager, e.cfg)
		}
	}

	opts := registry.OptionsFromConfig(e.cfg)
	opts.Logger = e.log
	client, err := registry.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create registry client: %w", err)
	}
	return client, nil
}

// openCheckpoint opens a progress file, resetting it first on --force-restart
func (e *environment) openCheckpoint(path string, sel selection) (*checkpoint.Store, error) {
	store, err := checkpoint.Open(path, checkpoint.Options{
		MaxSaveFailures: e.cfg.Checkpoint.MaxSaveFailures,
		Backup:          e.cfg.Checkpoint.BackupOnReset,
		Logger:          e.log,
	})
	if err != nil {
		return nil, err
	}

	if sel.forceRestart {
		if err := store.Reset(); err != nil {
			return nil, fmt.Errorf("failed to reset checkpoint: %w", err)
		}
		ui.PrintWarning("Checkpoint reset", path)
	}
	return store, nil
}

// workList narrows items according to --resume-only and --from-errors.
// An item active in the checkpoint always leads the list, so that a subset
// run never starts another item over its saved position.
func (e *environment) workList(phase string, items []string, store *checkpoint.Store, sel selection) ([]string, error) {
	active, hasActive := store.Snapshot().Active()

	if sel.resumeOnly {
		if !hasActive {
			return nil, nil
		}
		return []string{active}, nil
	}

	if sel.fromErrors {
		records, torn, err := errlog.Read(e.cfg.Logging.ErrorLog)
		if err != nil {
			return nil, fmt.Errorf("failed to read error log: %w", err)
		}
		if torn > 0 {
			ui.PrintWarning("Skipped unreadable error log lines", torn)
		}
		items = errlog.Items(errlog.Filter(records, phase, ""))
	}

	if hasActive && !slices.Contains(items, active) {
		ui.PrintWarning("Resuming interrupted item first", active)
		items = append([]string{active}, items...)
	}
	return items, nil
}

// openErrorLog opens the error log for this run
func (e *environment) openErrorLog() (*errlog.Log, error) {
	failures, err := errlog.Open(e.cfg.Logging.ErrorLog, "")
	if err != nil {
		return nil, err
	}
	e.log = e.log.WithField("run_id", failures.RunID())
	return failures, nil
}

// runQueue drives runner over items with the status tracker as reporter
func (e *environment) runQueue(ctx context.Context, phase string, runner queue.Runner, store *checkpoint.Store, items []string, failures *errlog.Log) (queue.Summary, error) {
	e.log.WithFields(map[string]interface{}{
		"phase": phase,
		"items": len(items),
	}).Info("Starting run")

	tracker := ui.NewStatusTracker(len(items))
	coordinator := queue.New(runner, store, queue.Options{
		Phase:    phase,
		Logger:   e.log,
		Reporter: tracker,
		Failures: failures,
	})

	summary, err := coordinator.Run(ctx, items)
	tracker.PrintSummary()
	return summary, err
}

// finish turns a run result into the command's exit status. A clean
// interruption exits zero; a failed final flush is joined onto
// ErrInterrupted and does not.
func (e *environment) finish(phase string, summary queue.Summary, err error) error {
	switch {
	case err == nil:
		if summary.Failed > 0 || summary.Skipped > 0 {
			ui.PrintWarning(fmt.Sprintf("%d failed, %d skipped; see 'pkgmirror errors --phase %s'", summary.Failed, summary.Skipped, phase))
		}
		e.notifier.SendSuccess("pkgmirror "+phase, fmt.Sprintf("%d of %d items completed", summary.Completed+summary.AlreadyCompleted, summary.Total))
		return nil

	case err == errs.ErrInterrupted:
		ui.PrintWarning("Interrupted, progress saved; run the same command again to resume")
		return nil

	default:
		e.notifier.SendError("pkgmirror "+phase+" failed", err.Error())
		return err
	}
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
