// Package queue walks an ordered list of work items through a Runner,
// skipping completed items and resuming the active one where it stopped.
package queue

import (
	"context"
	"errors"
	"slices"

	"pkgmirror/pkg/checkpoint"
	errs "pkgmirror/pkg/errors"
	"pkgmirror/pkg/logger"
)

// Runner processes one work item. resumeOffset is zero unless the item was
// active in the checkpoint.
type Runner interface {
	Run(ctx context.Context, item string, resumeOffset int) error
}

// RunnerFunc adapts a function to Runner
type RunnerFunc func(ctx context.Context, item string, resumeOffset int) error

func (f RunnerFunc) Run(ctx context.Context, item string, resumeOffset int) error {
	return f(ctx, item, resumeOffset)
}

// Progress is the part of the checkpoint store the coordinator needs
type Progress interface {
	Snapshot() checkpoint.Checkpoint
	ClearActive() error
	Flush() error
}

// FailureLog records failed items durably
type FailureLog interface {
	Failure(phase, item, version string, err error) error
}

// Reporter receives a user-facing notice for every decision the
// coordinator makes
type Reporter interface {
	ItemSkipped(item, reason string)
	ItemResumed(item string, offset int)
	ItemStarted(item string)
	ItemCompleted(item string)
	ItemFailed(item string, err error)
}

// Options configures a Coordinator
type Options struct {
	// Phase names the run in logs and in the error log ("harvest", "mirror")
	Phase    string
	Logger   logger.Logger
	Reporter Reporter
	Failures FailureLog
}

// Summary counts what happened during a run
type Summary struct {
	Total            int
	Completed        int
	AlreadyCompleted int
	// Waiting counts items passed over while seeking the active item
	Waiting     int
	Skipped     int
	Failed      int
	Interrupted bool
}

// Coordinator drives a Runner over work items in strict input order
type Coordinator struct {
	runner   Runner
	progress Progress
	opts     Options
	logger   logger.Logger
}

// New creates a Coordinator
func New(runner Runner, progress Progress, opts Options) *Coordinator {
	if opts.Phase == "" {
		opts.Phase = "run"
	}
	if opts.Logger == nil {
		opts.Logger = logger.GetLogger()
	}
	if opts.Reporter == nil {
		opts.Reporter = nopReporter{}
	}
	return &Coordinator{
		runner:   runner,
		progress: progress,
		opts:     opts,
		logger:   opts.Logger.WithField("phase", opts.Phase),
	}
}

// Run processes items in order. An item left active by an earlier run is
// resumed first even when items does not list it. It returns ErrInterrupted after flushing
// the checkpoint when ctx is cancelled, and stops early on transient or
// checkpoint-fatal errors. Other per-item failures are recorded and the run
// moves on.
func (c *Coordinator) Run(ctx context.Context, items []string) (Summary, error) {
	cp := c.progress.Snapshot()
	active, seeking := cp.Active()
	if seeking && !slices.Contains(items, active) {
		// another item's MarkActive would overwrite the saved position
		c.logger.WithField("item", active).Warn("Active item is not in the work list, resuming it first")
		items = append([]string{active}, items...)
	}

	summary := Summary{Total: len(items)}

	for _, item := range items {
		if ctx.Err() != nil {
			return c.interrupted(summary)
		}

		if cp.IsComplete(item) {
			summary.AlreadyCompleted++
			c.opts.Reporter.ItemSkipped(item, "already completed")
			c.logger.WithField("item", item).Debug("Skipping completed item")
			continue
		}

		resumeOffset := 0
		if seeking {
			if item != active {
				summary.Waiting++
				c.opts.Reporter.ItemSkipped(item, "waiting for active item "+active)
				continue
			}
			seeking = false
			resumeOffset = cp.Offset
			c.opts.Reporter.ItemResumed(item, resumeOffset)
			c.logger.InfoWithFields("Resuming item", map[string]interface{}{
				"item":   item,
				"offset": resumeOffset,
			})
		} else {
			c.opts.Reporter.ItemStarted(item)
		}

		err := c.runner.Run(ctx, item, resumeOffset)
		if err == nil {
			summary.Completed++
			c.opts.Reporter.ItemCompleted(item)
			continue
		}

		if errors.Is(err, errs.ErrInterrupted) || errors.Is(err, context.Canceled) {
			return c.interrupted(summary)
		}

		log := c.logger.WithField("item", item).WithError(err)
		switch {
		case errs.IsCheckpointFatal(err):
			log.Error("Checkpoint cannot be persisted, aborting run")
			c.opts.Reporter.ItemFailed(item, err)
			return summary, err

		case errs.IsTransient(err):
			log.Error("Transient failure, aborting run; the next run resumes here")
			c.opts.Reporter.ItemFailed(item, err)
			return summary, err

		case errs.IsNotFound(err):
			summary.Skipped++
			log.Warn("Item not found, skipping")
			c.opts.Reporter.ItemSkipped(item, "not found")
			c.record(item, err)
			if cerr := c.clearActive(item); cerr != nil {
				return summary, cerr
			}

		default:
			summary.Failed++
			log.Error("Item failed, continuing with the next one")
			c.opts.Reporter.ItemFailed(item, err)
			c.record(item, err)
			if cerr := c.clearActive(item); cerr != nil {
				return summary, cerr
			}
		}
	}

	c.logger.InfoWithFields("Run finished", map[string]interface{}{
		"total":             summary.Total,
		"completed":         summary.Completed,
		"already_completed": summary.AlreadyCompleted,
		"skipped":           summary.Skipped,
		"failed":            summary.Failed,
	})
	return summary, nil
}

// interrupted makes the in-memory checkpoint durable before returning
func (c *Coordinator) interrupted(summary Summary) (Summary, error) {
	summary.Interrupted = true
	if err := c.progress.Flush(); err != nil {
		c.logger.WithError(err).Error("Final checkpoint flush failed")
		return summary, errors.Join(errs.ErrInterrupted, err)
	}
	c.logger.Info("Interrupted, checkpoint flushed")
	return summary, errs.ErrInterrupted
}

func (c *Coordinator) record(item string, err error) {
	if c.opts.Failures == nil {
		return
	}
	if lerr := c.opts.Failures.Failure(c.opts.Phase, item, "", err); lerr != nil {
		c.logger.WithError(lerr).Warn("Failed to append to error log")
	}
}

// clearActive drops the failed item from the checkpoint. Only a fatal
// checkpoint error is returned.
func (c *Coordinator) clearActive(item string) error {
	err := c.progress.ClearActive()
	if err == nil {
		return nil
	}
	if errs.IsCheckpointFatal(err) {
		return err
	}
	c.logger.WithError(err).WithField("item", item).Warn("Checkpoint not saved, continuing")
	return nil
}

type nopReporter struct{}

func (nopReporter) ItemSkipped(string, string) {}
func (nopReporter) ItemResumed(string, int)    {}
func (nopReporter) ItemStarted(string)         {}
func (nopReporter) ItemCompleted(string)       {}
func (nopReporter) ItemFailed(string, error)   {}
