// Package report takes dated snapshots of per-query result totals and
// compares the two most recent ones.
package report

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	errs "pkgmirror/pkg/errors"
	"pkgmirror/pkg/logger"
	"pkgmirror/pkg/retry"
	"pkgmirror/pkg/storage"
)

const (
	filePrefix = "package-counts-"
	fileSuffix = ".json"
	dateLayout = "2006-01-02"
)

// Snapshot maps a query to its reported total. A nil total means the count
// could not be obtained.
type Snapshot map[string]*int

// CountClient returns the total number of results for a query
type CountClient interface {
	Count(ctx context.Context, text string) (int, error)
}

// CounterOptions configures a Counter
type CounterOptions struct {
	// MaxRetries is how many times a transient failure is retried
	MaxRetries int
	Backoff    retry.BackoffStrategy
	Logger     logger.Logger
	// OnCount is called after every query, if set
	OnCount func(query string, total *int, err error)
}

// Counter builds count snapshots
type Counter struct {
	client CountClient
	opts   CounterOptions
	logger logger.Logger
}

// NewCounter creates a Counter
func NewCounter(client CountClient, opts CounterOptions) *Counter {
	if opts.Logger == nil {
		opts.Logger = logger.GetLogger()
	}
	if opts.Backoff == nil {
		opts.Backoff = retry.NewStatusBackoff()
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &Counter{client: client, opts: opts, logger: opts.Logger.WithField("phase", "counts")}
}

// Snapshot counts every query in order. Failed queries are recorded as nil.
// On cancellation the partial snapshot is returned with ErrInterrupted.
func (c *Counter) Snapshot(ctx context.Context, queries []string) (Snapshot, error) {
	snap := make(Snapshot, len(queries))

	for _, q := range queries {
		if ctx.Err() != nil {
			return snap, errs.ErrInterrupted
		}

		total, err := retry.DoWithResult(func() (int, error) {
			return c.client.Count(ctx, q)
		}, &retry.Config{
			MaxAttempts: c.opts.MaxRetries + 1,
			Backoff:     c.opts.Backoff,
			RetryIf:     retry.DefaultRetryIf,
			Context:     ctx,
			Logger:      c.logger.WithField("query", q),
		})

		if err != nil {
			if errors.Is(err, errs.ErrInterrupted) || ctx.Err() != nil {
				return snap, errs.ErrInterrupted
			}
			snap[q] = nil
			c.logger.WithError(err).WithField("query", q).Warn("Count failed")
		} else {
			snap[q] = &total
			c.logger.DebugWithFields("Query counted", map[string]interface{}{"query": q, "total": total})
		}

		if c.opts.OnCount != nil {
			c.opts.OnCount(q, snap[q], err)
		}
	}
	return snap, nil
}

// FileName returns the snapshot file name for day
func FileName(day time.Time) string {
	return filePrefix + day.Format(dateLayout) + fileSuffix
}

// WriteSnapshot stores snap in dir under the name for day. A snapshot taken
// on the same day replaces the earlier one.
func WriteSnapshot(dir string, day time.Time, snap Snapshot) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create counts directory: %w", err)
	}
	path := filepath.Join(dir, FileName(day))
	if err := storage.WriteJSONAtomic(path, snap); err != nil {
		return "", fmt.Errorf("failed to write count snapshot: %w", err)
	}
	return path, nil
}

// ReadSnapshot loads a snapshot file
func ReadSnapshot(path string) (Snapshot, error) {
	var snap Snapshot
	if err := storage.ReadJSON(path, &snap); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &errs.Error{Type: errs.ErrorTypeNotFound, Op: "report.read", Item: path, Err: err}
		}
		return nil, &errs.Error{Type: errs.ErrorTypeCorrupt, Op: "report.read", Item: path, Err: err}
	}
	if snap == nil {
		snap = Snapshot{}
	}
	return snap, nil
}

// LatestPair returns the two most recent snapshot files in dir
func LatestPair(dir string) (previous, current string, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", "", fmt.Errorf("failed to list counts directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.Type().IsRegular() && strings.HasPrefix(name, filePrefix) && strings.HasSuffix(name, fileSuffix) {
			names = append(names, name)
		}
	}
	if len(names) < 2 {
		return "", "", errs.New(errs.ErrorTypeNotFound, "report.latest", fmt.Sprintf("need two snapshots in %s, found %d", dir, len(names)))
	}

	// ISO dates sort chronologically
	sort.Strings(names)
	n := len(names)
	return filepath.Join(dir, names[n-2]), filepath.Join(dir, names[n-1]), nil
}
