// Package harvest walks every page of a search query and accumulates the
// result identifiers into a per-query file, checkpointing as it goes.
package harvest

import (
	"context"
	"errors"
	"fmt"

	"pkgmirror/pkg/checkpoint"
	errs "pkgmirror/pkg/errors"
	"pkgmirror/pkg/logger"
	"pkgmirror/pkg/registry"
)

// State is the lifecycle of one query harvest
type State string

const (
	StateIdle         State = "idle"
	StateFetchingPage State = "fetching_page"
	StateAccumulating State = "accumulating"
	StateFlushing     State = "flushing"
	StateCompleted    State = "completed"
	StateAborted      State = "aborted"
	StateInterrupted  State = "interrupted"
)

// Searcher fetches search pages
type Searcher interface {
	Search(ctx context.Context, req registry.SearchRequest) (*registry.SearchPage, error)
}

// Progress is the part of the checkpoint store the harvester writes to
type Progress interface {
	MarkActive(item string, offset, stored int) error
	MarkComplete(item string) error
	Snapshot() checkpoint.Checkpoint
}

// Results persists the accumulated identifiers of a query
type Results interface {
	Load(item string) ([]string, error)
	Save(item string, ids []string) error
}

// Options configures a Harvester
type Options struct {
	PageSize int
	// FlushThreshold is how many unflushed records trigger a flush and a
	// checkpoint
	FlushThreshold int
	Logger         logger.Logger
}

// Result summarizes one harvest
type Result struct {
	Query     string
	State     State
	Total     int
	Collected int
	Pages     int
	// Truncated is set when the registry stopped returning results before
	// the reported total was reached
	Truncated bool
}

// Harvester drives the paginated harvest of one query at a time
type Harvester struct {
	search   Searcher
	progress Progress
	results  Results
	opts     Options
	logger   logger.Logger
}

// New creates a Harvester
func New(search Searcher, progress Progress, results Results, opts Options) *Harvester {
	if opts.PageSize <= 0 {
		opts.PageSize = 250
	}
	if opts.FlushThreshold <= 0 {
		opts.FlushThreshold = opts.PageSize
	}
	if opts.Logger == nil {
		opts.Logger = logger.GetLogger()
	}
	return &Harvester{
		search:   search,
		progress: progress,
		results:  results,
		opts:     opts,
		logger:   opts.Logger.WithField("phase", "harvest"),
	}
}

// Run harvests item, satisfying the work queue's runner contract
func (h *Harvester) Run(ctx context.Context, item string, resumeOffset int) error {
	_, err := h.Harvest(ctx, item, resumeOffset)
	return err
}

// run holds the mutable state of a single harvest
type run struct {
	h       *Harvester
	query   string
	log     logger.Logger
	buf     []string
	offset  int
	flushed int
	result  Result
}

// Harvest collects every identifier of query, resuming at resumeOffset when
// it is positive. Results are always flushed before the checkpoint is
// advanced, so a persisted offset never runs ahead of durable results.
func (h *Harvester) Harvest(ctx context.Context, query string, resumeOffset int) (Result, error) {
	r := &run{
		h:      h,
		query:  query,
		log:    h.logger.WithField("query", query),
		result: Result{Query: query, State: StateIdle, Total: -1},
	}

	if err := r.start(resumeOffset); err != nil {
		r.result.State = StateAborted
		return r.result, err
	}

	for {
		if ctx.Err() != nil {
			return r.interrupt()
		}

		r.result.State = StateFetchingPage
		page, err := h.search.Search(ctx, registry.SearchRequest{
			Text: query,
			From: r.offset,
			Size: h.opts.PageSize,
		})
		if err != nil {
			if errors.Is(err, errs.ErrInterrupted) {
				return r.interrupt()
			}
			return r.abort(err)
		}

		r.result.State = StateAccumulating
		r.result.Pages++
		r.result.Total = page.Total
		from := r.offset
		r.buf = append(r.buf, page.Names...)
		r.offset += h.opts.PageSize
		logger.LogPageProgress(r.log, query, r.offset, page.Total, len(r.buf))

		if len(page.Names) == 0 && from < page.Total {
			r.result.Truncated = true
			r.log.WarnWithFields("Registry returned an empty page before the reported total", map[string]interface{}{
				"offset": from,
				"total":  page.Total,
			})
			break
		}

		if len(r.buf)-r.flushed >= h.opts.FlushThreshold {
			if err := r.checkpoint(); err != nil {
				return r.abort(err)
			}
		}

		if r.offset >= page.Total {
			break
		}
	}

	return r.complete()
}

// start positions the run, either fresh or from the last durable state
func (r *run) start(resumeOffset int) error {
	if resumeOffset > 0 {
		if r.resume(resumeOffset) {
			return nil
		}
	}

	r.buf = nil
	r.offset = 0
	r.flushed = 0
	if err := r.h.progress.MarkActive(r.query, 0, 0); err != nil && errs.IsCheckpointFatal(err) {
		return err
	}
	return nil
}

// resume reloads the result file and trims it to the checkpointed record
// count. Records beyond it were written after the last checkpoint and will
// be fetched again.
func (r *run) resume(resumeOffset int) bool {
	cp := r.h.progress.Snapshot()
	if active, ok := cp.Active(); !ok || active != r.query {
		r.log.Warn("Resume requested without matching checkpoint, starting over")
		return false
	}

	ids, err := r.h.results.Load(r.query)
	if err == nil && len(ids) < cp.Stored {
		err = &errs.Error{
			Type:    errs.ErrorTypeCorrupt,
			Op:      "harvest.resume",
			Item:    r.query,
			Message: fmt.Sprintf("result file holds %d records, checkpoint expects %d", len(ids), cp.Stored),
		}
	}
	if err != nil {
		r.log.WithError(err).WithField("kind", string(errs.ErrorTypeCorrupt)).Warn("Stored results unusable, restarting query")
		return false
	}

	r.buf = ids[:cp.Stored]
	r.offset = resumeOffset
	r.flushed = cp.Stored
	r.log.InfoWithFields("Resuming query", map[string]interface{}{
		"offset": resumeOffset,
		"stored": cp.Stored,
	})
	return true
}

// checkpoint flushes the buffer and then advances the checkpoint. A failed
// checkpoint save is only returned when it is fatal.
func (r *run) checkpoint() error {
	r.result.State = StateFlushing
	if err := r.h.results.Save(r.query, r.buf); err != nil {
		return &errs.Error{Type: errs.ErrorTypeFatal, Op: "harvest.flush", Item: r.query, Err: err}
	}
	r.flushed = len(r.buf)

	if err := r.h.progress.MarkActive(r.query, r.offset, r.flushed); err != nil {
		if errs.IsCheckpointFatal(err) {
			return err
		}
		r.log.WithError(err).Warn("Checkpoint not saved, continuing")
	}
	return nil
}

func (r *run) complete() (Result, error) {
	r.result.State = StateFlushing
	if err := r.h.results.Save(r.query, r.buf); err != nil {
		return r.abort(&errs.Error{Type: errs.ErrorTypeFatal, Op: "harvest.flush", Item: r.query, Err: err})
	}
	r.flushed = len(r.buf)

	if err := r.h.progress.MarkComplete(r.query); err != nil && errs.IsCheckpointFatal(err) {
		r.result.State = StateAborted
		return r.result, err
	}

	r.result.State = StateCompleted
	r.result.Collected = len(r.buf)
	r.log.InfoWithFields("Query harvested", map[string]interface{}{
		"collected": r.result.Collected,
		"pages":     r.result.Pages,
		"total":     r.result.Total,
	})
	return r.result, nil
}

// interrupt persists what has been fetched so far and reports the stop
func (r *run) interrupt() (Result, error) {
	r.result.Collected = len(r.buf)
	if len(r.buf) > r.flushed {
		if err := r.checkpoint(); err != nil {
			r.result.State = StateAborted
			return r.result, err
		}
	}
	r.result.State = StateInterrupted
	r.log.InfoWithFields("Harvest interrupted", map[string]interface{}{
		"offset": r.offset,
		"stored": r.flushed,
	})
	return r.result, errs.ErrInterrupted
}

// abort keeps the progress that can be kept and returns err
func (r *run) abort(err error) (Result, error) {
	r.result.Collected = len(r.buf)
	if len(r.buf) > r.flushed && !errs.IsCheckpointFatal(err) {
		if ferr := r.checkpoint(); ferr != nil {
			r.log.WithError(ferr).Warn("Could not persist progress while aborting")
		}
	}
	r.result.State = StateAborted
	return r.result, err
}
