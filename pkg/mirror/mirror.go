// Package mirror downloads the newest versions of a package into the local
// artifact store. It is driven one package at a time by the work queue.
package mirror

import (
	"context"
	"errors"
	"io"
	"sync"

	errs "pkgmirror/pkg/errors"
	"pkgmirror/pkg/logger"
	"pkgmirror/pkg/registry"
)

// Fetcher resolves versions and downloads tarballs
type Fetcher interface {
	Versions(ctx context.Context, req registry.PackageRequest) ([]registry.Version, error)
	Download(ctx context.Context, req registry.ArtifactRequest, w io.Writer) (int64, error)
}

// Artifacts is the local artifact store
type Artifacts interface {
	Exists(entity, version string) (bool, error)
	Write(entity, version string, write func(io.Writer) error) (string, error)
}

// Progress is the part of the checkpoint store the mirror writes to
type Progress interface {
	MarkActive(item string, offset, stored int) error
	MarkComplete(item string) error
}

// FailureLog records failed artifacts durably
type FailureLog interface {
	Failure(phase, item, version string, err error) error
}

// Outcome of one artifact
type Outcome string

const (
	OutcomeDownloaded Outcome = "downloaded"
	OutcomeSkipped    Outcome = "skipped"
	OutcomeFailed     Outcome = "failed"
)

// Event describes one processed artifact
type Event struct {
	Entity  string
	Version string
	Outcome Outcome
	Bytes   int64
	Path    string
	Err     error
}

// Options configures a Mirror
type Options struct {
	VersionsToKeep int
	Logger         logger.Logger
	Failures       FailureLog
	// OnArtifact is called after every artifact, if set
	OnArtifact func(Event)
}

// Stats counts artifacts across every entity mirrored so far
type Stats struct {
	Entities   int
	Downloaded int
	Skipped    int
	Failed     int
	Bytes      int64
}

// Mirror is the artifact mirror driver
type Mirror struct {
	fetcher   Fetcher
	artifacts Artifacts
	progress  Progress
	opts      Options
	logger    logger.Logger

	mu    sync.Mutex
	stats Stats
}

// New creates a Mirror
func New(fetcher Fetcher, artifacts Artifacts, progress Progress, opts Options) *Mirror {
	if opts.Logger == nil {
		opts.Logger = logger.GetLogger()
	}
	return &Mirror{
		fetcher:   fetcher,
		artifacts: artifacts,
		progress:  progress,
		opts:      opts,
		logger:    opts.Logger.WithField("phase", "mirror"),
	}
}

// Stats returns a copy of the counters
func (m *Mirror) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// Run mirrors one entity. The entity restarts from its first version after
// an interruption; artifacts already on disk are skipped. Failed artifacts
// are recorded and do not stop the entity. The offset argument is unused.
func (m *Mirror) Run(ctx context.Context, entity string, _ int) error {
	log := m.logger.WithField("entity", entity)

	if err := m.progress.MarkActive(entity, 0, 0); err != nil {
		if errs.IsCheckpointFatal(err) {
			return err
		}
		log.WithError(err).Warn("Checkpoint not saved, continuing")
	}

	versions, err := m.fetcher.Versions(ctx, registry.PackageRequest{Name: entity})
	if err != nil {
		switch {
		case errors.Is(err, errs.ErrInterrupted), errs.IsNotFound(err):
			return err
		default:
			// a package that cannot be resolved must not stop the mirror pass
			return &errs.Error{Type: errs.ErrorTypeFatal, Op: "mirror.resolve", Item: entity, Err: err}
		}
	}

	selected := SelectVersions(versions, m.opts.VersionsToKeep)
	log.DebugWithFields("Versions selected", map[string]interface{}{
		"available": len(versions),
		"selected":  len(selected),
	})

	for _, v := range selected {
		ev := m.artifact(ctx, entity, v)
		m.record(ev)
		if errors.Is(ev.Err, errs.ErrInterrupted) {
			return errs.ErrInterrupted
		}
		if ctx.Err() != nil {
			return errs.ErrInterrupted
		}
	}

	if err := m.progress.MarkComplete(entity); err != nil {
		if errs.IsCheckpointFatal(err) {
			return err
		}
		log.WithError(err).Warn("Checkpoint not saved, continuing")
	}

	m.mu.Lock()
	m.stats.Entities++
	m.mu.Unlock()
	return nil
}

// artifact ensures a single version is present on disk
func (m *Mirror) artifact(ctx context.Context, entity string, v registry.Version) Event {
	ev := Event{Entity: entity, Version: v.Version}

	exists, err := m.artifacts.Exists(entity, v.Version)
	if err != nil {
		ev.Outcome, ev.Err = OutcomeFailed, errs.Wrap(errs.ErrorTypeFatal, "mirror.exists", err)
		return ev
	}
	if exists {
		ev.Outcome = OutcomeSkipped
		return ev
	}

	req := registry.ArtifactRequest{
		Name:    entity,
		Version: v.Version,
		Tarball: v.Tarball,
		Shasum:  v.Shasum,
	}
	ev.Path, err = m.artifacts.Write(entity, v.Version, func(w io.Writer) error {
		n, err := m.fetcher.Download(ctx, req, w)
		ev.Bytes = n
		return err
	})
	if err != nil {
		ev.Outcome, ev.Err = OutcomeFailed, err
		return ev
	}
	ev.Outcome = OutcomeDownloaded
	return ev
}

func (m *Mirror) record(ev Event) {
	m.mu.Lock()
	switch ev.Outcome {
	case OutcomeDownloaded:
		m.stats.Downloaded++
		m.stats.Bytes += ev.Bytes
	case OutcomeSkipped:
		m.stats.Skipped++
	case OutcomeFailed:
		if !errors.Is(ev.Err, errs.ErrInterrupted) {
			m.stats.Failed++
		}
	}
	m.mu.Unlock()

	logger.LogArtifact(m.logger, ev.Entity, ev.Version, ev.Outcome == OutcomeSkipped, ev.Err)

	if ev.Outcome == OutcomeFailed && m.opts.Failures != nil && !errors.Is(ev.Err, errs.ErrInterrupted) {
		if err := m.opts.Failures.Failure("mirror", ev.Entity, ev.Version, ev.Err); err != nil {
			m.logger.WithError(err).Warn("Failed to append to error log")
		}
	}
	if m.opts.OnArtifact != nil {
		m.opts.OnArtifact(ev)
	}
}
