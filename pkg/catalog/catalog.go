// Package catalog unions per-query result files into the deduplicated
// package list the mirror consumes.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	errs "pkgmirror/pkg/errors"
	"pkgmirror/pkg/logger"
	"pkgmirror/pkg/storage"
)

// Report describes one merge
type Report struct {
	Files   int
	Skipped []string
	Records int
	Unique  int
}

// Merger unions result files
type Merger struct {
	logger logger.Logger
}

// NewMerger creates a Merger. A nil logger uses the global one.
func NewMerger(log logger.Logger) *Merger {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Merger{logger: log.WithField("phase", "merge")}
}

// Merge unions every result file in dir, in lexical file order
func (m *Merger) Merge(dir string) ([]string, Report, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*"+storage.ResultSuffix))
	if err != nil {
		return nil, Report{}, fmt.Errorf("failed to list result files: %w", err)
	}
	sort.Strings(paths)
	ids, report := m.MergeFiles(paths...)
	return ids, report, nil
}

// MergeFiles unions the given files in argument order. The first
// appearance of an identifier decides its position. Unreadable files are
// skipped with a warning.
func (m *Merger) MergeFiles(paths ...string) ([]string, Report) {
	seen := make(map[string]struct{})
	ids := []string{}
	report := Report{}

	for _, path := range paths {
		var batch []string
		if err := storage.ReadJSON(path, &batch); err != nil {
			cerr := &errs.Error{Type: errs.ErrorTypeCorrupt, Op: "catalog.merge", Item: filepath.Base(path), Err: err}
			m.logger.WithError(cerr).WithField("file", path).Warn("Skipping unreadable result file")
			report.Skipped = append(report.Skipped, path)
			continue
		}

		report.Files++
		report.Records += len(batch)
		added := 0
		for _, id := range batch {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
			added++
		}
		m.logger.DebugWithFields("Result file merged", map[string]interface{}{
			"file":    filepath.Base(path),
			"records": len(batch),
			"new":     added,
		})
	}

	report.Unique = len(ids)
	m.logger.InfoWithFields("Results merged", map[string]interface{}{
		"files":   report.Files,
		"skipped": len(report.Skipped),
		"records": report.Records,
		"unique":  report.Unique,
	})
	return ids, report
}

// Write atomically stores the catalog as an indented JSON array
func Write(path string, ids []string) error {
	if ids == nil {
		ids = []string{}
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create catalog directory: %w", err)
		}
	}
	if err := storage.WriteJSONAtomic(path, ids); err != nil {
		return fmt.Errorf("failed to write catalog: %w", err)
	}
	return nil
}

// Load reads a catalog written by Write
func Load(path string) ([]string, error) {
	var ids []string
	if err := storage.ReadJSON(path, &ids); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &errs.Error{Type: errs.ErrorTypeNotFound, Op: "catalog.load", Item: path, Message: "catalog not found, run merge first", Err: err}
		}
		return nil, &errs.Error{Type: errs.ErrorTypeCorrupt, Op: "catalog.load", Item: path, Err: err}
	}
	return ids, nil
}
