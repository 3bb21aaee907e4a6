// Package errlog keeps a durable, append-only record of per-item failures
// so that they can be inspected and retried after a run.
package errlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	errs "pkgmirror/pkg/errors"
)

// Record is one failure, stored as a JSON line
type Record struct {
	Time    time.Time `json:"time"`
	RunID   string    `json:"run_id"`
	Phase   string    `json:"phase"`
	Item    string    `json:"item"`
	Version string    `json:"version,omitempty"`
	Kind    string    `json:"kind"`
	Error   string    `json:"error"`
}

// Log appends records to a file. Each record is synced before Append returns.
type Log struct {
	path  string
	runID string

	mu   sync.Mutex
	file *os.File
}

// NewRunID returns a fresh identifier for one process run
func NewRunID() string {
	return uuid.NewString()
}

// Open opens or creates the error log at path. An empty runID gets a new one.
func Open(path, runID string) (*Log, error) {
	if runID == "" {
		runID = NewRunID()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create error log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open error log: %w", err)
	}
	return &Log{path: path, runID: runID, file: f}, nil
}

// RunID returns the identifier stamped on every record of this log
func (l *Log) RunID() string {
	return l.runID
}

// Path returns the log location
func (l *Log) Path() string {
	return l.path
}

// Append writes rec. Time, RunID and Kind are filled in when empty.
func (l *Log) Append(rec Record) error {
	if rec.Time.IsZero() {
		rec.Time = time.Now().UTC()
	}
	if rec.RunID == "" {
		rec.RunID = l.runID
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode error record: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return errors.New("error log is closed")
	}
	if _, err := l.file.Write(line); err != nil {
		return fmt.Errorf("failed to append error record: %w", err)
	}
	return l.file.Sync()
}

// Failure appends a record built from err
func (l *Log) Failure(phase, item, version string, err error) error {
	return l.Append(Record{
		Phase:   phase,
		Item:    item,
		Version: version,
		Kind:    string(errs.TypeOf(err)),
		Error:   err.Error(),
	})
}

// Close closes the underlying file
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Read loads every record from path. Lines that are not valid records, such
// as a torn final line, are skipped and counted.
func Read(path string) ([]Record, int, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("failed to open error log: %w", err)
	}
	defer f.Close()

	var (
		records []Record
		skipped int
	)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			skipped++
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return records, skipped, fmt.Errorf("failed to read error log: %w", err)
	}
	return records, skipped, nil
}

// Filter returns the records matching phase and runID; empty values match all
func Filter(records []Record, phase, runID string) []Record {
	var out []Record
	for _, r := range records {
		if phase != "" && r.Phase != phase {
			continue
		}
		if runID != "" && r.RunID != runID {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Items returns the distinct items of records in first-seen order
func Items(records []Record) []string {
	seen := make(map[string]struct{}, len(records))
	var out []string
	for _, r := range records {
		if _, ok := seen[r.Item]; ok {
			continue
		}
		seen[r.Item] = struct{}{}
		out = append(out, r.Item)
	}
	return out
}
