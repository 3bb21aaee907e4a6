package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	errs "pkgmirror/pkg/errors"
	"pkgmirror/pkg/logger"
	"pkgmirror/pkg/storage"
)

// CurrentVersion is the on-disk format version
const CurrentVersion = 1

// Checkpoint is the persisted progress of a work queue
type Checkpoint struct {
	// ActiveItem is the item being processed, nil between items
	ActiveItem *string `json:"active_item"`
	// Offset is the next page offset of ActiveItem
	Offset int `json:"offset"`
	// Stored is how many records of ActiveItem were durable when the
	// checkpoint was written
	Stored         int       `json:"stored"`
	CompletedItems []string  `json:"completed_items"`
	UpdatedAt      time.Time `json:"updated_at"`
	Version        int       `json:"version"`
}

// Active returns the active item, if any
func (c Checkpoint) Active() (string, bool) {
	if c.ActiveItem == nil {
		return "", false
	}
	return *c.ActiveItem, true
}

// IsComplete reports whether item is in the completed list
func (c Checkpoint) IsComplete(item string) bool {
	return slices.Contains(c.CompletedItems, item)
}

// Validate checks the structural invariants of a checkpoint
func (c Checkpoint) Validate() error {
	if c.Version > CurrentVersion {
		return fmt.Errorf("unsupported checkpoint version %d", c.Version)
	}
	if c.Offset < 0 || c.Stored < 0 {
		return errors.New("negative offset or stored count")
	}
	active, ok := c.Active()
	if !ok && (c.Offset != 0 || c.Stored != 0) {
		return errors.New("offset recorded without an active item")
	}
	seen := make(map[string]struct{}, len(c.CompletedItems))
	for _, item := range c.CompletedItems {
		if _, dup := seen[item]; dup {
			return fmt.Errorf("item %q completed twice", item)
		}
		seen[item] = struct{}{}
	}
	if ok {
		if _, done := seen[active]; done {
			return fmt.Errorf("active item %q is also completed", active)
		}
	}
	return nil
}

func (c Checkpoint) clone() Checkpoint {
	out := c
	if c.ActiveItem != nil {
		item := *c.ActiveItem
		out.ActiveItem = &item
	}
	out.CompletedItems = slices.Clone(c.CompletedItems)
	return out
}

// Options configures a Store
type Options struct {
	// MaxSaveFailures is how many consecutive failed saves are tolerated
	// before the store reports a fatal checkpoint error
	MaxSaveFailures int
	// Backup keeps a copy of the file when Reset deletes it
	Backup bool
	Logger logger.Logger
}

// Store owns one checkpoint file. It is meant for a single writer; the
// mutex only guards the in-memory copy.
type Store struct {
	path   string
	opts   Options
	logger logger.Logger

	mu       sync.Mutex
	state    Checkpoint
	failures int

	// write is replaced in tests to simulate disk failures
	write func(path string, cp Checkpoint) error
}

// Open creates a Store for path and loads whatever is persisted there
func Open(path string, opts Options) (*Store, error) {
	if opts.MaxSaveFailures < 1 {
		opts.MaxSaveFailures = 1
	}
	if opts.Logger == nil {
		opts.Logger = logger.GetLogger()
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
		}
	}

	s := &Store{
		path:   path,
		opts:   opts,
		logger: opts.Logger.WithField("checkpoint", path),
		write:  writeCheckpoint,
	}
	s.Load()
	return s, nil
}

// Path returns the checkpoint file location
func (s *Store) Path() string {
	return s.path
}

// Load re-reads the checkpoint file. A missing file yields the zero
// checkpoint; an unreadable or inconsistent one is logged and also yields
// the zero checkpoint.
func (s *Store) Load() Checkpoint {
	cp, err := readCheckpoint(s.path)
	if err != nil {
		if errs.IsCorrupt(err) {
			s.logger.WithError(err).Warn("Checkpoint is corrupt, starting from scratch")
		} else if !errs.IsNotFound(err) {
			s.logger.WithError(err).Warn("Checkpoint could not be read, starting from scratch")
		}
		cp = Checkpoint{Version: CurrentVersion}
	} else {
		active, _ := cp.Active()
		s.logger.InfoWithFields("Checkpoint loaded", map[string]interface{}{
			"active":    active,
			"offset":    cp.Offset,
			"completed": len(cp.CompletedItems),
		})
	}

	s.mu.Lock()
	s.state = cp
	s.mu.Unlock()
	return cp.clone()
}

// Save replaces the checkpoint with cp and persists it
func (s *Store) Save(cp Checkpoint) error {
	if err := cp.Validate(); err != nil {
		return errs.Wrap(errs.ErrorTypeFatal, "checkpoint.save", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = cp.clone()
	return s.persistLocked()
}

// MarkActive records item as in progress at offset with stored durable
// records. An item that was completed before is reopened.
func (s *Store) MarkActive(item string, offset, stored int) error {
	if offset < 0 || stored < 0 {
		return errs.New(errs.ErrorTypeFatal, "checkpoint.mark_active", "negative offset or stored count")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.ActiveItem = &item
	s.state.Offset = offset
	s.state.Stored = stored
	s.state.CompletedItems = slices.DeleteFunc(s.state.CompletedItems, func(c string) bool { return c == item })
	return s.persistLocked()
}

// MarkComplete appends item to the completed list and clears the active item
func (s *Store) MarkComplete(item string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !slices.Contains(s.state.CompletedItems, item) {
		s.state.CompletedItems = append(s.state.CompletedItems, item)
	}
	s.clearActiveLocked()
	return s.persistLocked()
}

// ClearActive drops the active item without completing it
func (s *Store) ClearActive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearActiveLocked()
	return s.persistLocked()
}

// Flush persists the in-memory state unconditionally
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked()
}

// Snapshot returns a copy of the in-memory checkpoint
func (s *Store) Snapshot() Checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// IsComplete reports whether item has been completed
func (s *Store) IsComplete(item string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.IsComplete(item)
}

// Reset forgets all progress and deletes the file, keeping a .backup copy
// when configured
func (s *Store) Reset() error {
	if s.opts.Backup {
		if err := s.backup(); err != nil {
			return err
		}
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}

	s.mu.Lock()
	s.state = Checkpoint{Version: CurrentVersion}
	s.failures = 0
	s.mu.Unlock()

	s.logger.Info("Checkpoint reset")
	return nil
}

func (s *Store) clearActiveLocked() {
	s.state.ActiveItem = nil
	s.state.Offset = 0
	s.state.Stored = 0
}

// persistLocked writes the state. Failures are recoverable until
// MaxSaveFailures consecutive saves have failed, after which they are fatal.
func (s *Store) persistLocked() error {
	s.state.Version = CurrentVersion
	s.state.UpdatedAt = time.Now().UTC()

	if err := s.write(s.path, s.state); err != nil {
		s.failures++
		cause := fmt.Errorf("%w: %v", errs.ErrCheckpoint, err)
		if s.failures >= s.opts.MaxSaveFailures {
			s.logger.WithError(err).ErrorWithFields("Checkpoint persistence keeps failing", map[string]interface{}{
				"failures": s.failures,
			})
			return &errs.Error{Type: errs.ErrorTypeFatal, Op: "checkpoint.save", Err: cause}
		}
		s.logger.WithError(err).WarnWithFields("Checkpoint save failed", map[string]interface{}{
			"failures": s.failures,
		})
		return &errs.Error{Type: errs.ErrorTypeTransient, Op: "checkpoint.save", Err: cause}
	}

	s.failures = 0
	active, _ := s.state.Active()
	s.logger.DebugWithFields("Checkpoint saved", map[string]interface{}{
		"active": active,
		"offset": s.state.Offset,
		"stored": s.state.Stored,
	})
	return nil
}

func (s *Store) backup() error {
	src, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to open checkpoint for backup: %w", err)
	}
	defer src.Close()

	err = storage.WriteFileAtomic(s.path+".backup", 0644, func(w io.Writer) error {
		_, err := io.Copy(w, src)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to back up checkpoint: %w", err)
	}
	s.logger.Debug("Checkpoint backed up")
	return nil
}

func readCheckpoint(path string) (Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Checkpoint{}, errs.Wrap(errs.ErrorTypeNotFound, "checkpoint.load", err)
		}
		return Checkpoint{}, errs.Wrap(errs.ErrorTypeFatal, "checkpoint.load", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, errs.Wrap(errs.ErrorTypeCorrupt, "checkpoint.load", err)
	}
	if err := cp.Validate(); err != nil {
		return Checkpoint{}, errs.Wrap(errs.ErrorTypeCorrupt, "checkpoint.load", err)
	}
	if cp.Version == 0 {
		cp.Version = CurrentVersion
	}
	return cp, nil
}

func writeCheckpoint(path string, cp Checkpoint) error {
	if cp.CompletedItems == nil {
		cp.CompletedItems = []string{}
	}
	return storage.WriteJSONAtomic(path, cp)
}

// ReadFile loads a checkpoint without opening a Store
func ReadFile(path string) (Checkpoint, error) {
	return readCheckpoint(path)
}
