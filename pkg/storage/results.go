package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	errs "pkgmirror/pkg/errors"
)

// ResultSuffix is appended to every per-query result file
const ResultSuffix = "-packages.json"

// ResultStore keeps one JSON array of identifiers per work item
type ResultStore struct {
	Dir string
}

// NewResultStore creates the result directory if needed
func NewResultStore(dir string) (*ResultStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create results directory: %w", err)
	}
	return &ResultStore{Dir: dir}, nil
}

// Path returns the result file for item
func (s *ResultStore) Path(item string) string {
	return filepath.Join(s.Dir, SanitizeName(item)+ResultSuffix)
}

// Load reads the result file of item. A missing file is NotFound, an
// undecodable one Corrupt.
func (s *ResultStore) Load(item string) ([]string, error) {
	path := s.Path(item)
	var ids []string
	if err := ReadJSON(path, &ids); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &errs.Error{Type: errs.ErrorTypeNotFound, Op: "results.load", Item: item, Err: err}
		}
		return nil, &errs.Error{Type: errs.ErrorTypeCorrupt, Op: "results.load", Item: item, Err: err}
	}
	return ids, nil
}

// Save atomically replaces the result file of item
func (s *ResultStore) Save(item string, ids []string) error {
	if ids == nil {
		ids = []string{}
	}
	if err := WriteJSONAtomic(s.Path(item), ids); err != nil {
		return fmt.Errorf("failed to save results for %q: %w", item, err)
	}
	return nil
}

// Files lists every result file in lexical order
func (s *ResultStore) Files() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.Dir, "*"+ResultSuffix))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

// SanitizeName maps an item to a file name component. Reserved bytes, '%'
// and a leading '.' are written as %XX, so distinct items never share a
// file and the name can be decoded with url.PathUnescape.
func SanitizeName(name string) string {
	if name == "" {
		return "%"
	}
	var b strings.Builder
	for i := 0; i < len(name); i++ {
		c := name[i]
		if reservedByte(c) || (i == 0 && c == '.') {
			fmt.Fprintf(&b, "%%%02X", c)
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func reservedByte(c byte) bool {
	return c < 0x20 || c == 0x7f || strings.IndexByte(`%/\:*?"<>|`, c) >= 0
}
