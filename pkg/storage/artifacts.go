package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// PartialSuffix marks an artifact that is still being written
const PartialSuffix = ".part"

// ArtifactStore lays out mirrored tarballs as
// <dir>/<entity>/<basename>-<version>.tgz. The presence of the final file
// marks the artifact as mirrored.
type ArtifactStore struct {
	dir string
}

// NewArtifactStore creates a new artifact store rooted at dir
func NewArtifactStore(dir string) (*ArtifactStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create mirror directory: %w", err)
	}
	return &ArtifactStore{dir: dir}, nil
}

// Dir returns the root of the store
func (s *ArtifactStore) Dir() string {
	return s.dir
}

// Path returns where the artifact for entity@version lives. Scoped names
// such as @scope/name keep their directory nesting.
func (s *ArtifactStore) Path(entity, version string) (string, error) {
	if err := validateEntity(entity); err != nil {
		return "", err
	}
	if version == "" || strings.ContainsAny(version, `/\`) || version == "." || version == ".." {
		return "", fmt.Errorf("invalid version %q", version)
	}

	base := entity
	if i := strings.LastIndex(entity, "/"); i >= 0 {
		base = entity[i+1:]
	}
	return filepath.Join(s.dir, filepath.FromSlash(entity), fmt.Sprintf("%s-%s.tgz", base, version)), nil
}

// Exists reports whether the artifact has been fully written
func (s *ArtifactStore) Exists(entity, version string) (bool, error) {
	path, err := s.Path(entity, version)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

// Write streams an artifact through a .part file that is synced and renamed
// into place. On any failure the partial file is removed.
func (s *ArtifactStore) Write(entity, version string, write func(io.Writer) error) (string, error) {
	path, err := s.Path(entity, version)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create artifact directory: %w", err)
	}

	partial := path + PartialSuffix
	out, err := os.Create(partial)
	if err != nil {
		return "", fmt.Errorf("failed to create partial file: %w", err)
	}

	err = write(out)
	if err == nil {
		err = out.Sync()
	}
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(partial)
		return "", err
	}

	if err := os.Rename(partial, path); err != nil {
		os.Remove(partial)
		return "", fmt.Errorf("failed to rename partial file: %w", err)
	}
	return path, nil
}

// Usage counts mirrored artifacts and their total size
func (s *ArtifactStore) Usage() (files int, bytes int64, err error) {
	err = filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".tgz") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		files++
		bytes += info.Size()
		return nil
	})
	return files, bytes, err
}

// CleanPartials removes .part files left behind by an interrupted run
func (s *ArtifactStore) CleanPartials() (int, error) {
	removed := 0
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), PartialSuffix) {
			return nil
		}
		if err := os.Remove(path); err != nil {
			return err
		}
		removed++
		return nil
	})
	return removed, err
}

func validateEntity(entity string) error {
	if entity == "" {
		return errors.New("empty entity name")
	}
	if strings.HasPrefix(entity, "/") || strings.Contains(entity, `\`) {
		return fmt.Errorf("invalid entity name %q", entity)
	}
	parts := strings.Split(entity, "/")
	if len(parts) > 2 || (len(parts) == 2 && !strings.HasPrefix(parts[0], "@")) {
		return fmt.Errorf("invalid entity name %q", entity)
	}
	for _, p := range parts {
		if p == "" || p == "." || p == ".." {
			return fmt.Errorf("invalid entity name %q", entity)
		}
	}
	return nil
}
