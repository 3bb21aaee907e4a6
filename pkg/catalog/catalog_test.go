package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "pkgmirror/pkg/errors"
	"pkgmirror/pkg/logger"
	"pkgmirror/pkg/storage"
)

func writeResults(t *testing.T, dir, name string, ids []string) string {
	t.Helper()
	path := filepath.Join(dir, name+storage.ResultSuffix)
	require.NoError(t, storage.WriteJSONAtomic(path, ids))
	return path
}

func TestMergeFilesUnion(t *testing.T) {
	dir := t.TempDir()
	a := writeResults(t, dir, "a", []string{"a", "b"})
	b := writeResults(t, dir, "b", []string{"b", "c"})

	ids, report := NewMerger(logger.NewNopLogger()).MergeFiles(a, b)
	assert.Equal(t, []string{"a", "b", "c"}, ids)
	assert.Equal(t, 2, report.Files)
	assert.Equal(t, 4, report.Records)
	assert.Equal(t, 3, report.Unique)
}

func TestMergeUsesLexicalFileOrder(t *testing.T) {
	dir := t.TempDir()
	writeResults(t, dir, "zeta", []string{"z", "shared"})
	writeResults(t, dir, "alpha", []string{"shared", "a"})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.json"), []byte(`["ignored"]`), 0644))

	ids, report, err := NewMerger(logger.NewNopLogger()).Merge(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"shared", "a", "z"}, ids)
	assert.Equal(t, 2, report.Files)
}

func TestMergeSkipsUnreadableFiles(t *testing.T) {
	dir := t.TempDir()
	writeResults(t, dir, "good", []string{"x"})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad"+storage.ResultSuffix), []byte(`{"not":"an array"}`), 0644))

	log := logger.NewTestLogger()
	ids, report, err := NewMerger(log).Merge(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, ids)
	require.Len(t, report.Skipped, 1)
	assert.True(t, log.HasMessage("Skipping unreadable result file"))
}

func TestMergeEmptyDirectory(t *testing.T) {
	ids, report, err := NewMerger(logger.NewNopLogger()).Merge(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.NotNil(t, ids)
	assert.Zero(t, report.Files)
}

func TestWriteAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "packages-list.json")
	require.NoError(t, Write(path, []string{"react", "@types/node"}))

	ids, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"react", "@types/node"}, ids)

	require.NoError(t, Write(path, nil))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(data))
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(filepath.Join(dir, "missing.json"))
	assert.True(t, errs.IsNotFound(err))

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0644))
	_, err = Load(bad)
	assert.True(t, errs.IsCorrupt(err))
}
