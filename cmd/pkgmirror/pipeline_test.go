package main

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pkgmirror/pkg/catalog"
	"pkgmirror/pkg/checkpoint"
	"pkgmirror/pkg/errlog"
	"pkgmirror/pkg/logger"
	"pkgmirror/pkg/report"
	"pkgmirror/pkg/storage"
	"pkgmirror/pkg/ui"
)

// mockRegistry serves search pages, packuments and tarballs for a fixed
// set of packages
type mockRegistry struct {
	server   *httptest.Server
	results  map[string][]string
	versions []string
	missing  map[string]bool

	mu       sync.Mutex
	searches []string

	tarballs int32
}

func newMockRegistry(t *testing.T) *mockRegistry {
	t.Helper()
	m := &mockRegistry{
		results: map[string][]string{
			"react": {"react", "react-dom", "shared"},
			"vue":   {"vue", "shared", "ghost"},
		},
		versions: []string{"1.0.0", "2.0.0", "1.1.0"},
		missing:  map[string]bool{"ghost": true},
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.handle))
	t.Cleanup(m.server.Close)
	return m
}

func (m *mockRegistry) handle(w http.ResponseWriter, r *http.Request) {
	path := r.URL.EscapedPath()
	switch {
	case path == "/-/v1/search":
		m.handleSearch(w, r)
	case strings.Contains(path, "/-/"):
		atomic.AddInt32(&m.tarballs, 1)
		io.WriteString(w, tarballBody(path))
	default:
		m.handlePackument(w, strings.TrimPrefix(path, "/"))
	}
}

func (m *mockRegistry) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	text := q.Get("text")
	from, _ := strconv.Atoi(q.Get("from"))
	size, _ := strconv.Atoi(q.Get("size"))

	m.mu.Lock()
	m.searches = append(m.searches, fmt.Sprintf("%s@%d", text, from))
	m.mu.Unlock()

	names := m.results[text]
	end := min(from+size, len(names))
	objects := []map[string]interface{}{}
	for _, name := range names[min(from, end):end] {
		objects = append(objects, map[string]interface{}{"package": map[string]string{"name": name}})
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"total": len(names), "objects": objects})
}

func (m *mockRegistry) handlePackument(w http.ResponseWriter, name string) {
	if m.missing[name] {
		http.NotFound(w, nil)
		return
	}
	versions := map[string]interface{}{}
	for _, v := range m.versions {
		tarball := fmt.Sprintf("/%s/-/%s-%s.tgz", name, name, v)
		sum := sha1.Sum([]byte(tarballBody(tarball)))
		versions[v] = map[string]interface{}{
			"dist": map[string]string{
				"tarball": m.server.URL + tarball,
				"shasum":  hex.EncodeToString(sum[:]),
			},
		}
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"versions": versions})
}

func (m *mockRegistry) searchCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.searches...)
}

func tarballBody(path string) string {
	return "tarball " + path
}

type pipeline struct {
	dir    string
	config string
	out    *bytes.Buffer
}

func newPipeline(t *testing.T, registry *mockRegistry) *pipeline {
	t.Helper()
	dir := t.TempDir()
	p := &pipeline{dir: dir, config: filepath.Join(dir, "pkgmirror.yaml"), out: &bytes.Buffer{}}

	cfg := fmt.Sprintf(`registry:
  search_url: %q
  registry_url: %q
  token: "test-token"
  timeout: 5s
rate_limit:
  inter_request_delay_ms: 0
harvest:
  queries: [react, vue]
  page_size: 2
  flush_threshold: 2
  results_dir: %q
  progress_file: %q
  catalog_file: %q
mirror:
  directory: %q
  versions_to_keep: 2
  progress_file: %q
  download_timeout: 5s
report:
  counts_dir: %q
  max_retries: 0
logging:
  level: error
  error_log: %q
`,
		registry.server.URL+"/-/v1/search", registry.server.URL,
		p.path("search-results"), p.path("search-progress.json"), p.path("packages-list.json"),
		p.path("npm-mirror"), p.path("download-progress.json"),
		p.path("package-counts"), p.path("error.log"))
	require.NoError(t, os.WriteFile(p.config, []byte(cfg), 0600))

	ui.SetOutput(p.out)
	t.Cleanup(func() { ui.SetOutput(os.Stdout) })
	return p
}

func (p *pipeline) path(name string) string {
	return filepath.Join(p.dir, name)
}

func (p *pipeline) run(t *testing.T, args ...string) {
	t.Helper()
	require.NoError(t, execute(append([]string{"--config", p.config}, args...)), p.out.String())
}

func TestHarvestMergeMirror(t *testing.T) {
	registry := newMockRegistry(t)
	p := newPipeline(t, registry)

	p.run(t, "harvest")
	assert.Equal(t, []string{"react@0", "react@2", "vue@0", "vue@2"}, registry.searchCalls())
	assert.Contains(t, p.out.String(), "[HARVEST COMPLETED]")

	cp, err := checkpoint.ReadFile(p.path("search-progress.json"))
	require.NoError(t, err)
	assert.Equal(t, []string{"react", "vue"}, cp.CompletedItems)

	// Completed queries are not searched again
	p.run(t, "harvest")
	assert.Len(t, registry.searchCalls(), 4)

	p.run(t, "merge")
	ids, err := catalog.Load(p.path("packages-list.json"))
	require.NoError(t, err)
	assert.Equal(t, []string{"react", "react-dom", "shared", "vue", "ghost"}, ids)

	p.run(t, "mirror")
	assert.Equal(t, int32(8), atomic.LoadInt32(&registry.tarballs))
	for _, name := range []string{"react", "react-dom", "shared", "vue"} {
		assert.FileExists(t, p.path(filepath.Join("npm-mirror", name, name+"-2.0.0.tgz")))
		assert.FileExists(t, p.path(filepath.Join("npm-mirror", name, name+"-1.1.0.tgz")))
		assert.NoFileExists(t, p.path(filepath.Join("npm-mirror", name, name+"-1.0.0.tgz")))
	}
	assert.Contains(t, p.out.String(), "[MIRROR COMPLETED]")

	records, _, err := errlog.Read(p.path("error.log"))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "mirror", records[0].Phase)
	assert.Equal(t, "ghost", records[0].Item)
	assert.Equal(t, "not_found", records[0].Kind)

	// A restarted mirror finds every artifact on disk
	p.run(t, "mirror", "--force-restart")
	assert.Equal(t, int32(8), atomic.LoadInt32(&registry.tarballs))

	// flags of one run do not leak into the next
	p.out.Reset()
	p.run(t, "mirror")
	assert.NotContains(t, p.out.String(), "Checkpoint reset")

	p.out.Reset()
	p.run(t, "status")
	assert.Contains(t, p.out.String(), "2 / 2")
	assert.Contains(t, p.out.String(), "8 tarballs")

	p.out.Reset()
	p.run(t, "errors", "--phase", "mirror")
	assert.Contains(t, p.out.String(), "ghost")
}

func TestSubsetHarvestResumesInterruptedQueryFirst(t *testing.T) {
	registry := newMockRegistry(t)
	p := newPipeline(t, registry)

	// an earlier run stored the first page of vue and was interrupted
	results, err := storage.NewResultStore(p.path("search-results"))
	require.NoError(t, err)
	require.NoError(t, results.Save("vue", []string{"vue", "shared"}))
	store, err := checkpoint.Open(p.path("search-progress.json"), checkpoint.Options{Logger: logger.NewNopLogger()})
	require.NoError(t, err)
	require.NoError(t, store.MarkActive("vue", 2, 2))

	p.run(t, "harvest", "--queries", "react")
	assert.Equal(t, []string{"vue@2", "react@0", "react@2"}, registry.searchCalls())

	ids, err := results.Load("vue")
	require.NoError(t, err)
	assert.Equal(t, []string{"vue", "shared", "ghost"}, ids)

	cp, err := checkpoint.ReadFile(p.path("search-progress.json"))
	require.NoError(t, err)
	assert.Equal(t, []string{"vue", "react"}, cp.CompletedItems)
}

func TestCountsAndCompare(t *testing.T) {
	registry := newMockRegistry(t)
	p := newPipeline(t, registry)

	one := 1
	_, err := report.WriteSnapshot(p.path("package-counts"), time.Now().AddDate(0, 0, -1), report.Snapshot{
		"react": &one,
		"vue":   &one,
	})
	require.NoError(t, err)

	p.run(t, "counts")
	snap, err := report.ReadSnapshot(p.path(filepath.Join("package-counts", report.FileName(time.Now()))))
	require.NoError(t, err)
	require.NotNil(t, snap["react"])
	assert.Equal(t, 3, *snap["react"])

	p.out.Reset()
	p.run(t, "compare")
	out := p.out.String()
	assert.Contains(t, out, "react")
	assert.Contains(t, out, "+2")
	assert.Contains(t, out, "2 changed")
}
