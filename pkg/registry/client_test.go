package registry

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "pkgmirror/pkg/errors"
	"pkgmirror/pkg/logger"
	"pkgmirror/pkg/ratelimit"
)

func newTestClient(t *testing.T, handler http.Handler, opts Options) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	opts.SearchURL = server.URL + "/-/v1/search"
	opts.RegistryURL = server.URL
	if opts.Logger == nil {
		opts.Logger = logger.NewNopLogger()
	}
	c, err := NewClient(opts)
	require.NoError(t, err)
	return c, server
}

func TestSearch(t *testing.T) {
	var gotQuery string
	var gotUA string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/-/v1/search", r.URL.Path)
		gotQuery = r.URL.RawQuery
		gotUA = r.Header.Get("User-Agent")
		fmt.Fprint(w, `{"total": 600, "objects": [
			{"package": {"name": "react"}},
			{"package": {"name": ""}},
			{"package": {"name": "react-dom"}}
		]}`)
	}), Options{UserAgent: "pkgmirror-test/1.0"})

	page, err := c.Search(context.Background(), SearchRequest{Text: "react", From: 250, Size: 250})
	require.NoError(t, err)
	assert.Equal(t, 600, page.Total)
	assert.Equal(t, []string{"react", "react-dom"}, page.Names)
	assert.Contains(t, gotQuery, "text=react")
	assert.Contains(t, gotQuery, "from=250")
	assert.Contains(t, gotQuery, "size=250")
	assert.Equal(t, "pkgmirror-test/1.0", gotUA)
}

func TestSearchClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(error) bool
	}{
		{"rate limited", http.StatusTooManyRequests, "slow down", errs.IsTransient},
		{"server error", http.StatusBadGateway, "", errs.IsTransient},
		{"not found", http.StatusNotFound, "", errs.IsNotFound},
		{"unauthorized", http.StatusUnauthorized, "", errs.IsFatal},
		{"bad json", http.StatusOK, "{not json", errs.IsFatal},
		{"missing total", http.StatusOK, `{"objects": []}`, errs.IsFatal},
		{"missing objects", http.StatusOK, `{"total": 3}`, errs.IsFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}), Options{})

			_, err := c.Search(context.Background(), SearchRequest{Text: "q", Size: 10})
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected classification: %v", err)
		})
	}
}

func TestSearchNetworkErrorIsTransient(t *testing.T) {
	c, server := newTestClient(t, http.NotFoundHandler(), Options{})
	server.Close()

	_, err := c.Search(context.Background(), SearchRequest{Text: "q", Size: 1})
	require.Error(t, err)
	assert.True(t, errs.IsTransient(err))
}

func TestCount(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("size"))
		fmt.Fprint(w, `{"total": 12345, "objects": [{"package": {"name": "x"}}]}`)
	}), Options{})

	total, err := c.Count(context.Background(), "js")
	require.NoError(t, err)
	assert.Equal(t, 12345, total)
}

func TestPolicyIsAppliedAroundEveryCall(t *testing.T) {
	rec := &ratelimit.Recorder{}
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}), Options{Policy: rec})

	c.Search(context.Background(), SearchRequest{Text: "a", Size: 1})
	c.Search(context.Background(), SearchRequest{Text: "b", Size: 1})

	before, after := rec.Counts()
	assert.Equal(t, 2, before)
	assert.Equal(t, 2, after, "the delay follows failed calls too")
}

type blockingPolicy struct{}

func (blockingPolicy) Before(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}
func (blockingPolicy) After(context.Context) error { return nil }

func TestCancelledWaitIsInterruption(t *testing.T) {
	var hits int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}), Options{Policy: blockingPolicy{}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Search(ctx, SearchRequest{Text: "a", Size: 1})
	assert.ErrorIs(t, err, errs.ErrInterrupted)
	assert.Zero(t, atomic.LoadInt32(&hits))
}

func TestInFlightRequestSurvivesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cancel()
		time.Sleep(50 * time.Millisecond)
		fmt.Fprint(w, `{"total": 1, "objects": [{"package": {"name": "only"}}]}`)
	}), Options{Policy: ratelimit.NewFixedDelay(time.Hour)})

	start := time.Now()
	page, err := c.Search(ctx, SearchRequest{Text: "a", Size: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"only"}, page.Names)
	assert.Less(t, time.Since(start), 5*time.Second, "the post-call delay is interruptible")
}

func TestVersions(t *testing.T) {
	c, server := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("Accept"), "application/vnd.npm.install-v1+json")
		switch r.URL.EscapedPath() {
		case "/left-pad":
			fmt.Fprint(w, `{"versions": {
				"1.0.0": {"dist": {"tarball": "https://cdn.example/left-pad-1.0.0.tgz", "shasum": "abc"}},
				"1.1.0": {"dist": {}}
			}}`)
		case "/@babel%2Fcore":
			fmt.Fprint(w, `{"versions": {}}`)
		case "/broken":
			fmt.Fprint(w, `{"name": "broken"}`)
		default:
			http.NotFound(w, r)
		}
	}), Options{})

	versions, err := c.Versions(context.Background(), PackageRequest{Name: "left-pad"})
	require.NoError(t, err)
	require.Len(t, versions, 2)
	byVersion := map[string]Version{}
	for _, v := range versions {
		byVersion[v.Version] = v
	}
	assert.Equal(t, "https://cdn.example/left-pad-1.0.0.tgz", byVersion["1.0.0"].Tarball)
	assert.Equal(t, "abc", byVersion["1.0.0"].Shasum)
	assert.Equal(t, server.URL+"/left-pad/-/left-pad-1.1.0.tgz", byVersion["1.1.0"].Tarball)

	versions, err = c.Versions(context.Background(), PackageRequest{Name: "@babel/core"})
	require.NoError(t, err)
	assert.Empty(t, versions)

	_, err = c.Versions(context.Background(), PackageRequest{Name: "broken"})
	assert.True(t, errs.IsFatal(err))

	_, err = c.Versions(context.Background(), PackageRequest{Name: "missing"})
	assert.True(t, errs.IsNotFound(err))
}

func TestTarballURL(t *testing.T) {
	c, server := newTestClient(t, http.NotFoundHandler(), Options{})
	assert.Equal(t, server.URL+"/lodash/-/lodash-4.17.21.tgz", c.TarballURL("lodash", "4.17.21"))
	assert.Equal(t, server.URL+"/@types/node/-/node-20.0.0.tgz", c.TarballURL("@types/node", "20.0.0"))
}

func TestDownload(t *testing.T) {
	payload := strings.Repeat("tarball-bytes", 1000)
	sum := sha1.Sum([]byte(payload))
	shasum := hex.EncodeToString(sum[:])

	var auth string
	c, server := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if r.URL.Path == "/gone/-/gone-1.0.0.tgz" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, payload)
	}), Options{Token: "s3cret"})

	var buf bytes.Buffer
	n, err := c.Download(context.Background(), ArtifactRequest{
		Name: "pkg", Version: "1.0.0", Tarball: server.URL + "/pkg/-/pkg-1.0.0.tgz", Shasum: shasum,
	}, &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), n)
	assert.Equal(t, payload, buf.String())
	assert.Equal(t, "Bearer s3cret", auth)

	buf.Reset()
	_, err = c.Download(context.Background(), ArtifactRequest{Name: "pkg", Version: "1.0.0", Shasum: "deadbeef"}, &buf)
	require.Error(t, err)
	assert.True(t, errs.IsFatal(err))
	assert.Contains(t, err.Error(), "shasum mismatch")

	_, err = c.Download(context.Background(), ArtifactRequest{Name: "gone", Version: "1.0.0"}, &buf)
	assert.True(t, errs.IsNotFound(err))
}

func TestDownloadTokenNotSentToOtherHosts(t *testing.T) {
	var auth string
	cdn := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		fmt.Fprint(w, "data")
	}))
	defer cdn.Close()

	c, _ := newTestClient(t, http.NotFoundHandler(), Options{Token: "s3cret"})
	// both servers listen on 127.0.0.1 but on different ports
	_, err := c.Download(context.Background(), ArtifactRequest{Name: "p", Version: "1", Tarball: cdn.URL + "/p.tgz"}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Empty(t, auth)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("no space left on device") }

func TestDownloadWriteFailureIsFatal(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data")
	}), Options{})

	_, err := c.Download(context.Background(), ArtifactRequest{Name: "p", Version: "1"}, failingWriter{})
	require.Error(t, err)
	assert.True(t, errs.IsFatal(err))
}

func TestNewClientValidatesURLs(t *testing.T) {
	_, err := NewClient(Options{SearchURL: "", RegistryURL: "http://x"})
	assert.Error(t, err)
	_, err = NewClient(Options{SearchURL: "http://x/s", RegistryURL: "::"})
	assert.Error(t, err)
}
