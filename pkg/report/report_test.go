package report

import (
	"bytes"
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "pkgmirror/pkg/errors"
	"pkgmirror/pkg/logger"
	"pkgmirror/pkg/retry"
)

func intp(n int) *int { return &n }

type fakeCounter struct {
	totals map[string]int
	// failures is how many transient failures to return before succeeding
	failures map[string]int
	errs     map[string]error
	calls    map[string]int
}

func (f *fakeCounter) Count(ctx context.Context, text string) (int, error) {
	f.calls[text]++
	if err, ok := f.errs[text]; ok {
		return 0, err
	}
	if f.failures[text] > 0 {
		f.failures[text]--
		return 0, &errs.Error{Type: errs.ErrorTypeTransient, Op: "search", Code: 503}
	}
	return f.totals[text], nil
}

func newCounter(f *fakeCounter, retries int) *Counter {
	return NewCounter(f, CounterOptions{
		MaxRetries: retries,
		Backoff:    &retry.ConstantBackoff{Delay: time.Millisecond},
		Logger:     logger.NewNopLogger(),
	})
}

func TestSnapshot(t *testing.T) {
	f := &fakeCounter{
		totals:   map[string]int{"react": 1234, "vue": 0},
		failures: map[string]int{"react": 2},
		errs:     map[string]error{"broken": errs.New(errs.ErrorTypeFatal, "search", "missing total")},
		calls:    map[string]int{},
	}

	snap, err := newCounter(f, 3).Snapshot(context.Background(), []string{"react", "vue", "broken"})
	require.NoError(t, err)

	require.NotNil(t, snap["react"])
	assert.Equal(t, 1234, *snap["react"])
	assert.Equal(t, 3, f.calls["react"], "transient failures are retried")
	require.NotNil(t, snap["vue"])
	assert.Equal(t, 0, *snap["vue"])

	v, ok := snap["broken"]
	assert.True(t, ok)
	assert.Nil(t, v)
	assert.Equal(t, 1, f.calls["broken"], "fatal failures are not retried")
}

func TestSnapshotRetriesAreBounded(t *testing.T) {
	f := &fakeCounter{
		failures: map[string]int{"flaky": 10},
		calls:    map[string]int{},
	}
	snap, err := newCounter(f, 2).Snapshot(context.Background(), []string{"flaky"})
	require.NoError(t, err)
	assert.Nil(t, snap["flaky"])
	assert.Equal(t, 3, f.calls["flaky"])
}

func TestSnapshotInterrupted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := &fakeCounter{calls: map[string]int{}}

	_, err := newCounter(f, 0).Snapshot(ctx, []string{"a"})
	assert.ErrorIs(t, err, errs.ErrInterrupted)
	assert.Zero(t, f.calls["a"])
}

func TestWriteReadSnapshot(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "package-counts")
	day := time.Date(2024, 3, 9, 15, 0, 0, 0, time.UTC)

	path, err := WriteSnapshot(dir, day, Snapshot{"a": intp(5), "b": nil})
	require.NoError(t, err)
	assert.Equal(t, "package-counts-2024-03-09.json", filepath.Base(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a": 5, "b": null}`, string(data))

	snap, err := ReadSnapshot(path)
	require.NoError(t, err)
	assert.Equal(t, 5, *snap["a"])
	assert.Nil(t, snap["b"])

	_, err = ReadSnapshot(filepath.Join(dir, "missing.json"))
	assert.True(t, errs.IsNotFound(err))
}

func TestLatestPair(t *testing.T) {
	dir := t.TempDir()
	for _, d := range []string{"2024-01-10", "2023-12-31", "2024-02-01"} {
		day, err := time.Parse(dateLayout, d)
		require.NoError(t, err)
		_, err = WriteSnapshot(dir, day, Snapshot{})
		require.NoError(t, err)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), nil, 0644))

	prev, cur, err := LatestPair(dir)
	require.NoError(t, err)
	assert.Equal(t, "package-counts-2024-01-10.json", filepath.Base(prev))
	assert.Equal(t, "package-counts-2024-02-01.json", filepath.Base(cur))
}

func TestLatestPairNeedsTwoSnapshots(t *testing.T) {
	dir := t.TempDir()
	_, err := WriteSnapshot(dir, time.Now(), Snapshot{})
	require.NoError(t, err)

	_, _, err = LatestPair(dir)
	assert.True(t, errs.IsNotFound(err))
}

func TestCompareOrdering(t *testing.T) {
	prev := Snapshot{
		"small":     intp(100),
		"big":       intp(1000),
		"shrinking": intp(500),
		"same":      intp(42),
		"failed":    nil,
		"zero":      intp(0),
	}
	cur := Snapshot{
		"small":     intp(110),
		"big":       intp(1500),
		"shrinking": intp(300),
		"same":      intp(42),
		"failed":    intp(7),
		"lost":      nil,
		"zero":      intp(3),
		"added":     intp(50),
	}

	changes := Compare(prev, cur)

	var order []string
	for _, c := range changes {
		order = append(order, c.Query)
	}
	assert.Equal(t, []string{"big", "shrinking", "added", "small", "zero", "failed", "lost"}, order)

	assert.Equal(t, 500, changes[0].Diff)
	assert.InDelta(t, 50.0, changes[0].Percentage, 0.001)
	assert.Equal(t, -200, changes[1].Diff)
	assert.InDelta(t, -40.0, changes[1].Percentage, 0.001)
	assert.Equal(t, StatusNew, changes[2].Status)
	assert.True(t, math.IsNaN(changes[4].Percentage), "no percentage from a zero base")
	assert.Equal(t, StatusError, changes[5].Status)
	assert.Equal(t, StatusError, changes[6].Status)
}

func TestCompareIdenticalSnapshots(t *testing.T) {
	snap := Snapshot{"a": intp(1), "b": intp(2)}
	assert.Empty(t, Compare(snap, snap))
}

func TestRender(t *testing.T) {
	var buf bytes.Buffer
	Render(&buf, []Change{
		{Query: "react", Status: StatusChanged, Previous: intp(1234567), Current: intp(1234600), Diff: 33, Percentage: 0.0027},
		{Query: "broken", Status: StatusError, Current: nil},
	})

	out := buf.String()
	assert.Contains(t, out, "1,234,567")
	assert.Contains(t, out, "+33")
	assert.Contains(t, out, "+0.00%")
	assert.Contains(t, out, "error")
	assert.Contains(t, out, "2 changed")
}

func TestRenderSnapshot(t *testing.T) {
	var buf bytes.Buffer
	RenderSnapshot(&buf, Snapshot{"js": intp(2500000), "db": nil})
	out := buf.String()
	assert.Contains(t, out, "2,500,000")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("db")), bytes.Index(buf.Bytes(), []byte("js")))
}
