package ui

import (
	"bytes"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		SetOutput(os.Stdout)
		SetQuietMode(false)
	})
	return &buf
}

func TestColorsDisabledForNonTerminal(t *testing.T) {
	captureOutput(t)
	assert.Equal(t, "plain", Red("plain"))
}

func TestQuietModeKeepsErrors(t *testing.T) {
	buf := captureOutput(t)
	SetQuietMode(true)

	PrintInfo("Query", "react")
	PrintSuccess("done")
	PrintWarning("careful")
	PrintError("Harvest failed", errors.New("boom"))

	assert.Equal(t, "Harvest failed: boom\n", buf.String())
}

func TestStatusTrackerReportsDecisions(t *testing.T) {
	buf := captureOutput(t)
	st := NewStatusTracker(4)

	st.ItemSkipped("a", "already completed")
	st.ItemResumed("b", 12500)
	st.ItemCompleted("b")
	st.ItemStarted("c")
	st.ItemFailed("c", errors.New("bad response"))

	out := buf.String()
	assert.Contains(t, out, "[SKIP] a (already completed)")
	assert.Contains(t, out, "[RESUME] b at offset 12,500")
	assert.Contains(t, out, "[DONE] b")
	assert.Contains(t, out, "[START] c [")
	assert.Contains(t, out, "[FAIL] c: bad response")

	done, skipped, failed := st.Counts()
	assert.Equal(t, 1, done)
	assert.Equal(t, 1, skipped)
	assert.Equal(t, 1, failed)
	assert.Contains(t, st.GetProgress(), "3/4")

	st.StartTime = time.Now().Add(-2 * time.Minute)
	assert.InDelta(t, 0.5, st.rate(), 0.01)
	st.PrintSummary()
	assert.Contains(t, buf.String(), "[SUMMARY] completed 1, skipped 1, failed 1 in 2m0s (0.5/min)")
}

func TestProgressDisplay(t *testing.T) {
	buf := captureOutput(t)
	p := NewProgressDisplay(true)

	p.CompleteDownload("react@18.2.0", 2048)
	p.SkipDownload("react@18.1.0")
	p.FailDownload("react@0.0.1", errors.New("404"))
	p.Finish()

	out := buf.String()
	assert.Contains(t, out, "react@18.2.0 (2.0 kB)")
	assert.Contains(t, out, "react@0.0.1: 404")
	assert.Contains(t, out, "1 artifacts downloaded (2.0 kB), 1 already present, 1 failed")
}

func TestTableRender(t *testing.T) {
	buf := captureOutput(t)
	tbl := NewTable("Item", "Kind").Row("react", "fatal").Row("vue", "not_found").Footer("2 errors")

	require.Equal(t, 2, tbl.Len())
	tbl.Render()

	out := buf.String()
	assert.Contains(t, out, "react")
	assert.Contains(t, out, "not_found")
	assert.Contains(t, out, "ITEM")
}

func TestNotifier(t *testing.T) {
	buf := captureOutput(t)
	var sent []string

	n := &Notifier{send: func(title, _ string) error {
		sent = append(sent, title)
		return nil
	}}
	n.SendSuccess("Harvest complete", "80 queries")
	assert.Empty(t, sent)
	assert.Contains(t, buf.String(), "Harvest complete: 80 queries")

	n.enabled = true
	n.SendError("Harvest aborted", "registry unavailable")
	assert.Equal(t, []string{"Harvest aborted"}, sent)
}

func TestNotificationQuoting(t *testing.T) {
	assert.Equal(t, `"say \"hi\""`, appleQuote(`say "hi"`))
	assert.Equal(t, "a &amp; &lt;b&gt;", xmlEscape("a & <b>"))
}
