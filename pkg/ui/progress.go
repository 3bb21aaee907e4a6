package ui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

const (
	ProgressBar   = "█"
	ProgressEmpty = "░"
)

// StatusTracker reports work queue decisions and keeps run totals
type StatusTracker struct {
	mu        sync.Mutex
	total     int
	done      int
	skipped   int
	failed    int
	StartTime time.Time
}

// NewStatusTracker creates a tracker for a run over total items
func NewStatusTracker(total int) *StatusTracker {
	return &StatusTracker{total: total, StartTime: time.Now()}
}

// ItemSkipped reports an item that was not run
func (st *StatusTracker) ItemSkipped(item, reason string) {
	st.mu.Lock()
	st.skipped++
	st.mu.Unlock()
	printf(false, "%s %s %s\n", Dim("[SKIP]"), item, Dim("("+reason+")"))
}

// ItemResumed reports an item picked up from the checkpoint
func (st *StatusTracker) ItemResumed(item string, offset int) {
	printf(false, "%s %s at offset %s\n", Magenta("[RESUME]"), item, humanize.Comma(int64(offset)))
}

// ItemStarted reports an item started from scratch
func (st *StatusTracker) ItemStarted(item string) {
	printf(false, "%s %s %s\n", Cyan("[START]"), item, Dim(st.GetProgress()))
}

// ItemCompleted reports a finished item
func (st *StatusTracker) ItemCompleted(item string) {
	st.mu.Lock()
	st.done++
	st.mu.Unlock()
	printf(false, "%s %s\n", Green("[DONE]"), item)
}

// ItemFailed reports a failed item
func (st *StatusTracker) ItemFailed(item string, err error) {
	st.mu.Lock()
	st.failed++
	st.mu.Unlock()
	printf(true, "%s %s: %v\n", Red("[FAIL]"), item, err)
}

// GetProgress returns a progress bar over processed items
func (st *StatusTracker) GetProgress() string {
	st.mu.Lock()
	defer st.mu.Unlock()

	const width = 20
	processed := st.done + st.skipped + st.failed
	filled := 0
	if st.total > 0 {
		filled = min(width, processed*width/st.total)
	}
	bar := strings.Repeat(ProgressBar, filled) + strings.Repeat(ProgressEmpty, width-filled)
	return fmt.Sprintf("[%s] %d/%d", bar, processed, st.total)
}

func (st *StatusTracker) elapsed() time.Duration {
	return time.Since(st.StartTime)
}

// rate is completed items per minute
func (st *StatusTracker) rate() float64 {
	minutes := st.elapsed().Minutes()
	if minutes == 0 {
		return 0
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return float64(st.done) / minutes
}

// Counts returns completed, skipped and failed totals
func (st *StatusTracker) Counts() (done, skipped, failed int) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.done, st.skipped, st.failed
}

// PrintSummary prints the run totals
func (st *StatusTracker) PrintSummary() {
	done, skipped, failed := st.Counts()
	printf(false, "\n%s completed %d, skipped %d, failed %d in %s (%.1f/min)\n",
		Green("[SUMMARY]"), done, skipped, failed,
		st.elapsed().Round(time.Second), st.rate())
}
