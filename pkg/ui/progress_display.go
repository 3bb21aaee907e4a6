package ui

import (
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// ProgressDisplay shows a single updating line of artifact progress
type ProgressDisplay struct {
	mu         sync.Mutex
	downloaded int
	skipped    int
	errors     int
	bytes      int64
	current    string
	startTime  time.Time
	isDebug    bool
}

// NewProgressDisplay creates a new progress display. In debug mode every
// artifact gets its own line.
func NewProgressDisplay(debug bool) *ProgressDisplay {
	return &ProgressDisplay{startTime: time.Now(), isDebug: debug}
}

// CompleteDownload records a downloaded artifact
func (p *ProgressDisplay) CompleteDownload(name string, size int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.downloaded++
	p.bytes += size
	p.current = name
	if p.isDebug {
		printf(false, "%s %s (%s)\n", Green("✓"), name, humanize.Bytes(uint64(size)))
		return
	}
	p.printProgress()
}

// SkipDownload records an artifact that was already present
func (p *ProgressDisplay) SkipDownload(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.skipped++
	p.current = name
	if p.isDebug {
		printf(false, "%s %s\n", Dim("="), name)
		return
	}
	p.printProgress()
}

// FailDownload records a failed artifact
func (p *ProgressDisplay) FailDownload(name string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errors++
	printf(true, "\n%s %s: %v\n", Red("✗"), name, err)
	if !p.isDebug {
		p.printProgress()
	}
}

// printProgress redraws the progress line
func (p *ProgressDisplay) printProgress() {
	elapsed := time.Since(p.startTime).Seconds()
	speed := 0.0
	if elapsed > 0 {
		speed = float64(p.bytes) / elapsed
	}
	printf(false, "\r%s %d new, %d present, %d failed · %s · %s/s · %s   ",
		Cyan("[MIRROR]"), p.downloaded, p.skipped, p.errors,
		humanize.Bytes(uint64(p.bytes)), humanize.Bytes(uint64(speed)), Dim(p.current))
}

// Finish ends the progress line and prints totals
func (p *ProgressDisplay) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	printf(false, "\n%s\n", fmt.Sprintf("%s %d artifacts downloaded (%s), %d already present, %d failed in %s",
		Green("[MIRRORED]"), p.downloaded, humanize.Bytes(uint64(p.bytes)), p.skipped, p.errors,
		time.Since(p.startTime).Round(time.Second)))
}
