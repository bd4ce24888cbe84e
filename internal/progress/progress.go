// Package progress draws a single-line fetch progress bar on stderr.
package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/PentesterFlow/sitesurvey/internal/fetcher"
)

const barWidth = 30

// Display renders fetch progress.
type Display struct {
	mu      sync.Mutex
	out     io.Writer
	started bool
	stopped bool

	done     int
	total    int
	failed   int
	rendered int

	startTime time.Time
	target    string
	lastLine  string
}

// New creates a display writing to stderr.
func New() *Display {
	return NewWithWriter(os.Stderr)
}

// NewWithWriter creates a display writing to w.
func NewWithWriter(w io.Writer) *Display {
	return &Display{out: w}
}

// Start begins the display for target.
func (d *Display) Start(target string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return
	}
	d.started = true
	d.startTime = time.Now()
	d.target = target
}

// Observe records one finished page. Its signature matches
// fetcher.Options.OnProgress.
func (d *Display) Observe(p fetcher.Progress) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.done = p.Done
	d.total = p.Total
	if !p.OK {
		d.failed++
	} else if p.Strategy != fetcher.StrategyStatic {
		d.rendered++
	}
	if !d.started || d.stopped {
		return
	}
	d.draw()
}

func (d *Display) draw() {
	percent := 0
	if d.total > 0 {
		percent = d.done * 100 / d.total
	}
	filled := percent * barWidth / 100

	elapsed := time.Since(d.startTime)
	line := fmt.Sprintf("\r[%s%s] %3d%% | Pages: %d/%d | Rendered: %d | Failed: %d | %s",
		strings.Repeat("█", filled), strings.Repeat("░", barWidth-filled),
		percent, d.done, d.total, d.rendered, d.failed, formatDuration(elapsed))

	if len(line) < len(d.lastLine) {
		fmt.Fprint(d.out, "\r"+strings.Repeat(" ", len(d.lastLine)))
	}
	fmt.Fprint(d.out, line)
	d.lastLine = line
}

// Stop ends the display line.
func (d *Display) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || !d.started {
		return
	}
	d.stopped = true
	if d.lastLine != "" {
		fmt.Fprintln(d.out)
	}
}

// PrintSummary prints totals after a crawl.
func (d *Display) PrintSummary(contributed int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	fmt.Fprintln(d.out)
	fmt.Fprintf(d.out, "  Target:         %s\n", truncateURL(d.target, 60))
	fmt.Fprintf(d.out, "  Duration:       %s\n", formatDuration(time.Since(d.startTime)))
	fmt.Fprintf(d.out, "  Pages fetched:  %d/%d\n", d.done-d.failed, d.total)
	fmt.Fprintf(d.out, "  Rendered:       %d\n", d.rendered)
	fmt.Fprintf(d.out, "  Failed:         %d\n", d.failed)
	fmt.Fprintf(d.out, "  In corpus:      %d\n", contributed)
	fmt.Fprintln(d.out)
}

// Counts returns pages done, failed and rendered so far.
func (d *Display) Counts() (done, failed, rendered int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.done, d.failed, d.rendered
}

func truncateURL(url string, maxLen int) string {
	if len(url) <= maxLen {
		return url
	}
	return url[:maxLen-3] + "..."
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
