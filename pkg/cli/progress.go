package cli

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// ProgressReporter reports progress for long-running batch operations
// such as replaying a file of reward events.
type ProgressReporter interface {
	// Start resets the reporter. total may be 0 when the number of items
	// is not known in advance.
	Start(total int64)
	// Add records one finished item under the given outcome label.
	Add(outcome string)
	Finish()
	Error(err error)
}

// SimpleProgress renders a single carriage-return updated status line.
type SimpleProgress struct {
	mu       sync.Mutex
	total    int64
	current  int64
	outcomes map[string]int64
	started  time.Time
	writer   io.Writer

	// every limits redraws to one per n items.
	every int64
}

// NewProgressReporter creates a new progress reporter that writes to w.
// If w is nil, it defaults to os.Stderr.
func NewProgressReporter(w io.Writer) *SimpleProgress {
	if w == nil {
		w = os.Stderr
	}
	return &SimpleProgress{
		writer:   w,
		outcomes: make(map[string]int64),
		every:    1,
	}
}

// WithRedrawEvery limits redraws to once per n items.
func (p *SimpleProgress) WithRedrawEvery(n int64) *SimpleProgress {
	if n > 0 {
		p.every = n
	}
	return p
}

// Start initializes the progress reporter.
func (p *SimpleProgress) Start(total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.total = total
	p.current = 0
	p.outcomes = make(map[string]int64)
	p.started = time.Now()
}

// Add records one item.
func (p *SimpleProgress) Add(outcome string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current++
	p.outcomes[outcome]++
	if p.current%p.every == 0 {
		p.render()
	}
}

// Counts returns a copy of the per-outcome totals.
func (p *SimpleProgress) Counts() map[string]int64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]int64, len(p.outcomes))
	for k, v := range p.outcomes {
		out[k] = v
	}
	return out
}

// Finish draws the final line.
func (p *SimpleProgress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.render()
	fmt.Fprintln(p.writer)
}

// Error reports an error during progress.
func (p *SimpleProgress) Error(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.writer, "\n✗ Error: %v\n", err)
}

func (p *SimpleProgress) render() {
	var b strings.Builder
	if p.total > 0 {
		percent := float64(p.current) / float64(p.total) * 100
		fmt.Fprintf(&b, "\rProgress: %.1f%% (%d/%d)", percent, p.current, p.total)
	} else {
		fmt.Fprintf(&b, "\rProcessed: %d", p.current)
	}

	if len(p.outcomes) > 0 {
		labels := make([]string, 0, len(p.outcomes))
		for k := range p.outcomes {
			labels = append(labels, k)
		}
		sort.Strings(labels)
		parts := make([]string, len(labels))
		for i, k := range labels {
			parts[i] = fmt.Sprintf("%s %d", k, p.outcomes[k])
		}
		fmt.Fprintf(&b, " [%s]", strings.Join(parts, ", "))
	}

	if elapsed := time.Since(p.started).Seconds(); elapsed > 0 {
		fmt.Fprintf(&b, " %.1f events/s", float64(p.current)/elapsed)
	}
	io.WriteString(p.writer, b.String())
}
