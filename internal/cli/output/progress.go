package output

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// ProgressWriter counts bytes passing to an underlying writer and reports
// them on a status line, at most every interval.
type ProgressWriter struct {
	w        io.Writer
	status   io.Writer
	title    string
	interval time.Duration

	mu      sync.Mutex
	written int64
	last    time.Time
}

// NewProgressWriter wraps w. Status lines go to status, typically stderr.
func NewProgressWriter(w, status io.Writer, title string) *ProgressWriter {
	return &ProgressWriter{w: w, status: status, title: title, interval: 200 * time.Millisecond}
}

// Write implements io.Writer.
func (p *ProgressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.written += int64(n)
	if now := time.Now(); now.Sub(p.last) >= p.interval {
		p.last = now
		fmt.Fprintf(p.status, "\r%s %s", p.title, FormatBytes(p.written))
	}
	return n, err
}

// Written returns the byte count so far.
func (p *ProgressWriter) Written() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written
}

// Finish prints the final count and ends the status line.
func (p *ProgressWriter) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.status, "\r%s %s\n", p.title, FormatBytes(p.written))
}

// FormatBytes formats a byte count with a binary unit.
func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
