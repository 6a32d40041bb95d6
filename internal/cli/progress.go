package cli

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
)

// ProgressBar redraws a single status line on a terminal stream.
type ProgressBar struct {
	out   io.Writer
	label string
	bar   progress.Model

	mu       sync.Mutex
	last     time.Time
	interval time.Duration
}

// NewProgressBar returns a bar that writes to out, typically stderr.
func NewProgressBar(out io.Writer, label string) *ProgressBar {
	return &ProgressBar{
		out:   out,
		label: label,
		bar: progress.New(
			progress.WithGradient(string(ColorAccent), string(ColorBlue)),
			progress.WithWidth(32),
			progress.WithoutPercentage(),
		),
		interval: 50 * time.Millisecond,
	}
}

// Update redraws the bar. Calls closer together than the refresh interval
// are skipped unless current has reached total.
func (p *ProgressBar) Update(current, total int) {
	if total <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	if current < total && now.Sub(p.last) < p.interval {
		return
	}
	p.last = now

	pct := float64(current) / float64(total)
	if pct > 1 {
		pct = 1
	}
	_, _ = fmt.Fprintf(p.out, "\r  %s %s %s/%s ",
		p.label,
		p.bar.ViewAs(pct),
		FormatNumber(int64(current)),
		FormatNumber(int64(total)),
	)
}

// Done ends the progress line.
func (p *ProgressBar) Done() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.last.IsZero() {
		_, _ = fmt.Fprintln(p.out)
	}
}
