// Package progress reports the advance of long-running work such as forest
// training and batch runs, either to a caller-supplied callback or as a
// progress bar on a terminal.
package progress

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// Callback receives progress updates. total is 0 for purely informational
// messages.
type Callback func(completed, total int, message string)

// Reporter forwards updates to a Callback when one is set and otherwise draws
// a bar on its writer. A nil *Reporter discards everything. Reporter is safe
// for concurrent use.
type Reporter struct {
	mu        sync.Mutex
	callback  Callback
	out       io.Writer
	startTime time.Time
}

// New returns a reporter that draws to out when no callback is set. A nil
// out makes the reporter silent unless a callback is installed.
func New(out io.Writer) *Reporter {
	return &Reporter{out: out, startTime: time.Now()}
}

// SetCallback installs callback, replacing the terminal bar.
func (r *Reporter) SetCallback(callback Callback) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.callback = callback
	r.mu.Unlock()
}

// ResetTimer restarts the clock used for the elapsed and remaining estimates.
func (r *Reporter) ResetTimer() {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.startTime = time.Now()
	r.mu.Unlock()
}

// Report publishes one update.
func (r *Reporter) Report(completed, total int, message string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.callback != nil {
		r.callback(completed, total, message)
		return
	}
	if r.out == nil {
		return
	}
	if total == 0 {
		if message != "" {
			fmt.Fprintln(r.out, message)
		}
		return
	}
	fmt.Fprint(r.out, r.render(completed, total, message, time.Now()))
	if completed >= total {
		fmt.Fprintln(r.out)
	}
}

const barWidth = 40

// render builds one carriage-return prefixed bar line.
func (r *Reporter) render(completed, total int, message string, now time.Time) string {
	percentage := float64(completed) / float64(total) * 100
	filled := int(percentage / 100 * barWidth)

	var bar strings.Builder
	bar.WriteByte('[')
	for i := 0; i < barWidth; i++ {
		switch {
		case i < filled:
			bar.WriteString("█")
		case i == filled:
			bar.WriteString("▓")
		default:
			bar.WriteString("░")
		}
	}
	bar.WriteByte(']')

	status := ""
	if message != "" {
		status = " | " + message
	}

	if completed == 0 || r.startTime.IsZero() {
		return fmt.Sprintf("\r%s %.1f%% (%d/%d)%s", bar.String(), percentage, completed, total, status)
	}

	elapsed := now.Sub(r.startTime)
	remaining := "0s"
	if completed < total {
		left := elapsed.Seconds() / float64(completed) * float64(total-completed)
		remaining = formatSeconds(left)
	}
	return fmt.Sprintf("\r%s %.1f%% (%d/%d) [%.1fs elapsed | %s remaining%s]",
		bar.String(), percentage, completed, total, elapsed.Seconds(), remaining, status)
}

func formatSeconds(s float64) string {
	switch {
	case s < 60:
		return fmt.Sprintf("%.1fs", s)
	case s < 3600:
		return fmt.Sprintf("%.1fm", s/60)
	}
	return fmt.Sprintf("%.1fh", s/3600)
}
