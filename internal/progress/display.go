// Package progress tracks and renders run progress on a terminal.
package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Display periodically renders tracker status
type Display struct {
	tracker  *Tracker
	interval time.Duration
	out      io.Writer
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewDisplay creates a new progress display writing to out.
func NewDisplay(tracker *Tracker, interval time.Duration, out io.Writer) *Display {
	if out == nil {
		out = os.Stdout
	}
	return &Display{
		tracker:  tracker,
		interval: interval,
		out:      out,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start starts the progress display
func (d *Display) Start() {
	go d.displayLoop()
}

// Stop renders the final status and waits for the loop to exit.
func (d *Display) Stop() {
	close(d.stopCh)
	<-d.doneCh
}

func (d *Display) displayLoop() {
	defer close(d.doneCh)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fmt.Fprintln(d.out, strings.Join(d.render(d.tracker.GetStatus()), "\n"))
		case <-d.stopCh:
			fmt.Fprintln(d.out, strings.Join(d.renderFinal(d.tracker.GetStatus()), "\n"))
			return
		}
	}
}

func (d *Display) render(status Status) []string {
	percent := d.tracker.GetProgressPercent()

	lines := []string{
		"",
		"Sample extraction progress",
		strings.Repeat("=", 51),
		fmt.Sprintf("Records: %s/%s (%.1f%%)",
			humanize.Comma(status.ProcessedRecords), humanize.Comma(status.TotalRecords), percent),
		"    " + progressBar(percent, 40),
		fmt.Sprintf("  success: %d  failure: %d  skipped: %d",
			status.SuccessRecords, status.FailedRecords, status.SkippedRecords),
		fmt.Sprintf("  decompressed: %s", humanize.IBytes(uint64(status.ProcessedBytes))),
	}
	if status.ResumedRecords > 0 {
		lines = append(lines, fmt.Sprintf("  resumed from checkpoint: %d", status.ResumedRecords))
	}
	if status.Throttles > 0 {
		lines = append(lines, fmt.Sprintf("  throttled: %d times", status.Throttles))
	}
	lines = append(lines,
		fmt.Sprintf("Rate: %s now, %s average", FormatRate(status.CurrentRate), FormatRate(status.AverageRate)),
		fmt.Sprintf("Elapsed: %s  remaining: %s",
			FormatDuration(time.Since(status.StartTime)), FormatDuration(status.ETA)),
	)
	return lines
}

func (d *Display) renderFinal(status Status) []string {
	return []string{
		"",
		"Sample extraction finished",
		strings.Repeat("=", 51),
		fmt.Sprintf("Records: %s of %s", humanize.Comma(status.ProcessedRecords), humanize.Comma(status.TotalRecords)),
		fmt.Sprintf("  success: %d  failure: %d  skipped: %d",
			status.SuccessRecords, status.FailedRecords, status.SkippedRecords),
		fmt.Sprintf("  decompressed: %s", humanize.IBytes(uint64(status.ProcessedBytes))),
		fmt.Sprintf("Elapsed: %s  average: %s",
			FormatDuration(time.Since(status.StartTime)), FormatRate(status.AverageRate)),
		"",
	}
}

func progressBar(percent float64, width int) string {
	percent = min(max(percent, 0), 100)
	filled := int(percent * float64(width) / 100)
	return fmt.Sprintf("[%s%s] %.1f%%", strings.Repeat("#", filled), strings.Repeat(".", width-filled), percent)
}

// IsTerminalSupported reports whether stdout is a terminal.
func IsTerminalSupported() bool {
	info, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
