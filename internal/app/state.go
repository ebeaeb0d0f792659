package app

import (
	"errors"
	"time"

	"archivesampler/internal/progress"
	"archivesampler/internal/resource"
	"archivesampler/internal/sampling"
	"archivesampler/internal/worker"
)

// Run outcomes that are not per-record failures.
var (
	// ErrHalted means the resource monitor stopped the run. Completed
	// positions are checkpointed; resume once pressure drops.
	ErrHalted = errors.New("run halted by resource monitor")
	// ErrToleranceExceeded means the run finished with more failed rows
	// than the configured tolerance allows. Outputs are still written.
	ErrToleranceExceeded = errors.New("failure tolerance exceeded")
)

// RunState is the in-memory state of one run. Only the checkpoint manager
// persists anything durable; this value is threaded through the runner and
// returned to the caller.
type RunState struct {
	RunID      string
	Population int64 // N the sample was drawn from
	Enumerated int64 // records found in the archive, 0 when not counted
	Decision   sampling.Decision
	Plan       *sampling.Plan
	Tasks      []worker.Task

	Resumed    int
	Pending    int
	Throttles  int
	Halted     bool
	HaltReason string
	LastSample resource.Sample

	Started  time.Time
	Finished time.Time
	Tracker  *progress.Tracker
}

// Elapsed returns the wall time of the run so far.
func (s *RunState) Elapsed() time.Duration {
	if s.Finished.IsZero() {
		return time.Since(s.Started)
	}
	return s.Finished.Sub(s.Started)
}
