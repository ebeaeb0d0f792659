package progress

import (
	"fmt"
	"sync"
	"time"

	"archivesampler/internal/record"
)

// Status represents the current run status
type Status struct {
	TotalRecords     int64
	ResumedRecords   int64 // completed by an earlier process
	ProcessedRecords int64 // includes resumed
	SuccessRecords   int64
	FailedRecords    int64
	SkippedRecords   int64
	ProcessedBytes   int64 // decompressed record bytes in this process
	Throttles        int64
	StartTime        time.Time
	LastUpdateTime   time.Time
	CurrentRate      float64 // records/second over the last few seconds
	AverageRate      float64 // records/second since start
	ETA              time.Duration
}

// Tracker tracks run progress
type Tracker struct {
	mu         sync.RWMutex
	status     Status
	samples    []time.Time // completion times for the current rate
	maxSamples int
	now        func() time.Time
}

// NewTracker creates a new progress tracker
func NewTracker() *Tracker {
	now := time.Now()
	return &Tracker{
		status: Status{
			StartTime:      now,
			LastUpdateTime: now,
		},
		samples:    make([]time.Time, 0, 60),
		maxSamples: 60,
		now:        time.Now,
	}
}

// SetTotal sets the number of sample positions in the run.
func (t *Tracker) SetTotal(records int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.TotalRecords = records
}

// Resume seeds the counters with rows completed by a previous process. Those
// rows do not count toward rates.
func (t *Tracker) Resume(rows []record.Metadata) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, r := range rows {
		t.count(r.Status)
	}
	t.status.ResumedRecords += int64(len(rows))
}

// Add records one finished position.
func (t *Tracker) Add(row record.Metadata) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.count(row.Status)
	t.status.ProcessedBytes += row.RecordBytes
	t.update()
}

// AddThrottle counts one throttle pause.
func (t *Tracker) AddThrottle() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.Throttles++
}

func (t *Tracker) count(s record.Status) {
	t.status.ProcessedRecords++
	switch s {
	case record.StatusSuccess:
		t.status.SuccessRecords++
	case record.StatusFailure:
		t.status.FailedRecords++
	case record.StatusSkipped:
		t.status.SkippedRecords++
	}
}

// update refreshes rates and ETA (must be called with lock held)
func (t *Tracker) update() {
	now := t.now()

	t.samples = append(t.samples, now)
	if len(t.samples) > t.maxSamples {
		t.samples = t.samples[1:]
	}

	// Current rate over the last 5 seconds.
	t.status.CurrentRate = 0
	cutoff := now.Add(-5 * time.Second)
	var first time.Time
	n := 0
	for i := len(t.samples) - 1; i >= 0 && !t.samples[i].Before(cutoff); i-- {
		first = t.samples[i]
		n++
	}
	if n > 1 {
		if d := now.Sub(first); d > 0 {
			t.status.CurrentRate = float64(n-1) / d.Seconds()
		}
	}

	done := t.status.ProcessedRecords - t.status.ResumedRecords
	if elapsed := now.Sub(t.status.StartTime); elapsed > 0 {
		t.status.AverageRate = float64(done) / elapsed.Seconds()
	}

	t.status.ETA = 0
	remaining := t.status.TotalRecords - t.status.ProcessedRecords
	if remaining > 0 && t.status.AverageRate > 0 {
		t.status.ETA = time.Duration(float64(remaining) / t.status.AverageRate * float64(time.Second))
	}

	t.status.LastUpdateTime = now
}

// GetStatus returns the current status (thread-safe)
func (t *Tracker) GetStatus() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.status
}

// GetProgressPercent returns the progress percentage
func (t *Tracker) GetProgressPercent() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.status.TotalRecords == 0 {
		return 0
	}

	return float64(t.status.ProcessedRecords) / float64(t.status.TotalRecords) * 100
}

// FormatRate formats a records/second rate.
func FormatRate(perSecond float64) string {
	if perSecond < 1 && perSecond > 0 {
		return fmt.Sprintf("%.1f rec/min", perSecond*60)
	}
	return fmt.Sprintf("%.1f rec/s", perSecond)
}

// FormatDuration formats duration in human readable format
func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return "calculating..."
	}

	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	switch {
	case hours > 0:
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}
