// Package resource paces extraction against system memory and CPU usage.
package resource

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
)

// Action is what the runner should do before admitting the next record.
type Action int

const (
	Continue Action = iota
	Throttle
	Halt
)

func (a Action) String() string {
	switch a {
	case Continue:
		return "continue"
	case Throttle:
		return "throttle"
	case Halt:
		return "halt"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Sample is a point-in-time reading. It is never persisted.
type Sample struct {
	Time         time.Time
	MemPercent   float64
	MemAvailable uint64
	CPUPercent   float64
}

// Verdict is the pacing decision for one sample.
type Verdict struct {
	Action Action
	Delay  time.Duration
	Reason string
}

// Thresholds configure the pacing policy. Percentages are 0-100; a zero
// threshold disables that check.
type Thresholds struct {
	MemThrottle   float64
	MemHalt       float64
	CPUThrottle   float64
	CPUWindow     int // consecutive samples averaged for CPU saturation
	ThrottleDelay time.Duration
	// Interval is the minimum time between system readings; verdicts in
	// between reuse the last reading.
	Interval time.Duration
}

// DefaultThresholds returns the stock pacing policy.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MemThrottle:   80,
		MemHalt:       92,
		CPUThrottle:   90,
		CPUWindow:     5,
		ThrottleDelay: 500 * time.Millisecond,
		Interval:      time.Second,
	}
}

// Sampler reads current resource usage.
type Sampler interface {
	Sample(ctx context.Context) (Sample, error)
}

// SystemSampler reads host memory and CPU through gopsutil.
type SystemSampler struct {
	// CPUWindow is the measurement window for CPU utilisation. Zero compares
	// against the previous call.
	CPUWindow time.Duration
}

// Sample implements Sampler.
func (s SystemSampler) Sample(ctx context.Context) (Sample, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Sample{}, fmt.Errorf("read memory: %w", err)
	}
	pct, err := cpu.PercentWithContext(ctx, s.CPUWindow, false)
	if err != nil {
		return Sample{}, fmt.Errorf("read cpu: %w", err)
	}

	out := Sample{
		Time:         time.Now(),
		MemPercent:   vm.UsedPercent,
		MemAvailable: vm.Available,
	}
	if len(pct) > 0 {
		out.CPUPercent = pct[0]
	}
	return out, nil
}

// Monitor turns resource samples into pacing verdicts. It is safe for
// concurrent use; the runner calls Check before admitting each record.
type Monitor struct {
	sampler Sampler
	th      Thresholds
	logger  *zap.Logger
	now     func() time.Time

	mu      sync.Mutex
	cpu     []float64 // last CPUWindow readings
	last    Sample
	sampled bool
}

// NewMonitor creates a monitor over sampler.
func NewMonitor(sampler Sampler, th Thresholds, logger *zap.Logger) *Monitor {
	if th.CPUWindow <= 0 {
		th.CPUWindow = 1
	}
	return &Monitor{
		sampler: sampler,
		th:      th,
		logger:  logger,
		now:     time.Now,
	}
}

// Sample returns the current reading, reusing the previous one when it is
// younger than the configured interval.
func (m *Monitor) Sample(ctx context.Context) (Sample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sampled && m.th.Interval > 0 && m.now().Sub(m.last.Time) < m.th.Interval {
		return m.last, nil
	}

	s, err := m.sampler.Sample(ctx)
	if err != nil {
		return Sample{}, err
	}
	if s.Time.IsZero() {
		s.Time = m.now()
	}

	m.cpu = append(m.cpu, s.CPUPercent)
	if len(m.cpu) > m.th.CPUWindow {
		m.cpu = m.cpu[len(m.cpu)-m.th.CPUWindow:]
	}
	m.last = s
	m.sampled = true
	return s, nil
}

// Verdict maps a sample onto an action. Memory can halt the run; CPU
// saturation, averaged over the window, only throttles.
func (m *Monitor) Verdict(s Sample) Verdict {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.th.MemHalt > 0 && s.MemPercent >= m.th.MemHalt:
		return Verdict{Action: Halt, Reason: fmt.Sprintf("memory %.1f%% >= %.1f%%", s.MemPercent, m.th.MemHalt)}
	case m.th.MemThrottle > 0 && s.MemPercent >= m.th.MemThrottle:
		return Verdict{Action: Throttle, Delay: m.th.ThrottleDelay, Reason: fmt.Sprintf("memory %.1f%% >= %.1f%%", s.MemPercent, m.th.MemThrottle)}
	}

	if m.th.CPUThrottle > 0 && len(m.cpu) >= m.th.CPUWindow {
		if avg := mean(m.cpu); avg >= m.th.CPUThrottle {
			return Verdict{Action: Throttle, Delay: m.th.ThrottleDelay, Reason: fmt.Sprintf("cpu %.1f%% >= %.1f%% over %d samples", avg, m.th.CPUThrottle, len(m.cpu))}
		}
	}
	return Verdict{Action: Continue}
}

// Check samples and returns the verdict. A failed reading is logged and
// treated as continue.
func (m *Monitor) Check(ctx context.Context) (Verdict, Sample) {
	s, err := m.Sample(ctx)
	if err != nil {
		m.logger.Warn("Resource sampling failed", zap.Error(err))
		return Verdict{Action: Continue}, Sample{}
	}
	return m.Verdict(s), s
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
