package resource

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type scriptedSampler struct {
	samples []Sample
	calls   int
	err     error
}

func (s *scriptedSampler) Sample(context.Context) (Sample, error) {
	if s.err != nil {
		return Sample{}, s.err
	}
	out := s.samples[s.calls%len(s.samples)]
	s.calls++
	return out, nil
}

func testThresholds() Thresholds {
	th := DefaultThresholds()
	th.Interval = 0
	th.CPUWindow = 3
	return th
}

func TestVerdictMemory(t *testing.T) {
	m := NewMonitor(&scriptedSampler{}, testThresholds(), zap.NewNop())

	tests := []struct {
		mem  float64
		want Action
	}{
		{50, Continue},
		{79.9, Continue},
		{80, Throttle},
		{91, Throttle},
		{92, Halt},
		{99, Halt},
	}
	for _, tt := range tests {
		v := m.Verdict(Sample{MemPercent: tt.mem})
		assert.Equal(t, tt.want, v.Action, "mem %.1f", tt.mem)
		if v.Action == Throttle {
			assert.Equal(t, 500*time.Millisecond, v.Delay)
		}
		if v.Action != Continue {
			assert.NotEmpty(t, v.Reason)
		}
	}
}

func TestCPUSaturationNeedsFullWindow(t *testing.T) {
	src := &scriptedSampler{samples: []Sample{
		{MemPercent: 10, CPUPercent: 100},
		{MemPercent: 10, CPUPercent: 100},
		{MemPercent: 10, CPUPercent: 95},
		{MemPercent: 10, CPUPercent: 10},
		{MemPercent: 10, CPUPercent: 10},
	}}
	m := NewMonitor(src, testThresholds(), zap.NewNop())
	ctx := context.Background()

	var got []Action
	for range 5 {
		v, _ := m.Check(ctx)
		got = append(got, v.Action)
	}
	// Window of 3: saturated only once three readings average >= 90.
	assert.Equal(t, []Action{Continue, Continue, Throttle, Continue, Continue}, got)
}

func TestSampleReusesRecentReading(t *testing.T) {
	src := &scriptedSampler{samples: []Sample{{MemPercent: 10}, {MemPercent: 95}}}
	th := testThresholds()
	th.Interval = time.Minute
	m := NewMonitor(src, th, zap.NewNop())

	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }

	s, err := m.Sample(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10.0, s.MemPercent)

	clock = clock.Add(30 * time.Second)
	s, err = m.Sample(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10.0, s.MemPercent)
	assert.Equal(t, 1, src.calls)

	clock = clock.Add(time.Minute)
	v, s := m.Check(context.Background())
	assert.Equal(t, 95.0, s.MemPercent)
	assert.Equal(t, Halt, v.Action)
}

func TestCheckContinuesWhenSamplingFails(t *testing.T) {
	m := NewMonitor(&scriptedSampler{err: errors.New("no /proc")}, testThresholds(), zap.NewNop())
	v, _ := m.Check(context.Background())
	assert.Equal(t, Continue, v.Action)
}

func TestActionString(t *testing.T) {
	assert.Equal(t, "continue", Continue.String())
	assert.Equal(t, "throttle", Throttle.String())
	assert.Equal(t, "halt", Halt.String())
}
