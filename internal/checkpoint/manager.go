package checkpoint

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"archivesampler/internal/record"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Manager tracks which sample positions are complete. Every Record call is
// persisted before it returns, so the replay window after a crash is only
// the records that were in flight.
type Manager struct {
	store  Store
	logger *zap.Logger

	mu        sync.RWMutex
	run       *Run
	completed map[int]record.Metadata
	frontier  int // highest position p such that 0..p are all complete
}

// NewManager creates a manager over store.
func NewManager(store Store, logger *zap.Logger) *Manager {
	return &Manager{
		store:     store,
		logger:    logger,
		completed: make(map[int]record.Metadata),
		frontier:  -1,
	}
}

// LoadOptions control how stored progress is treated by Load.
type LoadOptions struct {
	// Resume makes a stored run for a different sample an error instead of
	// a reason to start over.
	Resume bool
	// Fresh discards stored progress even when it matches the sample.
	Fresh bool
}

// Load reconstructs prior progress for want. A stored run with the same
// fingerprint is continued unless opts.Fresh is set. A stored run with a
// different fingerprint is rejected with ErrSampleMismatch when opts.Resume
// is set and discarded otherwise. It reports whether a prior run was resumed.
func (m *Manager) Load(ctx context.Context, want Run, opts LoadOptions) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, err := m.store.LoadRun(ctx)
	if err != nil {
		return false, fmt.Errorf("load run: %w", err)
	}

	if prev != nil && !opts.Fresh {
		if prev.Fingerprint == want.Fingerprint {
			if err := m.resume(ctx, prev); err != nil {
				return false, err
			}
			return true, nil
		}
		if opts.Resume {
			return false, fmt.Errorf("%w: stored %s, requested %s", ErrSampleMismatch, prev.Fingerprint, want.Fingerprint)
		}
	}

	if prev != nil {
		m.logger.Info("Discarding previous checkpoint",
			zap.String("run_id", prev.ID),
			zap.String("fingerprint", prev.Fingerprint),
			zap.Bool("fresh", opts.Fresh),
		)
		if err := m.store.Reset(ctx); err != nil {
			return false, fmt.Errorf("%w: reset: %v", ErrPersist, err)
		}
	}

	run := want
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if err := m.store.SaveRun(ctx, &run); err != nil {
		return false, fmt.Errorf("%w: save run: %v", ErrPersist, err)
	}

	m.run = &run
	m.completed = make(map[int]record.Metadata)
	m.frontier = -1
	return false, nil
}

func (m *Manager) resume(ctx context.Context, prev *Run) error {
	entries, err := m.store.ListEntries(ctx, prev.ID)
	if err != nil {
		return fmt.Errorf("load entries: %w", err)
	}

	m.run = prev
	m.completed = make(map[int]record.Metadata, len(entries))
	for _, e := range entries {
		m.completed[e.Position] = e
	}
	m.frontier = -1
	m.advanceFrontier()

	m.logger.Info("Resuming from checkpoint",
		zap.String("run_id", prev.ID),
		zap.Int("completed", len(m.completed)),
		zap.Int("last_completed", m.frontier),
	)
	return nil
}

// Record durably stores the outcome of one position. A failure here is
// fatal for the run and wraps ErrPersist.
func (m *Manager) Record(ctx context.Context, entry record.Metadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.run == nil {
		return fmt.Errorf("%w: no run loaded", ErrPersist)
	}
	if err := m.store.SaveEntry(ctx, m.run.ID, entry); err != nil {
		return fmt.Errorf("%w: position %d: %v", ErrPersist, entry.Position, err)
	}

	m.completed[entry.Position] = entry
	m.advanceFrontier()
	return nil
}

func (m *Manager) advanceFrontier() {
	for {
		if _, ok := m.completed[m.frontier+1]; !ok {
			return
		}
		m.frontier++
	}
}

// Done reports whether position has been recorded.
func (m *Manager) Done(position int) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.completed[position]
	return ok
}

// LastCompleted returns the highest position such that it and every position
// before it are recorded, or -1.
func (m *Manager) LastCompleted() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.frontier
}

// Completed returns the number of recorded positions.
func (m *Manager) Completed() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.completed)
}

// Entries returns all recorded rows ordered by position.
func (m *Manager) Entries() []record.Metadata {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]record.Metadata, 0, len(m.completed))
	for _, e := range m.completed {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

// Run returns the loaded run.
func (m *Manager) Run() Run {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.run == nil {
		return Run{}
	}
	return *m.run
}
