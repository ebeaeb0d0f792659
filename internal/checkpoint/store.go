// Package checkpoint persists run progress so an interrupted run resumes
// without reprocessing completed sample positions.
package checkpoint

import (
	"context"
	"errors"
	"time"

	"archivesampler/internal/archive"
	"archivesampler/internal/record"
)

// Sentinel errors.
var (
	// ErrPersist means a checkpoint write failed. It is fatal for the run.
	ErrPersist = errors.New("checkpoint persist failed")
	// ErrSampleMismatch means the stored run was made for a different sample.
	ErrSampleMismatch = errors.New("checkpoint belongs to a different sample")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("checkpoint store is closed")
)

// Run describes the sample a checkpoint belongs to.
type Run struct {
	ID          string    `json:"id" yaml:"id"`
	Fingerprint string    `json:"fingerprint" yaml:"fingerprint"`
	Population  int64     `json:"population" yaml:"population"`
	Size        int64     `json:"size" yaml:"size"`
	Seed        uint64    `json:"seed" yaml:"seed"`
	Stride      int64     `json:"stride" yaml:"stride"`
	Start       int64     `json:"start" yaml:"start"`
	Policy      string    `json:"policy" yaml:"policy"`
	StartedAt   time.Time `json:"started_at" yaml:"started_at"`
}

// Store defines the interface for checkpoint persistence
type Store interface {
	archive.BoundaryCache

	// LoadRun returns the stored run, or nil when there is none.
	LoadRun(ctx context.Context) (*Run, error)
	SaveRun(ctx context.Context, run *Run) error

	// SaveEntry durably stores the outcome of one sample position.
	SaveEntry(ctx context.Context, runID string, entry record.Metadata) error
	ListEntries(ctx context.Context, runID string) ([]record.Metadata, error)

	// Reset discards the stored run and its entries. Container boundaries
	// describe the archive, not the run, and are kept.
	Reset(ctx context.Context) error

	Close() error
}
