// Package archive maps global population ordinals onto records inside
// compressed containers without materializing the population.
package archive

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"archivesampler/internal/storage"

	"go.uber.org/zap"
)

// Sentinel errors for index resolution.
var (
	// ErrIndexOutOfRange means the archive enumerates fewer records than the
	// requested ordinal: the configured population is stale.
	ErrIndexOutOfRange = errors.New("index out of range")
	// ErrNotMonotonic means an ordinal below the cursor was requested.
	ErrNotMonotonic = errors.New("ordinal requested behind the cursor")
)

// Location identifies one record of the population.
type Location struct {
	Ordinal       int64
	Container     string
	ContainerSize int64
	// RecordIndex is the position of the record in the container listing.
	RecordIndex int
	// Record is empty when the index was built from a fixed per-container
	// count and the container listing was never read.
	Record string
}

// Boundary marks the ordinal range [Start, Start+Count) covered by a container.
type Boundary struct {
	Scope     string
	Container string
	Size      int64
	Start     int64
	Count     int64
}

// BoundaryCache persists per-container record counts so a resumed run can
// walk past earlier containers without reopening them. Counts depend on which
// records a listing admits, so entries are keyed by scope as well as name.
type BoundaryCache interface {
	LookupBoundary(ctx context.Context, scope, container string) (count int64, ok bool, err error)
	SaveBoundary(ctx context.Context, b Boundary) error
}

// Options tune how container boundaries are derived.
type Options struct {
	// RecordsPerContainer, when positive, is taken as the record count of every
	// container; boundaries then come from the container listing alone.
	RecordsPerContainer int64
	Cache               BoundaryCache
	// Scope identifies the record filter the cached counts were taken under.
	Scope string
}

// Index is a forward-only cursor over container boundaries. Ordinals must be
// resolved in non-decreasing order; a new Index restarts the enumeration.
type Index struct {
	src    storage.Source
	opts   Options
	logger *zap.Logger

	cancel     context.CancelFunc
	containers <-chan storage.ContainerInfo
	errs       <-chan error

	cur       Boundary
	records   []storage.RecordInfo // listing of cur, when read
	next      int64                // first ordinal after cur
	scanned   int64                // containers walked so far
	exhausted bool
}

// Open starts a new enumeration over src.
func Open(ctx context.Context, src storage.Source, opts Options, logger *zap.Logger) *Index {
	ctx, cancel := context.WithCancel(ctx)
	containers, errs := src.ListContainers(ctx)

	return &Index{
		src:        src,
		opts:       opts,
		logger:     logger,
		cancel:     cancel,
		containers: containers,
		errs:       errs,
		cur:        Boundary{Start: -1},
	}
}

// Close stops the underlying listing.
func (ix *Index) Close() {
	ix.cancel()
	for range ix.containers {
	}
}

// Resolve maps an ordinal to its record location, advancing the cursor over
// as many containers as needed.
func (ix *Index) Resolve(ctx context.Context, ordinal int64) (Location, error) {
	if ordinal < 0 {
		return Location{}, fmt.Errorf("%w: ordinal %d", ErrIndexOutOfRange, ordinal)
	}
	if ix.cur.Start >= 0 && ordinal < ix.cur.Start {
		return Location{}, fmt.Errorf("%w: %d < %d", ErrNotMonotonic, ordinal, ix.cur.Start)
	}

	for ordinal >= ix.next {
		if err := ix.advance(ctx); err != nil {
			if errors.Is(err, ErrIndexOutOfRange) {
				return Location{}, fmt.Errorf("%w: ordinal %d but archive holds %d records in %d containers",
					ErrIndexOutOfRange, ordinal, ix.next, ix.scanned)
			}
			return Location{}, err
		}
	}

	loc := Location{
		Ordinal:       ordinal,
		Container:     ix.cur.Container,
		ContainerSize: ix.cur.Size,
		RecordIndex:   int(ordinal - ix.cur.Start),
	}
	if ix.records != nil && loc.RecordIndex < len(ix.records) {
		loc.Record = ix.records[loc.RecordIndex].Name
	}
	return loc, nil
}

// Locations lazily resolves a non-decreasing sequence of ordinals. Iteration
// stops after the first error.
func (ix *Index) Locations(ctx context.Context, ordinals []int64) iter.Seq2[Location, error] {
	return func(yield func(Location, error) bool) {
		for _, ord := range ordinals {
			loc, err := ix.Resolve(ctx, ord)
			if !yield(loc, err) || err != nil {
				return
			}
		}
	}
}

// Count walks the remaining containers and returns the total population size.
func (ix *Index) Count(ctx context.Context) (int64, error) {
	for {
		err := ix.advance(ctx)
		if errors.Is(err, ErrIndexOutOfRange) {
			return ix.next, nil
		}
		if err != nil {
			return 0, err
		}
	}
}

// advance moves the cursor to the next container with at least one record.
func (ix *Index) advance(ctx context.Context) error {
	if ix.exhausted {
		return ErrIndexOutOfRange
	}

	for {
		var (
			info storage.ContainerInfo
			ok   bool
		)
		select {
		case info, ok = <-ix.containers:
		case <-ctx.Done():
			return ctx.Err()
		}
		if !ok {
			ix.exhausted = true
			if err := <-ix.errs; err != nil {
				return fmt.Errorf("enumerate containers: %w", err)
			}
			return ErrIndexOutOfRange
		}
		ix.scanned++

		count, records, err := ix.countRecords(ctx, info.Name)
		if err != nil {
			return err
		}
		if count == 0 {
			continue
		}

		ix.cur = Boundary{Container: info.Name, Size: info.Size, Start: ix.next, Count: count}
		ix.records = records
		ix.next += count

		if ix.scanned%100000 == 0 {
			ix.logger.Info("Archive index progress",
				zap.Int64("containers", ix.scanned),
				zap.Int64("records", ix.next),
			)
		}
		return nil
	}
}

func (ix *Index) countRecords(ctx context.Context, container string) (int64, []storage.RecordInfo, error) {
	if ix.opts.RecordsPerContainer > 0 {
		return ix.opts.RecordsPerContainer, nil, nil
	}

	if ix.opts.Cache != nil {
		count, ok, err := ix.opts.Cache.LookupBoundary(ctx, ix.opts.Scope, container)
		if err != nil {
			return 0, nil, fmt.Errorf("lookup boundary for %s: %w", container, err)
		}
		if ok {
			return count, nil, nil
		}
	}

	records, err := ix.src.ListRecords(ctx, container)
	if err != nil {
		if !errors.Is(err, storage.ErrArchiveUnavailable) {
			return 0, nil, fmt.Errorf("build boundary for %s: %w", container, err)
		}
		if cerr := ix.src.Check(ctx); cerr != nil {
			return 0, nil, cerr
		}
		// An unreadable container holds one ordinal so that sampling it
		// yields a failure row. The placeholder is never cached: a repaired
		// container is counted properly by the next enumeration.
		ix.logger.Warn("Container unreadable while building index, counted as one record",
			zap.String("container", container),
			zap.Error(err),
		)
		return 1, nil, nil
	}

	if ix.opts.Cache != nil {
		b := Boundary{Scope: ix.opts.Scope, Container: container, Start: ix.next, Count: int64(len(records))}
		if err := ix.opts.Cache.SaveBoundary(ctx, b); err != nil {
			return 0, nil, fmt.Errorf("save boundary for %s: %w", container, err)
		}
	}
	return int64(len(records)), records, nil
}
