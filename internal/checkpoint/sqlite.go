package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"archivesampler/internal/archive"
	"archivesampler/internal/record"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db      *sql.DB
	mu      sync.RWMutex
	closed  bool
	writeMu sync.Mutex
}

// NewSQLiteStore opens (or creates) the checkpoint database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// synchronous=FULL: an entry acknowledged by SaveEntry must survive a crash.
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=busy_timeout(60000)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One writer at a time; readers share the pool.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(10 * time.Minute)

	store := &SQLiteStore{db: db}
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		fingerprint TEXT NOT NULL,
		population INTEGER NOT NULL,
		size INTEGER NOT NULL,
		seed TEXT NOT NULL,
		stride INTEGER NOT NULL,
		start INTEGER NOT NULL,
		policy TEXT NOT NULL,
		started_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS entries (
		run_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		ordinal INTEGER NOT NULL,
		container TEXT NOT NULL,
		record TEXT NOT NULL,
		lines INTEGER NOT NULL,
		fields INTEGER NOT NULL,
		container_bytes INTEGER NOT NULL,
		record_bytes INTEGER NOT NULL,
		encoding TEXT NOT NULL,
		root_tag TEXT NOT NULL,
		status TEXT NOT NULL,
		reason TEXT,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (run_id, position)
	);

	CREATE TABLE IF NOT EXISTS boundaries (
		scope TEXT NOT NULL,
		name TEXT NOT NULL,
		start INTEGER NOT NULL,
		count INTEGER NOT NULL,
		PRIMARY KEY (scope, name)
	);

	CREATE INDEX IF NOT EXISTS idx_entries_status ON entries(run_id, status);
	`

	_, err := s.db.Exec(query)
	return err
}

func (s *SQLiteStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// LoadRun returns the most recently started run, or nil.
func (s *SQLiteStore) LoadRun(ctx context.Context) (*Run, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	query := `
	SELECT id, fingerprint, population, size, seed, stride, start, policy, started_at
	FROM runs ORDER BY started_at DESC LIMIT 1
	`

	var (
		run  Run
		seed string
	)
	err := s.db.QueryRowContext(ctx, query).Scan(
		&run.ID,
		&run.Fingerprint,
		&run.Population,
		&run.Size,
		&seed,
		&run.Stride,
		&run.Start,
		&run.Policy,
		&run.StartedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	// uint64 seeds do not fit SQLite's signed integers.
	run.Seed, err = strconv.ParseUint(seed, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt seed %q: %w", seed, err)
	}
	return &run, nil
}

// SaveRun inserts or updates a run.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *Run) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	query := `
	INSERT INTO runs (id, fingerprint, population, size, seed, stride, start, policy, started_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		fingerprint = excluded.fingerprint,
		population = excluded.population,
		size = excluded.size,
		seed = excluded.seed,
		stride = excluded.stride,
		start = excluded.start,
		policy = excluded.policy
	`

	return s.retryOnBusy(func() error {
		_, err := s.db.ExecContext(ctx, query,
			run.ID,
			run.Fingerprint,
			run.Population,
			run.Size,
			strconv.FormatUint(run.Seed, 10),
			run.Stride,
			run.Start,
			run.Policy,
			run.StartedAt,
		)
		return err
	})
}

// SaveEntry upserts one position. Writes are serialized to avoid SQLITE_BUSY.
func (s *SQLiteStore) SaveEntry(ctx context.Context, runID string, entry record.Metadata) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.retryOnBusy(func() error {
		return s.saveEntryWithTransaction(ctx, runID, entry)
	})
}

func (s *SQLiteStore) saveEntryWithTransaction(ctx context.Context, runID string, e record.Metadata) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
	INSERT INTO entries
	(run_id, position, ordinal, container, record, lines, fields, container_bytes, record_bytes,
	 encoding, root_tag, status, reason, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(run_id, position) DO UPDATE SET
		ordinal = excluded.ordinal,
		container = excluded.container,
		record = excluded.record,
		lines = excluded.lines,
		fields = excluded.fields,
		container_bytes = excluded.container_bytes,
		record_bytes = excluded.record_bytes,
		encoding = excluded.encoding,
		root_tag = excluded.root_tag,
		status = excluded.status,
		reason = excluded.reason,
		updated_at = excluded.updated_at
	`

	_, err = tx.ExecContext(ctx, query,
		runID,
		e.Position,
		e.Ordinal,
		e.Container,
		e.Record,
		e.Lines,
		e.Fields,
		e.ContainerBytes,
		e.RecordBytes,
		e.Encoding,
		e.RootTag,
		string(e.Status),
		e.Reason,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to execute insert: %w", err)
	}

	return tx.Commit()
}

// ListEntries returns the stored entries of a run ordered by position.
func (s *SQLiteStore) ListEntries(ctx context.Context, runID string) ([]record.Metadata, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	query := `
	SELECT position, ordinal, container, record, lines, fields, container_bytes, record_bytes,
	       encoding, root_tag, status, reason
	FROM entries WHERE run_id = ?
	ORDER BY position ASC
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []record.Metadata
	for rows.Next() {
		var (
			e      record.Metadata
			status string
			reason sql.NullString
		)
		err := rows.Scan(
			&e.Position,
			&e.Ordinal,
			&e.Container,
			&e.Record,
			&e.Lines,
			&e.Fields,
			&e.ContainerBytes,
			&e.RecordBytes,
			&e.Encoding,
			&e.RootTag,
			&status,
			&reason,
		)
		if err != nil {
			return nil, err
		}
		e.Status = record.Status(status)
		if reason.Valid {
			e.Reason = reason.String
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// LookupBoundary implements archive.BoundaryCache.
func (s *SQLiteStore) LookupBoundary(ctx context.Context, scope, container string) (int64, bool, error) {
	if err := s.checkOpen(); err != nil {
		return 0, false, err
	}

	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT count FROM boundaries WHERE scope = ? AND name = ?`, scope, container).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return count, true, nil
}

// SaveBoundary implements archive.BoundaryCache.
func (s *SQLiteStore) SaveBoundary(ctx context.Context, b archive.Boundary) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	query := `
	INSERT INTO boundaries (scope, name, start, count) VALUES (?, ?, ?, ?)
	ON CONFLICT(scope, name) DO UPDATE SET start = excluded.start, count = excluded.count
	`
	return s.retryOnBusy(func() error {
		_, err := s.db.ExecContext(ctx, query, b.Scope, b.Container, b.Start, b.Count)
		return err
	})
}

// Reset removes every run and entry.
func (s *SQLiteStore) Reset(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.retryOnBusy(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx, `DELETE FROM entries`); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM runs`); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// retryOnBusy retries the operation if SQLite is busy
func (s *SQLiteStore) retryOnBusy(operation func() error) error {
	const (
		maxRetries = 10
		baseDelay  = 50 * time.Millisecond
	)

	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err = operation()
		if err == nil || !isSQLiteBusyError(err) {
			return err
		}
		// Exponential backoff plus a small linear jitter.
		time.Sleep(baseDelay*time.Duration(1<<uint(attempt)) + time.Duration(attempt*10)*time.Millisecond)
	}
	return err
}

// isSQLiteBusyError checks if the error is a SQLite busy error
func isSQLiteBusyError(err error) bool {
	if err == nil {
		return false
	}
	errorStr := err.Error()
	return strings.Contains(errorStr, "database is locked") ||
		strings.Contains(errorStr, "SQLITE_BUSY")
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
