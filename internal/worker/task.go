package worker

import (
	"context"
	"time"

	"archivesampler/internal/archive"
	"archivesampler/internal/record"
)

// Task is one sample position resolved to its archive location.
type Task struct {
	Position int
	Location archive.Location
}

// Result is the outcome of processing one task.
type Result struct {
	Task Task
	Row  record.Metadata
	Took time.Duration
	// Final is false when the row must not be checkpointed: the run was
	// cancelled while the record was waiting for a retry.
	Final bool
	// Err is a fatal error for the whole run, such as systemic storage loss.
	Err error
}

// Config contains worker configuration
type Config struct {
	Retries      int
	RetryBackoff time.Duration
}

// Extractor produces the metadata row for one location. A non-nil error
// means the container could not be opened and the attempt may be retried.
type Extractor interface {
	Attempt(ctx context.Context, position int, loc archive.Location) (record.Metadata, error)
}

// HealthCheck reports systemic storage unavailability.
type HealthCheck func(ctx context.Context) error
