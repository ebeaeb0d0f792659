package worker

import (
	"context"
	"fmt"
	"math"
	"time"

	"archivesampler/internal/metrics"
	"archivesampler/internal/record"
	"archivesampler/internal/storage"

	"go.uber.org/zap"
)

// TaskProcessor handles individual task processing
type TaskProcessor struct {
	config    Config
	extractor Extractor
	health    HealthCheck
	metrics   *metrics.Collector
	logger    *zap.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewTaskProcessor creates a processor. health may be nil.
func NewTaskProcessor(config Config, extractor Extractor, health HealthCheck, m *metrics.Collector, logger *zap.Logger) *TaskProcessor {
	return &TaskProcessor{
		config:    config,
		extractor: extractor,
		health:    health,
		metrics:   m,
		logger:    logger,
		sleep:     sleepCtx,
	}
}

// Process extracts one record, retrying transient container-open failures.
// The extraction itself runs to completion even if ctx is cancelled; only
// waits between retries observe cancellation.
func (p *TaskProcessor) Process(ctx context.Context, task Task) Result {
	startTime := time.Now()
	work := context.WithoutCancel(ctx)

	p.metrics.AddInflight(1)
	defer p.metrics.AddInflight(-1)

	attempts := max(p.config.Retries, 1)
	var (
		row     record.Metadata
		lastErr error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		row, lastErr = p.extractor.Attempt(work, task.Position, task.Location)
		if lastErr == nil {
			break
		}

		p.logger.Warn("Container open failed",
			zap.Int("position", task.Position),
			zap.String("container", task.Location.Container),
			zap.Int("attempt", attempt),
			zap.Error(lastErr),
		)

		if p.health != nil {
			if herr := p.health(work); herr != nil {
				return Result{Task: task, Row: row, Took: time.Since(startTime), Err: fmt.Errorf("storage check after %s: %w", task.Location.Container, herr)}
			}
		}

		if !p.isRetriableError(lastErr) || attempt == attempts {
			break
		}

		p.metrics.IncRetry()
		if err := p.sleep(ctx, p.calculateBackoff(attempt)); err != nil {
			row.Fail(record.ReasonCancelled)
			return Result{Task: task, Row: row, Took: time.Since(startTime)}
		}
	}

	took := time.Since(startTime)
	p.metrics.ObserveRecord(row, took)

	switch row.Status {
	case record.StatusSuccess:
		p.logger.Debug("Record extracted",
			zap.Int("position", task.Position),
			zap.String("container", row.Container),
			zap.String("record", row.Record),
			zap.Int64("lines", row.Lines),
			zap.Int64("fields", row.Fields),
			zap.Duration("duration", took),
		)
	case record.StatusFailure:
		p.logger.Warn("Record failed",
			zap.Int("position", task.Position),
			zap.String("container", row.Container),
			zap.String("record", row.Record),
			zap.String("reason", row.Reason),
		)
	default:
		p.logger.Info("Record skipped",
			zap.Int("position", task.Position),
			zap.String("container", row.Container),
			zap.String("reason", row.Reason),
		)
	}

	return Result{Task: task, Row: row, Took: took, Final: true}
}

func (p *TaskProcessor) isRetriableError(err error) bool {
	return storage.IsTransient(err)
}

func (p *TaskProcessor) calculateBackoff(attempt int) time.Duration {
	return p.config.RetryBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
