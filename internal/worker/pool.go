package worker

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Pool manages a pool of workers
type Pool struct {
	size      int
	processor *TaskProcessor
	logger    *zap.Logger
}

// NewPool creates a new worker pool
func NewPool(size int, processor *TaskProcessor, logger *zap.Logger) *Pool {
	return &Pool{
		size:      max(size, 1),
		processor: processor,
		logger:    logger,
	}
}

// Run processes tasks until the channel is closed and delivers every result.
// results is closed when all workers have exited. Workers drain the tasks
// channel even after ctx is cancelled so in-flight records finish; the
// producer is expected to stop sending on cancellation.
func (p *Pool) Run(ctx context.Context, tasks <-chan Task, results chan<- Result) error {
	defer close(results)

	var g errgroup.Group
	for i := 0; i < p.size; i++ {
		g.Go(func() error {
			logger := p.logger.With(zap.Int("worker_id", i))
			logger.Debug("Worker started")

			for task := range tasks {
				results <- p.processor.Process(ctx, task)
			}

			logger.Debug("Worker finished - no more tasks")
			return nil
		})
	}
	return g.Wait()
}
