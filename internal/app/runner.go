// Package app wires sampling, archive resolution, extraction, checkpointing
// and pacing into a single run.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"archivesampler/internal/checkpoint"
	"archivesampler/internal/config"
	"archivesampler/internal/extract"
	"archivesampler/internal/metrics"
	"archivesampler/internal/progress"
	"archivesampler/internal/record"
	"archivesampler/internal/report"
	"archivesampler/internal/resource"
	"archivesampler/internal/storage"
	"archivesampler/internal/worker"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Runner executes sample runs.
type Runner struct {
	cfg     *config.Config
	src     storage.Source
	store   checkpoint.Store
	monitor *resource.Monitor
	metrics *metrics.Collector
	logger  *zap.Logger

	// ProgressOut receives the progress display; nil disables it.
	ProgressOut io.Writer
}

// New creates a runner from configuration, opening the archive source and
// the checkpoint store.
func New(cfg *config.Config, logger *zap.Logger) (*Runner, error) {
	var (
		src storage.Source
		err error
	)
	switch cfg.Archive.Kind {
	case "bucket":
		src, err = storage.NewBucketSource(cfg.StorageConfig(), cfg.Filter())
		if err != nil {
			return nil, fmt.Errorf("failed to create bucket source: %w", err)
		}
	default:
		src = storage.NewDirSource(cfg.Archive.Dir, cfg.Filter())
	}

	store, err := checkpoint.NewSQLiteStore(cfg.Checkpoint.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkpoint store: %w", err)
	}

	var monitor *resource.Monitor
	if cfg.Resources.Enabled {
		monitor = resource.NewMonitor(resource.SystemSampler{}, cfg.Thresholds(), logger)
	}

	r := NewRunner(cfg, src, store, monitor, logger)
	if cfg.ShowProgress && progress.IsTerminalSupported() {
		r.ProgressOut = os.Stdout
	}
	return r, nil
}

// NewRunner assembles a runner from its collaborators. monitor may be nil.
func NewRunner(cfg *config.Config, src storage.Source, store checkpoint.Store, monitor *resource.Monitor, logger *zap.Logger) *Runner {
	return &Runner{
		cfg:     cfg,
		src:     src,
		store:   store,
		monitor: monitor,
		metrics: metrics.New(),
		logger:  logger,
	}
}

// Metrics returns the run's collector.
func (r *Runner) Metrics() *metrics.Collector {
	return r.metrics
}

// Run computes the sample, resumes from the checkpoint when asked, extracts
// every pending position and writes the outputs. The returned state is
// non-nil whenever planning succeeded.
func (r *Runner) Run(ctx context.Context) (*RunState, error) {
	state, err := r.Plan(ctx)
	if err != nil {
		return nil, err
	}
	state.Started = time.Now()
	state.Tracker = progress.NewTracker()
	defer func() { state.Finished = time.Now() }()

	if err := r.writeManifest(state); err != nil {
		return state, err
	}
	if r.cfg.DryRun {
		r.logger.Info("Dry run: sample manifest written, skipping extraction",
			zap.Int("positions", len(state.Tasks)),
		)
		return state, nil
	}

	manager := checkpoint.NewManager(r.store, r.logger)
	want := checkpoint.Run{
		Fingerprint: state.Plan.Fingerprint(),
		Population:  state.Plan.Population,
		Size:        state.Plan.Size,
		Seed:        state.Plan.Seed,
		Stride:      state.Plan.Stride,
		Start:       state.Plan.Start,
		Policy:      string(state.Decision.Policy),
	}
	opts := checkpoint.LoadOptions{Resume: r.cfg.Resume, Fresh: r.cfg.Fresh}
	if _, err := manager.Load(ctx, want, opts); err != nil {
		return state, err
	}
	state.RunID = manager.Run().ID

	var pending []worker.Task
	for _, t := range state.Tasks {
		if !manager.Done(t.Position) {
			pending = append(pending, t)
		}
	}
	state.Resumed = manager.Completed()
	state.Pending = len(pending)
	state.Tracker.SetTotal(int64(len(state.Tasks)))
	state.Tracker.Resume(manager.Entries())

	r.logger.Info("Starting extraction",
		zap.String("run_id", state.RunID),
		zap.Int("positions", len(state.Tasks)),
		zap.Int("already_completed", state.Resumed),
		zap.Int("pending", state.Pending),
		zap.Int("workers", r.cfg.Extraction.Workers),
	)

	if r.cfg.MetricsAddr != "" {
		metricsCtx, stopMetrics := context.WithCancel(context.Background())
		defer stopMetrics()
		go func() {
			if err := r.metrics.StartServer(metricsCtx, r.cfg.MetricsAddr); err != nil {
				r.logger.Error("Failed to start metrics server", zap.Error(err))
			}
		}()
	}

	var display *progress.Display
	if r.ProgressOut != nil {
		display = progress.NewDisplay(state.Tracker, 2*time.Second, r.ProgressOut)
		display.Start()
	}

	err = r.extract(ctx, state, manager, pending)

	if display != nil {
		display.Stop()
	}

	if err != nil {
		return state, err
	}
	if manager.Completed() < len(state.Tasks) {
		return state, r.stopped(ctx, state, manager)
	}

	return state, r.finish(state, manager.Entries())
}

// stopped explains why a run ended with positions left.
func (r *Runner) stopped(ctx context.Context, state *RunState, manager *checkpoint.Manager) error {
	switch {
	case state.Halted:
		r.logger.Warn("Run halted, checkpoint flushed",
			zap.String("reason", state.HaltReason),
			zap.Int("completed", manager.Completed()),
		)
		return fmt.Errorf("%w: %s", ErrHalted, state.HaltReason)
	case ctx.Err() != nil:
		r.logger.Info("Run interrupted, checkpoint flushed", zap.Int("completed", manager.Completed()))
		return fmt.Errorf("run interrupted: %w", ctx.Err())
	default:
		return fmt.Errorf("run ended with %d of %d positions recorded", manager.Completed(), len(state.Tasks))
	}
}

// extract feeds pending tasks through the worker pool. The resource monitor
// gates admission of every task and the calling goroutine is the only
// checkpoint writer.
func (r *Runner) extract(ctx context.Context, state *RunState, manager *checkpoint.Manager, pending []worker.Task) error {
	extractor := extract.New(r.src, extract.Options{
		DefaultEncoding: r.cfg.Extraction.DefaultEncoding,
		SniffBytes:      r.cfg.Extraction.SniffBytes,
	}, r.logger)
	processor := worker.NewTaskProcessor(worker.Config{
		Retries:      r.cfg.Extraction.Retries,
		RetryBackoff: time.Duration(r.cfg.Extraction.RetryBackoffMs) * time.Millisecond,
	}, extractor, r.src.Check, r.metrics, r.logger)
	pool := worker.NewPool(r.cfg.Extraction.Workers, processor, r.logger)

	admitCtx, stopAdmission := context.WithCancel(ctx)
	defer stopAdmission()

	tasks := make(chan worker.Task)
	results := make(chan worker.Result, r.cfg.Extraction.Workers)

	var g errgroup.Group
	g.Go(func() error {
		defer close(tasks)
		return r.admit(admitCtx, state, pending, tasks)
	})
	g.Go(func() error {
		return pool.Run(ctx, tasks, results)
	})

	// Record outcomes even after ctx is cancelled so in-flight work is kept.
	writeCtx := context.WithoutCancel(ctx)
	var fatal error
	for res := range results {
		if fatal != nil {
			continue
		}
		if res.Err != nil {
			fatal = res.Err
			stopAdmission()
			continue
		}
		if !res.Final {
			continue
		}
		if err := manager.Record(writeCtx, res.Row); err != nil {
			fatal = err
			stopAdmission()
			continue
		}
		state.Tracker.Add(res.Row)
	}

	if err := g.Wait(); err != nil && fatal == nil {
		fatal = err
	}
	return fatal
}

// admit sends tasks in position order, consulting the resource monitor
// before each one.
func (r *Runner) admit(ctx context.Context, state *RunState, pending []worker.Task, tasks chan<- worker.Task) error {
	for _, t := range pending {
		if ctx.Err() != nil {
			return nil
		}
		if r.monitor != nil {
			verdict, sample := r.monitor.Check(ctx)
			state.LastSample = sample
			r.metrics.ObserveResources(sample)

			switch verdict.Action {
			case resource.Halt:
				state.Halted = true
				state.HaltReason = verdict.Reason
				return nil
			case resource.Throttle:
				state.Throttles++
				state.Tracker.AddThrottle()
				r.metrics.IncThrottle()
				r.logger.Debug("Throttling", zap.String("reason", verdict.Reason), zap.Duration("delay", verdict.Delay))
				select {
				case <-time.After(verdict.Delay):
				case <-ctx.Done():
					return nil
				}
			}
		}

		select {
		case tasks <- t:
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}

func (r *Runner) writeManifest(state *RunState) error {
	m := &report.Manifest{
		GeneratedAt: time.Now(),
		Policy:      string(state.Decision.Policy),
		Population:  state.Plan.Population,
		Size:        state.Plan.Size,
		Seed:        state.Plan.Seed,
		Stride:      state.Plan.Stride,
		Start:       state.Plan.Start,
		Confidence:  r.cfg.Sampling.Confidence,
		Margin:      r.cfg.Sampling.Margin,
		Proportion:  r.cfg.Sampling.Proportion,
	}
	for _, t := range state.Tasks {
		m.Entries = append(m.Entries, report.ManifestEntry{
			Ordinal:   t.Location.Ordinal,
			Container: t.Location.Container,
			Record:    t.Location.Record,
		})
	}

	path := r.cfg.OutputPath(r.cfg.Output.Manifest)
	if err := report.WriteFile(path, func(w io.Writer) error { return report.WriteManifest(w, m) }); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	r.logger.Info("Sample manifest written", zap.String("path", path), zap.Int("entries", len(m.Entries)))
	return nil
}

// finish writes the table and summary and applies the failure tolerance.
func (r *Runner) finish(state *RunState, rows []record.Metadata) error {
	if len(rows) != len(state.Tasks) {
		return fmt.Errorf("checkpoint holds %d rows for %d positions", len(rows), len(state.Tasks))
	}

	tablePath := r.cfg.OutputPath(r.cfg.Output.Table)
	if err := report.WriteFile(tablePath, func(w io.Writer) error { return report.WriteTable(w, rows) }); err != nil {
		return fmt.Errorf("write table: %w", err)
	}

	state.Finished = time.Now()
	summary := report.Summarize(rows, state.Population, r.cfg.FailureTolerance)
	summary.RunID = state.RunID
	summary.Policy = string(state.Decision.Policy)
	summary.SampleSize = state.Decision.Size
	summary.FormulaSize = state.Decision.Formula.SampleSize
	summary.Resumed = state.Resumed
	summary.PopulationOnDisk = state.Enumerated
	summary.Elapsed = state.Elapsed().Round(time.Millisecond)
	if secs := state.Elapsed().Seconds(); secs > 0 {
		summary.Throughput = float64(state.Pending) / secs
	}

	summaryPath := r.cfg.OutputPath(r.cfg.Output.Summary)
	if err := report.WriteFile(summaryPath, func(w io.Writer) error { return report.WriteSummary(w, summary) }); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}

	fields := []zap.Field{
		zap.String("run_id", state.RunID),
		zap.Int("attempted", summary.Attempted),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
		zap.Float64("success_rate", summary.SuccessRate),
		zap.Int64("projected_population_lines", summary.ProjectedLines),
		zap.Duration("elapsed", summary.Elapsed),
		zap.String("table", tablePath),
		zap.String("summary", summaryPath),
	}
	for _, f := range summary.FailureExamples {
		fields = append(fields, zap.String(fmt.Sprintf("failure_%d", f.Position), f.Container+": "+f.Reason))
		if len(fields) >= 15 {
			break
		}
	}
	r.logger.Info("Run completed", fields...)

	if !summary.Healthy {
		return fmt.Errorf("%w: %d of %d rows failed (tolerance %.2f%%)",
			ErrToleranceExceeded, summary.Failed, summary.Attempted, r.cfg.FailureTolerance*100)
	}
	return nil
}

// Close releases the checkpoint store.
func (r *Runner) Close() error {
	if r.store == nil {
		return nil
	}
	if err := r.store.Close(); err != nil && !errors.Is(err, checkpoint.ErrClosed) {
		return err
	}
	return nil
}
