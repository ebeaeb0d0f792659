package app

import (
	"context"
	"fmt"

	"archivesampler/internal/archive"
	"archivesampler/internal/sampling"
	"archivesampler/internal/worker"

	"go.uber.org/zap"
)

// Plan computes the sample and resolves every selected ordinal to its
// archive location. Nothing is extracted.
func (r *Runner) Plan(ctx context.Context) (*RunState, error) {
	state := &RunState{}

	pop := r.cfg.Population()
	// Bad statistical inputs abort before any I/O.
	if err := pop.ValidateParameters(); err != nil {
		return nil, err
	}

	if err := r.src.Check(ctx); err != nil {
		return nil, err
	}

	if pop.Size == 0 {
		n, err := r.countPopulation(ctx)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, fmt.Errorf("%w: archive holds no records", sampling.ErrInsufficientPopulation)
		}
		pop.Size = n
		state.Enumerated = n
	}
	state.Population = pop.Size

	decision, err := sampling.Decide(pop, r.cfg.Sizing())
	if err != nil {
		return nil, err
	}
	plan, err := sampling.Systematic(pop.Size, decision.Size, r.cfg.Sampling.Seed)
	if err != nil {
		return nil, err
	}
	state.Decision = decision
	state.Plan = plan

	r.logger.Info("Sample computed",
		zap.Int64("population", pop.Size),
		zap.String("policy", string(decision.Policy)),
		zap.Float64("z", decision.Formula.Z),
		zap.Float64("n0", decision.Formula.Infinite),
		zap.Float64("corrected", decision.Formula.Corrected),
		zap.Int64("formula_size", decision.Formula.SampleSize),
		zap.Int64("sample_size", decision.Size),
		zap.Int64("stride", plan.Stride),
		zap.Int64("start", plan.Start),
	)

	tasks, enumerated, err := r.resolve(ctx, plan, state.Enumerated == 0)
	if err != nil {
		return nil, err
	}
	state.Tasks = tasks
	if state.Enumerated == 0 {
		state.Enumerated = enumerated
	}

	if state.Enumerated > 0 && state.Enumerated != pop.Size {
		r.logger.Warn("Configured population differs from archive contents",
			zap.Int64("configured", pop.Size),
			zap.Int64("enumerated", state.Enumerated),
			zap.Int64("difference", state.Enumerated-pop.Size),
		)
	}
	return state, nil
}

// resolve walks the archive index once, in ordinal order. When count is set
// it keeps walking past the last selected ordinal to measure the population.
func (r *Runner) resolve(ctx context.Context, plan *sampling.Plan, count bool) ([]worker.Task, int64, error) {
	ix := archive.Open(ctx, r.src, r.indexOptions(), r.logger)
	defer ix.Close()

	tasks := make([]worker.Task, 0, len(plan.Indices))
	for loc, err := range ix.Locations(ctx, plan.Indices) {
		if err != nil {
			return nil, 0, fmt.Errorf("resolve sample position %d: %w", len(tasks), err)
		}
		tasks = append(tasks, worker.Task{Position: len(tasks), Location: loc})
	}

	if !count {
		return tasks, 0, nil
	}
	n, err := ix.Count(ctx)
	if err != nil {
		// The sample resolved; a failed tail walk only loses the drift check.
		r.logger.Warn("Could not count remaining containers", zap.Error(err))
		return tasks, 0, nil
	}
	return tasks, n, nil
}

func (r *Runner) countPopulation(ctx context.Context) (int64, error) {
	r.logger.Info("Counting archive population")

	ix := archive.Open(ctx, r.src, r.indexOptions(), r.logger)
	defer ix.Close()

	n, err := ix.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count population: %w", err)
	}
	r.logger.Info("Archive population counted", zap.Int64("records", n))
	return n, nil
}

func (r *Runner) indexOptions() archive.Options {
	return archive.Options{
		RecordsPerContainer: r.cfg.Archive.RecordsPerContainer,
		Cache:               r.store,
		Scope:               r.cfg.Archive.RecordSuffix,
	}
}

// Sizes reports the sample size under every policy for the configured (or
// counted) population.
func (r *Runner) Sizes(ctx context.Context) ([]sampling.Decision, error) {
	pop := r.cfg.Population()
	if err := pop.ValidateParameters(); err != nil {
		return nil, err
	}
	if pop.Size == 0 {
		if err := r.src.Check(ctx); err != nil {
			return nil, err
		}
		n, err := r.countPopulation(ctx)
		if err != nil {
			return nil, err
		}
		pop.Size = n
	}

	base := r.cfg.Sizing()
	var out []sampling.Decision
	for _, policy := range []sampling.SizePolicy{sampling.PolicyCochran, sampling.PolicyMargin, sampling.PolicyFixed} {
		s := base
		s.Policy = policy
		if policy == sampling.PolicyFixed && s.FixedSize <= 0 {
			continue
		}
		d, err := sampling.Decide(pop, s)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}
