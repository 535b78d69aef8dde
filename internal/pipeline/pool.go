package pipeline

import (
	"context"
	"sync"
	"time"

	"server/internal/domain"
	"server/internal/infra"
)

// Pool polls the store for runnable jobs and steps them with a fixed number
// of workers. Backpressure is implicit: jobs past their RunNotBefore that the
// limiter refuses are returned untouched and picked up by a later tick.
type Pool struct {
	store        domain.JobStore
	orchestrator *Orchestrator
	logger       infra.Logger

	size         int
	batch        int
	pollInterval time.Duration
}

func NewPool(store domain.JobStore, orch *Orchestrator, logger infra.Logger, size, batch int, pollInterval time.Duration) *Pool {
	if size <= 0 {
		size = 2
	}
	if batch <= 0 {
		batch = size * 4
	}
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Pool{
		store:        store,
		orchestrator: orch,
		logger:       logger,
		size:         size,
		batch:        batch,
		pollInterval: pollInterval,
	}
}

// Run blocks until ctx is cancelled. Each worker runs its own poll loop so a
// slow stage invocation never stalls the others.
func (p *Pool) Run(ctx context.Context) {
	p.logger.Info().
		Int("workers", p.size).
		Dur("poll_interval", p.pollInterval).
		Msg("pool: starting")

	var wg sync.WaitGroup
	for i := 0; i < p.size; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			p.loop(ctx, worker)
		}(i)
	}
	wg.Wait()
	p.logger.Info().Msg("pool: stopped")
}

func (p *Pool) loop(ctx context.Context, worker int) {
	for {
		if ctx.Err() != nil {
			return
		}
		stepped := p.tick(ctx, worker)
		if stepped == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.pollInterval):
			}
		}
	}
}

// tick steps one batch of runnable jobs and reports how many made progress.
func (p *Pool) tick(ctx context.Context, worker int) int {
	jobs, err := p.store.ListRunnable(ctx, p.batch)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Error().Err(err).Int("worker", worker).Msg("pool: list runnable failed")
		}
		return 0
	}

	stepped := 0
	for _, job := range jobs {
		if ctx.Err() != nil {
			return stepped
		}
		before := job.Version
		after, err := p.orchestrator.Step(ctx, job.ID)
		if err != nil {
			if ctx.Err() == nil {
				p.logger.Error().Err(err).Str("job_id", job.ID).Msg("pool: step failed")
			}
			continue
		}
		if after.Version != before {
			stepped++
		}
	}
	return stepped
}
