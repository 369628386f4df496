package jobengine

import (
	"context"
	"log/slog"
	"time"
)

// Pool drains the job outbox with a fixed number of worker goroutines.
// Grounded on the teacher's outbox-scheduling discipline
// (PostgresEffectOutboxStore/executor.OutboxStore): CreateJob schedules
// durably via Store.JobOutboxSchedule, and a Pool is what actually drains
// it — the two are decoupled so a crashed worker process loses no
// pending job, it just waits for the next poll.
type Pool struct {
	engine       *Engine
	workers      int
	pollInterval time.Duration
	logger       *slog.Logger
}

// NewPool creates a Pool of workers workers, polling the outbox every
// pollInterval for pending job ids.
func NewPool(engine *Engine, workers int, pollInterval time.Duration) *Pool {
	if workers < 1 {
		workers = 1
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Pool{engine: engine, workers: workers, pollInterval: pollInterval, logger: slog.Default().With("component", "jobengine.pool")}
}

// Run blocks, dispatching pending jobs to workers until ctx is canceled.
func (p *Pool) Run(ctx context.Context) {
	jobs := make(chan string)
	defer close(jobs)

	for i := 0; i < p.workers; i++ {
		go p.worker(ctx, jobs)
	}

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.dispatchPending(ctx, jobs)
		}
	}
}

func (p *Pool) dispatchPending(ctx context.Context, jobs chan<- string) {
	ids, err := p.engine.store.JobOutboxPending(ctx)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to list pending jobs", "error", err)
		return
	}
	for _, id := range ids {
		select {
		case jobs <- id:
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pool) worker(ctx context.Context, jobs <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case jobID, ok := <-jobs:
			if !ok {
				return
			}
			p.engine.Process(ctx, jobID)
			if err := p.engine.store.JobOutboxMarkDone(ctx, jobID); err != nil {
				p.logger.ErrorContext(ctx, "failed to mark outbox entry done", "job_id", jobID, "error", err)
			}
		}
	}
}
