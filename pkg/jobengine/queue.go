package jobengine

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// queueKey is the Redis list PushJob pushes to and RedisPool pops from,
// matching the same fan-out role MemoryBroker/RedisBroker play for job
// events: one in-process path, one Redis-backed path, same interface
// shape on the calling side.
const queueKey = "estimator:job_outbox"

// RedisPool is the external-queue alternative to Pool: instead of
// polling Store.JobOutboxPending, job ids are pushed onto a Redis list
// at schedule time and popped here with BLPOP, letting the engine run
// with a queue shared across replicas rather than each replica polling
// the same database table.
type RedisPool struct {
	engine  *Engine
	client  *redis.Client
	workers int
	logger  *slog.Logger
}

func NewRedisPool(engine *Engine, client *redis.Client, workers int) *RedisPool {
	if workers < 1 {
		workers = 1
	}
	return &RedisPool{engine: engine, client: client, workers: workers, logger: slog.Default().With("component", "jobengine.redispool")}
}

// PushJob enqueues jobID onto the Redis queue. Call this alongside (or
// instead of) Store.JobOutboxSchedule when running with RedisPool.
func PushJob(ctx context.Context, client *redis.Client, jobID string) error {
	return client.RPush(ctx, queueKey, jobID).Err()
}

// Run blocks, popping job ids with a blocking pop and dispatching them to
// workers, until ctx is canceled.
func (p *RedisPool) Run(ctx context.Context) {
	jobs := make(chan string)
	defer close(jobs)

	for i := 0; i < p.workers; i++ {
		go p.worker(ctx, jobs)
	}

	for {
		if ctx.Err() != nil {
			return
		}
		result, err := p.client.BLPop(ctx, 5*time.Second, queueKey).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.ErrorContext(ctx, "blpop failed", "error", err)
			continue
		}
		// BLPOP returns [key, value].
		if len(result) != 2 {
			continue
		}
		select {
		case jobs <- result[1]:
		case <-ctx.Done():
			return
		}
	}
}

func (p *RedisPool) worker(ctx context.Context, jobs <-chan string) {
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
