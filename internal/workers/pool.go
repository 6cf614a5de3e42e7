// Package workers wraps a pond worker pool used to fan out concurrent scan
// work (the per-message reply-count lookups) without
// spawning an unbounded number of goroutines against the RPC client. Adapted
// from the teacher's two-pool PoolManager (ArticleProcessor/GeneralPool):
// this domain has a single kind of background work, so one pool suffices.
package workers

import (
	"context"
	"log/slog"
	"time"

	"github.com/alitto/pond"
)

// Config sizes the pool: MinWorkers stay warm, MaxWorkers is the ceiling
// pond scales up to under load.
type Config struct {
	MinWorkers int
	MaxWorkers int
	// IdleTimeout is how long an over-MinWorkers worker sits idle before
	// pond reclaims it.
	IdleTimeout time.Duration
}

// Pool is a bounded worker pool for fire-and-forget scan tasks.
type Pool struct {
	wp *pond.WorkerPool
}

// New constructs a Pool per cfg, defaulting IdleTimeout to 30s when unset.
func New(cfg Config) *Pool {
	idle := cfg.IdleTimeout
	if idle <= 0 {
		idle = 30 * time.Second
	}
	max := cfg.MaxWorkers
	if max < cfg.MinWorkers {
		max = cfg.MinWorkers * 2
	}
	return &Pool{
		wp: pond.New(max, max*2, pond.MinWorkers(cfg.MinWorkers), pond.IdleTimeout(idle)),
	}
}

// Submit queues task to run on the pool, recovering a panic so one failing
// task cannot crash the shared worker goroutine.
func (p *Pool) Submit(task func()) {
	p.wp.Submit(func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("workers: task panicked", "error", r)
			}
		}()
		task()
	})
}

// SubmitWithTimeout runs task on the pool and blocks the caller until it
// completes or ctx/timeout expires, whichever first, for a caller that
// needs the task's completion synchronously bounded in time.
func (p *Pool) SubmitWithTimeout(ctx context.Context, task func(), timeout time.Duration) error {
	taskCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan struct{}, 1)
	p.Submit(func() {
		task()
		done <- struct{}{}
	})

	select {
	case <-done:
		return nil
	case <-taskCtx.Done():
		return taskCtx.Err()
	}
}

// Stats reports pond's live pool counters, surfaced on the health endpoint.
func (p *Pool) Stats() map[string]interface{} {
	return map[string]interface{}{
		"running_workers":  p.wp.RunningWorkers(),
		"idle_workers":     p.wp.IdleWorkers(),
		"submitted_tasks":  p.wp.SubmittedTasks(),
		"waiting_tasks":    p.wp.WaitingTasks(),
		"successful_tasks": p.wp.SuccessfulTasks(),
		"failed_tasks":     p.wp.FailedTasks(),
	}
}

// Shutdown drains in-flight tasks and stops the pool.
func (p *Pool) Shutdown() {
	slog.Info("workers: shutting down pool")
	p.wp.StopAndWait()
	slog.Info("workers: pool stopped")
}
