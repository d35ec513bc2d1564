package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.palytt.app/swarm/pkg/ratelimit"
	"go.uber.org/zap"
)

// Handler processes one job. The decoded payload matches the type registered
// for the job's kind; unknown kinds arrive as RawPayload. A returned error
// drives the retry state machine.
type Handler func(ctx context.Context, job *Job, payload Payload) error

// RateLimit caps job starts per time window for one worker.
type RateLimit struct {
	Max    int64
	Window time.Duration
}

// WorkerConfig holds per-worker settings.
type WorkerConfig struct {
	Concurrency uint
	RateLimit   *RateLimit
}

// Worker executes jobs of one queue with a concurrency bound and an
// optional rate limit.
type Worker struct {
	Log         *zap.Logger
	Queue       *Queue
	Handler     Handler
	Concurrency uint
	Limit       *ratelimit.Limiter

	codec *Codec
}

// Run claims and executes jobs until the context is canceled.
// In-flight jobs are drained, not interrupted: the claim loops observe
// cancellation only between jobs, and handlers receive a context detached
// from the shutdown signal.
func (w *Worker) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := uint(0); i < w.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.loop(ctx)
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (w *Worker) loop(ctx context.Context) {
	idle := time.NewTimer(w.Queue.Options.ClaimInterval)
	defer idle.Stop()
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := w.Queue.claim(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.Log.Warn("Claim failed", zap.Error(err))
		}
		if job == nil {
			idle.Reset(w.Queue.Options.ClaimInterval)
			select {
			case <-ctx.Done():
				return
			case <-idle.C:
			}
			continue
		}
		if w.Limit != nil {
			// Over budget the claimed job is delayed, never dropped.
			if wait := w.Limit.Reserve(time.Now().Unix(), 1); wait > 0 {
				time.Sleep(wait)
			}
		}
		w.execute(ctx, job)
	}
}

func (w *Worker) execute(ctx context.Context, job *Job) {
	metricActive.WithLabelValues(w.Queue.Name).Inc()
	defer metricActive.WithLabelValues(w.Queue.Name).Dec()
	// Shutdown drains in-flight executions instead of canceling them.
	jobCtx := context.WithoutCancel(ctx)
	payload := w.codec.Decode(job.Kind, job.Payload)
	err := w.invoke(jobCtx, job, payload)
	if err == nil {
		if err := w.Queue.completeJob(jobCtx, job); err != nil {
			w.Log.Error("Failed to record completion",
				zap.String("job", job.ID), zap.Error(err))
		}
		return
	}
	if err := w.Queue.failJob(jobCtx, job, err); err != nil {
		w.Log.Error("Failed to record failure",
			zap.String("job", job.ID), zap.Error(err))
	}
}

// invoke runs the handler, converting panics into handler errors so they
// feed the same retry path.
func (w *Worker) invoke(ctx context.Context, job *Job, payload Payload) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return w.Handler(ctx, job, payload)
}
