// Package scheduler registers recurring jobs at process startup.
//
// Each recurring job is enqueued once with a deterministic ID derived from
// its queue and name, so registration is idempotent across restarts and
// across instances racing at boot. The job system itself re-inserts the next
// occurrence after every execution.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.palytt.app/swarm/pkg/jobs"
	"go.uber.org/zap"
)

// RecurringJob describes one scheduled entry.
// Either Pattern (cron) or Every must be set.
type RecurringJob struct {
	Queue    string
	Name     string
	Payload  jobs.Payload
	Pattern  string
	Every    time.Duration
	Limit    int64 // max executions, 0 = unbounded
	Priority int64
}

// JobID returns the deterministic enqueue ID of an entry.
func (j RecurringJob) JobID() string {
	return fmt.Sprintf("sched:%s:%s", j.Queue, j.Name)
}

// Scheduler registers recurring jobs into the job registry.
type Scheduler struct {
	Log      *zap.Logger
	Registry *jobs.Registry
	Jobs     []RecurringJob
}

// RegisterAll enqueues every entry. An unavailable backing store degrades to
// a warning: the deterministic IDs make the next boot catch up.
func (s *Scheduler) RegisterAll(ctx context.Context) error {
	for _, entry := range s.Jobs {
		repeat := &jobs.Repeat{
			Pattern: entry.Pattern,
			Every:   entry.Every,
			Limit:   entry.Limit,
		}
		first, err := jobs.NextRun(repeat, time.Now())
		if err != nil {
			return fmt.Errorf("recurring job %s: %w", entry.JobID(), err)
		}
		handle := s.Registry.Enqueue(ctx, entry.Queue, entry.Payload, jobs.EnqueueOptions{
			JobID:    entry.JobID(),
			Delay:    time.Until(first),
			Priority: entry.Priority,
			Repeat:   repeat,
		})
		if handle == nil {
			s.Log.Warn("Failed to register recurring job, store unavailable",
				zap.String("job", entry.JobID()))
			continue
		}
		s.Log.Info("Registered recurring job",
			zap.String("job", entry.JobID()),
			zap.String("pattern", entry.Pattern),
			zap.Duration("every", entry.Every))
	}
	return nil
}
