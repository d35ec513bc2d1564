package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Queue is a named, durable collection of jobs.
// It is safe to use one Queue from multiple goroutines and instances.
type Queue struct {
	Log     *zap.Logger
	Redis   *redis.Client
	Name    string
	Keys    Keys
	Options *Options
}

// NewQueue creates a queue handle. Queues materialize in Redis lazily on
// first enqueue and live until explicitly cleaned.
func NewQueue(log *zap.Logger, rd *redis.Client, name string, opts *Options) *Queue {
	return &Queue{
		Log:     log.With(zap.String("queue", name)),
		Redis:   rd,
		Name:    name,
		Keys:    KeysForQueue(name),
		Options: opts,
	}
}

// EnqueueOptions control a single enqueue.
type EnqueueOptions struct {
	Delay       time.Duration
	Priority    int64 // lower runs sooner
	JobID       string
	MaxAttempts uint
	Repeat      *Repeat
}

// Enqueue adds a job to the queue. Supplying a JobID makes the call
// idempotent: re-enqueueing an existing ID does not duplicate the job.
//
// Returns nil when the backing store is unavailable. The job is then not
// guaranteed to run and the caller decides on a synchronous fallback; this
// is a degraded-mode signal, not an error.
func (q *Queue) Enqueue(ctx context.Context, payload Payload, opts EnqueueOptions) *Handle {
	id := opts.JobID
	if id == "" {
		id = uuid.NewString()
	}
	data, err := json.Marshal(payload)
	if err != nil {
		q.Log.Error("Failed to encode job payload",
			zap.String("kind", payload.Kind()), zap.Error(err))
		return nil
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = q.Options.DefaultMaxAttempts
	}
	var repeatJSON string
	if opts.Repeat != nil {
		buf, err := json.Marshal(opts.Repeat)
		if err != nil {
			q.Log.Error("Failed to encode repeat spec", zap.Error(err))
			return nil
		}
		repeatJSON = string(buf)
	}
	// Script: Enqueue a job unless the ID already exists.
	// Key 1: Job hash
	// Key 2: Waiting zset
	// Key 3: Delayed zset
	// Key 4: Sequence counter
	// Argument 1: Job ID
	// Argument 2: Payload kind
	// Argument 3: Payload JSON
	// Argument 4: Priority
	// Argument 5: Max attempts
	// Argument 6: Repeat JSON ("" if none)
	// Argument 7: Now (unix ms)
	// Argument 8: Due time (unix ms)
	// Returns 1 if enqueued, 0 if the ID already existed.
	const enqueueScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
	return 0
end
local state = "waiting"
if tonumber(ARGV[8]) > tonumber(ARGV[7]) then
	state = "delayed"
end
redis.call("HSET", KEYS[1],
	"kind", ARGV[2], "payload", ARGV[3], "priority", ARGV[4],
	"attempts", 0, "max_attempts", ARGV[5], "repeat", ARGV[6],
	"created_at", ARGV[7], "not_before", ARGV[8], "state", state)
if state == "delayed" then
	redis.call("ZADD", KEYS[3], ARGV[8], ARGV[1])
else
	local seq = redis.call("INCR", KEYS[4])
	redis.call("ZADD", KEYS[2], ARGV[4], string.format("%016d:%s", seq, ARGV[1]))
end
return 1
`
	now := time.Now()
	due := now.Add(opts.Delay)
	res, err := q.Redis.Eval(ctx, enqueueScript,
		[]string{q.Keys.Job(id), q.Keys.Waiting, q.Keys.Delayed, q.Keys.Seq},
		id, payload.Kind(), string(data), opts.Priority, maxAttempts,
		repeatJSON, now.UnixMilli(), due.UnixMilli()).Result()
	if err != nil {
		metricEnqueueDegraded.WithLabelValues(q.Name).Inc()
		q.Log.Warn("Enqueue degraded, backing store unavailable",
			zap.String("kind", payload.Kind()), zap.Error(err))
		return nil
	}
	if added, ok := res.(int64); ok && added == 0 {
		q.Log.Debug("Job ID already enqueued", zap.String("job", id))
	} else {
		metricEnqueued.WithLabelValues(q.Name).Inc()
	}
	return &Handle{Queue: q.Name, ID: id}
}

// claim pops the highest-priority ready job, FIFO within equal priority.
// Returns nil without error when no job is ready or the queue is paused.
func (q *Queue) claim(ctx context.Context) (*Job, error) {
	// Script: Claim the head of the waiting queue.
	// Key 1: Waiting zset
	// Key 2: Active set
	// Key 3: Paused flag
	// Argument 1: Job hash prefix
	// Returns the job ID, or false when nothing is ready.
	const claimScript = `
if redis.call("EXISTS", KEYS[3]) == 1 then
	return false
end
local head = redis.call("ZRANGE", KEYS[1], 0, 0)
if #head == 0 then
	return false
end
local member = head[1]
redis.call("ZREM", KEYS[1], member)
local sep = string.find(member, ":")
local id = string.sub(member, sep + 1)
redis.call("SADD", KEYS[2], id)
redis.call("HSET", ARGV[1] .. id, "state", "active")
redis.call("HINCRBY", ARGV[1] .. id, "attempts", 1)
return id
`
	res, err := q.Redis.Eval(ctx, claimScript,
		[]string{q.Keys.Waiting, q.Keys.Active, q.Keys.Paused},
		q.Keys.JobPrefix).Result()
	if err == redis.Nil {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to claim job via Lua: %w", err)
	}
	id, ok := res.(string)
	if !ok {
		return nil, fmt.Errorf("invalid return from claim: %#v", res)
	}
	fields, err := q.Redis.HGetAll(ctx, q.Keys.Job(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load claimed job %s: %w", id, err)
	}
	if len(fields) == 0 {
		// Hash pruned between claim and load; drop the orphaned claim.
		_ = q.Redis.SRem(ctx, q.Keys.Active, id).Err()
		return nil, nil
	}
	return jobFromHash(q.Name, id, fields), nil
}

// completeJob marks a claimed job successful. Recurring jobs re-enter the
// delayed queue with their next due time instead of completing.
func (q *Queue) completeJob(ctx context.Context, job *Job) error {
	nextDue, repeatJSON := q.nextOccurrence(job)
	// Script: Finish a job, or reschedule a recurring one.
	// Key 1: Active set
	// Key 2: Completed zset
	// Key 3: Delayed zset
	// Argument 1: Job hash prefix
	// Argument 2: Job ID
	// Argument 3: Now (unix ms)
	// Argument 4: Next due time for recurring jobs (unix ms, 0 = none)
	// Argument 5: Updated repeat JSON ("" to keep)
	// Argument 6: Completed retention max count
	// Returns 1 if rescheduled, 0 if completed.
	const completeScript = `
redis.call("SREM", KEYS[1], ARGV[2])
local key = ARGV[1] .. ARGV[2]
if tonumber(ARGV[4]) > 0 then
	redis.call("HSET", key, "state", "delayed", "attempts", 0, "not_before", ARGV[4])
	if ARGV[5] ~= "" then
		redis.call("HSET", key, "repeat", ARGV[5])
	end
	redis.call("ZADD", KEYS[3], ARGV[4], ARGV[2])
	return 1
end
redis.call("HSET", key, "state", "completed", "finished_at", ARGV[3])
redis.call("ZADD", KEYS[2], ARGV[3], ARGV[2])
local excess = redis.call("ZCARD", KEYS[2]) - tonumber(ARGV[6])
if excess > 0 then
	local old = redis.call("ZRANGE", KEYS[2], 0, excess - 1)
	for i = 1, #old do
		redis.call("DEL", ARGV[1] .. old[i])
	end
	redis.call("ZREMRANGEBYRANK", KEYS[2], 0, excess - 1)
end
return 0
`
	err := q.Redis.Eval(ctx, completeScript,
		[]string{q.Keys.Active, q.Keys.Completed, q.Keys.Delayed},
		q.Keys.JobPrefix, job.ID, time.Now().UnixMilli(), nextDue, repeatJSON,
		q.Options.CompletedRetention.MaxCount).Err()
	if err != nil {
		return fmt.Errorf("failed to complete job via Lua: %w", err)
	}
	metricCompleted.WithLabelValues(q.Name).Inc()
	return nil
}

// failJob records a failed attempt: it schedules a retry with exponential
// backoff while attempts remain, and dead-letters the job otherwise.
// Recurring jobs never dead-letter; an exhausted execution re-enters the
// delayed queue at its next due time.
func (q *Queue) failJob(ctx context.Context, job *Job, jobErr error) error {
	var retryDue int64
	if job.Attempts < job.MaxAttempts {
		retryDue = time.Now().Add(q.retryDelay(job.Attempts)).UnixMilli()
	} else if job.Repeat != nil {
		if nextDue, repeatJSON := q.nextOccurrence(job); nextDue > 0 {
			q.Log.Warn("Recurring job exhausted attempts, scheduling next occurrence",
				zap.String("job", job.ID), zap.Error(jobErr))
			return q.rescheduleExhausted(ctx, job, nextDue, repeatJSON, jobErr)
		}
	}
	// Script: Settle a failed attempt.
	// Key 1: Active set
	// Key 2: Delayed zset
	// Key 3: Dead zset
	// Argument 1: Job hash prefix
	// Argument 2: Job ID
	// Argument 3: Now (unix ms)
	// Argument 4: Retry due time (unix ms, 0 = attempts exhausted)
	// Argument 5: Error text
	// Argument 6: Dead retention max count
	// Returns 1 if scheduled for retry, 0 if dead-lettered.
	const failScript = `
redis.call("SREM", KEYS[1], ARGV[2])
local key = ARGV[1] .. ARGV[2]
redis.call("HSET", key, "last_error", ARGV[5])
if tonumber(ARGV[4]) > 0 then
	redis.call("HSET", key, "state", "failed", "not_before", ARGV[4])
	redis.call("ZADD", KEYS[2], ARGV[4], ARGV[2])
	return 1
end
redis.call("HSET", key, "state", "dead", "finished_at", ARGV[3])
redis.call("ZADD", KEYS[3], ARGV[3], ARGV[2])
local excess = redis.call("ZCARD", KEYS[3]) - tonumber(ARGV[6])
if excess > 0 then
	local old = redis.call("ZRANGE", KEYS[3], 0, excess - 1)
	for i = 1, #old do
		redis.call("DEL", ARGV[1] .. old[i])
	end
	redis.call("ZREMRANGEBYRANK", KEYS[3], 0, excess - 1)
end
return 0
`
	res, err := q.Redis.Eval(ctx, failScript,
		[]string{q.Keys.Active, q.Keys.Delayed, q.Keys.Dead},
		q.Keys.JobPrefix, job.ID, time.Now().UnixMilli(), retryDue,
		jobErr.Error(), q.Options.DeadRetention.MaxCount).Result()
	if err != nil {
		return fmt.Errorf("failed to settle job via Lua: %w", err)
	}
	if retried, ok := res.(int64); ok && retried == 1 {
		metricRetried.WithLabelValues(q.Name).Inc()
		q.Log.Debug("Scheduled retry",
			zap.String("job", job.ID), zap.Uint("attempt", job.Attempts), zap.Error(jobErr))
	} else {
		metricDead.WithLabelValues(q.Name).Inc()
		q.Log.Error("Job dead-lettered",
			zap.String("job", job.ID), zap.Uint("attempts", job.Attempts), zap.Error(jobErr))
	}
	return nil
}

// rescheduleExhausted re-enters a recurring job after an exhausted execution.
func (q *Queue) rescheduleExhausted(ctx context.Context, job *Job, nextDue int64, repeatJSON string, jobErr error) error {
	// Script: Reschedule a recurring job after exhausted attempts.
	// Key 1: Active set
	// Key 2: Delayed zset
	// Argument 1: Job hash prefix
	// Argument 2: Job ID
	// Argument 3: Next due time (unix ms)
	// Argument 4: Updated repeat JSON ("" to keep)
	// Argument 5: Error text
	const rescheduleScript = `
redis.call("SREM", KEYS[1], ARGV[2])
local key = ARGV[1] .. ARGV[2]
redis.call("HSET", key, "state", "delayed", "attempts", 0,
	"not_before", ARGV[3], "last_error", ARGV[5])
if ARGV[4] ~= "" then
	redis.call("HSET", key, "repeat", ARGV[4])
end
redis.call("ZADD", KEYS[2], ARGV[3], ARGV[2])
return 1
`
	err := q.Redis.Eval(ctx, rescheduleScript,
		[]string{q.Keys.Active, q.Keys.Delayed},
		q.Keys.JobPrefix, job.ID, nextDue, repeatJSON, jobErr.Error()).Err()
	if err != nil {
		return fmt.Errorf("failed to reschedule job via Lua: %w", err)
	}
	metricRetried.WithLabelValues(q.Name).Inc()
	return nil
}

// nextOccurrence computes the next due time of a recurring job.
// Returns 0 when the job does not recur or its repeat limit is reached.
func (q *Queue) nextOccurrence(job *Job) (int64, string) {
	if job.Repeat == nil {
		return 0, ""
	}
	repeat := *job.Repeat
	repeat.Count++
	next, err := NextRun(&repeat, time.Now())
	if err != nil {
		q.Log.Error("Dropping recurrence with invalid spec",
			zap.String("job", job.ID), zap.Error(err))
		return 0, ""
	}
	if next.IsZero() {
		return 0, ""
	}
	buf, err := json.Marshal(&repeat)
	if err != nil {
		return 0, ""
	}
	return next.UnixMilli(), string(buf)
}

// retryDelay implements exponential backoff: base * attempt^growth.
// Non-decreasing in the attempt number.
func (q *Queue) retryDelay(attempt uint) time.Duration {
	factor := math.Pow(float64(attempt), q.Options.BackoffGrowth)
	return time.Duration(float64(q.Options.BackoffBase) * factor)
}

// Pause stops workers from claiming jobs without losing queued jobs.
func (q *Queue) Pause(ctx context.Context) error {
	return q.Redis.Set(ctx, q.Keys.Paused, 1, 0).Err()
}

// Resume lifts a pause.
func (q *Queue) Resume(ctx context.Context) error {
	return q.Redis.Del(ctx, q.Keys.Paused).Err()
}

// Stats reports per-state job counts.
type Stats struct {
	Waiting   int64
	Delayed   int64
	Active    int64
	Completed int64
	Failed    int64 // dead-lettered jobs retained for inspection
}

// GetStats reads the queue counters.
func (q *Queue) GetStats(ctx context.Context) (*Stats, error) {
	pipe := q.Redis.Pipeline()
	waiting := pipe.ZCard(ctx, q.Keys.Waiting)
	delayed := pipe.ZCard(ctx, q.Keys.Delayed)
	active := pipe.SCard(ctx, q.Keys.Active)
	completed := pipe.ZCard(ctx, q.Keys.Completed)
	dead := pipe.ZCard(ctx, q.Keys.Dead)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to read queue stats: %w", err)
	}
	return &Stats{
		Waiting:   waiting.Val(),
		Delayed:   delayed.Val(),
		Active:    active.Val(),
		Completed: completed.Val(),
		Failed:    dead.Val(),
	}, nil
}

// Clean purges terminal jobs older than the grace period and returns the
// count removed. Accepted states: StateCompleted and StateDead.
func (q *Queue) Clean(ctx context.Context, grace time.Duration, state State) (int64, error) {
	var key string
	switch state {
	case StateCompleted:
		key = q.Keys.Completed
	case StateDead:
		key = q.Keys.Dead
	default:
		return 0, fmt.Errorf("cannot clean state %q", state)
	}
	// Script: Purge terminal jobs older than the cutoff.
	// Key 1: Terminal zset
	// Argument 1: Job hash prefix
	// Argument 2: Cutoff (unix ms)
	// Argument 3: Batch size
	// Returns the number of jobs purged.
	const cleanScript = `
local old = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[2], "LIMIT", 0, ARGV[3])
for i = 1, #old do
	redis.call("DEL", ARGV[1] .. old[i])
	redis.call("ZREM", KEYS[1], old[i])
end
return #old
`
	cutoff := time.Now().Add(-grace).UnixMilli()
	var total int64
	for {
		res, err := q.Redis.Eval(ctx, cleanScript, []string{key},
			q.Keys.JobPrefix, cutoff, q.Options.CleanBatch).Result()
		if err != nil {
			return total, fmt.Errorf("failed to clean jobs via Lua: %w", err)
		}
		purged, ok := res.(int64)
		if !ok {
			return total, fmt.Errorf("invalid return from clean: %#v", res)
		}
		total += purged
		if purged < int64(q.Options.CleanBatch) {
			return total, nil
		}
	}
}

// Remove deletes a job that has not started executing. Active and terminal
// jobs are left untouched; returns whether a job was removed.
func (q *Queue) Remove(ctx context.Context, id string) (bool, error) {
	// Script: Remove a waiting or delayed job.
	// Key 1: Waiting zset
	// Key 2: Delayed zset
	// Argument 1: Job hash prefix
	// Argument 2: Job ID
	// Returns 1 if removed, 0 otherwise.
	const removeScript = `
if redis.call("ZREM", KEYS[2], ARGV[2]) == 1 then
	redis.call("DEL", ARGV[1] .. ARGV[2])
	return 1
end
local members = redis.call("ZRANGE", KEYS[1], 0, -1)
for i = 1, #members do
	local sep = string.find(members[i], ":")
	if string.sub(members[i], sep + 1) == ARGV[2] then
		redis.call("ZREM", KEYS[1], members[i])
		redis.call("DEL", ARGV[1] .. ARGV[2])
		return 1
	end
end
return 0
`
	res, err := q.Redis.Eval(ctx, removeScript,
		[]string{q.Keys.Waiting, q.Keys.Delayed},
		q.Keys.JobPrefix, id).Result()
	if err != nil {
		return false, fmt.Errorf("failed to remove job via Lua: %w", err)
	}
	removed, ok := res.(int64)
	if !ok {
		return false, fmt.Errorf("invalid return from remove: %#v", res)
	}
	return removed == 1, nil
}

// GetJob loads a job by ID. Returns nil when the job is unknown.
func (q *Queue) GetJob(ctx context.Context, id string) (*Job, error) {
	fields, err := q.Redis.HGetAll(ctx, q.Keys.Job(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return jobFromHash(q.Name, id, fields), nil
}
