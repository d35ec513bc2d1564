package jobs

import (
	"encoding/json"
	"strconv"
	"time"
)

// State is the lifecycle state of a job.
type State string

// Job states.
const (
	StateWaiting   State = "waiting"   // ready to be claimed
	StateDelayed   State = "delayed"   // due time not reached yet
	StateActive    State = "active"    // claimed by a worker
	StateCompleted State = "completed" // finished successfully, retained briefly
	StateFailed    State = "failed"    // attempt failed, waiting for retry
	StateDead      State = "dead"      // attempts exhausted, needs inspection
)

// Repeat describes a recurring job. Either Pattern (cron) or Every is set.
type Repeat struct {
	Pattern string        `json:"pattern,omitempty"`
	Every   time.Duration `json:"every,omitempty"`
	Limit   int64         `json:"limit,omitempty"` // max executions, 0 = unbounded
	Count   int64         `json:"count,omitempty"` // executions so far
}

// Job is one unit of deferred work.
type Job struct {
	Queue       string
	ID          string
	Kind        string
	Payload     json.RawMessage
	State       State
	Attempts    uint
	MaxAttempts uint
	Priority    int64 // lower runs sooner
	NotBefore   time.Time
	CreatedAt   time.Time
	Repeat      *Repeat
	LastError   string
}

// Handle identifies an enqueued job.
type Handle struct {
	Queue string
	ID    string
}

// jobFromHash decodes a job from its Redis hash representation.
func jobFromHash(queue, id string, fields map[string]string) *Job {
	job := &Job{
		Queue:     queue,
		ID:        id,
		Kind:      fields["kind"],
		Payload:   json.RawMessage(fields["payload"]),
		State:     State(fields["state"]),
		LastError: fields["last_error"],
	}
	if v, err := strconv.ParseUint(fields["attempts"], 10, 32); err == nil {
		job.Attempts = uint(v)
	}
	if v, err := strconv.ParseUint(fields["max_attempts"], 10, 32); err == nil {
		job.MaxAttempts = uint(v)
	}
	if v, err := strconv.ParseInt(fields["priority"], 10, 64); err == nil {
		job.Priority = v
	}
	if v, err := strconv.ParseInt(fields["not_before"], 10, 64); err == nil && v > 0 {
		job.NotBefore = time.UnixMilli(v)
	}
	if v, err := strconv.ParseInt(fields["created_at"], 10, 64); err == nil && v > 0 {
		job.CreatedAt = time.UnixMilli(v)
	}
	if raw := fields["repeat"]; raw != "" {
		var repeat Repeat
		if err := json.Unmarshal([]byte(raw), &repeat); err == nil {
			job.Repeat = &repeat
		}
	}
	return job
}
