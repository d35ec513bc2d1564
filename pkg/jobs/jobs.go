// Package jobs runs the named-queue job system on top of Redis.
//
// Components
//
// Producers enqueue jobs onto named queues. Each queue with a registered
// worker gets a pool of claim loops pulling ready jobs, a promoter moving
// due delayed jobs into the waiting queue, and retention pruning for
// terminal jobs. A Registry owned by the process composition root ties the
// pieces together and drains them in order on shutdown.
//
// Properties
//
// Ready jobs are claimed in ascending priority order, FIFO within equal
// priority. Handler failures drive retry with exponential backoff until
// attempts are exhausted, after which the job is dead-lettered. Enqueueing
// against an unreachable backend returns a nil handle instead of an error,
// so feature code stays operational with reduced guarantees.
//
// Data structures
//
// Jobs live in hashes under queue:<name>:job:<id>. The waiting queue is a
// sorted set scored by priority whose members carry a sequence prefix for
// FIFO tie-breaks; delayed jobs sit in a sorted set scored by due time.
// State transitions run as Redis Lua scripts for safe concurrent access
// from multiple instances.
package jobs

import "time"

// Retention bounds how long terminal jobs are kept for inspection.
// Whichever bound triggers first wins: count is enforced on the completion
// path, age by the janitor.
type Retention struct {
	MaxCount int64
	MaxAge   time.Duration
}

// Options stores global job system settings.
type Options struct {
	// Worker pool
	ClaimInterval time.Duration // idle poll interval per worker slot
	// Delayed job promotion
	PromoteInterval time.Duration // max promoter sleep between scans
	PromoteBatch    uint          // max jobs promoted per script call
	// Retention
	JanitorInterval    time.Duration // age-based retention sweep interval
	CleanBatch         uint          // max jobs purged per script call
	CompletedRetention Retention
	DeadRetention      Retention
	// Retry policy defaults
	DefaultMaxAttempts uint
	BackoffBase        time.Duration // first retry delay
	BackoffGrowth      float64       // delay = base * attempt^growth
}

// DefaultOptions returns the default job system options.
// Only pass by value, not reference, to avoid modifying this globally.
var DefaultOptions = Options{
	ClaimInterval:   250 * time.Millisecond,
	PromoteInterval: time.Second,
	PromoteBatch:    128,
	JanitorInterval: time.Minute,
	CleanBatch:      512,
	// Dead jobs are kept much longer than completed ones: they need
	// investigation before anyone prunes them.
	CompletedRetention: Retention{MaxCount: 1000, MaxAge: time.Hour},
	DeadRetention:      Retention{MaxCount: 5000, MaxAge: 7 * 24 * time.Hour},
	DefaultMaxAttempts: 3,
	BackoffBase:        2 * time.Second,
	BackoffGrowth:      2,
}
