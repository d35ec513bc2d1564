// Package ratelimit bounds job starts per time window.
//
// The limiter is a throughput governor layered over a worker pool's
// concurrency bound: concurrency caps simultaneous jobs, the limiter caps
// starts per window. Jobs over budget are delayed, never dropped.
package ratelimit

import (
	"sync/atomic"
	"time"
)

// Limiter is a best-effort, lock-free sliding-window rate limiter.
//
// Algorithm: https://blog.cloudflare.com/counting-things-a-lot-of-different-things/
type Limiter struct {
	max    int64 // max starts per window
	window int64 // window size in seconds
	epoch  int64 // window offset
	w0, w1 int64 // previous and current window counters
}

// NewLimiter creates a limiter allowing max starts per window.
// The window is rounded down to whole seconds, minimum one second.
func NewLimiter(max int64, window time.Duration) *Limiter {
	secs := int64(window / time.Second)
	if secs < 1 {
		secs = 1
	}
	return &Limiter{max: max, window: secs}
}

// Reserve registers n starts at the given unix time and returns the duration
// the caller must wait before the starts fit the budget.
// Safe to call from multiple goroutines at the same time.
func (l *Limiter) Reserve(unix int64, n int64) time.Duration {
	epoch := unix / l.window
	fastPath := true
	var w0, w1 int64
	for {
		// Shift the windows when a new epoch begins.
		savedEpoch := atomic.LoadInt64(&l.epoch)
		if savedEpoch >= epoch {
			break // fast path
		}
		fastPath = false
		if !atomic.CompareAndSwapInt64(&l.epoch, savedEpoch, epoch) {
			continue
		}
		if savedEpoch+1 == epoch {
			w1 = n
			w0 = atomic.SwapInt64(&l.w1, w1)
			atomic.StoreInt64(&l.w0, w0)
		} else {
			atomic.StoreInt64(&l.w0, 0)
			atomic.StoreInt64(&l.w1, 0)
		}
	}
	if fastPath {
		w1 = atomic.AddInt64(&l.w1, n)
		w0 = atomic.LoadInt64(&l.w0)
	}
	// Estimate usage across the sliding window.
	offset := 1.0 - float32(unix%l.window)/float32(l.window)
	usage := offset*float32(w0) + float32(w1)
	rate := usage / float32(l.window)
	target := float32(l.max) / float32(l.window)
	if rate <= target {
		return 0
	}
	wait := float32(l.window) * (rate - target)
	return time.Duration(wait * float32(time.Second))
}
