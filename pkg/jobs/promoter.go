package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Promoter moves due delayed jobs into the waiting queue.
//
// It sleeps until the next known due time, bounded by PromoteInterval, so
// freshly delayed jobs from other instances are still picked up promptly.
// It is safe to run multiple instances on the same queue.
type Promoter struct {
	Log   *zap.Logger
	Queue *Queue
}

// Run promotes jobs until the context is canceled.
func (p *Promoter) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0 // retry forever
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.step(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			wait := bo.NextBackOff()
			p.Log.Warn("Promotion failed", zap.Error(err), zap.Duration("backoff", wait))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			continue
		}
		bo.Reset()
	}
}

// step promotes one batch and sleeps until the next due time.
func (p *Promoter) step(ctx context.Context) error {
	opts := p.Queue.Options
	// Script: Move due delayed jobs into the waiting queue.
	// Key 1: Delayed zset
	// Key 2: Waiting zset
	// Key 3: Sequence counter
	// Argument 1: Job hash prefix
	// Argument 2: Now (unix ms)
	// Argument 3: Batch size
	// Returns {promoted count, next due time or -1}.
	const promoteScript = `
local due = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[2], "LIMIT", 0, ARGV[3])
for i = 1, #due do
	local id = due[i]
	redis.call("ZREM", KEYS[1], id)
	local pri = redis.call("HGET", ARGV[1] .. id, "priority")
	if pri then
		local seq = redis.call("INCR", KEYS[3])
		redis.call("ZADD", KEYS[2], pri, string.format("%016d:%s", seq, id))
		redis.call("HSET", ARGV[1] .. id, "state", "waiting")
	end
end
local head = redis.call("ZRANGE", KEYS[1], 0, 0, "WITHSCORES")
local next_due = -1
if #head == 2 then
	next_due = tonumber(head[2])
end
return {#due, next_due}
`
	now := time.Now()
	res, err := p.Queue.Redis.Eval(ctx, promoteScript,
		[]string{p.Queue.Keys.Delayed, p.Queue.Keys.Waiting, p.Queue.Keys.Seq},
		p.Queue.Keys.JobPrefix, now.UnixMilli(), opts.PromoteBatch).Result()
	if err != nil {
		return fmt.Errorf("failed to promote jobs via Lua: %w", err)
	}
	parts, ok := res.([]interface{})
	if !ok || len(parts) != 2 {
		return fmt.Errorf("invalid return from promote: %#v", res)
	}
	promoted, _ := parts[0].(int64)
	nextDue, _ := parts[1].(int64)
	if promoted == int64(opts.PromoteBatch) {
		// A full batch means more jobs may already be due.
		return nil
	}
	sleep := opts.PromoteInterval
	if nextDue > 0 {
		if until := time.UnixMilli(nextDue).Sub(now); until < sleep {
			sleep = until
		}
	}
	if sleep <= 0 {
		return nil
	}
	timer := time.NewTimer(sleep)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
