// Package cache provides the two-tier read-through cache shared by all
// instances.
//
// Components
//
// The shared Redis backend is the source of truth. Every instance also keeps
// a small bounded in-process fallback that serves reads and absorbs writes
// while the backend is unreachable. Coherency of the fallback across
// instances is maintained by the invalidation package, not by this one.
//
// Properties
//
// Backend outages never surface as errors: reads degrade to the fallback (or
// a miss), writes degrade to the fallback, and the store flips back to the
// backend as soon as a probe succeeds. TTLs are enforced lazily on read and
// eagerly by a periodic sweep.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// minTTL is the clamp applied to zero or negative caller TTLs.
const minTTL = time.Second

// writeBackTimeout bounds asynchronous cache writes spawned by GetOrSet.
const writeBackTimeout = 5 * time.Second

// Options holds cache store settings.
type Options struct {
	FallbackSize  int           // max entries in the local fallback
	ScanBatch     int64         // SCAN page size for pattern deletes
	SweepInterval time.Duration // fallback sweep and backend probe interval
}

// DefaultOptions returns the default cache options.
// Only pass by value, not reference, to avoid modifying this globally.
var DefaultOptions = Options{
	FallbackSize:  4096,
	ScanBatch:     512,
	SweepInterval: 30 * time.Second,
}

// Stats reports cache store health.
type Stats struct {
	BackendAvailable bool
	ApproxKeys       int64
	FallbackSize     int
	FallbackMaxSize  int
}

// Store is a two-tier cache over a shared Redis backend.
// All methods are safe for concurrent use.
type Store struct {
	Log     *zap.Logger
	Redis   *redis.Client
	Options Options

	fallback *fallback
	down     int32 // atomic: 1 while the backend is considered unreachable
	writes   sync.WaitGroup
}

// NewStore creates a cache store.
func NewStore(log *zap.Logger, rd *redis.Client, opts Options) (*Store, error) {
	fb, err := newFallback(opts.FallbackSize)
	if err != nil {
		return nil, err
	}
	return &Store{Log: log, Redis: rd, Options: opts, fallback: fb}, nil
}

// Available reports whether the shared backend is considered reachable.
func (s *Store) Available() bool {
	return atomic.LoadInt32(&s.down) == 0
}

func (s *Store) markUp() {
	if atomic.CompareAndSwapInt32(&s.down, 1, 0) {
		s.Log.Info("Cache backend available again")
	}
}

func (s *Store) markDown(err error) {
	if atomic.CompareAndSwapInt32(&s.down, 0, 1) {
		s.Log.Warn("Cache backend unavailable, serving from fallback", zap.Error(err))
	}
}

// Get reads a key into dest. Returns false on a miss.
// Backend errors degrade to the local fallback, never to the caller.
func (s *Store) Get(ctx context.Context, key string, dest interface{}) bool {
	buf, err := s.Redis.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		s.markUp()
	case errors.Is(err, redis.Nil):
		s.markUp()
		return false
	default:
		s.markDown(err)
		var ok bool
		buf, ok = s.fallback.get(key, time.Now())
		if !ok {
			return false
		}
	}
	if err := json.Unmarshal(buf, dest); err != nil {
		// A value that fails to decode is a miss.
		s.Log.Warn("Dropping undecodable cache value", zap.String("key", key), zap.Error(err))
		s.Delete(ctx, key)
		return false
	}
	return true
}

// Set writes a key with a TTL. Returns true when the shared backend accepted
// the write; degraded writes land in the local fallback and return false.
func (s *Store) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) bool {
	buf, err := json.Marshal(value)
	if err != nil {
		s.Log.Error("Failed to encode cache value", zap.String("key", key), zap.Error(err))
		return false
	}
	return s.setBytes(ctx, key, buf, ttl)
}

func (s *Store) setBytes(ctx context.Context, key string, buf []byte, ttl time.Duration) bool {
	ttl = s.clampTTL(key, ttl)
	if err := s.Redis.Set(ctx, key, buf, ttl).Err(); err != nil {
		s.markDown(err)
		s.fallback.set(key, buf, ttl, time.Now())
		return false
	}
	s.markUp()
	return true
}

func (s *Store) clampTTL(key string, ttl time.Duration) time.Duration {
	if ttl < minTTL {
		s.Log.Debug("Clamping cache TTL", zap.String("key", key), zap.Duration("ttl", ttl))
		return minTTL
	}
	return ttl
}

// Delete removes a key from both tiers. Deleting an absent key is a no-op.
func (s *Store) Delete(ctx context.Context, key string) {
	if err := s.Redis.Del(ctx, key).Err(); err != nil {
		s.markDown(err)
	} else {
		s.markUp()
	}
	s.fallback.delete(key)
}

// DeletePattern removes all keys matching the glob from both tiers and
// returns the number of distinct keys removed. The backend is scanned in
// bounded batches to avoid long blocking sweeps.
func (s *Store) DeletePattern(ctx context.Context, pattern string) int {
	removed := make(map[string]struct{})
	var cursor uint64
	for {
		keys, next, err := s.Redis.Scan(ctx, cursor, pattern, s.Options.ScanBatch).Result()
		if err != nil {
			s.markDown(err)
			break
		}
		s.markUp()
		if len(keys) > 0 {
			if err := s.Redis.Del(ctx, keys...).Err(); err != nil {
				s.markDown(err)
				break
			}
			for _, key := range keys {
				removed[key] = struct{}{}
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	for _, key := range s.fallback.deletePattern(pattern) {
		removed[key] = struct{}{}
	}
	return len(removed)
}

// Increment atomically bumps a counter. The TTL applies only when this is the
// first increment of a fresh key. Falls back to a non-atomic local increment
// when the backend is unreachable.
func (s *Store) Increment(ctx context.Context, key string, ttl time.Duration) int64 {
	ttl = s.clampTTL(key, ttl)
	value, err := s.Redis.Incr(ctx, key).Result()
	if err != nil {
		s.markDown(err)
		return s.fallback.increment(key, ttl, time.Now())
	}
	s.markUp()
	if value == 1 {
		if err := s.Redis.Expire(ctx, key, ttl).Err(); err != nil {
			s.Log.Warn("Failed to set counter TTL", zap.String("key", key), zap.Error(err))
		}
	}
	return value
}

// GetOrSet implements the cache-aside pattern. On a miss, fetch must populate
// dest; its result is returned to the caller immediately and persisted to the
// cache in the background. Background write failures are logged, never
// propagated: the caller already holds the correct value.
func (s *Store) GetOrSet(ctx context.Context, key string, ttl time.Duration, dest interface{}, fetch func() error) error {
	if s.Get(ctx, key, dest) {
		return nil
	}
	if err := fetch(); err != nil {
		return err
	}
	buf, err := json.Marshal(dest)
	if err != nil {
		s.Log.Error("Failed to encode fetched value", zap.String("key", key), zap.Error(err))
		return nil
	}
	s.writes.Add(1)
	go func() {
		defer s.writes.Done()
		writeCtx, cancel := context.WithTimeout(context.Background(), writeBackTimeout)
		defer cancel()
		if !s.setBytes(writeCtx, key, buf, ttl) {
			s.Log.Warn("Cache write-back degraded to fallback", zap.String("key", key))
		}
	}()
	return nil
}

// GetMultiple reads several keys at once. Misses are omitted from the result.
func (s *Store) GetMultiple(ctx context.Context, keys []string) map[string]json.RawMessage {
	found := make(map[string]json.RawMessage, len(keys))
	values, err := s.Redis.MGet(ctx, keys...).Result()
	if err != nil {
		s.markDown(err)
		now := time.Now()
		for _, key := range keys {
			if buf, ok := s.fallback.get(key, now); ok {
				found[key] = json.RawMessage(buf)
			}
		}
		return found
	}
	s.markUp()
	for i, value := range values {
		if str, ok := value.(string); ok {
			found[keys[i]] = json.RawMessage(str)
		}
	}
	return found
}

// SetMultiple writes several keys with a shared TTL.
// Returns true when the shared backend accepted all writes.
func (s *Store) SetMultiple(ctx context.Context, values map[string]interface{}, ttl time.Duration) bool {
	encoded := make(map[string][]byte, len(values))
	for key, value := range values {
		buf, err := json.Marshal(value)
		if err != nil {
			s.Log.Error("Failed to encode cache value", zap.String("key", key), zap.Error(err))
			continue
		}
		encoded[key] = buf
	}
	ok := true
	for key, buf := range encoded {
		if !s.setBytes(ctx, key, buf, ttl) {
			ok = false
		}
	}
	return ok
}

// GetStats reports backend availability and size estimates.
func (s *Store) GetStats(ctx context.Context) Stats {
	stats := Stats{
		BackendAvailable: s.Available(),
		FallbackSize:     s.fallback.len(),
		FallbackMaxSize:  s.Options.FallbackSize,
	}
	if keys, err := s.Redis.DBSize(ctx).Result(); err == nil {
		stats.ApproxKeys = keys
	}
	return stats
}

// Run sweeps expired fallback entries and probes the backend until the
// context is canceled.
func (s *Store) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.Options.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if removed := s.fallback.sweep(time.Now()); removed > 0 {
				s.Log.Debug("Swept expired fallback entries", zap.Int("removed", removed))
			}
			if !s.Available() {
				if err := s.Redis.Ping(ctx).Err(); err == nil {
					s.markUp()
				}
			}
		}
	}
}

// Close waits for outstanding background cache writes.
func (s *Store) Close() {
	s.writes.Wait()
}
