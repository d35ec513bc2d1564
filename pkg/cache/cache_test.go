package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.palytt.app/swarm/pkg/redistest"
	"go.uber.org/zap/zaptest"
)

func newTestStore(ctx context.Context, t *testing.T) (*Store, *redistest.Redis) {
	instance := redistest.NewRedis(ctx, t)
	opts := DefaultOptions
	opts.FallbackSize = 64
	opts.SweepInterval = 50 * time.Millisecond
	store, err := NewStore(zaptest.NewLogger(t), instance.Client, opts)
	require.NoError(t, err)
	return store, instance
}

func TestStoreRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store, instance := newTestStore(ctx, t)
	defer instance.Close(t)

	type profile struct {
		Name    string `json:"name"`
		Friends int    `json:"friends"`
	}
	require.True(t, store.Set(ctx, UserProfileKey("u1"), profile{Name: "ada", Friends: 3}, time.Minute))
	var got profile
	require.True(t, store.Get(ctx, UserProfileKey("u1"), &got))
	assert.Equal(t, profile{Name: "ada", Friends: 3}, got)
	// Unknown key misses.
	assert.False(t, store.Get(ctx, UserProfileKey("u2"), &got))
}

func TestStoreTTLExpiry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store, instance := newTestStore(ctx, t)
	defer instance.Close(t)

	require.True(t, store.Set(ctx, "k", "v", time.Second))
	var got string
	require.True(t, store.Get(ctx, "k", &got))
	time.Sleep(1100 * time.Millisecond)
	assert.False(t, store.Get(ctx, "k", &got))
}

func TestStoreDeletePattern(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store, instance := newTestStore(ctx, t)
	defer instance.Close(t)

	require.True(t, store.Set(ctx, "user:42:posts", 1, time.Minute))
	require.True(t, store.Set(ctx, "user:42:friends", 2, time.Minute))
	require.True(t, store.Set(ctx, "user:7:posts", 3, time.Minute))
	assert.Equal(t, 2, store.DeletePattern(ctx, "user:42:*"))
	var got int
	assert.False(t, store.Get(ctx, "user:42:posts", &got))
	assert.True(t, store.Get(ctx, "user:7:posts", &got))
}

func TestStoreIncrement(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store, instance := newTestStore(ctx, t)
	defer instance.Close(t)

	assert.Equal(t, int64(1), store.Increment(ctx, "hits", 10*time.Second))
	assert.Equal(t, int64(2), store.Increment(ctx, "hits", 10*time.Second))
	ttl, err := instance.Client.TTL(ctx, "hits").Result()
	require.NoError(t, err)
	// TTL set on first increment, not refreshed by the second.
	assert.True(t, ttl > 0 && ttl <= 10*time.Second)
}

func TestStoreGetOrSet(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store, instance := newTestStore(ctx, t)
	defer instance.Close(t)

	var calls int
	fetchInto := func(dest *string) func() error {
		return func() error {
			calls++
			*dest = "fetched"
			return nil
		}
	}
	var v1 string
	require.NoError(t, store.GetOrSet(ctx, "k", time.Minute, &v1, fetchInto(&v1)))
	assert.Equal(t, "fetched", v1)
	assert.Equal(t, 1, calls)
	// The write-back is asynchronous; wait for the cached copy.
	require.Eventually(t, func() bool {
		var v string
		return store.Get(ctx, "k", &v)
	}, time.Second, 10*time.Millisecond)
	var v2 string
	require.NoError(t, store.GetOrSet(ctx, "k", time.Minute, &v2, fetchInto(&v2)))
	assert.Equal(t, "fetched", v2)
	assert.Equal(t, 1, calls, "second call within TTL must not fetch")
}

func TestStoreMultiple(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store, instance := newTestStore(ctx, t)
	defer instance.Close(t)

	require.True(t, store.SetMultiple(ctx, map[string]interface{}{
		"a": 1,
		"b": 2,
	}, time.Minute))
	found := store.GetMultiple(ctx, []string{"a", "b", "c"})
	assert.Len(t, found, 2)
	assert.JSONEq(t, "1", string(found["a"]))
	assert.JSONEq(t, "2", string(found["b"]))
}

func TestStoreDegradedMode(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store, instance := newTestStore(ctx, t)
	defer instance.Close(t)

	instance.Kill(t)
	// Writes land in the fallback and reads serve from it; no errors surface.
	assert.False(t, store.Set(ctx, "k", "v", time.Minute))
	assert.False(t, store.Available())
	var got string
	require.True(t, store.Get(ctx, "k", &got))
	assert.Equal(t, "v", got)
	assert.Equal(t, int64(1), store.Increment(ctx, "hits", time.Minute))
	assert.Equal(t, 1, store.DeletePattern(ctx, "k*"))
	assert.False(t, store.Get(ctx, "k", &got))

	stats := store.GetStats(ctx)
	assert.False(t, stats.BackendAvailable)
	assert.Equal(t, 64, stats.FallbackMaxSize)
}

func TestStoreRunSweeps(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store, instance := newTestStore(ctx, t)
	defer instance.Close(t)

	go func() { _ = store.Run(ctx) }()
	store.fallback.set("stale", []byte("1"), time.Millisecond, time.Now())
	require.Eventually(t, func() bool {
		return store.fallback.len() == 0
	}, time.Second, 20*time.Millisecond)
}
