package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.palytt.app/swarm/pkg/redistest"
	"go.uber.org/zap/zaptest"
)

type notePayload struct {
	Text string `json:"text"`
}

func (notePayload) Kind() string { return "note" }

func testOptions() Options {
	opts := DefaultOptions
	opts.ClaimInterval = 20 * time.Millisecond
	opts.PromoteInterval = 50 * time.Millisecond
	opts.JanitorInterval = time.Hour
	opts.BackoffBase = 50 * time.Millisecond
	opts.BackoffGrowth = 1
	return opts
}

func newTestQueue(ctx context.Context, t *testing.T) (*Queue, *redistest.Redis, *Options) {
	instance := redistest.NewRedis(ctx, t)
	opts := testOptions()
	queue := NewQueue(zaptest.NewLogger(t), instance.Client, "test", &opts)
	return queue, instance, &opts
}

func TestEnqueueIdempotent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	queue, instance, _ := newTestQueue(ctx, t)
	defer instance.Close(t)

	h1 := queue.Enqueue(ctx, notePayload{Text: "a"}, EnqueueOptions{JobID: "j1"})
	require.NotNil(t, h1)
	h2 := queue.Enqueue(ctx, notePayload{Text: "b"}, EnqueueOptions{JobID: "j1"})
	require.NotNil(t, h2)
	assert.Equal(t, h1.ID, h2.ID)

	stats, err := queue.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Waiting)
	// The first payload wins.
	job, err := queue.GetJob(ctx, "j1")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.JSONEq(t, `{"text":"a"}`, string(job.Payload))
}

func TestClaimPriorityOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	queue, instance, _ := newTestQueue(ctx, t)
	defer instance.Close(t)

	require.NotNil(t, queue.Enqueue(ctx, notePayload{Text: "low"}, EnqueueOptions{JobID: "low", Priority: 10}))
	require.NotNil(t, queue.Enqueue(ctx, notePayload{Text: "high"}, EnqueueOptions{JobID: "high", Priority: 1}))

	first, err := queue.claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "high", first.ID)
	assert.Equal(t, StateActive, first.State)
	assert.Equal(t, uint(1), first.Attempts)

	second, err := queue.claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, "low", second.ID)

	third, err := queue.claim(ctx)
	require.NoError(t, err)
	assert.Nil(t, third)
}

func TestClaimFIFOWithinPriority(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	queue, instance, _ := newTestQueue(ctx, t)
	defer instance.Close(t)

	for _, id := range []string{"a", "b", "c"} {
		require.NotNil(t, queue.Enqueue(ctx, notePayload{Text: id}, EnqueueOptions{JobID: id, Priority: 5}))
	}
	var order []string
	for i := 0; i < 3; i++ {
		job, err := queue.claim(ctx)
		require.NoError(t, err)
		require.NotNil(t, job)
		order = append(order, job.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestDelayedPromotion(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	queue, instance, _ := newTestQueue(ctx, t)
	defer instance.Close(t)

	require.NotNil(t, queue.Enqueue(ctx, notePayload{}, EnqueueOptions{JobID: "later", Delay: 200 * time.Millisecond}))
	job, err := queue.claim(ctx)
	require.NoError(t, err)
	assert.Nil(t, job, "delayed job must not be claimable before its due time")

	promoter := &Promoter{Log: zaptest.NewLogger(t), Queue: queue}
	go func() { _ = promoter.Run(ctx) }()

	require.Eventually(t, func() bool {
		job, err := queue.claim(ctx)
		require.NoError(t, err)
		return job != nil && job.ID == "later"
	}, 2*time.Second, 20*time.Millisecond)
}

func TestPauseResume(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	queue, instance, _ := newTestQueue(ctx, t)
	defer instance.Close(t)

	require.NotNil(t, queue.Enqueue(ctx, notePayload{}, EnqueueOptions{JobID: "j1"}))
	require.NoError(t, queue.Pause(ctx))
	job, err := queue.claim(ctx)
	require.NoError(t, err)
	assert.Nil(t, job, "paused queue must not hand out jobs")

	require.NoError(t, queue.Resume(ctx))
	job, err = queue.claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "j1", job.ID)
}

func TestCompleteRetentionCount(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	queue, instance, opts := newTestQueue(ctx, t)
	defer instance.Close(t)
	opts.CompletedRetention.MaxCount = 2

	for _, id := range []string{"a", "b", "c"} {
		require.NotNil(t, queue.Enqueue(ctx, notePayload{}, EnqueueOptions{JobID: id}))
		job, err := queue.claim(ctx)
		require.NoError(t, err)
		require.NotNil(t, job)
		require.NoError(t, queue.completeJob(ctx, job))
	}
	stats, err := queue.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Completed)
	// The oldest completed job and its hash are pruned.
	job, err := queue.GetJob(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestClean(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	queue, instance, _ := newTestQueue(ctx, t)
	defer instance.Close(t)

	for _, id := range []string{"a", "b"} {
		require.NotNil(t, queue.Enqueue(ctx, notePayload{}, EnqueueOptions{JobID: id}))
		job, err := queue.claim(ctx)
		require.NoError(t, err)
		require.NotNil(t, job)
		require.NoError(t, queue.completeJob(ctx, job))
	}
	// Nothing is old enough yet.
	removed, err := queue.Clean(ctx, time.Hour, StateCompleted)
	require.NoError(t, err)
	assert.Equal(t, int64(0), removed)
	// A zero grace period purges everything terminal.
	removed, err = queue.Clean(ctx, 0, StateCompleted)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	_, err = queue.Clean(ctx, 0, StateWaiting)
	assert.Error(t, err)
}

func TestRemove(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	queue, instance, _ := newTestQueue(ctx, t)
	defer instance.Close(t)

	require.NotNil(t, queue.Enqueue(ctx, notePayload{}, EnqueueOptions{JobID: "waiting"}))
	require.NotNil(t, queue.Enqueue(ctx, notePayload{}, EnqueueOptions{JobID: "delayed", Delay: time.Hour}))

	removed, err := queue.Remove(ctx, "waiting")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = queue.Remove(ctx, "delayed")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = queue.Remove(ctx, "unknown")
	require.NoError(t, err)
	assert.False(t, removed)

	stats, err := queue.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Waiting)
	assert.Equal(t, int64(0), stats.Delayed)
}

func TestEnqueueDegraded(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	queue, instance, _ := newTestQueue(ctx, t)
	defer instance.Close(t)

	instance.Kill(t)
	// Degraded mode returns a nil handle, never an error.
	handle := queue.Enqueue(ctx, notePayload{}, EnqueueOptions{JobID: "j1"})
	assert.Nil(t, handle)
}
