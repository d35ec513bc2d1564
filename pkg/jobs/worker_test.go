package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.palytt.app/swarm/pkg/redistest"
	"go.uber.org/zap/zaptest"
)

func newTestRegistry(ctx context.Context, t *testing.T) (*Registry, *redistest.Redis) {
	instance := redistest.NewRedis(ctx, t)
	opts := testOptions()
	reg := NewRegistry(zaptest.NewLogger(t), instance.Client, &opts)
	reg.RegisterPayload("note", func() Payload { return new(notePayload) })
	return reg, instance
}

func TestWorkerRetriesThenCompletes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reg, instance := newTestRegistry(ctx, t)
	defer instance.Close(t)

	var mu sync.Mutex
	var invocations []time.Time
	reg.RegisterWorker("test", func(ctx context.Context, job *Job, payload Payload) error {
		note, ok := payload.(*notePayload)
		require.True(t, ok)
		assert.Equal(t, "flaky", note.Text)
		mu.Lock()
		defer mu.Unlock()
		invocations = append(invocations, time.Now())
		if len(invocations) < 3 {
			return errors.New("transient failure")
		}
		return nil
	}, WorkerConfig{Concurrency: 1})
	reg.Start()
	defer func() { require.NoError(t, reg.Close()) }()

	handle := reg.Enqueue(ctx, "test", notePayload{Text: "flaky"}, EnqueueOptions{JobID: "flaky", MaxAttempts: 3})
	require.NotNil(t, handle)

	require.Eventually(t, func() bool {
		job, err := reg.Queue("test").GetJob(ctx, "flaky")
		require.NoError(t, err)
		return job != nil && job.State == StateCompleted
	}, 5*time.Second, 25*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, invocations, 3)
	// Backoff delays are scheduled minimums, so observed gaps are
	// non-decreasing: base*1, then base*2.
	gap1 := invocations[1].Sub(invocations[0])
	gap2 := invocations[2].Sub(invocations[1])
	assert.GreaterOrEqual(t, gap1, 50*time.Millisecond)
	assert.GreaterOrEqual(t, gap2, 100*time.Millisecond)
	assert.GreaterOrEqual(t, gap2, gap1)
}

func TestWorkerDeadLettersAfterMaxAttempts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reg, instance := newTestRegistry(ctx, t)
	defer instance.Close(t)

	var invocations int32
	reg.RegisterWorker("test", func(ctx context.Context, job *Job, payload Payload) error {
		atomic.AddInt32(&invocations, 1)
		return errors.New("permanent failure")
	}, WorkerConfig{Concurrency: 1})
	reg.Start()
	defer func() { require.NoError(t, reg.Close()) }()

	require.NotNil(t, reg.Enqueue(ctx, "test", notePayload{}, EnqueueOptions{JobID: "doomed", MaxAttempts: 2}))

	require.Eventually(t, func() bool {
		job, err := reg.Queue("test").GetJob(ctx, "doomed")
		require.NoError(t, err)
		return job != nil && job.State == StateDead
	}, 5*time.Second, 25*time.Millisecond)
	assert.Equal(t, int32(2), atomic.LoadInt32(&invocations))
	assert.Equal(t, "permanent failure", mustGetJob(t, ctx, reg, "test", "doomed").LastError)

	// Dead jobs are never re-executed automatically.
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int32(2), atomic.LoadInt32(&invocations))
	stats, err := reg.Queue("test").GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Failed)
}

func TestWorkerPanicFeedsRetryPath(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reg, instance := newTestRegistry(ctx, t)
	defer instance.Close(t)

	reg.RegisterWorker("test", func(ctx context.Context, job *Job, payload Payload) error {
		panic("boom")
	}, WorkerConfig{Concurrency: 1})
	reg.Start()
	defer func() { require.NoError(t, reg.Close()) }()

	require.NotNil(t, reg.Enqueue(ctx, "test", notePayload{}, EnqueueOptions{JobID: "panicky", MaxAttempts: 1}))
	require.Eventually(t, func() bool {
		job, err := reg.Queue("test").GetJob(ctx, "panicky")
		require.NoError(t, err)
		return job != nil && job.State == StateDead
	}, 5*time.Second, 25*time.Millisecond)
	assert.Contains(t, mustGetJob(t, ctx, reg, "test", "panicky").LastError, "handler panic")
}

func TestWorkerConcurrencyBound(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reg, instance := newTestRegistry(ctx, t)
	defer instance.Close(t)

	release := make(chan struct{})
	var active, maxActive int32
	reg.RegisterWorker("test", func(ctx context.Context, job *Job, payload Payload) error {
		now := atomic.AddInt32(&active, 1)
		for {
			seen := atomic.LoadInt32(&maxActive)
			if now <= seen || atomic.CompareAndSwapInt32(&maxActive, seen, now) {
				break
			}
		}
		<-release
		atomic.AddInt32(&active, -1)
		return nil
	}, WorkerConfig{Concurrency: 2})
	reg.Start()
	defer func() { require.NoError(t, reg.Close()) }()

	for _, id := range []string{"a", "b", "c"} {
		require.NotNil(t, reg.Enqueue(ctx, "test", notePayload{}, EnqueueOptions{JobID: id}))
	}
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&active) == 2
	}, 2*time.Second, 10*time.Millisecond)
	// The third job must wait while both slots are busy.
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(2), atomic.LoadInt32(&maxActive))
	close(release)

	require.Eventually(t, func() bool {
		stats, err := reg.Queue("test").GetStats(ctx)
		require.NoError(t, err)
		return stats.Completed == 3
	}, 5*time.Second, 25*time.Millisecond)
	assert.Equal(t, int32(2), atomic.LoadInt32(&maxActive))
}

func TestWorkerRecurringJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reg, instance := newTestRegistry(ctx, t)
	defer instance.Close(t)

	var invocations int32
	reg.RegisterWorker("test", func(ctx context.Context, job *Job, payload Payload) error {
		atomic.AddInt32(&invocations, 1)
		return nil
	}, WorkerConfig{Concurrency: 1})
	reg.Start()
	defer func() { require.NoError(t, reg.Close()) }()

	require.NotNil(t, reg.Enqueue(ctx, "test", notePayload{}, EnqueueOptions{
		JobID:  "tick",
		Repeat: &Repeat{Every: 150 * time.Millisecond, Limit: 2},
	}))
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&invocations) == 2
	}, 5*time.Second, 25*time.Millisecond)
	// The repeat limit stops further executions.
	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, int32(2), atomic.LoadInt32(&invocations))
}

func TestRegisterWorkerTwice(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reg, instance := newTestRegistry(ctx, t)
	defer instance.Close(t)

	handler := func(ctx context.Context, job *Job, payload Payload) error { return nil }
	w1 := reg.RegisterWorker("test", handler, WorkerConfig{Concurrency: 1})
	w2 := reg.RegisterWorker("test", handler, WorkerConfig{Concurrency: 4})
	assert.Same(t, w1, w2)
	assert.Equal(t, uint(1), w2.Concurrency)
}

func TestBackendAvailable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reg, instance := newTestRegistry(ctx, t)
	defer instance.Close(t)

	assert.True(t, reg.BackendAvailable(ctx))
	instance.Kill(t)
	assert.False(t, reg.BackendAvailable(ctx))
	assert.Nil(t, reg.Enqueue(ctx, "test", notePayload{}, EnqueueOptions{}))
}

func mustGetJob(t *testing.T, ctx context.Context, reg *Registry, queue, id string) *Job {
	job, err := reg.Queue(queue).GetJob(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, job)
	return job
}
