package processors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.palytt.app/swarm/pkg/cache"
	"go.palytt.app/swarm/pkg/jobs"
	"go.palytt.app/swarm/pkg/redistest"
	"go.uber.org/zap/zaptest"
)

type fakePusher struct {
	pushes []fakePush
	err    error
}

type fakePush struct {
	userID string
	title  string
	body   string
	badge  int64
}

func (f *fakePusher) Push(ctx context.Context, userID, title, body string, badge int64) error {
	if f.err != nil {
		return f.err
	}
	f.pushes = append(f.pushes, fakePush{userID: userID, title: title, body: body, badge: badge})
	return nil
}

func newTestStore(ctx context.Context, t *testing.T) (*cache.Store, *redistest.Redis) {
	instance := redistest.NewRedis(ctx, t)
	store, err := cache.NewStore(zaptest.NewLogger(t), instance.Client, cache.DefaultOptions)
	require.NoError(t, err)
	return store, instance
}

func TestNotifierBumpsBadge(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store, instance := newTestStore(ctx, t)
	defer instance.Close(t)

	pusher := new(fakePusher)
	notifier := &Notifier{Log: zaptest.NewLogger(t), Cache: store, Pusher: pusher}
	job := &jobs.Job{Queue: QueueNotifications, ID: "n1", CreatedAt: time.Now()}

	payload := &NotificationPayload{UserID: "u1", Title: "New friend", Body: "Alex followed you"}
	require.NoError(t, notifier.Handle(ctx, job, payload))
	require.NoError(t, notifier.Handle(ctx, job, payload))

	require.Len(t, pusher.pushes, 2)
	assert.Equal(t, "u1", pusher.pushes[0].userID)
	assert.Equal(t, "New friend", pusher.pushes[0].title)
	// The badge counts up with every delivered notification.
	assert.Equal(t, int64(1), pusher.pushes[0].badge)
	assert.Equal(t, int64(2), pusher.pushes[1].badge)
}

func TestNotifierPushFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store, instance := newTestStore(ctx, t)
	defer instance.Close(t)

	pusher := &fakePusher{err: errors.New("gateway down")}
	notifier := &Notifier{Log: zaptest.NewLogger(t), Cache: store, Pusher: pusher}
	job := &jobs.Job{Queue: QueueNotifications, ID: "n1"}

	err := notifier.Handle(ctx, job, &NotificationPayload{UserID: "u1"})
	assert.ErrorContains(t, err, "gateway down")
}

func TestNotifierRejectsBadPayload(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store, instance := newTestStore(ctx, t)
	defer instance.Close(t)

	notifier := &Notifier{Log: zaptest.NewLogger(t), Cache: store, Pusher: new(fakePusher)}
	job := &jobs.Job{Queue: QueueNotifications, ID: "n1"}

	assert.Error(t, notifier.Handle(ctx, job, jobs.RawPayload{Type: "mystery"}))
	assert.Error(t, notifier.Handle(ctx, job, &NotificationPayload{}))
}
