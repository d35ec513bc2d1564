package processors

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.palytt.app/swarm/pkg/cache"
	"go.palytt.app/swarm/pkg/invalidation"
	"go.palytt.app/swarm/pkg/jobs"
	"go.palytt.app/swarm/pkg/mariadbtest"
	"go.uber.org/zap/zaptest"
)

func TestJanitorCleanSessions(t *testing.T) {
	backend := mariadbtest.Default(t)
	defer backend.Close(t)
	ctx := context.Background()

	rawDB, err := backend.DB("")
	require.NoError(t, err)
	db := sqlx.NewDb(rawDB, "mysql")
	defer db.Close()

	_, err = db.ExecContext(ctx, `CREATE TABLE sessions (
	token CHAR(32) NOT NULL PRIMARY KEY,
	user_id BIGINT UNSIGNED NOT NULL,
	expires_at DATETIME NOT NULL
);`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx,
		`INSERT INTO sessions (token, user_id, expires_at) VALUES
	('stale', 1, NOW() - INTERVAL 1 DAY),
	('fresh', 2, NOW() + INTERVAL 1 DAY);`)
	require.NoError(t, err)

	janitor := &Janitor{Log: zaptest.NewLogger(t), DB: db}
	job := &jobs.Job{Queue: QueueCleanup, ID: "c1"}
	require.NoError(t, janitor.Handle(ctx, job, &CleanupPayload{Scope: ScopeSessions}))

	var remaining []string
	require.NoError(t, db.SelectContext(ctx, &remaining, `SELECT token FROM sessions;`))
	assert.Equal(t, []string{"fresh"}, remaining)
}

func TestJanitorCleanCache(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store, instance := newTestStore(ctx, t)
	defer instance.Close(t)

	require.True(t, store.Set(ctx, "temp:upload:1", "chunk", time.Minute))
	require.True(t, store.Set(ctx, "temp:upload:2", "chunk", time.Minute))
	require.True(t, store.Set(ctx, cache.PostKey("p1"), "post", time.Minute))

	bus := &invalidation.Bus{
		Log:       zaptest.NewLogger(t),
		Redis:     instance.Client,
		Cache:     store,
		StreamKey: "invalidation",
		Backlog:   128,
	}
	janitor := &Janitor{Log: zaptest.NewLogger(t), Cache: store, Bus: bus}
	job := &jobs.Job{Queue: QueueCleanup, ID: "c1"}
	require.NoError(t, janitor.Handle(ctx, job, &CleanupPayload{Scope: ScopeCache}))

	var out string
	assert.False(t, store.Get(ctx, "temp:upload:1", &out))
	assert.False(t, store.Get(ctx, "temp:upload:2", &out))
	assert.True(t, store.Get(ctx, cache.PostKey("p1"), &out))

	// The purge is announced to peer instances.
	entries, err := instance.Client.XRange(ctx, "invalidation", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "pattern", entries[0].Values["kind"])
	assert.Equal(t, cache.TempPattern, entries[0].Values["value"])
}

func TestJanitorUnknownScope(t *testing.T) {
	janitor := &Janitor{Log: zaptest.NewLogger(t)}
	job := &jobs.Job{Queue: QueueCleanup, ID: "c1"}
	assert.Error(t, janitor.Handle(context.Background(), job, &CleanupPayload{Scope: "moon"}))
}
