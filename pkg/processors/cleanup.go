package processors

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.palytt.app/swarm/pkg/cache"
	"go.palytt.app/swarm/pkg/invalidation"
	"go.palytt.app/swarm/pkg/jobs"
	"go.uber.org/zap"
)

// KindCleanup is the payload kind of maintenance jobs.
const KindCleanup = "cleanup"

// Cleanup scopes.
const (
	ScopeSessions = "sessions" // purge expired session rows from MySQL
	ScopeCache    = "cache"    // purge temp:* cache entries on every instance
)

// CleanupPayload selects one maintenance scope to run.
type CleanupPayload struct {
	Scope string `json:"scope"`
}

// Kind implements jobs.Payload.
func (CleanupPayload) Kind() string { return KindCleanup }

// Janitor runs periodic maintenance: expired session rows and short-lived
// cache scratch entries.
type Janitor struct {
	Log   *zap.Logger
	DB    *sqlx.DB
	Cache *cache.Store
	Bus   *invalidation.Bus
}

// Handle runs one maintenance job.
func (j *Janitor) Handle(ctx context.Context, job *jobs.Job, payload jobs.Payload) error {
	cleanup, ok := payload.(*CleanupPayload)
	if !ok {
		return fmt.Errorf("unexpected payload kind %q", payload.Kind())
	}
	switch cleanup.Scope {
	case ScopeSessions:
		return j.cleanSessions(ctx)
	case ScopeCache:
		return j.cleanCache(ctx)
	default:
		return fmt.Errorf("unknown cleanup scope %q", cleanup.Scope)
	}
}

func (j *Janitor) cleanSessions(ctx context.Context) error {
	// language=MariaDB
	const stmt = `DELETE FROM sessions WHERE expires_at < NOW();`
	res, err := j.DB.ExecContext(ctx, stmt)
	if err != nil {
		return fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	if removed, err := res.RowsAffected(); err == nil && removed > 0 {
		j.Log.Info("Purged expired sessions", zap.Int64("removed", removed))
	}
	return nil
}

func (j *Janitor) cleanCache(ctx context.Context) error {
	removed := j.Cache.DeletePattern(ctx, cache.TempPattern)
	if removed > 0 {
		j.Log.Info("Purged temporary cache entries", zap.Int("removed", removed))
	}
	// Peer instances hold their own fallback copies.
	if err := j.Bus.Publish(ctx, invalidation.Message{
		Kind:  invalidation.KindPattern,
		Value: cache.TempPattern,
	}); err != nil {
		return fmt.Errorf("failed to broadcast cache cleanup: %w", err)
	}
	return nil
}
