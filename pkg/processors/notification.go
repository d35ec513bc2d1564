package processors

import (
	"context"
	"fmt"
	"time"

	"go.palytt.app/swarm/pkg/cache"
	"go.palytt.app/swarm/pkg/jobs"
	"go.uber.org/zap"
)

// KindNotification is the payload kind of push notification jobs.
const KindNotification = "notification"

// unreadTTL bounds how long an untouched unread counter survives.
const unreadTTL = 30 * 24 * time.Hour

// NotificationPayload describes one push notification to deliver.
type NotificationPayload struct {
	UserID string `json:"user_id"`
	Title  string `json:"title"`
	Body   string `json:"body"`
}

// Kind implements jobs.Payload.
func (NotificationPayload) Kind() string { return KindNotification }

// Pusher delivers a notification to a user's registered devices.
type Pusher interface {
	Push(ctx context.Context, userID, title, body string, badge int64) error
}

// Notifier delivers push notifications and maintains per-user unread
// counters.
type Notifier struct {
	Log    *zap.Logger
	Cache  *cache.Store
	Pusher Pusher
}

// Handle processes one notification job. The unread counter is bumped before
// the push so the badge number reflects this notification; a failed push
// leaves the counter bumped, which is acceptable because the notification is
// retried and counters are reset when the user opens the app.
func (n *Notifier) Handle(ctx context.Context, job *jobs.Job, payload jobs.Payload) error {
	note, ok := payload.(*NotificationPayload)
	if !ok {
		return fmt.Errorf("unexpected payload kind %q", payload.Kind())
	}
	if note.UserID == "" {
		return fmt.Errorf("notification without user ID")
	}
	badge := n.Cache.Increment(ctx, cache.UnreadCountKey(note.UserID), unreadTTL)
	if err := n.Pusher.Push(ctx, note.UserID, note.Title, note.Body, badge); err != nil {
		return fmt.Errorf("push failed: %w", err)
	}
	n.Log.Debug("Delivered notification",
		zap.String("user_id", note.UserID),
		zap.Int64("badge", badge))
	return nil
}
