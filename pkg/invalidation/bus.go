// Package invalidation broadcasts cache-invalidation events to every running
// instance.
//
// The bus is a capped Redis stream: publishers append invalidation messages,
// and each instance tails the stream and applies the deletions to its own
// cache store (shared tier plus instance-private fallback). Delivery is
// best-effort and at-least-once; applying a message is idempotent because
// deleting an absent key is a no-op.
package invalidation

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"
	"go.palytt.app/swarm/pkg/cache"
	"go.uber.org/zap"
)

// Kind discriminates invalidation messages.
type Kind string

// Invalidation message kinds.
const (
	KindKey     Kind = "key"     // delete exactly one cache key
	KindPattern Kind = "pattern" // delete all keys matching a glob
	KindUser    Kind = "user"    // delete the full key family of a user
	KindPost    Kind = "post"    // delete a post, feed pages, and the author's posts list
)

// Message is a single invalidation event. Transient: it exists only on the
// bus and is never persisted beyond the stream backlog.
type Message struct {
	Kind  Kind
	Value string // key, glob pattern, user ID or post ID
	// Related carries the author ID for post messages. Optional.
	Related string
}

// Bus publishes and consumes invalidation messages for one instance.
type Bus struct {
	Log   *zap.Logger
	Redis *redis.Client
	Cache *cache.Store

	StreamKey string // Redis stream key
	Backlog   int64  // approximate number of messages to keep

	streamID string // ID of the last message seen
}

// Publish appends a message to the shared stream.
func (b *Bus) Publish(ctx context.Context, msg Message) error {
	return b.Redis.XAdd(ctx, &redis.XAddArgs{
		Stream:       b.StreamKey,
		MaxLenApprox: b.Backlog,
		ID:           "*",
		Values: map[string]interface{}{
			"kind":    string(msg.Kind),
			"value":   msg.Value,
			"related": msg.Related,
		},
	}).Err()
}

// BroadcastUser deletes a user's cached key family locally and broadcasts the
// invalidation to peer instances.
func (b *Bus) BroadcastUser(ctx context.Context, userID string) error {
	msg := Message{Kind: KindUser, Value: userID}
	b.Apply(ctx, msg)
	return b.Publish(ctx, msg)
}

// BroadcastPost deletes a post's cache entries locally and broadcasts the
// invalidation to peer instances. authorID may be empty.
func (b *Bus) BroadcastPost(ctx context.Context, postID, authorID string) error {
	msg := Message{Kind: KindPost, Value: postID, Related: authorID}
	b.Apply(ctx, msg)
	return b.Publish(ctx, msg)
}

// Apply dispatches one message against the local cache store.
func (b *Bus) Apply(ctx context.Context, msg Message) {
	switch msg.Kind {
	case KindKey:
		b.Cache.Delete(ctx, msg.Value)
	case KindPattern:
		b.Cache.DeletePattern(ctx, msg.Value)
	case KindUser:
		for _, key := range cache.UserKeys(msg.Value) {
			b.Cache.Delete(ctx, key)
		}
	case KindPost:
		b.Cache.Delete(ctx, cache.PostKey(msg.Value))
		// Any feed page may have gone stale.
		b.Cache.DeletePattern(ctx, cache.FeedPattern)
		if msg.Related != "" {
			b.Cache.Delete(ctx, cache.UserPostsKey(msg.Related))
		}
	default:
		b.Log.Warn("Ignoring unknown invalidation kind", zap.String("kind", string(msg.Kind)))
	}
}

// Run tails the stream and applies invalidations until the context is
// canceled. Read errors back off exponentially and never terminate the loop:
// a broken bus degrades coherency, not availability.
func (b *Bus) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0 // retry forever
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := b.read(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			wait := bo.NextBackOff()
			b.Log.Warn("Invalidation stream read failed",
				zap.Error(err), zap.Duration("backoff", wait))
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

func (b *Bus) read(ctx context.Context) error {
	if b.streamID == "" {
		// New instances start with an empty fallback: only new messages matter.
		b.streamID = "$"
	}
	streams, err := b.Redis.XRead(ctx, &redis.XReadArgs{
		Streams: []string{b.StreamKey, b.streamID},
		Count:   128,
		Block:   time.Second,
	}).Result()
	if err == redis.Nil {
		return nil
	} else if err != nil {
		return err
	}
	if len(streams) < 1 {
		return nil
	}
	for _, raw := range streams[0].Messages {
		b.streamID = raw.ID
		msg, ok := decode(raw.Values)
		if !ok {
			b.Log.Warn("Skipping malformed invalidation message", zap.String("id", raw.ID))
			continue
		}
		b.Apply(ctx, msg)
	}
	return nil
}

func decode(values map[string]interface{}) (Message, bool) {
	kind, ok := values["kind"].(string)
	if !ok || kind == "" {
		return Message{}, false
	}
	value, ok := values["value"].(string)
	if !ok {
		return Message{}, false
	}
	related, _ := values["related"].(string)
	return Message{Kind: Kind(kind), Value: value, Related: related}, true
}
