package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Tracker records online status in Redis. Entries expire on their own, so a
// crashed client drops offline after the TTL without any eviction pass.
type Tracker struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewTracker constructs a Redis-backed presence tracker.
func NewTracker(client redis.UniversalClient, ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Tracker{client: client, ttl: ttl}
}

func key(userID int64) string {
	return fmt.Sprintf("presence:%d", userID)
}

// MarkOnline flags the user online for the configured TTL. Calling it again
// refreshes the window, so it doubles as a heartbeat.
func (t *Tracker) MarkOnline(ctx context.Context, userID int64) error {
	if err := t.client.Set(ctx, key(userID), "1", t.ttl).Err(); err != nil {
		return fmt.Errorf("mark online: %w", err)
	}
	return nil
}

// MarkOffline clears the online flag.
func (t *Tracker) MarkOffline(ctx context.Context, userID int64) error {
	if err := t.client.Del(ctx, key(userID)).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("mark offline: %w", err)
	}
	return nil
}

// IsOnline reports whether the user currently holds an unexpired flag.
func (t *Tracker) IsOnline(ctx context.Context, userID int64) (bool, error) {
	n, err := t.client.Exists(ctx, key(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("presence lookup: %w", err)
	}
	return n > 0, nil
}
