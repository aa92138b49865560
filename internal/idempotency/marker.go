// Package idempotency guards one-time effects behind a redis set-if-absent key.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrMarkerUnavailable = errors.New("finalization marker unavailable")

const redisKeyPrefix = "fraud:finalized"

// Marker is the per-transaction finalization lock. The first Acquire for a
// transaction id wins until the TTL lapses or Release is called.
type Marker struct {
	redis redis.Cmdable
	ttl   time.Duration
}

func NewMarker(redis redis.Cmdable, ttl time.Duration) *Marker {
	return &Marker{redis: redis, ttl: ttl}
}

// Acquire reports whether the caller is the first to claim txID.
func (m *Marker) Acquire(ctx context.Context, txID string) (bool, error) {
	ok, err := m.redis.SetNX(ctx, redisKey(txID), "1", m.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrMarkerUnavailable, err)
	}
	return ok, nil
}

// Release drops the claim so a redelivered signal can finalize again.
func (m *Marker) Release(ctx context.Context, txID string) error {
	if err := m.redis.Del(ctx, redisKey(txID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrMarkerUnavailable, err)
	}
	return nil
}

func redisKey(txID string) string {
	return fmt.Sprintf("%s:%s", redisKeyPrefix, txID)
}
