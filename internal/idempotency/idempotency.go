// Package idempotency implements the 6-hour idempotency-key claim used
// by the Event Store (§4.C): "if an idempotencyKey is present and
// matches a prior event within 6 hours for the same project, the prior
// stored envelope is returned and no new work is enqueued." Grounded
// on the donor's own dangling cache.NewFromRedis/cache.RedisCache
// reference (never defined in the retrieved snapshot) — this gives
// that intent a real implementation using github.com/redis/go-redis/v9.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// TTL is the idempotency retention window fixed by §3 invariant 5 and
// the spec's resolved Open Question ("the spec above fixes 6 h").
const TTL = 6 * time.Hour

// Store claims idempotency keys and maps them to the event ID they
// first produced, so a replay within the TTL can return that event
// instead of creating a new one.
type Store struct {
	client *redis.Client
}

// NewStore connects to Redis using addr (host:port).
func NewStore(addr, password string, db int) *Store {
	return &Store{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

func key(projectID, idempotencyKey string) string {
	return fmt.Sprintf("idempotency:%s:%s", projectID, idempotencyKey)
}

// Claim attempts to atomically reserve (projectID, idempotencyKey) for
// eventID. If the key is unclaimed (or its prior claim has expired),
// it is stored with a fresh TTL and Claim returns (true, eventID, nil)
// — a fresh claim. If the key is already claimed within the TTL window,
// Claim returns (false, existingEventID, nil) so the caller can return
// the prior envelope instead of enqueueing new work (§4.C).
func (s *Store) Claim(ctx context.Context, projectID, idempotencyKey, eventID string) (claimed bool, existingEventID string, err error) {
	ok, err := s.client.SetNX(ctx, key(projectID, idempotencyKey), eventID, TTL).Result()
	if err != nil {
		return false, "", fmt.Errorf("claim idempotency key: %w", err)
	}
	if ok {
		return true, eventID, nil
	}

	existing, err := s.client.Get(ctx, key(projectID, idempotencyKey)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// Lost a race: the key expired between SetNX and Get. Claim
			// it afresh.
			return s.Claim(ctx, projectID, idempotencyKey, eventID)
		}
		return false, "", fmt.Errorf("read idempotency key: %w", err)
	}
	return false, existing, nil
}

// Close releases the underlying Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}
