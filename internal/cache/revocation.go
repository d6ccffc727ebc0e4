package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// revokedKeyPrefix is the prefix for revoked bridge session keys
	revokedKeyPrefix = "bridge:revoked:"
	// revokedTTL bounds how long a revocation marker lives in Redis. The
	// database row is the durable record; the cache is only a fast path.
	revokedTTL = 24 * time.Hour
)

// RevocationCache records revoked bridge session IDs in Redis so the
// proxy can reject them without a database read. It is never
// authoritative for "active": a cache miss still goes to the store.
type RevocationCache struct {
	client *redis.Client
}

// NewRevocationCache creates a RevocationCache backed by the given client.
func NewRevocationCache(client *redis.Client) *RevocationCache {
	return &RevocationCache{client: client}
}

// MarkRevoked records a session ID as revoked.
func (c *RevocationCache) MarkRevoked(ctx context.Context, sessionID string) error {
	return c.client.Set(ctx, revokedKeyPrefix+sessionID, "1", revokedTTL).Err()
}

// IsRevoked reports whether a session ID has a revocation marker.
func (c *RevocationCache) IsRevoked(ctx context.Context, sessionID string) (bool, error) {
	err := c.client.Get(ctx, revokedKeyPrefix+sessionID).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
