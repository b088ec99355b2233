package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// revokedSessionPrefix is the Redis key prefix for revoked session IDs.
const revokedSessionPrefix = "revoked:session:"

// RevokeSession adds a session ID (jti) to the revocation list. The
// entry expires with the token so the list never grows unbounded.
func (c *Cache) RevokeSession(ctx context.Context, sessionID string, ttl time.Duration) error {
	if ttl <= 0 {
		// Token already expired; nothing to revoke.
		return nil
	}

	key := revokedSessionPrefix + sessionID
	if err := c.client.Set(ctx, key, "1", ttl).Err(); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}

	return nil
}

// IsSessionRevoked reports whether a session ID is on the revocation
// list. Unlike rate limiting this fails closed: a Redis error surfaces
// to the caller rather than silently accepting a revoked token.
func (c *Cache) IsSessionRevoked(ctx context.Context, sessionID string) (bool, error) {
	key := revokedSessionPrefix + sessionID

	err := c.client.Get(ctx, key).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check session revocation: %w", err)
	}

	return true, nil
}
