package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/arklim/taskhub-auth/internal/core/port"
)

const defaultRevocationPrefix = "blacklist"

var (
	errEmptyJTI       = errors.New("jti must not be empty")
	errNonPositiveTTL = errors.New("ttl must be positive")
)

// RevocationCache keeps blacklisted jti values in Redis in front of the blacklist
// table. Each entry expires together with the access token it revokes.
type RevocationCache struct {
	client *red.Client
	prefix string
}

// NewRevocationCache wires a Redis client into a revocation cache.
func NewRevocationCache(client *red.Client, keyPrefix string) *RevocationCache {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultRevocationPrefix
	}
	return &RevocationCache{client: client, prefix: prefix}
}

// MarkRevoked stores jti with its revocation reason for ttl.
func (c *RevocationCache) MarkRevoked(ctx context.Context, jti string, reason string, ttl time.Duration) error {
	if ttl <= 0 {
		return errNonPositiveTTL
	}
	key, err := c.key(jti)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, key, reason, ttl).Err(); err != nil {
		return fmt.Errorf("redis mark revoked: %w", err)
	}
	return nil
}

// IsRevoked reports whether jti is cached as revoked and the reason recorded for it.
// A miss is not authoritative; callers fall back to the blacklist table.
func (c *RevocationCache) IsRevoked(ctx context.Context, jti string) (bool, string, error) {
	key, err := c.key(jti)
	if err != nil {
		return false, "", err
	}

	reason, err := c.client.Get(ctx, key).Result()
	switch {
	case errors.Is(err, red.Nil):
		return false, "", nil
	case err != nil:
		return false, "", fmt.Errorf("redis lookup revoked: %w", err)
	}
	return true, reason, nil
}

func (c *RevocationCache) key(jti string) (string, error) {
	jti = strings.TrimSpace(jti)
	if jti == "" {
		return "", errEmptyJTI
	}
	return c.prefix + ":" + jti, nil
}

var _ port.RevocationCache = (*RevocationCache)(nil)
