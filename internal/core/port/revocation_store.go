package port

import (
	"context"
	"time"
)

// RevocationCache caches blacklisted jti values for rapid access-token checks.
type RevocationCache interface {
	MarkRevoked(ctx context.Context, jti string, reason string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, string, error)
}
