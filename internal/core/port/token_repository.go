package port

import (
	"context"
	"time"

	"github.com/arklim/taskhub-auth/internal/core/domain"
)

// RefreshTokenRepository persists opaque refresh tokens keyed by their hash.
type RefreshTokenRepository interface {
	Create(ctx context.Context, token domain.RefreshToken) error
	GetByHash(ctx context.Context, tokenHash string) (*domain.RefreshToken, error)
	DeleteByHash(ctx context.Context, tokenHash string) (int, error)
	DeleteAllForUser(ctx context.Context, userID string) (int, error)
	DeleteExpired(ctx context.Context, before time.Time) (int, error)
}

// BlacklistRepository persists revoked access-token identifiers.
type BlacklistRepository interface {
	Add(ctx context.Context, entry domain.BlacklistedToken) error
	Exists(ctx context.Context, jti string) (bool, error)
	DeleteExpired(ctx context.Context, before time.Time) (int, error)
}
