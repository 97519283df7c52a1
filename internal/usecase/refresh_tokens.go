package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arklim/taskhub-auth/internal/core/domain"
	"github.com/arklim/taskhub-auth/internal/core/port"
	"github.com/arklim/taskhub-auth/internal/infra/security"
	"github.com/arklim/taskhub-auth/internal/repository"
)

const defaultRefreshTokenTTL = 30 * 24 * time.Hour

// RefreshTokenService manages opaque rotating refresh tokens. Only hashes are persisted.
type RefreshTokenService struct {
	repo   port.RefreshTokenRepository
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
}

// NewRefreshTokenService constructs a RefreshTokenService.
func NewRefreshTokenService(repo port.RefreshTokenRepository, ttl time.Duration, logger *zap.Logger) *RefreshTokenService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = defaultRefreshTokenTTL
	}
	return &RefreshTokenService{
		repo:   repo,
		ttl:    ttl,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the service clock for deterministic tests.
func (s *RefreshTokenService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Create issues a new refresh token for the user and returns the raw value.
func (s *RefreshTokenService) Create(ctx context.Context, userID string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", fmt.Errorf("user id is required")
	}

	raw, err := security.GenerateSecureToken(security.RefreshTokenBytes)
	if err != nil {
		return "", fmt.Errorf("generate refresh token: %w", err)
	}

	now := s.now()
	token := domain.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		TokenHash: security.HashToken(raw),
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.repo.Create(ctx, token); err != nil {
		return "", fmt.Errorf("store refresh token: %w", err)
	}
	return raw, nil
}

// ValidateAndGetUserID returns the owner of a live token without consuming it.
// Expired tokens are deleted as a side effect.
func (s *RefreshTokenService) ValidateAndGetUserID(ctx context.Context, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrInvalidRefreshToken
	}

	hash := security.HashToken(raw)
	token, err := s.repo.GetByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", ErrInvalidRefreshToken
		}
		return "", fmt.Errorf("lookup refresh token: %w", err)
	}

	if token.IsExpired(s.now()) {
		if _, err := s.repo.DeleteByHash(ctx, hash); err != nil {
			s.logger.Error("failed to delete expired refresh token", zap.String("token_id", token.ID), zap.Error(err))
		}
		return "", ErrInvalidRefreshToken
	}
	return token.UserID, nil
}

// Revoke deletes the token if present and reports whether a row was removed.
func (s *RefreshTokenService) Revoke(ctx context.Context, raw string) (bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, nil
	}
	deleted, err := s.repo.DeleteByHash(ctx, security.HashToken(raw))
	if err != nil {
		return false, fmt.Errorf("revoke refresh token: %w", err)
	}
	return deleted > 0, nil
}

// RevokeAllForUser deletes every refresh token the user holds.
func (s *RefreshTokenService) RevokeAllForUser(ctx context.Context, userID string) (int, error) {
	deleted, err := s.repo.DeleteAllForUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("revoke refresh tokens for user: %w", err)
	}
	return deleted, nil
}

// Sweep purges tokens that expired before now.
func (s *RefreshTokenService) Sweep(ctx context.Context, now time.Time) (int, error) {
	return s.repo.DeleteExpired(ctx, now)
}
