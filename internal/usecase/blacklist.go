package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arklim/taskhub-auth/internal/core/domain"
	"github.com/arklim/taskhub-auth/internal/core/port"
	"github.com/arklim/taskhub-auth/internal/repository"
)

// fallbackBlacklistTTL is used when the token's exp claim cannot be read.
const fallbackBlacklistTTL = 900 * time.Second

// BlacklistService records revoked access tokens by jti until they would have expired.
type BlacklistService struct {
	repo   port.BlacklistRepository
	cache  port.RevocationCache
	logger *zap.Logger
	now    func() time.Time
	parser *jwt.Parser
}

// NewBlacklistService constructs a BlacklistService. cache may be nil.
func NewBlacklistService(repo port.BlacklistRepository, cache port.RevocationCache, logger *zap.Logger) *BlacklistService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BlacklistService{
		repo:   repo,
		cache:  cache,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		parser: jwt.NewParser(),
	}
}

// WithClock overrides the service clock for deterministic tests.
func (s *BlacklistService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Add blacklists the token's jti. Tokens without a readable jti are skipped.
func (s *BlacklistService) Add(ctx context.Context, token, userID, reason string) error {
	claims, ok := s.peek(token)
	if !ok || strings.TrimSpace(claims.ID) == "" {
		s.logger.Info("token has no jti, skipping blacklist", zap.String("user_id", userID))
		return nil
	}

	now := s.now()
	expiresAt := now.Add(fallbackBlacklistTTL)
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time.UTC()
	}

	entry := domain.BlacklistedToken{
		ID:            uuid.NewString(),
		TokenJTI:      claims.ID,
		UserID:        userID,
		BlacklistedAt: now,
		ExpiresAt:     expiresAt,
		Reason:        reason,
	}
	if err := s.repo.Add(ctx, entry); err != nil && !errors.Is(err, repository.ErrConflict) {
		return fmt.Errorf("blacklist token: %w", err)
	}

	if s.cache != nil {
		if ttl := expiresAt.Sub(now); ttl > 0 {
			if err := s.cache.MarkRevoked(ctx, claims.ID, reason, ttl); err != nil {
				s.logger.Warn("failed to cache revoked jti", zap.String("jti", claims.ID), zap.Error(err))
			}
		}
	}
	return nil
}

// IsBlacklisted reads the jti without verifying the token and checks membership.
func (s *BlacklistService) IsBlacklisted(ctx context.Context, token string) (bool, error) {
	claims, ok := s.peek(token)
	if !ok {
		return false, nil
	}
	return s.IsJTIBlacklisted(ctx, claims.ID)
}

// IsJTIBlacklisted checks membership for an already extracted jti.
func (s *BlacklistService) IsJTIBlacklisted(ctx context.Context, jti string) (bool, error) {
	jti = strings.TrimSpace(jti)
	if jti == "" {
		return false, nil
	}

	if s.cache != nil {
		revoked, _, err := s.cache.IsRevoked(ctx, jti)
		if err != nil {
			s.logger.Warn("revocation cache lookup failed", zap.String("jti", jti), zap.Error(err))
		} else if revoked {
			return true, nil
		}
	}

	exists, err := s.repo.Exists(ctx, jti)
	if err != nil {
		return false, fmt.Errorf("check blacklist: %w", err)
	}
	return exists, nil
}

// Sweep purges entries whose tokens expired before now.
func (s *BlacklistService) Sweep(ctx context.Context, now time.Time) (int, error) {
	return s.repo.DeleteExpired(ctx, now)
}

func (s *BlacklistService) peek(token string) (*jwt.RegisteredClaims, bool) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, false
	}
	claims := &jwt.RegisteredClaims{}
	if _, _, err := s.parser.ParseUnverified(token, claims); err != nil {
		return nil, false
	}
	return claims, true
}
