package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	uuid "github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/arklim/taskhub-auth/internal/core/domain"
	"github.com/arklim/taskhub-auth/internal/core/port"
	"github.com/arklim/taskhub-auth/internal/infra/logger"
	"github.com/arklim/taskhub-auth/internal/infra/security"
	"github.com/arklim/taskhub-auth/internal/infra/telemetry"
	"github.com/arklim/taskhub-auth/internal/repository"
)

const (
	// TokenTypeBearer is the token_type returned with every token pair.
	TokenTypeBearer = "Bearer"

	loginMethodPassword = "password"
	tracerName          = "github.com/arklim/taskhub-auth/internal/usecase"
)

// TokenPair is the credential bundle returned by register, login and refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    time.Duration
}

// AuthResult pairs issued credentials with the sanitized user.
type AuthResult struct {
	Tokens TokenPair
	User   domain.User
}

// RegisterInput carries the registration form.
type RegisterInput struct {
	Email       string
	Password    string
	DisplayName string
}

// AuthService orchestrates register, login, refresh and logout flows.
type AuthService struct {
	users     port.UserRepository
	hasher    port.PasswordHasher
	policy    port.PasswordPolicyValidator
	codec     security.TokenCodec
	refresh   *RefreshTokenService
	blacklist *BlacklistService
	guard     *LoginAttemptGuard
	events    port.EventPublisher
	metrics   *telemetry.AuthMetrics
	logger    *zap.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(
	users port.UserRepository,
	hasher port.PasswordHasher,
	policy port.PasswordPolicyValidator,
	codec security.TokenCodec,
	refresh *RefreshTokenService,
	blacklist *BlacklistService,
	guard *LoginAttemptGuard,
	events port.EventPublisher,
	log *zap.Logger,
) *AuthService {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthService{
		users:     users,
		hasher:    hasher,
		policy:    policy,
		codec:     codec,
		refresh:   refresh,
		blacklist: blacklist,
		guard:     guard,
		events:    events,
		logger:    log,
		tracer:    otel.Tracer(tracerName),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the service clock for deterministic tests.
func (s *AuthService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// WithMetrics attaches auth metrics.
func (s *AuthService) WithMetrics(metrics *telemetry.AuthMetrics) {
	s.metrics = metrics
}

// Register creates an account and signs the user in.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*AuthResult, error) {
	ctx, span := s.tracer.Start(ctx, "AuthService.Register")
	defer span.End()

	email := normalizeIdentifier(input.Email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, ErrInvalidEmail
	}
	displayName := strings.TrimSpace(input.DisplayName)

	if s.policy != nil {
		if err := s.policy.Validate(input.Password, email, displayName); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPasswordPolicyViolation, err)
		}
	}

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, ErrEmailAlreadyRegistered
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, s.fail(span, fmt.Errorf("lookup user: %w", err))
	}

	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return nil, s.fail(span, fmt.Errorf("hash password: %w", err))
	}

	now := s.now()
	user := domain.User{
		ID:           uuid.NewString(),
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrEmailAlreadyRegistered
		}
		return nil, s.fail(span, fmt.Errorf("create user: %w", err))
	}
	span.SetAttributes(attribute.String("user.id", user.ID))

	tokens, err := s.issue(ctx, user)
	if err != nil {
		return nil, s.fail(span, err)
	}

	s.publish(ctx, "user registered", func(ctx context.Context) error {
		return s.events.PublishUserRegistered(ctx, domain.UserRegisteredEvent{
			EventID:      uuid.NewString(),
			UserID:       user.ID,
			Email:        user.Email,
			RegisteredAt: now,
		})
	})

	s.logger.Info("user registered", zap.String("user_id", user.ID), zap.String("email", logger.MaskEmail(email)))
	return &AuthResult{Tokens: tokens, User: user.Sanitized()}, nil
}

// Login verifies credentials behind the lockout guard and issues a token pair.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	ctx, span := s.tracer.Start(ctx, "AuthService.Login")
	defer span.End()

	email = normalizeIdentifier(email)
	if email == "" || password == "" {
		s.metrics.ObserveLogin("invalid_credentials")
		return nil, ErrInvalidCredentials
	}

	blocked, err := s.guard.IsBlocked(ctx, email)
	if err != nil {
		return nil, s.fail(span, err)
	}
	if blocked {
		s.metrics.ObserveLogin("locked")
		return nil, ErrAccountLocked
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, s.rejectCredentials(ctx, email)
		}
		return nil, s.fail(span, fmt.Errorf("lookup user: %w", err))
	}

	ok, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		return nil, s.fail(span, fmt.Errorf("verify password: %w", err))
	}
	if !ok {
		return nil, s.rejectCredentials(ctx, email)
	}

	if err := s.guard.ResetFailedAttempts(ctx, email); err != nil {
		s.logger.Warn("failed to reset login attempts", zap.String("email", logger.MaskEmail(email)), zap.Error(err))
	}
	span.SetAttributes(attribute.String("user.id", user.ID))

	tokens, err := s.issue(ctx, *user)
	if err != nil {
		return nil, s.fail(span, err)
	}

	s.metrics.ObserveLogin("success")
	s.publish(ctx, "user logged in", func(ctx context.Context) error {
		return s.events.PublishUserLoggedIn(ctx, domain.UserLoggedInEvent{
			EventID:    uuid.NewString(),
			UserID:     user.ID,
			LoggedInAt: s.now(),
			Method:     loginMethodPassword,
		})
	})
	return &AuthResult{Tokens: tokens, User: user.Sanitized()}, nil
}

func (s *AuthService) rejectCredentials(ctx context.Context, email string) error {
	s.metrics.ObserveLogin("invalid_credentials")

	status, err := s.guard.RecordFailedAttempt(ctx, email)
	if err != nil {
		s.logger.Error("failed to record login failure", zap.String("email", logger.MaskEmail(email)), zap.Error(err))
		return ErrInvalidCredentials
	}
	if remaining, err := s.guard.RemainingAttempts(ctx, email); err == nil {
		s.logger.Info("login failed",
			zap.String("email", logger.MaskEmail(email)),
			zap.Int("remaining_attempts", remaining),
			zap.Bool("locked", status.Locked),
		)
	}
	if status.NewlyLocked {
		s.metrics.ObserveLockout()
		s.publish(ctx, "account locked", func(ctx context.Context) error {
			return s.events.PublishAccountLocked(ctx, domain.AccountLockedEvent{
				EventID:     uuid.NewString(),
				Identifier:  email,
				LockedAt:    s.now(),
				LockedUntil: status.LockedUntil,
				Failures:    status.Failures,
			})
		})
	}
	return ErrInvalidCredentials
}

// Refresh rotates a refresh token: validate, mint a new pair, then revoke the old token.
// If the old token was consumed concurrently the new refresh token is revoked and the call fails.
func (s *AuthService) Refresh(ctx context.Context, rawRefreshToken string) (*AuthResult, error) {
	ctx, span := s.tracer.Start(ctx, "AuthService.Refresh")
	defer span.End()

	userID, err := s.refresh.ValidateAndGetUserID(ctx, rawRefreshToken)
	if err != nil {
		if errors.Is(err, ErrInvalidRefreshToken) {
			s.metrics.ObserveRefresh("invalid")
			return nil, err
		}
		return nil, s.fail(span, err)
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			if _, revokeErr := s.refresh.Revoke(ctx, rawRefreshToken); revokeErr != nil {
				s.logger.Warn("failed to revoke orphaned refresh token", zap.Error(revokeErr))
			}
			s.metrics.ObserveRefresh("invalid")
			return nil, ErrInvalidRefreshToken
		}
		return nil, s.fail(span, fmt.Errorf("lookup user: %w", err))
	}

	tokens, err := s.issue(ctx, *user)
	if err != nil {
		return nil, s.fail(span, err)
	}

	revoked, err := s.refresh.Revoke(ctx, rawRefreshToken)
	if err != nil || !revoked {
		if _, cleanupErr := s.refresh.Revoke(ctx, tokens.RefreshToken); cleanupErr != nil {
			s.logger.Error("failed to revoke refresh token minted during failed rotation", zap.Error(cleanupErr))
		}
		if err != nil {
			return nil, s.fail(span, err)
		}
		s.metrics.ObserveRefresh("reused")
		s.logger.Info("refresh token already rotated", zap.String("user_id", user.ID))
		return nil, ErrInvalidRefreshToken
	}

	s.metrics.ObserveRefresh("rotated")
	return &AuthResult{Tokens: tokens, User: user.Sanitized()}, nil
}

// Logout revokes every refresh token of the principal and blacklists the presented access token.
func (s *AuthService) Logout(ctx context.Context, principal domain.Principal, accessToken string) error {
	ctx, span := s.tracer.Start(ctx, "AuthService.Logout")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", principal.UserID))

	revokedCount, err := s.refresh.RevokeAllForUser(ctx, principal.UserID)
	if err != nil {
		return s.fail(span, err)
	}

	if err := s.blacklist.Add(ctx, accessToken, principal.UserID, domain.RevocationReasonLogout); err != nil {
		return s.fail(span, err)
	}

	s.publish(ctx, "user logged out", func(ctx context.Context) error {
		return s.events.PublishUserLoggedOut(ctx, domain.UserLoggedOutEvent{
			EventID:              uuid.NewString(),
			UserID:               principal.UserID,
			LoggedOutAt:          s.now(),
			AccessTokenRevoked:   principal.TokenID != "",
			RefreshTokensRevoked: revokedCount,
		})
	})
	return nil
}

// CurrentUser returns the sanitized user behind an authenticated principal.
func (s *AuthService) CurrentUser(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	sanitized := user.Sanitized()
	return &sanitized, nil
}

func (s *AuthService) issue(ctx context.Context, user domain.User) (TokenPair, error) {
	access, err := s.codec.GenerateToken(user.ID, user.Email)
	if err != nil {
		return TokenPair{}, fmt.Errorf("issue access token: %w", err)
	}
	refresh, err := s.refresh.Create(ctx, user.ID)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    TokenTypeBearer,
		ExpiresIn:    s.codec.TTL(),
	}, nil
}

func (s *AuthService) publish(ctx context.Context, what string, fn func(context.Context) error) {
	if s.events == nil {
		return
	}
	if err := fn(ctx); err != nil {
		s.logger.Warn("failed to publish event", zap.String("event", what), zap.Error(err))
	}
}

func (s *AuthService) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
