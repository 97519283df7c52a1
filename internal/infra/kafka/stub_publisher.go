package kafka

import (
	"context"

	"go.uber.org/zap"

	"github.com/arklim/taskhub-auth/internal/core/domain"
	"github.com/arklim/taskhub-auth/internal/core/port"
	"github.com/arklim/taskhub-auth/internal/infra/logger"
)

// StubPublisher logs events instead of sending them when Kafka is disabled.
type StubPublisher struct {
	logger *zap.Logger
}

func NewStubPublisher(logger *zap.Logger) *StubPublisher {
	return &StubPublisher{logger: logger}
}

func (p *StubPublisher) log(eventType string, fields ...zap.Field) {
	p.logger.Info("auth event", append([]zap.Field{zap.String("event_type", eventType)}, fields...)...)
}

func (p *StubPublisher) PublishUserRegistered(_ context.Context, event domain.UserRegisteredEvent) error {
	p.log(EventUserRegistered,
		zap.String("user_id", event.UserID),
		zap.String("email", logger.MaskEmail(event.Email)),
		zap.Time("registered_at", event.RegisteredAt),
	)
	return nil
}

func (p *StubPublisher) PublishUserLoggedIn(_ context.Context, event domain.UserLoggedInEvent) error {
	p.log(EventUserLoggedIn,
		zap.String("user_id", event.UserID),
		zap.String("method", event.Method),
		zap.Time("logged_in_at", event.LoggedInAt),
	)
	return nil
}

func (p *StubPublisher) PublishUserLoggedOut(_ context.Context, event domain.UserLoggedOutEvent) error {
	p.log(EventUserLoggedOut,
		zap.String("user_id", event.UserID),
		zap.Bool("access_token_revoked", event.AccessTokenRevoked),
		zap.Int("refresh_tokens_revoked", event.RefreshTokensRevoked),
	)
	return nil
}

func (p *StubPublisher) PublishAccountLocked(_ context.Context, event domain.AccountLockedEvent) error {
	p.log(EventAccountLocked,
		zap.String("identifier", logger.MaskEmail(event.Identifier)),
		zap.Time("locked_until", event.LockedUntil),
		zap.Int("failures", event.Failures),
	)
	return nil
}

var _ port.EventPublisher = (*StubPublisher)(nil)
