package port

import (
	"context"

	"github.com/arklim/taskhub-auth/internal/core/domain"
)

// EventPublisher publishes auth events to the message bus.
type EventPublisher interface {
	PublishUserRegistered(ctx context.Context, event domain.UserRegisteredEvent) error
	PublishUserLoggedIn(ctx context.Context, event domain.UserLoggedInEvent) error
	PublishUserLoggedOut(ctx context.Context, event domain.UserLoggedOutEvent) error
	PublishAccountLocked(ctx context.Context, event domain.AccountLockedEvent) error
}
