package port

import (
	"context"
	"time"

	"github.com/arklim/taskhub-auth/internal/core/domain"
)

// LoginAttemptMutator updates a record in place and reports whether it should be kept.
type LoginAttemptMutator func(record *domain.LoginAttemptRecord) (keep bool)

// LoginAttemptStore holds per-identifier login failure state.
// Mutate must apply the mutator atomically with respect to other calls for the same identifier.
type LoginAttemptStore interface {
	Get(ctx context.Context, identifier string) (domain.LoginAttemptRecord, bool, error)
	Mutate(ctx context.Context, identifier string, ttl time.Duration, fn LoginAttemptMutator) (domain.LoginAttemptRecord, error)
	Delete(ctx context.Context, identifier string) error
	EvictBefore(ctx context.Context, cutoff time.Time) (int, error)
}
