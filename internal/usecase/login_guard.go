package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/taskhub-auth/internal/core/domain"
	"github.com/arklim/taskhub-auth/internal/core/port"
	"github.com/arklim/taskhub-auth/internal/infra/logger"
)

const (
	defaultMaxLoginAttempts = 5
	defaultLoginWindow      = 15 * time.Minute
	defaultLockoutDuration  = 15 * time.Minute
)

// LoginGuardOptions configures the lockout state machine.
type LoginGuardOptions struct {
	MaxAttempts     int
	Window          time.Duration
	LockoutDuration time.Duration
}

// LockoutStatus describes an identifier after a failed attempt was recorded.
type LockoutStatus struct {
	Failures    int
	Locked      bool
	NewlyLocked bool
	LockedUntil time.Time
}

// LoginAttemptGuard throttles repeated failed logins per identifier.
// It is advisory friction; password hashing cost remains the primary defense.
type LoginAttemptGuard struct {
	store  port.LoginAttemptStore
	opts   LoginGuardOptions
	logger *zap.Logger
	now    func() time.Time
}

// NewLoginAttemptGuard constructs a guard over the given state store.
func NewLoginAttemptGuard(store port.LoginAttemptStore, opts LoginGuardOptions, log *zap.Logger) *LoginAttemptGuard {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxLoginAttempts
	}
	if opts.Window <= 0 {
		opts.Window = defaultLoginWindow
	}
	if opts.LockoutDuration <= 0 {
		opts.LockoutDuration = defaultLockoutDuration
	}
	return &LoginAttemptGuard{
		store:  store,
		opts:   opts,
		logger: log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the guard clock for deterministic tests.
func (g *LoginAttemptGuard) WithClock(clock func() time.Time) {
	if clock != nil {
		g.now = clock
	}
}

// MaxAttempts returns the configured failure threshold.
func (g *LoginAttemptGuard) MaxAttempts() int {
	return g.opts.MaxAttempts
}

// RecordFailedAttempt appends a failure and locks the identifier once the threshold is reached.
func (g *LoginAttemptGuard) RecordFailedAttempt(ctx context.Context, identifier string) (LockoutStatus, error) {
	key := normalizeIdentifier(identifier)
	if key == "" {
		return LockoutStatus{}, nil
	}

	now := g.now()
	var status LockoutStatus
	record, err := g.store.Mutate(ctx, key, g.retention(), func(r *domain.LoginAttemptRecord) bool {
		// Stores may rerun the mutator after a write conflict.
		status.NewlyLocked = false
		if r.LockedAt != nil && !now.Before(r.LockedAt.Add(g.opts.LockoutDuration)) {
			r.LockedAt = nil
			r.Failures = nil
		}
		r.PruneBefore(now.Add(-g.opts.Window))
		r.Failures = append(r.Failures, now)
		if r.LockedAt == nil && len(r.Failures) >= g.opts.MaxAttempts {
			lockedAt := now
			r.LockedAt = &lockedAt
			status.NewlyLocked = true
		}
		r.UpdatedAt = now
		return true
	})
	if err != nil {
		return LockoutStatus{}, fmt.Errorf("record failed attempt: %w", err)
	}

	status.Failures = len(record.Failures)
	if record.LockedAt != nil {
		status.Locked = true
		status.LockedUntil = record.LockedAt.Add(g.opts.LockoutDuration)
	}
	if status.NewlyLocked {
		g.logger.Warn("login identifier locked",
			zap.String("identifier", logger.MaskEmail(key)),
			zap.Int("failures", status.Failures),
			zap.Time("locked_until", status.LockedUntil),
		)
	}
	return status, nil
}

// IsBlocked reports whether the identifier is locked. An elapsed lockout clears the whole record.
func (g *LoginAttemptGuard) IsBlocked(ctx context.Context, identifier string) (bool, error) {
	key := normalizeIdentifier(identifier)
	if key == "" {
		return false, nil
	}

	record, ok, err := g.store.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("load login attempts: %w", err)
	}
	if !ok || record.LockedAt == nil {
		return false, nil
	}

	now := g.now()
	if now.Before(record.LockedAt.Add(g.opts.LockoutDuration)) {
		return true, nil
	}

	_, err = g.store.Mutate(ctx, key, g.retention(), func(r *domain.LoginAttemptRecord) bool {
		if r.LockedAt != nil && !now.Before(r.LockedAt.Add(g.opts.LockoutDuration)) {
			r.LockedAt = nil
			r.Failures = nil
		}
		return !r.IsEmpty()
	})
	if err != nil {
		return false, fmt.Errorf("clear expired lockout: %w", err)
	}
	return false, nil
}

// ResetFailedAttempts clears failures and any lockout after a successful login.
func (g *LoginAttemptGuard) ResetFailedAttempts(ctx context.Context, identifier string) error {
	key := normalizeIdentifier(identifier)
	if key == "" {
		return nil
	}
	if err := g.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("reset login attempts: %w", err)
	}
	return nil
}

// RemainingAttempts returns MaxAttempts minus the failures inside the window, floored at zero.
func (g *LoginAttemptGuard) RemainingAttempts(ctx context.Context, identifier string) (int, error) {
	key := normalizeIdentifier(identifier)
	record, ok, err := g.store.Get(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("load login attempts: %w", err)
	}
	if !ok {
		return g.opts.MaxAttempts, nil
	}

	cutoff := g.now().Add(-g.opts.Window)
	recent := 0
	for _, at := range record.Failures {
		if !at.Before(cutoff) {
			recent++
		}
	}
	return max(g.opts.MaxAttempts-recent, 0), nil
}

// Sweep evicts records untouched for longer than both the window and the lockout.
func (g *LoginAttemptGuard) Sweep(ctx context.Context, now time.Time) (int, error) {
	return g.store.EvictBefore(ctx, now.Add(-g.retention()))
}

func (g *LoginAttemptGuard) retention() time.Duration {
	return max(g.opts.Window, g.opts.LockoutDuration)
}

func normalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}
