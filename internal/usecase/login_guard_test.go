package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/arklim/taskhub-auth/internal/core/domain"
	"github.com/arklim/taskhub-auth/internal/core/port"
	"github.com/arklim/taskhub-auth/internal/repository/memory"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(start time.Time) *testClock {
	return &testClock{now: start}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var guardEpoch = time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

func newTestGuard(clock *testClock) *LoginAttemptGuard {
	guard := NewLoginAttemptGuard(memory.NewLoginAttemptStore(), LoginGuardOptions{}, nil)
	guard.WithClock(clock.Now)
	return guard
}

func TestLoginGuardLocksAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock(guardEpoch)
	guard := newTestGuard(clock)

	for i := 1; i < defaultMaxLoginAttempts; i++ {
		status, err := guard.RecordFailedAttempt(ctx, "victim@example.com")
		if err != nil {
			t.Fatalf("RecordFailedAttempt returned error: %v", err)
		}
		if status.Locked {
			t.Fatalf("locked after %d failures", i)
		}
		clock.Advance(time.Second)
	}

	blocked, err := guard.IsBlocked(ctx, "victim@example.com")
	if err != nil || blocked {
		t.Fatalf("expected open after 4 failures, blocked=%v err=%v", blocked, err)
	}

	status, err := guard.RecordFailedAttempt(ctx, "Victim@Example.com ")
	if err != nil {
		t.Fatalf("RecordFailedAttempt returned error: %v", err)
	}
	if !status.Locked || !status.NewlyLocked || status.Failures != defaultMaxLoginAttempts {
		t.Fatalf("expected newly locked after 5 failures, got %+v", status)
	}

	blocked, err = guard.IsBlocked(ctx, "victim@example.com")
	if err != nil || !blocked {
		t.Fatalf("expected blocked, blocked=%v err=%v", blocked, err)
	}

	other, err := guard.IsBlocked(ctx, "bystander@example.com")
	if err != nil || other {
		t.Fatalf("expected other identifier to stay open, blocked=%v err=%v", other, err)
	}

	remaining, err := guard.RemainingAttempts(ctx, "victim@example.com")
	if err != nil || remaining != 0 {
		t.Fatalf("expected 0 remaining attempts, got %d err=%v", remaining, err)
	}
}

func TestLoginGuardUnlocksAfterLockoutDuration(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock(guardEpoch)
	guard := newTestGuard(clock)

	for i := 0; i < defaultMaxLoginAttempts; i++ {
		if _, err := guard.RecordFailedAttempt(ctx, "user@example.com"); err != nil {
			t.Fatalf("RecordFailedAttempt returned error: %v", err)
		}
	}

	clock.Advance(defaultLockoutDuration - time.Second)
	if blocked, _ := guard.IsBlocked(ctx, "user@example.com"); !blocked {
		t.Fatal("expected identifier to remain locked just before lockout elapses")
	}

	clock.Advance(time.Second)
	if blocked, _ := guard.IsBlocked(ctx, "user@example.com"); blocked {
		t.Fatal("expected identifier to unlock once lockout elapsed")
	}

	remaining, err := guard.RemainingAttempts(ctx, "user@example.com")
	if err != nil || remaining != defaultMaxLoginAttempts {
		t.Fatalf("expected failure history cleared, remaining=%d err=%v", remaining, err)
	}
}

func TestLoginGuardResetRestoresAttempts(t *testing.T) {
	ctx := context.Background()
	guard := newTestGuard(newTestClock(guardEpoch))

	for i := 0; i < 3; i++ {
		if _, err := guard.RecordFailedAttempt(ctx, "user@example.com"); err != nil {
			t.Fatalf("RecordFailedAttempt returned error: %v", err)
		}
	}
	if remaining, _ := guard.RemainingAttempts(ctx, "user@example.com"); remaining != 2 {
		t.Fatalf("expected 2 remaining attempts, got %d", remaining)
	}

	if err := guard.ResetFailedAttempts(ctx, "user@example.com"); err != nil {
		t.Fatalf("ResetFailedAttempts returned error: %v", err)
	}
	if remaining, _ := guard.RemainingAttempts(ctx, "user@example.com"); remaining != defaultMaxLoginAttempts {
		t.Fatalf("expected %d remaining attempts after reset, got %d", defaultMaxLoginAttempts, remaining)
	}
}

func TestLoginGuardFailuresAgeOutOfWindow(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock(guardEpoch)
	guard := newTestGuard(clock)

	for i := 0; i < 4; i++ {
		if _, err := guard.RecordFailedAttempt(ctx, "user@example.com"); err != nil {
			t.Fatalf("RecordFailedAttempt returned error: %v", err)
		}
	}

	clock.Advance(defaultLoginWindow + time.Minute)
	status, err := guard.RecordFailedAttempt(ctx, "user@example.com")
	if err != nil {
		t.Fatalf("RecordFailedAttempt returned error: %v", err)
	}
	if status.Locked || status.Failures != 1 {
		t.Fatalf("expected old failures pruned, got %+v", status)
	}
}

func TestLoginGuardSweepEvictsStaleRecords(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock(guardEpoch)
	guard := newTestGuard(clock)

	if _, err := guard.RecordFailedAttempt(ctx, "old@example.com"); err != nil {
		t.Fatalf("RecordFailedAttempt returned error: %v", err)
	}
	clock.Advance(20 * time.Minute)
	if _, err := guard.RecordFailedAttempt(ctx, "fresh@example.com"); err != nil {
		t.Fatalf("RecordFailedAttempt returned error: %v", err)
	}

	evicted, err := guard.Sweep(ctx, clock.Now())
	if err != nil {
		t.Fatalf("Sweep returned error: %v", err)
	}
	if evicted != 1 {
		t.Fatalf("expected 1 evicted record, got %d", evicted)
	}
	if remaining, _ := guard.RemainingAttempts(ctx, "fresh@example.com"); remaining != defaultMaxLoginAttempts-1 {
		t.Fatalf("expected fresh record to survive, remaining=%d", remaining)
	}
}

func TestLoginGuardConcurrentFailures(t *testing.T) {
	ctx := context.Background()
	guard := newTestGuard(newTestClock(guardEpoch))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		newLocks  int
		failures  = 20
		firstErrs []error
	)
	for i := 0; i < failures; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status, err := guard.RecordFailedAttempt(ctx, "race@example.com")
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				firstErrs = append(firstErrs, err)
				return
			}
			if status.NewlyLocked {
				newLocks++
			}
		}()
	}
	wg.Wait()

	if len(firstErrs) > 0 {
		t.Fatalf("unexpected errors: %v", firstErrs)
	}
	if newLocks != 1 {
		t.Fatalf("expected exactly one transition to locked, got %d", newLocks)
	}
}

// conflictingStore replays the first mutation the way an optimistic store does after a
// write conflict: the first run is discarded and the retry sees a concurrent writer's lock.
type conflictingStore struct {
	*memory.LoginAttemptStore
	lockedAt time.Time
	retried  bool
}

func (s *conflictingStore) Mutate(ctx context.Context, identifier string, ttl time.Duration, fn port.LoginAttemptMutator) (domain.LoginAttemptRecord, error) {
	if !s.retried {
		s.retried = true
		current, _, err := s.LoginAttemptStore.Get(ctx, identifier)
		if err != nil {
			return domain.LoginAttemptRecord{}, err
		}
		discarded := current.Clone()
		fn(&discarded)

		if _, err := s.LoginAttemptStore.Mutate(ctx, identifier, ttl, func(r *domain.LoginAttemptRecord) bool {
			lockedAt := s.lockedAt
			r.LockedAt = &lockedAt
			r.Failures = append(r.Failures, s.lockedAt)
			return true
		}); err != nil {
			return domain.LoginAttemptRecord{}, err
		}
	}
	return s.LoginAttemptStore.Mutate(ctx, identifier, ttl, fn)
}

func TestLoginGuardRetriedMutationDoesNotReportStaleLock(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock(guardEpoch)
	store := &conflictingStore{LoginAttemptStore: memory.NewLoginAttemptStore(), lockedAt: guardEpoch}
	guard := NewLoginAttemptGuard(store, LoginGuardOptions{MaxAttempts: 2}, nil)
	guard.WithClock(clock.Now)

	store.retried = true
	if _, err := guard.RecordFailedAttempt(ctx, "retry@example.com"); err != nil {
		t.Fatalf("RecordFailedAttempt returned error: %v", err)
	}
	store.retried = false

	status, err := guard.RecordFailedAttempt(ctx, "retry@example.com")
	if err != nil {
		t.Fatalf("RecordFailedAttempt returned error: %v", err)
	}
	if !status.Locked {
		t.Fatal("expected the identifier to be locked")
	}
	if status.NewlyLocked {
		t.Fatal("a retry that finds an existing lock must not report a new lockout")
	}
}
