package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/arklim/taskhub-auth/internal/core/domain"
	"github.com/arklim/taskhub-auth/internal/repository/memory"
)

type recordingRevocationCache struct {
	revoked map[string]time.Duration
	err     error
}

func (c *recordingRevocationCache) MarkRevoked(_ context.Context, jti string, _ string, ttl time.Duration) error {
	if c.err != nil {
		return c.err
	}
	if c.revoked == nil {
		c.revoked = make(map[string]time.Duration)
	}
	c.revoked[jti] = ttl
	return nil
}

func (c *recordingRevocationCache) IsRevoked(_ context.Context, jti string) (bool, string, error) {
	if c.err != nil {
		return false, "", c.err
	}
	_, ok := c.revoked[jti]
	return ok, domain.RevocationReasonLogout, nil
}

func unsignedToken(t *testing.T, claims jwt.RegisteredClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS384, claims).SignedString([]byte("unit-test-signing-key-unit-test-signing-key-0123"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestBlacklistAddAndCheck(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewBlacklistRepository()
	cache := &recordingRevocationCache{}
	service := NewBlacklistService(repo, cache, nil)
	service.WithClock(func() time.Time { return guardEpoch })

	token := unsignedToken(t, jwt.RegisteredClaims{
		ID:        "jti-1",
		ExpiresAt: jwt.NewNumericDate(guardEpoch.Add(10 * time.Minute)),
	})

	if err := service.Add(ctx, token, "user-1", domain.RevocationReasonLogout); err != nil {
		t.Fatalf("Add returned error: %v", err)
	}
	if err := service.Add(ctx, token, "user-1", domain.RevocationReasonLogout); err != nil {
		t.Fatalf("second Add must be idempotent, got %v", err)
	}

	blacklisted, err := service.IsBlacklisted(ctx, token)
	if err != nil || !blacklisted {
		t.Fatalf("expected token blacklisted, got %v err=%v", blacklisted, err)
	}
	if ttl := cache.revoked["jti-1"]; ttl != 10*time.Minute {
		t.Fatalf("expected cache ttl of remaining lifetime, got %s", ttl)
	}

	other := unsignedToken(t, jwt.RegisteredClaims{ID: "jti-2"})
	if blacklisted, _ := service.IsBlacklisted(ctx, other); blacklisted {
		t.Fatal("expected unrelated token not blacklisted")
	}
}

func TestBlacklistFallsBackToRepositoryWhenCacheFails(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewBlacklistRepository()
	service := NewBlacklistService(repo, &recordingRevocationCache{err: errors.New("redis down")}, nil)

	token := unsignedToken(t, jwt.RegisteredClaims{ID: "jti-1"})
	if err := service.Add(ctx, token, "user-1", domain.RevocationReasonLogout); err != nil {
		t.Fatalf("Add must not fail on cache errors, got %v", err)
	}
	blacklisted, err := service.IsBlacklisted(ctx, token)
	if err != nil || !blacklisted {
		t.Fatalf("expected repository hit, got %v err=%v", blacklisted, err)
	}
}

func TestBlacklistSkipsTokensWithoutJTI(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewBlacklistRepository()
	service := NewBlacklistService(repo, nil, nil)

	noJTI := unsignedToken(t, jwt.RegisteredClaims{Subject: "user-1"})
	for _, token := range []string{noJTI, "garbage", ""} {
		if err := service.Add(ctx, token, "user-1", domain.RevocationReasonLogout); err != nil {
			t.Fatalf("Add(%q) returned error: %v", token, err)
		}
	}
	if repo.Len() != 0 {
		t.Fatalf("expected no entries, got %d", repo.Len())
	}
	if blacklisted, err := service.IsBlacklisted(ctx, "garbage"); err != nil || blacklisted {
		t.Fatalf("expected unparseable token not blacklisted, got %v err=%v", blacklisted, err)
	}
}

func TestBlacklistDefaultsExpiryWithoutExpClaim(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewBlacklistRepository()
	service := NewBlacklistService(repo, nil, nil)
	service.WithClock(func() time.Time { return guardEpoch })

	token := unsignedToken(t, jwt.RegisteredClaims{ID: "jti-1"})
	if err := service.Add(ctx, token, "user-1", domain.RevocationReasonLogout); err != nil {
		t.Fatalf("Add returned error: %v", err)
	}

	if swept, _ := service.Sweep(ctx, guardEpoch.Add(fallbackBlacklistTTL)); swept != 0 {
		t.Fatalf("entry must survive until its fallback expiry, swept %d", swept)
	}
	if swept, _ := service.Sweep(ctx, guardEpoch.Add(fallbackBlacklistTTL+time.Second)); swept != 1 {
		t.Fatalf("expected entry purged after fallback expiry, swept %d", swept)
	}
}

func TestBlacklistSweepRemovesOnlyExpiredEntries(t *testing.T) {
	cases := []struct {
		name    string
		expired int
		live    int
	}{
		{name: "empty"},
		{name: "only live", live: 3},
		{name: "only expired", expired: 4},
		{name: "mixed", expired: 2, live: 5},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			repo := memory.NewBlacklistRepository()
			service := NewBlacklistService(repo, nil, nil)

			add := func(prefix string, i int, exp time.Time) {
				err := repo.Add(ctx, domain.BlacklistedToken{
					ID:        prefix,
					TokenJTI:  prefix + string(rune('a'+i)),
					ExpiresAt: exp,
				})
				if err != nil {
					t.Fatalf("seed entry: %v", err)
				}
			}
			for i := 0; i < tc.expired; i++ {
				add("expired-", i, guardEpoch.Add(-time.Minute))
			}
			for i := 0; i < tc.live; i++ {
				add("live-", i, guardEpoch.Add(time.Minute))
			}

			swept, err := service.Sweep(ctx, guardEpoch)
			if err != nil {
				t.Fatalf("Sweep returned error: %v", err)
			}
			if swept != tc.expired {
				t.Fatalf("expected %d swept, got %d", tc.expired, swept)
			}
			if repo.Len() != tc.live {
				t.Fatalf("expected %d live entries, got %d", tc.live, repo.Len())
			}
		})
	}
}
