package memory

import (
	"context"
	"sync"
	"time"

	"github.com/arklim/taskhub-auth/internal/core/domain"
	"github.com/arklim/taskhub-auth/internal/core/port"
	"github.com/arklim/taskhub-auth/internal/repository"
)

// RefreshTokenRepository keeps refresh tokens keyed by hash.
type RefreshTokenRepository struct {
	mu     sync.Mutex
	tokens map[string]domain.RefreshToken
}

// NewRefreshTokenRepository constructs an empty repository.
func NewRefreshTokenRepository() *RefreshTokenRepository {
	return &RefreshTokenRepository{tokens: make(map[string]domain.RefreshToken)}
}

func (r *RefreshTokenRepository) Create(_ context.Context, token domain.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tokens[token.TokenHash]; exists {
		return repository.ErrConflict
	}
	r.tokens[token.TokenHash] = token
	return nil
}

func (r *RefreshTokenRepository) GetByHash(_ context.Context, tokenHash string) (*domain.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	token, ok := r.tokens[tokenHash]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &token, nil
}

func (r *RefreshTokenRepository) DeleteByHash(_ context.Context, tokenHash string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tokens[tokenHash]; !ok {
		return 0, nil
	}
	delete(r.tokens, tokenHash)
	return 1, nil
}

func (r *RefreshTokenRepository) DeleteAllForUser(_ context.Context, userID string) (int, error) {
	return r.deleteWhere(func(t domain.RefreshToken) bool { return t.UserID == userID }), nil
}

func (r *RefreshTokenRepository) DeleteExpired(_ context.Context, before time.Time) (int, error) {
	return r.deleteWhere(func(t domain.RefreshToken) bool { return t.ExpiresAt.Before(before) }), nil
}

func (r *RefreshTokenRepository) deleteWhere(match func(domain.RefreshToken) bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	deleted := 0
	for hash, token := range r.tokens {
		if match(token) {
			delete(r.tokens, hash)
			deleted++
		}
	}
	return deleted
}

// BlacklistRepository keeps revoked jti values.
type BlacklistRepository struct {
	mu      sync.RWMutex
	entries map[string]domain.BlacklistedToken
}

// NewBlacklistRepository constructs an empty repository.
func NewBlacklistRepository() *BlacklistRepository {
	return &BlacklistRepository{entries: make(map[string]domain.BlacklistedToken)}
}

func (r *BlacklistRepository) Add(_ context.Context, entry domain.BlacklistedToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[entry.TokenJTI]; exists {
		return repository.ErrConflict
	}
	r.entries[entry.TokenJTI] = entry
	return nil
}

func (r *BlacklistRepository) Exists(_ context.Context, jti string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[jti]
	return ok, nil
}

func (r *BlacklistRepository) DeleteExpired(_ context.Context, before time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	deleted := 0
	for jti, entry := range r.entries {
		if entry.IsExpired(before) {
			delete(r.entries, jti)
			deleted++
		}
	}
	return deleted, nil
}

// Len returns the number of entries.
func (r *BlacklistRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

var (
	_ port.RefreshTokenRepository = (*RefreshTokenRepository)(nil)
	_ port.BlacklistRepository    = (*BlacklistRepository)(nil)
)
