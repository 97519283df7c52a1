package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/arklim/taskhub-auth/internal/core/domain"
	"github.com/arklim/taskhub-auth/internal/core/port"
	"github.com/arklim/taskhub-auth/internal/repository"
)

// RefreshTokenRepository stores refresh token hashes in the refresh_token table.
type RefreshTokenRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewRefreshTokenRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewRefreshTokenRepository(exec pgExecutor) *RefreshTokenRepository {
	return &RefreshTokenRepository{exec: exec, builder: newBuilder()}
}

// WithTx returns a repository instance executing within the provided transaction.
func (r *RefreshTokenRepository) WithTx(tx pgx.Tx) *RefreshTokenRepository {
	if tx == nil {
		return r
	}
	return &RefreshTokenRepository{exec: tx, builder: r.builder}
}

// Create inserts a refresh token row.
func (r *RefreshTokenRepository) Create(ctx context.Context, token domain.RefreshToken) error {
	stmt, args, err := r.builder.Insert("refresh_token").
		Columns("id", "user_id", "token", "expires_at", "created_at").
		Values(token.ID, token.UserID, token.TokenHash, token.ExpiresAt, token.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert refresh token sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}

// GetByHash retrieves a refresh token by its hashed value.
func (r *RefreshTokenRepository) GetByHash(ctx context.Context, tokenHash string) (*domain.RefreshToken, error) {
	stmt, args, err := r.builder.Select("id", "user_id", "token", "expires_at", "created_at").
		From("refresh_token").
		Where(squirrel.Eq{"token": tokenHash}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select refresh token sql: %w", err)
	}

	var token domain.RefreshToken
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(
		&token.ID,
		&token.UserID,
		&token.TokenHash,
		&token.ExpiresAt,
		&token.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("select refresh token: %w", err)
	}
	return &token, nil
}

// DeleteByHash removes a single token and reports how many rows were deleted.
func (r *RefreshTokenRepository) DeleteByHash(ctx context.Context, tokenHash string) (int, error) {
	return r.delete(ctx, squirrel.Eq{"token": tokenHash}, "delete refresh token")
}

// DeleteAllForUser removes every token owned by the user.
func (r *RefreshTokenRepository) DeleteAllForUser(ctx context.Context, userID string) (int, error) {
	return r.delete(ctx, squirrel.Eq{"user_id": userID}, "delete user refresh tokens")
}

// DeleteExpired removes tokens that expired before the cutoff.
func (r *RefreshTokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	return r.delete(ctx, squirrel.Lt{"expires_at": before}, "delete expired refresh tokens")
}

func (r *RefreshTokenRepository) delete(ctx context.Context, where squirrel.Sqlizer, op string) (int, error) {
	return deleteRows(ctx, r.exec, r.builder.Delete("refresh_token").Where(where), op)
}

// BlacklistRepository stores revoked jti values in the blacklisted_token table.
type BlacklistRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewBlacklistRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewBlacklistRepository(exec pgExecutor) *BlacklistRepository {
	return &BlacklistRepository{exec: exec, builder: newBuilder()}
}

// Add inserts a blacklist entry. A duplicate jti maps to repository.ErrConflict.
func (r *BlacklistRepository) Add(ctx context.Context, entry domain.BlacklistedToken) error {
	stmt, args, err := r.builder.Insert("blacklisted_token").
		Columns("id", "token_jti", "user_id", "blacklisted_at", "expires_at", "reason").
		Values(entry.ID, entry.TokenJTI, entry.UserID, entry.BlacklistedAt, entry.ExpiresAt, entry.Reason).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert blacklisted token sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("insert blacklisted token: %w", err)
	}
	return nil
}

// Exists reports whether the jti is blacklisted.
func (r *BlacklistRepository) Exists(ctx context.Context, jti string) (bool, error) {
	stmt, args, err := r.builder.Select("1").
		Prefix("SELECT EXISTS (").
		From("blacklisted_token").
		Where(squirrel.Eq{"token_jti": jti}).
		Suffix(")").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build blacklist exists sql: %w", err)
	}

	var exists bool
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("check blacklisted token: %w", err)
	}
	return exists, nil
}

// DeleteExpired removes entries whose tokens expired before the cutoff.
func (r *BlacklistRepository) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	return deleteRows(ctx, r.exec, r.builder.Delete("blacklisted_token").Where(squirrel.Lt{"expires_at": before}), "delete expired blacklisted tokens")
}

func deleteRows(ctx context.Context, exec pgExecutor, query squirrel.DeleteBuilder, op string) (int, error) {
	stmt, args, err := query.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build %s sql: %w", op, err)
	}
	tag, err := exec.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return int(tag.RowsAffected()), nil
}

var (
	_ port.RefreshTokenRepository = (*RefreshTokenRepository)(nil)
	_ port.BlacklistRepository    = (*BlacklistRepository)(nil)
)
