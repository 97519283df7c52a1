package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/arklim/taskhub-auth/internal/core/domain"
	"github.com/arklim/taskhub-auth/internal/core/port"
)

const (
	defaultLoginAttemptPrefix = "login_attempts"
	maxMutateRetries          = 16
	evictScanCount            = 100
)

// ErrMutateContention is returned when optimistic updates keep losing to concurrent writers.
var ErrMutateContention = errors.New("login attempt record contended")

// LoginAttemptRepository shares login failure records across instances. Each record is
// a JSON document updated under WATCH/MULTI so concurrent failures are never lost.
type LoginAttemptRepository struct {
	client *red.Client
	prefix string
}

// NewLoginAttemptRepository wires a Redis client into a login attempt store.
func NewLoginAttemptRepository(client *red.Client, keyPrefix string) *LoginAttemptRepository {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultLoginAttemptPrefix
	}
	return &LoginAttemptRepository{client: client, prefix: prefix}
}

func (r *LoginAttemptRepository) Get(ctx context.Context, identifier string) (domain.LoginAttemptRecord, bool, error) {
	record, ok, err := decodeRecord(r.client.Get(ctx, r.key(identifier)))
	if err != nil {
		return domain.LoginAttemptRecord{}, false, fmt.Errorf("redis get login attempts: %w", err)
	}
	return record, ok, nil
}

// Mutate applies fn to the stored record and writes it back with ttl, retrying on contention.
func (r *LoginAttemptRepository) Mutate(ctx context.Context, identifier string, ttl time.Duration, fn port.LoginAttemptMutator) (domain.LoginAttemptRecord, error) {
	key := r.key(identifier)
	var result domain.LoginAttemptRecord

	txf := func(tx *red.Tx) error {
		record, _, err := decodeRecord(tx.Get(ctx, key))
		if err != nil {
			return err
		}

		keep := fn(&record)
		var payload []byte
		if keep {
			if payload, err = json.Marshal(record); err != nil {
				return fmt.Errorf("encode login attempts: %w", err)
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe red.Pipeliner) error {
			if !keep {
				pipe.Del(ctx, key)
				return nil
			}
			pipe.Set(ctx, key, payload, ttl)
			return nil
		})
		if err != nil {
			return err
		}

		if keep {
			result = record
		} else {
			result = domain.LoginAttemptRecord{}
		}
		return nil
	}

	for attempt := 0; attempt < maxMutateRetries; attempt++ {
		err := r.client.Watch(ctx, txf, key)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, red.TxFailedErr) {
			continue
		}
		return domain.LoginAttemptRecord{}, fmt.Errorf("redis mutate login attempts: %w", err)
	}
	return domain.LoginAttemptRecord{}, ErrMutateContention
}

func (r *LoginAttemptRepository) Delete(ctx context.Context, identifier string) error {
	if err := r.client.Del(ctx, r.key(identifier)).Err(); err != nil {
		return fmt.Errorf("redis delete login attempts: %w", err)
	}
	return nil
}

// EvictBefore removes records untouched since cutoff. Keys also carry a TTL, so this
// only catches records written with a longer retention than the current policy.
func (r *LoginAttemptRepository) EvictBefore(ctx context.Context, cutoff time.Time) (int, error) {
	evicted := 0
	iter := r.client.Scan(ctx, 0, r.prefix+":*", evictScanCount).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		record, ok, err := decodeRecord(r.client.Get(ctx, key))
		if err != nil || !ok {
			continue
		}
		if !record.UpdatedAt.Before(cutoff) {
			continue
		}
		n, err := r.client.Del(ctx, key).Result()
		if err != nil {
			return evicted, fmt.Errorf("redis evict login attempts: %w", err)
		}
		evicted += int(n)
	}
	if err := iter.Err(); err != nil {
		return evicted, fmt.Errorf("redis scan login attempts: %w", err)
	}
	return evicted, nil
}

func (r *LoginAttemptRepository) key(identifier string) string {
	return fmt.Sprintf("%s:%s", r.prefix, identifier)
}

func decodeRecord(cmd *red.StringCmd) (domain.LoginAttemptRecord, bool, error) {
	raw, err := cmd.Bytes()
	if err != nil {
		if errors.Is(err, red.Nil) {
			return domain.LoginAttemptRecord{}, false, nil
		}
		return domain.LoginAttemptRecord{}, false, err
	}

	var record domain.LoginAttemptRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return domain.LoginAttemptRecord{}, false, fmt.Errorf("decode login attempts: %w", err)
	}
	return record, true, nil
}

var _ port.LoginAttemptStore = (*LoginAttemptRepository)(nil)
