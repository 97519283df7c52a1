package memory

import (
	"context"
	"hash/maphash"
	"sync"
	"time"

	"github.com/arklim/taskhub-auth/internal/core/domain"
	"github.com/arklim/taskhub-auth/internal/core/port"
)

const loginAttemptShards = 32

type attemptShard struct {
	mu      sync.Mutex
	records map[string]domain.LoginAttemptRecord
}

// LoginAttemptStore is a sharded map of login failure records. Mutations on one
// identifier never contend with other shards.
type LoginAttemptStore struct {
	seed   maphash.Seed
	shards [loginAttemptShards]attemptShard
}

// NewLoginAttemptStore constructs an empty store.
func NewLoginAttemptStore() *LoginAttemptStore {
	s := &LoginAttemptStore{seed: maphash.MakeSeed()}
	for i := range s.shards {
		s.shards[i].records = make(map[string]domain.LoginAttemptRecord)
	}
	return s
}

func (s *LoginAttemptStore) shard(identifier string) *attemptShard {
	return &s.shards[maphash.String(s.seed, identifier)%loginAttemptShards]
}

func (s *LoginAttemptStore) Get(_ context.Context, identifier string) (domain.LoginAttemptRecord, bool, error) {
	sh := s.shard(identifier)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	record, ok := sh.records[identifier]
	if !ok {
		return domain.LoginAttemptRecord{}, false, nil
	}
	return record.Clone(), true, nil
}

// Mutate applies fn under the shard lock. ttl is ignored; stale records are removed by EvictBefore.
func (s *LoginAttemptStore) Mutate(_ context.Context, identifier string, _ time.Duration, fn port.LoginAttemptMutator) (domain.LoginAttemptRecord, error) {
	sh := s.shard(identifier)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	record := sh.records[identifier].Clone()
	if !fn(&record) {
		delete(sh.records, identifier)
		return domain.LoginAttemptRecord{}, nil
	}
	sh.records[identifier] = record
	return record.Clone(), nil
}

func (s *LoginAttemptStore) Delete(_ context.Context, identifier string) error {
	sh := s.shard(identifier)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	delete(sh.records, identifier)
	return nil
}

func (s *LoginAttemptStore) EvictBefore(_ context.Context, cutoff time.Time) (int, error) {
	evicted := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for id, record := range sh.records {
			if record.UpdatedAt.Before(cutoff) {
				delete(sh.records, id)
				evicted++
			}
		}
		sh.mu.Unlock()
	}
	return evicted, nil
}

var _ port.LoginAttemptStore = (*LoginAttemptStore)(nil)
