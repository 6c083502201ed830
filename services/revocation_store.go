// services/revocation_store.go
package services

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hanmadi-app/hanmadi_api/model"
)

// RevocationStore remembers session token ids killed before their expiry.
// Entries only need to live until the token would have expired on its own.
type RevocationStore interface {
	Revoke(ctx context.Context, jti string, until time.Time) error
	IsRevoked(ctx context.Context, jti string, now time.Time) (bool, error)
	Sweep(ctx context.Context, now time.Time) (int, error)
}

type MemoryRevocationStore struct {
	mu      sync.RWMutex
	revoked map[string]model.RevokedToken
}

func NewMemoryRevocationStore() *MemoryRevocationStore {
	return &MemoryRevocationStore{revoked: map[string]model.RevokedToken{}}
}

func (s *MemoryRevocationStore) Revoke(_ context.Context, jti string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[jti] = model.RevokedToken{JTI: jti, RevokedUntil: until}
	return nil
}

func (s *MemoryRevocationStore) IsRevoked(_ context.Context, jti string, now time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.revoked[jti]
	if !ok {
		return false, nil
	}
	return now.Before(entry.RevokedUntil), nil
}

func (s *MemoryRevocationStore) Sweep(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for jti, entry := range s.revoked {
		if !now.Before(entry.RevokedUntil) {
			delete(s.revoked, jti)
			removed++
		}
	}
	return removed, nil
}

// RedisRevocationStore keys one entry per jti with a TTL at the token's own
// expiry, so Redis prunes the list and Sweep is a no-op.
type RedisRevocationStore struct {
	client *redis.Client
	prefix string
}

func NewRedisRevocationStore(client *redis.Client) *RedisRevocationStore {
	return &RedisRevocationStore{client: client, prefix: "revoked:"}
}

func (s *RedisRevocationStore) Revoke(ctx context.Context, jti string, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	return s.client.Set(ctx, s.prefix+jti, "1", ttl).Err()
}

func (s *RedisRevocationStore) IsRevoked(ctx context.Context, jti string, _ time.Time) (bool, error) {
	n, err := s.client.Exists(ctx, s.prefix+jti).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisRevocationStore) Sweep(context.Context, time.Time) (int, error) {
	return 0, nil
}
