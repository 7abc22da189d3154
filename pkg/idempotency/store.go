// Package idempotency guards against duplicate activations when the event
// source delivers the same logical event more than once.
package idempotency

import (
	"context"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Store remembers recently seen activation keys for a bounded time window.
type Store interface {
	// Seen records the key and reports whether it was already present.
	Seen(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Close() error
}

// RedisStore shares the seen-set across engine instances.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client, prefix: "dripflow:activation:"}
}

func (s *RedisStore) Seen(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	created, err := s.client.SetNX(ctx, s.prefix+key, 1, ttl).Result()
	if err != nil {
		return false, err
	}

	return !created, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// MemoryStore is the single-process implementation used in development and
// tests.
type MemoryStore struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seen: make(map[string]time.Time)}
}

func (s *MemoryStore) Seen(_ context.Context, key string, ttl time.Duration) (bool, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	expiry, ok := s.seen[key]
	if ok && expiry.After(now) {
		return true, nil
	}

	s.seen[key] = now.Add(ttl)

	// Drop expired entries opportunistically.
	for k, exp := range s.seen {
		if exp.Before(now) {
			delete(s.seen, k)
		}
	}

	return false, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
