// Package dedupe suppresses webhook redeliveries. Providers may deliver the
// same envelope more than once; processing is keyed on the provider message
// id so each inbound message is handled once within the TTL window.
package dedupe

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// DefaultTTL covers the provider's redelivery window with margin.
const DefaultTTL = 24 * time.Hour

// Store answers "has this key been seen?" and marks it atomically.
type Store interface {
	// Seen returns true if key was already marked within the TTL. A new key
	// is marked and reported as unseen. Check-and-mark is atomic.
	Seen(ctx context.Context, key string) (bool, error)

	// Forget releases a marked key so a later delivery is processed again.
	// Callers use it when processing failed after the mark and the
	// provider's retry must not be suppressed.
	Forget(ctx context.Context, key string) error
}

// RedisStore backs dedup with SET NX PX, so the window survives restarts
// and is shared between replicas.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Seen(ctx context.Context, key string) (bool, error) {
	set, err := s.client.SetNX(ctx, "dedupe:"+key, 1, s.ttl).Result()
	if err != nil {
		return false, err
	}
	return !set, nil
}

func (s *RedisStore) Forget(ctx context.Context, key string) error {
	return s.client.Del(ctx, "dedupe:"+key).Err()
}

// MemoryStore is the in-process fallback when no Redis is configured. The
// window is lost on restart, which at worst readmits a redelivered webhook.
type MemoryStore struct {
	cache *gocache.Cache
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{cache: gocache.New(ttl, 10*time.Minute)}
}

func (s *MemoryStore) Seen(ctx context.Context, key string) (bool, error) {
	// Add fails when the key already exists; that is the atomic
	// check-and-mark.
	if err := s.cache.Add(key, struct{}{}, gocache.DefaultExpiration); err != nil {
		return true, nil
	}
	return false, nil
}

func (s *MemoryStore) Forget(ctx context.Context, key string) error {
	s.cache.Delete(key)
	return nil
}
