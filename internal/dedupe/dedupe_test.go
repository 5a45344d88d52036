package dedupe

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, ttl), mr
}

func TestRedisStoreSeen(t *testing.T) {
	store, _ := newRedisStore(t, time.Minute)
	ctx := context.Background()

	seen, err := store.Seen(ctx, "wamid.A")
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = store.Seen(ctx, "wamid.A")
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = store.Seen(ctx, "wamid.B")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestRedisStoreExpiry(t *testing.T) {
	store, mr := newRedisStore(t, time.Minute)
	ctx := context.Background()

	_, err := store.Seen(ctx, "wamid.A")
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	seen, err := store.Seen(ctx, "wamid.A")
	require.NoError(t, err)
	assert.False(t, seen, "expired key should read as unseen")
}

func TestRedisStoreForget(t *testing.T) {
	store, _ := newRedisStore(t, time.Minute)
	ctx := context.Background()

	_, err := store.Seen(ctx, "wamid.A")
	require.NoError(t, err)
	require.NoError(t, store.Forget(ctx, "wamid.A"))

	seen, err := store.Seen(ctx, "wamid.A")
	require.NoError(t, err)
	assert.False(t, seen, "a forgotten key reads as unseen again")
}

func TestMemoryStoreSeen(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	ctx := context.Background()

	seen, err := store.Seen(ctx, "wamid.A")
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = store.Seen(ctx, "wamid.A")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestMemoryStoreForget(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	ctx := context.Background()

	_, err := store.Seen(ctx, "wamid.A")
	require.NoError(t, err)
	require.NoError(t, store.Forget(ctx, "wamid.A"))

	seen, err := store.Seen(ctx, "wamid.A")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestMemoryStoreConcurrentFirstMark(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	ctx := context.Background()

	var unseen atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen, err := store.Seen(ctx, "same-key")
			require.NoError(t, err)
			if !seen {
				unseen.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), unseen.Load(), "exactly one caller wins the mark")
}
