package store

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisUnreachableIsDegraded(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond, MaxRetries: -1})
	st := NewRedisStore(rdb)
	t.Cleanup(func() { _ = st.Close() })
	ctx := context.Background()
	now := time.Now()

	_, err := st.Get(ctx, "lock-x")
	assert.True(t, IsDegraded(err), "get: %v", err)
	err = st.PutIfAbsentOrExpired(ctx, lockRecord("lock-x", "a", now.Add(time.Minute)), now)
	assert.True(t, IsDegraded(err), "acquire: %v", err)
	assert.NotErrorIs(t, err, ErrConflict)
}

func TestRedisIntegrationLockLifecycle(t *testing.T) {
	addr := strings.TrimSpace(os.Getenv("COORD_TEST_REDIS_ADDR"))
	if addr == "" {
		t.Skip("COORD_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	st := NewRedisStore(redis.NewClient(&redis.Options{Addr: addr}))
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Ping(ctx))

	key := "it-lock-" + time.Now().Format("150405.000000000")
	t.Cleanup(func() { _ = st.Delete(ctx, key) })
	now := time.Now()

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = st.PutIfAbsentOrExpired(ctx, lockRecord(key, "it", now.Add(time.Minute)), now)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, ErrConflict)
		}
	}
	assert.Equal(t, 1, wins)

	later := now.Add(2 * time.Minute)
	require.NoError(t, st.PutIfAbsentOrExpired(ctx, lockRecord(key, "it-2", later.Add(time.Minute)), later))
	rec, err := st.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "it-2", rec.Owner)

	require.NoError(t, st.Delete(ctx, key))
	require.NoError(t, st.Delete(ctx, key))
	_, err = st.Get(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)
}
