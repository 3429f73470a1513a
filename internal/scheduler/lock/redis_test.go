package lock

import (
	"context"
	"os"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisLocker(t *testing.T) *RedisLocker {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	locker := NewRedisLocker(client)
	locker.prefix = "loyaltyrail:test:" + t.Name() + ":"
	locker.ticks = "loyaltyrail:test-tick:" + t.Name() + ":"
	return locker
}

func TestRedisLockerLifecycle(t *testing.T) {
	ctx := context.Background()
	locker := newRedisLocker(t)

	lease, ok, err := locker.Acquire(ctx, "settlerewards", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = locker.Acquire(ctx, "settlerewards", time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, lease.Renew(ctx))
	require.NoError(t, lease.Release(ctx))
	assert.ErrorIs(t, lease.Renew(ctx), ErrLockLost)

	again, ok, err := locker.Acquire(ctx, "settlerewards", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, again.Release(ctx))
}

func TestRedisLockerClaimTick(t *testing.T) {
	ctx := context.Background()
	locker := newRedisLocker(t)
	tick := time.Date(2025, 3, 1, 0, 5, 0, 0, time.UTC)
	require.NoError(t, locker.client.Del(ctx, locker.ticks+"settlerewards").Err())

	ok, err := locker.ClaimTick(ctx, "settlerewards", "a", tick)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = locker.ClaimTick(ctx, "settlerewards", "b", tick)
	require.NoError(t, err)
	if ok {
		t.Fatalf("tick %s claimed twice", tick)
	}

	ok, err = locker.ClaimTick(ctx, "settlerewards", "b", tick.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLockerNotConfigured(t *testing.T) {
	var locker *RedisLocker
	_, _, err := locker.Acquire(context.Background(), "job", time.Second)
	assert.Error(t, err)
}
