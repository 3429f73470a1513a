package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/loyaltyrail/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledLimiterAllows(t *testing.T) {
	l, err := NewLimiter(nil, scopeArrivals, config.RateLimitConfig{})
	require.NoError(t, err)
	assert.False(t, l.Enabled())

	for i := 0; i < 100; i++ {
		res, err := l.Allow(context.Background(), "caller")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}
}

func TestNewLimiterValidates(t *testing.T) {
	_, err := NewLimiter(nil, scopeArrivals, config.RateLimitConfig{Enabled: true, Rate: 1, Burst: 1})
	assert.True(t, errors.Is(err, ErrNotConfigured))

	bucket := NewTokenBucket(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}))
	_, err = NewLimiter(bucket, scopeArrivals, config.RateLimitConfig{Enabled: true, Rate: 0, Burst: 1})
	assert.True(t, errors.Is(err, ErrInvalidLimit))
}

func TestTokenBucketRejectsBadInput(t *testing.T) {
	var nilBucket *TokenBucket
	_, err := nilBucket.Allow(context.Background(), "k", 1, 1)
	assert.True(t, errors.Is(err, ErrNotConfigured))

	bucket := NewTokenBucket(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}))
	_, err = bucket.Allow(context.Background(), "", 1, 1)
	assert.True(t, errors.Is(err, ErrInvalidLimit))
	_, err = bucket.Allow(context.Background(), "k", 1, 0)
	assert.True(t, errors.Is(err, ErrInvalidLimit))
}

func TestBucketTTL(t *testing.T) {
	assert.Equal(t, 20*time.Second, bucketTTL(1, 10))
	assert.Equal(t, time.Second, bucketTTL(1000, 1))
}

func TestScriptValueParsing(t *testing.T) {
	assert.Equal(t, int64(1), toInt(int64(1)))
	assert.Equal(t, int64(7), toInt("7"))
	assert.InDelta(t, 2.5, toFloat("2.5"), 1e-9)
	assert.InDelta(t, 3.0, toFloat(int64(3)), 1e-9)
	assert.Zero(t, toFloat(nil))
}

func TestTokenBucketAgainstRedis(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	l, err := NewLimiter(NewTokenBucket(client), scopeArrivals, config.RateLimitConfig{Enabled: true, Rate: 0.01, Burst: 2})
	require.NoError(t, err)

	key := fmt.Sprintf("test-%d", time.Now().UnixNano())
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		res, err := l.Allow(ctx, key)
		require.NoError(t, err)
		if !res.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	res, err := l.Allow(ctx, key)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Greater(t, res.RetryAfter, time.Duration(0))
}
