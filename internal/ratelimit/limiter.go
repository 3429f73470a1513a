package ratelimit

import (
	"context"
	"fmt"
	"strings"

	"github.com/smallbiznis/loyaltyrail/internal/config"
)

const keyPrefix = "loyaltyrail:ratelimit:%s:%s"

// Limiter throttles API callers per key. A disabled limiter allows everything.
type Limiter struct {
	enabled bool
	bucket  *TokenBucket
	scope   string
	rate    float64
	burst   int
}

func NewLimiter(bucket *TokenBucket, scope string, cfg config.RateLimitConfig) (*Limiter, error) {
	if !cfg.Enabled {
		return &Limiter{}, nil
	}
	if bucket == nil {
		return nil, ErrNotConfigured
	}
	if cfg.Rate <= 0 || cfg.Burst <= 0 {
		return nil, fmt.Errorf("%w: rate and burst must be positive", ErrInvalidLimit)
	}
	return &Limiter{
		enabled: true,
		bucket:  bucket,
		scope:   scope,
		rate:    cfg.Rate,
		burst:   cfg.Burst,
	}, nil
}

func (l *Limiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *Limiter) Allow(ctx context.Context, key string) (Result, error) {
	if !l.Enabled() {
		return Result{Allowed: true}, nil
	}
	key = strings.ToLower(strings.TrimSpace(key))
	return l.bucket.Allow(ctx, fmt.Sprintf(keyPrefix, l.scope, key), l.rate, l.burst)
}
