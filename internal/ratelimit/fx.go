package ratelimit

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/loyaltyrail/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const scopeArrivals = "arrivals"

var Module = fx.Module("rate.limit",
	fx.Provide(NewArrivalLimiter),
)

// NewArrivalLimiter builds the limiter guarding the referral arrivals API.
func NewArrivalLimiter(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (*Limiter, error) {
	if !cfg.RateLimit.Enabled {
		return &Limiter{}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	limiter, err := NewLimiter(NewTokenBucket(client), scopeArrivals, cfg.RateLimit)
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				return err
			}
			log.Info("rate.limit.redis_connected",
				zap.String("addr", cfg.RedisAddr),
				zap.Float64("rate", cfg.RateLimit.Rate),
				zap.Int("burst", cfg.RateLimit.Burst),
			)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})
	return limiter, nil
}
