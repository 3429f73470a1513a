package lock

import (
	"context"
	"fmt"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/loyaltyrail/internal/clock"
	"github.com/smallbiznis/loyaltyrail/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	BackendDB    = "db"
	BackendRedis = "redis"
)

var Module = fx.Module("scheduler.lock",
	fx.Provide(NewLocker),
)

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Cfg       config.Config
	DB        *gorm.DB
	Clock     clock.Clock
	Log       *zap.Logger
}

// NewLocker builds the backend selected by SCHEDULER_LOCK_BACKEND.
func NewLocker(p Params) (Locker, error) {
	switch p.Cfg.LockBackend {
	case "", BackendDB:
		return NewDBLocker(p.DB, p.Clock), nil
	case BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     p.Cfg.RedisAddr,
			Password: p.Cfg.RedisPassword,
			DB:       p.Cfg.RedisDB,
		})
		p.Lifecycle.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				if err := client.Ping(ctx).Err(); err != nil {
					return fmt.Errorf("redis lock backend: %w", err)
				}
				p.Log.Info("scheduler.lock.redis_connected", zap.String("addr", p.Cfg.RedisAddr))
				return nil
			},
			OnStop: func(ctx context.Context) error {
				return client.Close()
			},
		})
		return NewRedisLocker(client), nil
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrInvalidLock, p.Cfg.LockBackend)
	}
}
