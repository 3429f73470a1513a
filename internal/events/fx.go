package events

import (
	"context"

	"github.com/smallbiznis/loyaltyrail/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("events",
	fx.Provide(NewBus),
	fx.Provide(func(b *Bus) Publisher { return b }),
	fx.Invoke(registerMirror),
)

func registerMirror(lc fx.Lifecycle, cfg config.Config, bus *Bus, log *zap.Logger) {
	if cfg.RabbitMQURL == "" {
		return
	}

	var (
		mirror *Mirror
		detach func()
	)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			m, err := DialMirror(cfg.RabbitMQURL, cfg.RabbitMQExchange, log)
			if err != nil {
				log.Warn("events.mirror.disabled", zap.Error(err))
				return nil
			}
			mirror = m
			detach = m.Attach(bus)
			log.Info("events.mirror.started", zap.String("exchange", cfg.RabbitMQExchange))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if mirror == nil {
				return nil
			}
			detach()
			return mirror.Close(ctx)
		},
	})
}
