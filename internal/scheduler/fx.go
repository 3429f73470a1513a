package scheduler

import (
	"context"

	"github.com/smallbiznis/loyaltyrail/internal/scheduler/lock"
	"go.uber.org/fx"
)

// Module provides the scheduler without starting it; one-shot runners such
// as the ops CLI call RunJob directly.
var Module = fx.Module("scheduler",
	lock.Module,
	fx.Provide(New),
)

// RunnerModule starts the cron runner with the application lifecycle.
var RunnerModule = fx.Module("scheduler.runner",
	fx.Invoke(registerLifecycle),
)

func registerLifecycle(lc fx.Lifecycle, sched *Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return sched.Start(context.Background())
		},
		OnStop: func(ctx context.Context) error {
			return sched.Stop(ctx)
		},
	})
}
