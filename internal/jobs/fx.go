package jobs

import (
	"context"

	attributionservice "github.com/smallbiznis/loyaltyrail/internal/attribution/service"
	"github.com/smallbiznis/loyaltyrail/internal/config"
	"github.com/smallbiznis/loyaltyrail/internal/events"
	"github.com/smallbiznis/loyaltyrail/internal/pairing"
	"github.com/smallbiznis/loyaltyrail/internal/reward/calculator"
	"github.com/smallbiznis/loyaltyrail/internal/reward/settlement"
	"github.com/smallbiznis/loyaltyrail/internal/scheduler"
	"go.uber.org/fx"
)

var Module = fx.Module("jobs",
	fx.Invoke(registerJobs),
)

// EventsModule lets bus notifications wake jobs early. Only processes that
// run the scheduler loop include it.
var EventsModule = fx.Module("jobs.events",
	fx.Invoke(wireEvents),
)

type Params struct {
	fx.In

	Scheduler   *scheduler.Scheduler
	Touchpoints *attributionservice.Service
	Pairings    *pairing.Service
	Calculator  *calculator.Calculator
	Settlement  *settlement.Service
}

func registerJobs(p Params) error {
	return Register(p.Scheduler, Deps{
		Touchpoints: p.Touchpoints,
		Pairings:    p.Pairings,
		Calculator:  p.Calculator,
		Settlement:  p.Settlement,
	})
}

func wireEvents(lc fx.Lifecycle, bus *events.Bus, sched *scheduler.Scheduler, pipeline *config.PipelineConfigHolder) {
	unwire := Wire(bus, sched, pipeline)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			unwire()
			return nil
		},
	})
}
