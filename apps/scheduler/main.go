package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/loyaltyrail/internal/attribution"
	"github.com/smallbiznis/loyaltyrail/internal/clock"
	"github.com/smallbiznis/loyaltyrail/internal/config"
	"github.com/smallbiznis/loyaltyrail/internal/events"
	"github.com/smallbiznis/loyaltyrail/internal/interaction"
	"github.com/smallbiznis/loyaltyrail/internal/jobs"
	"github.com/smallbiznis/loyaltyrail/internal/observability"
	"github.com/smallbiznis/loyaltyrail/internal/pairing"
	"github.com/smallbiznis/loyaltyrail/internal/reward"
	"github.com/smallbiznis/loyaltyrail/internal/scheduler"
	"github.com/smallbiznis/loyaltyrail/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		config.PipelineModule,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		events.Module,

		// Domain services required by jobs
		interaction.Module,
		attribution.Module,
		pairing.Module,
		reward.Module,

		// No server module!
		scheduler.Module,
		jobs.Module,
		jobs.EventsModule,
		scheduler.RunnerModule,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
