package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/loyaltyrail/internal/attribution"
	"github.com/smallbiznis/loyaltyrail/internal/clock"
	"github.com/smallbiznis/loyaltyrail/internal/config"
	"github.com/smallbiznis/loyaltyrail/internal/events"
	"github.com/smallbiznis/loyaltyrail/internal/interaction"
	"github.com/smallbiznis/loyaltyrail/internal/jobs"
	"github.com/smallbiznis/loyaltyrail/internal/merchant"
	"github.com/smallbiznis/loyaltyrail/internal/migration"
	"github.com/smallbiznis/loyaltyrail/internal/observability"
	"github.com/smallbiznis/loyaltyrail/internal/pairing"
	"github.com/smallbiznis/loyaltyrail/internal/reward"
	"github.com/smallbiznis/loyaltyrail/internal/scheduler"
	"github.com/smallbiznis/loyaltyrail/internal/server"
	"github.com/smallbiznis/loyaltyrail/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		config.PipelineModule,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		events.Module,

		// Functional Domains
		interaction.Module,
		merchant.Module,
		attribution.Module,
		pairing.Module,
		reward.Module,

		// Background work
		scheduler.Module,
		jobs.Module,
		jobs.EventsModule,
		scheduler.RunnerModule,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
