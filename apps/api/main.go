package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/loyaltyrail/internal/attribution"
	"github.com/smallbiznis/loyaltyrail/internal/clock"
	"github.com/smallbiznis/loyaltyrail/internal/config"
	"github.com/smallbiznis/loyaltyrail/internal/events"
	"github.com/smallbiznis/loyaltyrail/internal/interaction"
	"github.com/smallbiznis/loyaltyrail/internal/merchant"
	"github.com/smallbiznis/loyaltyrail/internal/observability"
	"github.com/smallbiznis/loyaltyrail/internal/server"
	"github.com/smallbiznis/loyaltyrail/pkg/db"
	"go.uber.org/fx"
)

// The API process only ingests. Events reach the scheduler process through
// the RabbitMQ mirror when RABBITMQ_URL is set; otherwise it relies on the
// next scheduled run.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		events.Module,

		interaction.Module,
		merchant.Module,
		attribution.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
