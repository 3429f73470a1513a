// Command rewardctl runs pipeline jobs and admin tasks from a shell.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/loyaltyrail/internal/clock"
	"github.com/smallbiznis/loyaltyrail/internal/config"
	"github.com/smallbiznis/loyaltyrail/internal/observability"
	"github.com/smallbiznis/loyaltyrail/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var Version = "dev"

const stopTimeout = 15 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "rewardctl",
		Short:         "Operate the loyaltyrail reward pipeline",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(jobsCmd())
	rootCmd.AddCommand(signCmd())
	rootCmd.AddCommand(webhookCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tokenCmd())

	return rootCmd
}

func coreModules() fx.Option {
	return fx.Options(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
	)
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}

// startApp starts an fx app built from opts and fills targets. The returned
// function stops it.
func startApp(ctx context.Context, opts fx.Option, targets ...interface{}) (func(), error) {
	app := fx.New(opts, fx.NopLogger, fx.Populate(targets...))
	if err := app.Err(); err != nil {
		return nil, err
	}
	if err := app.Start(ctx); err != nil {
		return nil, err
	}
	return func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		_ = app.Stop(stopCtx)
	}, nil
}
