package main

import (
	"fmt"

	"github.com/smallbiznis/loyaltyrail/internal/attribution"
	"github.com/smallbiznis/loyaltyrail/internal/config"
	"github.com/smallbiznis/loyaltyrail/internal/events"
	"github.com/smallbiznis/loyaltyrail/internal/interaction"
	"github.com/smallbiznis/loyaltyrail/internal/jobs"
	"github.com/smallbiznis/loyaltyrail/internal/pairing"
	"github.com/smallbiznis/loyaltyrail/internal/reward"
	"github.com/smallbiznis/loyaltyrail/internal/scheduler"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func pipelineModules() fx.Option {
	return fx.Options(
		coreModules(),
		config.PipelineModule,
		events.Module,
		interaction.Module,
		attribution.Module,
		pairing.Module,
		reward.Module,
		scheduler.Module,
		jobs.Module,
	)
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run [job]",
		Short: "Run one pipeline job now, under the cross-instance lock",
		Long: `Run one pipeline job once. The job takes the same lease the scheduler
uses, so it is skipped when another replica is running it.

Examples:
  rewardctl run settleRewards
  rewardctl run cleanupExpiredTouchpoints`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var sched *scheduler.Scheduler
			stop, err := startApp(cmd.Context(), pipelineModules(), &sched)
			if err != nil {
				return err
			}
			defer stop()

			outcome := sched.RunJob(cmd.Context(), args[0])
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", args[0], outcome)
			if outcome != scheduler.OutcomeRan {
				return fmt.Errorf("job %s did not run: %s", args[0], outcome)
			}
			return nil
		},
	}
}

func jobsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "jobs",
		Short: "List pipeline jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var sched *scheduler.Scheduler
			var holder *config.PipelineConfigHolder
			stop, err := startApp(cmd.Context(), pipelineModules(), &sched, &holder)
			if err != nil {
				return err
			}
			defer stop()

			pipeline := holder.Get()
			for _, name := range sched.Jobs() {
				settings := pipeline.Job(name)
				fmt.Fprintf(cmd.OutOrStdout(), "%-28s %-14s enabled=%t\n", name, settings.Schedule, settings.IsEnabled())
			}
			return nil
		},
	}
}
