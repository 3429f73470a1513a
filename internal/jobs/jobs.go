// Package jobs registers the pipeline's background work with the scheduler
// and wires event bus notifications to early runs.
package jobs

import (
	"context"
	"sync"

	"github.com/smallbiznis/loyaltyrail/internal/config"
	"github.com/smallbiznis/loyaltyrail/internal/events"
	"github.com/smallbiznis/loyaltyrail/internal/reward/settlement"
	"github.com/smallbiznis/loyaltyrail/internal/scheduler"
	"go.uber.org/zap"
)

const (
	CleanupExpiredTouchpoints = "cleanupExpiredTouchpoints"
	CleanupPairings           = "cleanupPairings"
	SettleRewards             = "settleRewards"
	CalculateRewards          = "calculateRewards"
	ConfirmSettlements        = "confirmSettlements"
)

// maxLoggedErrors caps per-run settlement error logging.
const maxLoggedErrors = 10

type TouchpointCleaner interface {
	CleanupExpiredTouchpoints(ctx context.Context) (int64, error)
}

type PairingCleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

type RewardCalculator interface {
	Calculate(ctx context.Context) (int, error)
}

type Settler interface {
	RunSettlement(ctx context.Context) (settlement.Batch, error)
	ConfirmPushed(ctx context.Context) (confirmed, failed int, err error)
}

type Registrar interface {
	Register(job scheduler.Job) error
	Trigger(name string) bool
}

type Subscriber interface {
	OnNewInteraction(h func(context.Context, events.NewInteraction)) func()
	OnNewPendingRewards(h func(context.Context, events.NewPendingRewards)) func()
}

type Deps struct {
	Touchpoints TouchpointCleaner
	Pairings    PairingCleaner
	Calculator  RewardCalculator
	Settlement  Settler
}

// Register adds every pipeline job to sched.
func Register(sched Registrar, deps Deps) error {
	for _, job := range Definitions(deps) {
		if err := sched.Register(job); err != nil {
			return err
		}
	}
	return nil
}

// Definitions builds the job set. Schedules and timeouts come from the
// pipeline config.
func Definitions(deps Deps) []scheduler.Job {
	return []scheduler.Job{
		{Name: CleanupExpiredTouchpoints, Run: func(ctx context.Context, log *zap.Logger) error {
			deleted, err := deps.Touchpoints.CleanupExpiredTouchpoints(ctx)
			scheduler.AddProcessed(ctx, "touchpoint", int(deleted))
			return err
		}},
		{Name: CleanupPairings, Run: func(ctx context.Context, log *zap.Logger) error {
			deleted, err := deps.Pairings.CleanupExpired(ctx)
			scheduler.AddProcessed(ctx, "wallet_pairing", int(deleted))
			return err
		}},
		{Name: CalculateRewards, Run: func(ctx context.Context, log *zap.Logger) error {
			created, err := deps.Calculator.Calculate(ctx)
			scheduler.AddProcessed(ctx, "interaction", created)
			return err
		}},
		{Name: SettleRewards, Run: func(ctx context.Context, log *zap.Logger) error {
			return settle(ctx, log, deps.Settlement)
		}},
		{Name: ConfirmSettlements, Run: func(ctx context.Context, log *zap.Logger) error {
			confirmed, failed, err := deps.Settlement.ConfirmPushed(ctx)
			scheduler.AddProcessed(ctx, "settlement", confirmed+failed)
			if confirmed > 0 || failed > 0 {
				log.Info("settlement.confirm.summary",
					zap.Int("confirmed", confirmed),
					zap.Int("failed", failed),
				)
			}
			return err
		}},
	}
}

func settle(ctx context.Context, log *zap.Logger, settler Settler) error {
	batch, err := settler.RunSettlement(ctx)
	scheduler.AddProcessed(ctx, "pending_reward", batch.PushedCount)
	scheduler.AddErrors(ctx, len(batch.Errors))

	log.Info("settlement.summary",
		zap.Int("pushed", batch.PushedCount),
		zap.Int("locked", batch.LockedCount),
		zap.Int("failed", batch.FailedCount),
		zap.Strings("tx_hashes", batch.TxHashes),
		zap.Int("error_count", len(batch.Errors)),
	)
	for i, groupErr := range batch.Errors {
		if i == maxLoggedErrors {
			log.Warn("settlement.errors.truncated", zap.Int("omitted", len(batch.Errors)-maxLoggedErrors))
			break
		}
		log.Warn("settlement.error", zap.Int("index", i), zap.Error(groupErr))
	}
	return err
}

// Wire subscribes the scheduler to bus notifications and returns a function
// that removes the subscriptions.
func Wire(bus Subscriber, sched Registrar, pipeline *config.PipelineConfigHolder) func() {
	pending := &pendingCounter{}

	offInteraction := bus.OnNewInteraction(func(ctx context.Context, evt events.NewInteraction) {
		sched.Trigger(CalculateRewards)
	})
	offPending := bus.OnNewPendingRewards(func(ctx context.Context, evt events.NewPendingRewards) {
		threshold := pipeline.Get().Rewards.EagerSettleThreshold
		if pending.add(evt.Count, threshold) {
			sched.Trigger(SettleRewards)
		}
	})
	return func() {
		offInteraction()
		offPending()
	}
}

// pendingCounter accumulates new pending rewards until the eager threshold.
type pendingCounter struct {
	mu    sync.Mutex
	count int
}

func (c *pendingCounter) add(n, threshold int) bool {
	if threshold <= 0 || n <= 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count += n
	if c.count < threshold {
		return false
	}
	c.count = 0
	return true
}
