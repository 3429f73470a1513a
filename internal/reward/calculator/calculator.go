// Package calculator turns unprocessed interactions into pending rewards. It
// applies the flat amount configured per interaction type and does no pricing.
package calculator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	attributiondomain "github.com/smallbiznis/loyaltyrail/internal/attribution/domain"
	"github.com/smallbiznis/loyaltyrail/internal/clock"
	"github.com/smallbiznis/loyaltyrail/internal/config"
	"github.com/smallbiznis/loyaltyrail/internal/events"
	interactiondomain "github.com/smallbiznis/loyaltyrail/internal/interaction/domain"
	"github.com/smallbiznis/loyaltyrail/internal/reward/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TouchpointFinder locates the referral a purchase is attributed to.
type TouchpointFinder interface {
	FindActive(ctx context.Context, merchantID snowflake.ID, subjectRef string, at time.Time) (*attributiondomain.Touchpoint, error)
}

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Pipeline     *config.PipelineConfigHolder
	Repo         domain.Repository
	Interactions interactiondomain.Repository
	Touchpoints  TouchpointFinder
	Events       events.Publisher
}

type Calculator struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	pipeline     *config.PipelineConfigHolder
	repo         domain.Repository
	interactions interactiondomain.Repository
	touchpoints  TouchpointFinder
	events       events.Publisher
}

func New(p Params) *Calculator {
	return &Calculator{
		db:           p.DB,
		log:          p.Log.Named("reward.calculator"),
		genID:        p.GenID,
		clock:        p.Clock,
		pipeline:     p.Pipeline,
		repo:         p.Repo,
		interactions: p.Interactions,
		touchpoints:  p.Touchpoints,
		events:       p.Events,
	}
}

// Calculate processes one batch of interactions and returns how many rewards
// it created. Each interaction is marked processed whether or not it earned a
// reward; failures are skipped and retried on the next run.
func (c *Calculator) Calculate(ctx context.Context) (int, error) {
	settings := c.pipeline.Get().Rewards
	rows, err := c.interactions.ListUnprocessed(ctx, c.db, settings.CalculatorBatchSize)
	if err != nil {
		return 0, err
	}

	var (
		created int
		errs    []error
	)
	for _, row := range rows {
		ok, err := c.process(ctx, settings, row)
		if err != nil {
			errs = append(errs, fmt.Errorf("interaction %s: %w", row.ID, err))
			continue
		}
		if ok {
			created++
		}
	}

	if created > 0 {
		c.events.PublishNewPendingRewards(ctx, events.NewPendingRewards{Count: created})
	}
	c.log.Info("reward.calculate.finished",
		zap.Int("scanned", len(rows)),
		zap.Int("created", created),
		zap.Int("failed", len(errs)),
	)
	return created, errors.Join(errs...)
}

func (c *Calculator) process(ctx context.Context, settings config.RewardSettings, row interactiondomain.Interaction) (bool, error) {
	now := c.clock.Now()
	amount := settings.Amount(string(row.Type))
	wallet := ""
	if amount.IsPositive() {
		var err error
		wallet, err = c.beneficiary(ctx, row)
		if err != nil {
			return false, err
		}
	}

	var created bool
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if wallet != "" {
			var err error
			created, err = c.repo.Insert(ctx, tx, &domain.PendingReward{
				ID:            c.genID.Generate(),
				MerchantID:    row.MerchantID,
				InteractionID: row.ID,
				Wallet:        wallet,
				Amount:        amount,
				Denomination:  settings.Denomination,
				Status:        domain.StatusPending,
				CreatedAt:     now,
				UpdatedAt:     now,
			})
			if err != nil {
				return err
			}
		}
		return c.interactions.MarkProcessed(ctx, tx, []snowflake.ID{row.ID}, now)
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

// beneficiary is the interaction's own wallet, or for purchases the referrer
// of the touchpoint active when the purchase happened.
func (c *Calculator) beneficiary(ctx context.Context, row interactiondomain.Interaction) (string, error) {
	if row.Wallet != nil && strings.TrimSpace(*row.Wallet) != "" {
		return strings.TrimSpace(*row.Wallet), nil
	}
	if row.Type != interactiondomain.TypePurchase || c.touchpoints == nil {
		return "", nil
	}
	tp, err := c.touchpoints.FindActive(ctx, row.MerchantID, row.SubjectRef, row.OccurredAt)
	if err != nil {
		return "", err
	}
	if tp == nil {
		return "", nil
	}
	return tp.ReferrerWallet, nil
}
