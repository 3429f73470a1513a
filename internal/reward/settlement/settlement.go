// Package settlement drains pending rewards into on-chain settlement batches.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/loyaltyrail/internal/clock"
	"github.com/smallbiznis/loyaltyrail/internal/config"
	interactiondomain "github.com/smallbiznis/loyaltyrail/internal/interaction/domain"
	"github.com/smallbiznis/loyaltyrail/internal/observability/metrics"
	"github.com/smallbiznis/loyaltyrail/internal/reward/attestation"
	"github.com/smallbiznis/loyaltyrail/internal/reward/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const confirmBatchSize = 100

// Batch summarizes one settlement run.
type Batch struct {
	PushedCount int
	LockedCount int
	FailedCount int
	TxHashes    []string
	Errors      []error
}

type group struct {
	merchantID   snowflake.ID
	denomination string
	rows         []domain.PendingReward
}

func (g group) ids() []snowflake.ID {
	ids := make([]snowflake.ID, 0, len(g.rows))
	for _, row := range g.rows {
		ids = append(ids, row.ID)
	}
	return ids
}

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	Clock        clock.Clock
	Pipeline     *config.PipelineConfigHolder
	Repo         domain.Repository
	Interactions interactiondomain.Repository
	Relayer      domain.Relayer
	Metrics      *metrics.Metrics `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	clock        clock.Clock
	pipeline     *config.PipelineConfigHolder
	repo         domain.Repository
	interactions interactiondomain.Repository
	relayer      domain.Relayer
	metrics      *metrics.Metrics
}

func New(p Params) *Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("reward.settlement"),
		clock:        p.Clock,
		pipeline:     p.Pipeline,
		repo:         p.Repo,
		interactions: p.Interactions,
		relayer:      p.Relayer,
		metrics:      p.Metrics,
	}
}

// RunSettlement locks a batch of pending rewards and submits them one
// merchant group at a time. A failing group is released on its own and does
// not affect the others; its error is collected in the returned Batch.
func (s *Service) RunSettlement(ctx context.Context) (Batch, error) {
	settings := s.pipeline.Get().Rewards
	now := s.clock.Now()

	stale, err := s.repo.SweepStale(ctx, s.db, now.Add(-settings.StaleLockAfter), now)
	if err != nil {
		return Batch{}, fmt.Errorf("sweep stale locks: %w", err)
	}
	if stale > 0 {
		s.log.Warn("settlement.stale_locks.failed", zap.Int64("count", stale))
		s.metrics.RecordSettlement(ctx, "stale", int(stale))
	}

	ids, err := s.repo.ListPendingIDs(ctx, s.db, settings.BatchSize)
	if err != nil {
		return Batch{}, fmt.Errorf("list pending: %w", err)
	}
	if len(ids) == 0 {
		return Batch{}, nil
	}

	lockID := ulid.Make().String()
	if _, err := s.repo.Lock(ctx, s.db, ids, lockID, now); err != nil {
		return Batch{}, fmt.Errorf("lock rewards: %w", err)
	}
	rows, err := s.repo.ListLocked(ctx, s.db, lockID)
	if err != nil {
		return Batch{}, fmt.Errorf("load locked rewards: %w", err)
	}

	batch := Batch{LockedCount: len(rows)}
	s.metrics.RecordSettlement(ctx, "locked", batch.LockedCount)
	log := s.log.With(zap.String("lock_id", lockID))

	for _, g := range groupRewards(rows, settings.MaxGroupSize) {
		if err := ctx.Err(); err != nil {
			s.release(context.WithoutCancel(ctx), log, lockID, g, err, settings.MaxAttempts, &batch)
			continue
		}

		settlement, err := s.prepare(ctx, g)
		if err != nil {
			s.release(context.WithoutCancel(ctx), log, lockID, g, err, settings.MaxAttempts, &batch)
			continue
		}

		txHash, err := s.relayer.Submit(ctx, settlement)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				// The relayer may have broadcast before the deadline hit; leave
				// the rows locked for the stale sweep instead of retrying them.
				s.abandon(log, g, fmt.Errorf("%w (%w)", err, ctxErr), &batch)
				continue
			}
			s.release(ctx, log, lockID, g, err, settings.MaxAttempts, &batch)
			continue
		}

		pushed, err := s.repo.MarkPushed(ctx, s.db, lockID, g.ids(), txHash, s.clock.Now())
		if err != nil {
			// The transfer is on its way; leave the rows locked so the stale
			// sweep fails them instead of paying twice.
			batch.FailedCount += len(g.rows)
			batch.Errors = append(batch.Errors, fmt.Errorf("merchant %s: mark pushed %s: %w", g.merchantID, txHash, err))
			log.Error("settlement.group.mark_pushed_failed",
				zap.String("merchant_id", g.merchantID.String()),
				zap.String("tx_hash", txHash),
				zap.Error(err),
			)
			continue
		}
		batch.PushedCount += int(pushed)
		batch.TxHashes = append(batch.TxHashes, txHash)
		log.Info("settlement.group.pushed",
			zap.String("merchant_id", g.merchantID.String()),
			zap.String("tx_hash", txHash),
			zap.Int("rewards", len(g.rows)),
		)
	}

	s.metrics.RecordSettlement(ctx, "pushed", batch.PushedCount)
	s.metrics.RecordSettlement(ctx, "failed", batch.FailedCount)
	return batch, nil
}

func (s *Service) release(ctx context.Context, log *zap.Logger, lockID string, g group, cause error, maxAttempts int, batch *Batch) {
	batch.FailedCount += len(g.rows)
	batch.Errors = append(batch.Errors, fmt.Errorf("merchant %s: %w", g.merchantID, cause))
	log.Warn("settlement.group.failed",
		zap.String("merchant_id", g.merchantID.String()),
		zap.Int("rewards", len(g.rows)),
		zap.Error(cause),
	)
	if _, err := s.repo.Release(ctx, s.db, lockID, g.ids(), cause.Error(), maxAttempts, s.clock.Now()); err != nil {
		batch.Errors = append(batch.Errors, fmt.Errorf("merchant %s: release: %w", g.merchantID, err))
		log.Error("settlement.group.release_failed", zap.String("merchant_id", g.merchantID.String()), zap.Error(err))
	}
}

func (s *Service) abandon(log *zap.Logger, g group, cause error, batch *Batch) {
	batch.FailedCount += len(g.rows)
	batch.Errors = append(batch.Errors, fmt.Errorf("merchant %s: submit interrupted: %w", g.merchantID, cause))
	log.Error("settlement.group.abandoned",
		zap.String("merchant_id", g.merchantID.String()),
		zap.Int("rewards", len(g.rows)),
		zap.Error(cause),
	)
}

func (s *Service) prepare(ctx context.Context, g group) (domain.Settlement, error) {
	interactionIDs := make([]snowflake.ID, 0, len(g.rows))
	for _, row := range g.rows {
		interactionIDs = append(interactionIDs, row.InteractionID)
	}
	records, err := s.interactions.FindByIDs(ctx, s.db, interactionIDs)
	if err != nil {
		return domain.Settlement{}, fmt.Errorf("load interactions: %w", err)
	}
	trail := make([]attestation.Event, 0, len(records))
	for _, record := range records {
		trail = append(trail, attestation.NewEvent(string(record.Type), record.OccurredAt))
	}
	encoded, err := attestation.Encode(trail)
	if err != nil {
		return domain.Settlement{}, fmt.Errorf("encode attestation: %w", err)
	}

	return domain.Settlement{
		BatchID:      ulid.Make().String(),
		MerchantID:   g.merchantID,
		Denomination: g.denomination,
		Transfers:    sumTransfers(g.rows),
		Attestation:  encoded,
	}, nil
}

// ConfirmPushed reconciles pushed rewards with their transaction receipts.
func (s *Service) ConfirmPushed(ctx context.Context) (confirmed, failed int, err error) {
	hashes, err := s.repo.ListPushedTxHashes(ctx, s.db, confirmBatchSize)
	if err != nil {
		return 0, 0, err
	}

	var errs []error
	for _, hash := range hashes {
		status, err := s.relayer.TransactionStatus(ctx, hash)
		if err != nil {
			errs = append(errs, fmt.Errorf("tx %s: %w", hash, err))
			continue
		}
		var (
			target domain.Status
			reason string
		)
		switch status {
		case domain.TxConfirmed:
			target = domain.StatusConfirmed
		case domain.TxFailed:
			target, reason = domain.StatusFailed, domain.ReasonReverted
		default:
			continue
		}
		n, err := s.repo.ResolveTx(ctx, s.db, hash, target, reason, s.clock.Now())
		if err != nil {
			errs = append(errs, fmt.Errorf("tx %s: %w", hash, err))
			continue
		}
		if target == domain.StatusConfirmed {
			confirmed += int(n)
		} else {
			failed += int(n)
			s.log.Warn("settlement.tx.reverted", zap.String("tx_hash", hash), zap.Int64("rewards", n))
		}
	}

	s.metrics.RecordSettlement(ctx, "confirmed", confirmed)
	s.metrics.RecordSettlement(ctx, "reverted", failed)
	return confirmed, failed, errors.Join(errs...)
}

// groupRewards splits rows by merchant and denomination, then into chunks of
// at most maxSize. Groups come out in merchant order.
func groupRewards(rows []domain.PendingReward, maxSize int) []group {
	type key struct {
		merchantID   snowflake.ID
		denomination string
	}
	byKey := map[key][]domain.PendingReward{}
	keys := make([]key, 0)
	for _, row := range rows {
		k := key{row.MerchantID, row.Denomination}
		if _, ok := byKey[k]; !ok {
			keys = append(keys, k)
		}
		byKey[k] = append(byKey[k], row)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].merchantID != keys[j].merchantID {
			return keys[i].merchantID < keys[j].merchantID
		}
		return keys[i].denomination < keys[j].denomination
	})

	var out []group
	for _, k := range keys {
		members := byKey[k]
		for start := 0; start < len(members); {
			end := len(members)
			if maxSize > 0 && end-start > maxSize {
				end = start + maxSize
			}
			out = append(out, group{merchantID: k.merchantID, denomination: k.denomination, rows: members[start:end]})
			start = end
		}
	}
	return out
}

// sumTransfers adds up the amounts owed to each wallet, ordered by wallet.
func sumTransfers(rows []domain.PendingReward) []domain.Transfer {
	totals := map[string]decimal.Decimal{}
	for _, row := range rows {
		totals[row.Wallet] = totals[row.Wallet].Add(row.Amount)
	}
	out := make([]domain.Transfer, 0, len(totals))
	for wallet, amount := range totals {
		out = append(out, domain.Transfer{Wallet: wallet, Amount: amount})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Wallet < out[j].Wallet })
	return out
}
