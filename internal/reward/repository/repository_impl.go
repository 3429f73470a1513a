package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/loyaltyrail/internal/reward/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, reward *domain.PendingReward) (bool, error) {
	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "interaction_id"}},
			DoNothing: true,
		}).
		Create(reward)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) ListPendingIDs(ctx context.Context, db *gorm.DB, limit int) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := db.WithContext(ctx).Raw(
		`SELECT id FROM pending_rewards
		 WHERE status = ?
		 ORDER BY created_at, id
		 LIMIT ?`,
		domain.StatusPending,
		limit,
	).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repo) Lock(ctx context.Context, db *gorm.DB, ids []snowflake.ID, lockID string, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := db.WithContext(ctx).Exec(
		`UPDATE pending_rewards
		 SET status = ?, lock_id = ?, locked_at = ?, updated_at = ?
		 WHERE id IN ? AND status = ?`,
		domain.StatusLocked,
		lockID,
		at,
		at,
		ids,
		domain.StatusPending,
	)
	return result.RowsAffected, result.Error
}

func (r *repo) ListLocked(ctx context.Context, db *gorm.DB, lockID string) ([]domain.PendingReward, error) {
	var rows []domain.PendingReward
	err := db.WithContext(ctx).
		Where("lock_id = ? AND status = ?", lockID, domain.StatusLocked).
		Order("merchant_id, created_at, id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) MarkPushed(ctx context.Context, db *gorm.DB, lockID string, ids []snowflake.ID, txHash string, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := db.WithContext(ctx).Exec(
		`UPDATE pending_rewards
		 SET status = ?, tx_hash = ?, last_error = NULL, updated_at = ?
		 WHERE lock_id = ? AND id IN ? AND status = ?`,
		domain.StatusPushed,
		txHash,
		at,
		lockID,
		ids,
		domain.StatusLocked,
	)
	return result.RowsAffected, result.Error
}

func (r *repo) Release(ctx context.Context, db *gorm.DB, lockID string, ids []snowflake.ID, reason string, maxAttempts int, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := db.WithContext(ctx).Exec(
		`UPDATE pending_rewards
		 SET status = CASE WHEN attempts + 1 >= ? THEN ? ELSE ? END,
		     attempts = attempts + 1,
		     lock_id = NULL,
		     locked_at = NULL,
		     last_error = ?,
		     updated_at = ?
		 WHERE lock_id = ? AND id IN ? AND status = ?`,
		maxAttempts,
		domain.StatusFailed,
		domain.StatusPending,
		reason,
		at,
		lockID,
		ids,
		domain.StatusLocked,
	)
	return result.RowsAffected, result.Error
}

func (r *repo) SweepStale(ctx context.Context, db *gorm.DB, lockedBefore, at time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE pending_rewards
		 SET status = ?, last_error = ?, updated_at = ?
		 WHERE status = ? AND locked_at < ?`,
		domain.StatusFailed,
		domain.ReasonStaleLock,
		at,
		domain.StatusLocked,
		lockedBefore,
	)
	return result.RowsAffected, result.Error
}

func (r *repo) ListPushedTxHashes(ctx context.Context, db *gorm.DB, limit int) ([]string, error) {
	var hashes []string
	err := db.WithContext(ctx).Raw(
		`SELECT tx_hash FROM pending_rewards
		 WHERE status = ? AND tx_hash IS NOT NULL
		 GROUP BY tx_hash
		 ORDER BY MIN(updated_at)
		 LIMIT ?`,
		domain.StatusPushed,
		limit,
	).Scan(&hashes).Error
	if err != nil {
		return nil, err
	}
	return hashes, nil
}

func (r *repo) ResolveTx(ctx context.Context, db *gorm.DB, txHash string, status domain.Status, reason string, at time.Time) (int64, error) {
	var lastError *string
	if reason != "" {
		lastError = &reason
	}
	result := db.WithContext(ctx).Exec(
		`UPDATE pending_rewards
		 SET status = ?, last_error = ?, updated_at = ?
		 WHERE tx_hash = ? AND status = ?`,
		status,
		lastError,
		at,
		txHash,
		domain.StatusPushed,
	)
	return result.RowsAffected, result.Error
}

func (r *repo) CountByStatus(ctx context.Context, db *gorm.DB) (map[domain.Status]int64, error) {
	var rows []struct {
		Status domain.Status
		Total  int64
	}
	err := db.WithContext(ctx).Raw(
		`SELECT status, COUNT(*) AS total FROM pending_rewards GROUP BY status`,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[domain.Status]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Total
	}
	return out, nil
}
