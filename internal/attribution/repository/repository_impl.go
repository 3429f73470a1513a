package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/loyaltyrail/internal/attribution/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, tp *domain.Touchpoint) error {
	return db.WithContext(ctx).Create(tp).Error
}

func (r *repo) FindActive(ctx context.Context, db *gorm.DB, merchantID snowflake.ID, subjectRef string, at time.Time) (*domain.Touchpoint, error) {
	var tp domain.Touchpoint
	err := db.WithContext(ctx).Raw(
		`SELECT id, merchant_id, subject_ref, referrer_wallet, source, created_at, expires_at
		 FROM attribution_touchpoints
		 WHERE merchant_id = ? AND subject_ref = ? AND expires_at > ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`,
		merchantID,
		subjectRef,
		at,
	).Scan(&tp).Error
	if err != nil {
		return nil, err
	}
	if tp.ID == 0 {
		return nil, nil
	}
	return &tp, nil
}

func (r *repo) DeleteExpired(ctx context.Context, db *gorm.DB, at time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`DELETE FROM attribution_touchpoints WHERE expires_at <= ?`,
		at,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
