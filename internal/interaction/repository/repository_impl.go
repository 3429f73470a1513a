package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/loyaltyrail/internal/interaction/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, interaction *domain.Interaction) (bool, error) {
	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "merchant_id"}, {Name: "type"}, {Name: "reference"}},
			DoNothing: true,
		}).
		Create(interaction)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) ListUnprocessed(ctx context.Context, db *gorm.DB, limit int) ([]domain.Interaction, error) {
	if limit <= 0 {
		limit = 500
	}
	var rows []domain.Interaction
	err := db.WithContext(ctx).Raw(
		`SELECT id, merchant_id, type, subject_ref, reference, wallet, occurred_at, processed_at
		 FROM interactions
		 WHERE processed_at IS NULL
		 ORDER BY occurred_at, id
		 LIMIT ?`,
		limit,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) MarkProcessed(ctx context.Context, db *gorm.DB, ids []snowflake.ID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return db.WithContext(ctx).Exec(
		`UPDATE interactions SET processed_at = ? WHERE id IN ? AND processed_at IS NULL`,
		at,
		ids,
	).Error
}

func (r *repo) FindByIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]domain.Interaction, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []domain.Interaction
	err := db.WithContext(ctx).Raw(
		`SELECT id, merchant_id, type, subject_ref, reference, wallet, occurred_at, processed_at
		 FROM interactions WHERE id IN ? ORDER BY occurred_at, id`,
		ids,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
