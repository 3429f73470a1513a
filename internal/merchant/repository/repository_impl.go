package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/loyaltyrail/internal/merchant/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

var purchaseUpsertColumns = []string{
	"external_customer_id",
	"purchase_token",
	"status",
	"total_price",
	"currency_code",
	"raw_payload",
	"updated_at",
}

func (r *repo) UpsertPurchase(ctx context.Context, db *gorm.DB, purchase *domain.Purchase, items []domain.PurchaseItem) (domain.Purchase, error) {
	var stored domain.Purchase
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "merchant_id"}, {Name: "platform"}, {Name: "external_id"}},
			DoUpdates: clause.AssignmentColumns(purchaseUpsertColumns),
		}).Create(purchase).Error
		if err != nil {
			return err
		}

		// The insert may have been turned into an update of an older row.
		if err := tx.Where("merchant_id = ? AND platform = ? AND external_id = ?", purchase.MerchantID, purchase.Platform, purchase.ExternalID).
			Take(&stored).Error; err != nil {
			return err
		}

		if err := tx.Exec(`DELETE FROM purchase_items WHERE purchase_id = ?`, stored.ID).Error; err != nil {
			return err
		}
		if len(items) == 0 {
			return nil
		}
		for i := range items {
			items[i].PurchaseID = stored.ID
		}
		return tx.Create(&items).Error
	})
	if err != nil {
		return domain.Purchase{}, err
	}
	return stored, nil
}

func (r *repo) FindPurchase(ctx context.Context, db *gorm.DB, merchantID snowflake.ID, platform domain.Platform, externalID string) (*domain.Purchase, error) {
	var purchase domain.Purchase
	err := db.WithContext(ctx).Raw(
		`SELECT id, merchant_id, platform, external_id, external_customer_id, purchase_token,
		        status, total_price, currency_code, raw_payload, created_at, updated_at
		 FROM purchases WHERE merchant_id = ? AND platform = ? AND external_id = ?`,
		merchantID,
		platform,
		externalID,
	).Scan(&purchase).Error
	if err != nil {
		return nil, err
	}
	if purchase.ID == 0 {
		return nil, nil
	}
	return &purchase, nil
}

func (r *repo) ListItems(ctx context.Context, db *gorm.DB, purchaseID snowflake.ID) ([]domain.PurchaseItem, error) {
	var items []domain.PurchaseItem
	err := db.WithContext(ctx).Raw(
		`SELECT id, purchase_id, external_id, name, title, price, quantity, image_url
		 FROM purchase_items WHERE purchase_id = ? ORDER BY id`,
		purchaseID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) CountPurchases(ctx context.Context, db *gorm.DB, merchantID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM purchases WHERE merchant_id = ?`,
		merchantID,
	).Scan(&count).Error
	return count, err
}

func (r *repo) InsertWebhook(ctx context.Context, db *gorm.DB, cfg *domain.WebhookConfig) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO merchant_webhooks (id, merchant_id, platform, identifier, signing_secret, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		cfg.ID,
		cfg.MerchantID,
		cfg.Platform,
		cfg.Identifier,
		cfg.SigningSecret,
		cfg.IsActive,
		cfg.CreatedAt,
		cfg.UpdatedAt,
	).Error
}

func (r *repo) FindActiveWebhook(ctx context.Context, db *gorm.DB, merchantID snowflake.ID, platform domain.Platform) (*domain.WebhookConfig, error) {
	var cfg domain.WebhookConfig
	err := db.WithContext(ctx).Raw(
		`SELECT id, merchant_id, platform, identifier, signing_secret, is_active, created_at, updated_at
		 FROM merchant_webhooks
		 WHERE merchant_id = ? AND platform = ? AND is_active = TRUE
		 LIMIT 1`,
		merchantID,
		platform,
	).Scan(&cfg).Error
	if err != nil {
		return nil, err
	}
	if cfg.ID == 0 {
		return nil, nil
	}
	return &cfg, nil
}

func (r *repo) FindWebhookByIdentifier(ctx context.Context, db *gorm.DB, identifier string) (*domain.WebhookConfig, error) {
	var cfg domain.WebhookConfig
	err := db.WithContext(ctx).Raw(
		`SELECT id, merchant_id, platform, identifier, signing_secret, is_active, created_at, updated_at
		 FROM merchant_webhooks
		 WHERE identifier = ? AND is_active = TRUE`,
		identifier,
	).Scan(&cfg).Error
	if err != nil {
		return nil, err
	}
	if cfg.ID == 0 {
		return nil, nil
	}
	return &cfg, nil
}
