package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// UpsertPurchase inserts or overwrites the purchase keyed by
	// (merchant_id, platform, external_id) and replaces its items. The returned
	// purchase carries the persisted id.
	UpsertPurchase(ctx context.Context, db *gorm.DB, purchase *Purchase, items []PurchaseItem) (Purchase, error)
	FindPurchase(ctx context.Context, db *gorm.DB, merchantID snowflake.ID, platform Platform, externalID string) (*Purchase, error)
	ListItems(ctx context.Context, db *gorm.DB, purchaseID snowflake.ID) ([]PurchaseItem, error)
	CountPurchases(ctx context.Context, db *gorm.DB, merchantID snowflake.ID) (int64, error)

	InsertWebhook(ctx context.Context, db *gorm.DB, cfg *WebhookConfig) error
	FindActiveWebhook(ctx context.Context, db *gorm.DB, merchantID snowflake.ID, platform Platform) (*WebhookConfig, error)
	FindWebhookByIdentifier(ctx context.Context, db *gorm.DB, identifier string) (*WebhookConfig, error)
}
