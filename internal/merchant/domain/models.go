package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type Platform string

const (
	PlatformShopify     Platform = "shopify"
	PlatformWooCommerce Platform = "woocommerce"
	PlatformCustom      Platform = "custom"
)

// ParsePlatform normalizes a route or CLI value into a known platform.
func ParsePlatform(value string) (Platform, error) {
	switch Platform(strings.ToLower(strings.TrimSpace(value))) {
	case PlatformShopify:
		return PlatformShopify, nil
	case PlatformWooCommerce:
		return PlatformWooCommerce, nil
	case PlatformCustom:
		return PlatformCustom, nil
	default:
		return "", ErrUnsupportedPlatform
	}
}

type PurchaseStatus string

const (
	PurchaseStatusPending   PurchaseStatus = "pending"
	PurchaseStatusConfirmed PurchaseStatus = "confirmed"
	PurchaseStatusRefunded  PurchaseStatus = "refunded"
	PurchaseStatusCancelled PurchaseStatus = "cancelled"
)

func (s PurchaseStatus) Valid() bool {
	switch s {
	case PurchaseStatusPending, PurchaseStatusConfirmed, PurchaseStatusRefunded, PurchaseStatusCancelled:
		return true
	default:
		return false
	}
}

type Purchase struct {
	ID                 snowflake.ID    `gorm:"primaryKey" json:"id"`
	MerchantID         snowflake.ID    `gorm:"not null" json:"merchant_id"`
	Platform           Platform        `gorm:"type:text;not null" json:"platform"`
	ExternalID         string          `gorm:"not null" json:"external_id"`
	ExternalCustomerID string          `json:"external_customer_id"`
	PurchaseToken      string          `json:"purchase_token"`
	Status             PurchaseStatus  `gorm:"type:text;not null" json:"status"`
	TotalPrice         decimal.Decimal `gorm:"type:text;not null" json:"total_price"`
	CurrencyCode       string          `json:"currency_code"`
	RawPayload         datatypes.JSON  `gorm:"type:jsonb" json:"-"`
	CreatedAt          time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt          time.Time       `gorm:"not null" json:"updated_at"`
}

func (Purchase) TableName() string { return "purchases" }

// Reference identifies the purchase among a merchant's interactions. Order ids
// are only unique within one platform.
func (p Purchase) Reference() string {
	return string(p.Platform) + ":" + p.ExternalID
}

type PurchaseItem struct {
	ID         snowflake.ID    `gorm:"primaryKey" json:"id"`
	PurchaseID snowflake.ID    `gorm:"not null" json:"purchase_id"`
	ExternalID string          `json:"external_id"`
	Name       string          `json:"name"`
	Title      string          `json:"title"`
	Price      decimal.Decimal `gorm:"type:text;not null" json:"price"`
	Quantity   int             `json:"quantity"`
	ImageURL   *string         `json:"image_url,omitempty"`
}

func (PurchaseItem) TableName() string { return "purchase_items" }

// WebhookConfig is a merchant's registration for one platform. SigningSecret
// holds the sealed secret, never the plain value.
type WebhookConfig struct {
	ID            snowflake.ID   `gorm:"primaryKey" json:"id"`
	MerchantID    snowflake.ID   `gorm:"not null" json:"merchant_id"`
	Platform      Platform       `gorm:"type:text;not null" json:"platform"`
	Identifier    string         `gorm:"not null" json:"identifier"`
	SigningSecret datatypes.JSON `gorm:"type:jsonb;not null" json:"-"`
	IsActive      bool           `gorm:"not null" json:"is_active"`
	CreatedAt     time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"not null" json:"updated_at"`
}

func (WebhookConfig) TableName() string { return "merchant_webhooks" }

// Delivery is what an adapter learned from headers before normalization.
type Delivery struct {
	Topic    string
	TestMode bool
	Warnings []string
}

// NormalizedPurchase is the platform-agnostic purchase produced by adapters.
type NormalizedPurchase struct {
	ExternalID         string           `validate:"required,max=255"`
	ExternalCustomerID string           `validate:"max=255"`
	PurchaseToken      string           `validate:"max=255"`
	Status             PurchaseStatus   `validate:"required,oneof=pending confirmed refunded cancelled"`
	TotalPrice         decimal.Decimal  `validate:"gte=0"`
	CurrencyCode       string           `validate:"omitempty,len=3,alpha,uppercase"`
	Items              []NormalizedItem `validate:"dive"`
}

type NormalizedItem struct {
	ExternalID string
	Name       string          `validate:"max=512"`
	Title      string          `validate:"max=512"`
	Price      decimal.Decimal `validate:"gte=0"`
	Quantity   int             `validate:"gte=0"`
	ImageURL   *string         `validate:"omitempty,url"`
}
