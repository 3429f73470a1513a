package domain

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Type string

const (
	TypeReferralArrival Type = "referral_arrival"
	TypePurchase        Type = "purchase"
	TypeWalletConnect   Type = "wallet_connect"
	TypeIdentityMerge   Type = "identity_merge"
)

var ErrInvalidType = errors.New("invalid_interaction_type")

func ParseType(value string) (Type, error) {
	switch t := Type(strings.ToLower(strings.TrimSpace(value))); t {
	case TypeReferralArrival, TypePurchase, TypeWalletConnect, TypeIdentityMerge:
		return t, nil
	default:
		return "", ErrInvalidType
	}
}

// Interaction is one reward-relevant event. Reference makes it unique per
// merchant and type, so redelivered sources do not produce duplicates.
type Interaction struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	MerchantID  snowflake.ID `gorm:"not null" json:"merchant_id"`
	Type        Type         `gorm:"type:text;not null" json:"type"`
	SubjectRef  string       `json:"subject_ref"`
	Reference   string       `gorm:"not null" json:"reference"`
	Wallet      *string      `json:"wallet,omitempty"`
	OccurredAt  time.Time    `gorm:"not null" json:"occurred_at"`
	ProcessedAt *time.Time   `json:"processed_at,omitempty"`
}

func (Interaction) TableName() string { return "interactions" }

type Repository interface {
	// Insert stores the interaction unless one with the same reference exists.
	Insert(ctx context.Context, db *gorm.DB, interaction *Interaction) (bool, error)
	ListUnprocessed(ctx context.Context, db *gorm.DB, limit int) ([]Interaction, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, ids []snowflake.ID, at time.Time) error
	FindByIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]Interaction, error)
}
