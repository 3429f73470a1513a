package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrInvalidTouchpoint = errors.New("invalid_touchpoint")
	ErrSelfReferral      = errors.New("self_referral")
)

// Touchpoint records that SubjectRef arrived through ReferrerWallet. It can be
// matched to a purchase until ExpiresAt.
type Touchpoint struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	MerchantID     snowflake.ID `gorm:"not null" json:"merchant_id"`
	SubjectRef     string       `gorm:"not null" json:"subject_ref"`
	ReferrerWallet string       `gorm:"not null" json:"referrer_wallet"`
	Source         string       `json:"source"`
	CreatedAt      time.Time    `gorm:"not null" json:"created_at"`
	ExpiresAt      time.Time    `gorm:"not null" json:"expires_at"`
}

func (Touchpoint) TableName() string { return "attribution_touchpoints" }

type TouchpointInput struct {
	MerchantID     snowflake.ID `validate:"required"`
	SubjectRef     string       `validate:"required,max=255"`
	ReferrerWallet string       `validate:"required,max=128"`
	Source         string       `validate:"max=64"`
}

// Arrival is a visitor landing through a referral link. VisitorWallet is the
// wallet of the authenticated caller, when known.
type Arrival struct {
	TouchpointInput
	VisitorWallet string
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, tp *Touchpoint) error
	// FindActive returns the most recent touchpoint for subjectRef that has not
	// expired at the given instant, or nil.
	FindActive(ctx context.Context, db *gorm.DB, merchantID snowflake.ID, subjectRef string, at time.Time) (*Touchpoint, error)
	DeleteExpired(ctx context.Context, db *gorm.DB, at time.Time) (int64, error)
}
