package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusLocked    Status = "locked"
	StatusPushed    Status = "pushed"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// PendingReward is one beneficiary payout waiting for, or going through,
// on-chain settlement. A row leaves pending only through a conditional update.
type PendingReward struct {
	ID            snowflake.ID    `gorm:"primaryKey" json:"id"`
	MerchantID    snowflake.ID    `gorm:"not null" json:"merchant_id"`
	InteractionID snowflake.ID    `gorm:"not null" json:"interaction_id"`
	Wallet        string          `gorm:"not null" json:"wallet"`
	Amount        decimal.Decimal `gorm:"type:text;not null" json:"amount"`
	Denomination  string          `gorm:"not null" json:"denomination"`
	Status        Status          `gorm:"type:text;not null" json:"status"`
	Attempts      int             `gorm:"not null" json:"attempts"`
	LockID        *string         `json:"lock_id,omitempty"`
	LockedAt      *time.Time      `json:"locked_at,omitempty"`
	TxHash        *string         `json:"tx_hash,omitempty"`
	LastError     *string         `json:"last_error,omitempty"`
	CreatedAt     time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"not null" json:"updated_at"`
}

func (PendingReward) TableName() string { return "pending_rewards" }

type Repository interface {
	// Insert stores the reward unless one exists for the same interaction.
	Insert(ctx context.Context, db *gorm.DB, reward *PendingReward) (bool, error)
	ListPendingIDs(ctx context.Context, db *gorm.DB, limit int) ([]snowflake.ID, error)
	// Lock moves the given rows from pending to locked under lockID. Rows
	// already taken by another run are left alone.
	Lock(ctx context.Context, db *gorm.DB, ids []snowflake.ID, lockID string, at time.Time) (int64, error)
	ListLocked(ctx context.Context, db *gorm.DB, lockID string) ([]PendingReward, error)
	MarkPushed(ctx context.Context, db *gorm.DB, lockID string, ids []snowflake.ID, txHash string, at time.Time) (int64, error)
	// Release returns locked rows to pending with one more attempt, or fails
	// them once maxAttempts is reached.
	Release(ctx context.Context, db *gorm.DB, lockID string, ids []snowflake.ID, reason string, maxAttempts int, at time.Time) (int64, error)
	// SweepStale fails rows that have been locked since before lockedBefore.
	SweepStale(ctx context.Context, db *gorm.DB, lockedBefore, at time.Time) (int64, error)
	ListPushedTxHashes(ctx context.Context, db *gorm.DB, limit int) ([]string, error)
	ResolveTx(ctx context.Context, db *gorm.DB, txHash string, status Status, reason string, at time.Time) (int64, error)
	CountByStatus(ctx context.Context, db *gorm.DB) (map[Status]int64, error)
}
