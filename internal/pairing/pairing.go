// Package pairing owns housekeeping for short-lived wallet pairing codes.
// Codes are issued by the wallet app; this service only expires them.
package pairing

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/loyaltyrail/internal/clock"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type WalletPairing struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	Code      string       `gorm:"not null" json:"code"`
	Wallet    string       `json:"wallet"`
	ExpiresAt time.Time    `gorm:"not null" json:"expires_at"`
	CreatedAt time.Time    `gorm:"not null" json:"created_at"`
}

func (WalletPairing) TableName() string { return "wallet_pairings" }

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
}

func New(p Params) *Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("pairing.service"),
		clock: p.Clock,
	}
}

// CleanupExpired removes pairing codes past their expiry.
func (s *Service) CleanupExpired(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).Exec(
		`DELETE FROM wallet_pairings WHERE expires_at <= ?`,
		s.clock.Now(),
	)
	if result.Error != nil {
		return 0, result.Error
	}
	s.log.Info("pairing.cleanup.finished", zap.Int64("deleted", result.RowsAffected))
	return result.RowsAffected, nil
}

var Module = fx.Module("pairing.service",
	fx.Provide(New),
)
