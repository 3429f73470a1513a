package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/loyaltyrail/internal/clock"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type jobLock struct {
	Name        string    `gorm:"primaryKey"`
	Owner       string    `gorm:"not null"`
	LockedUntil time.Time `gorm:"not null"`
	AcquiredAt  time.Time `gorm:"not null"`
}

func (jobLock) TableName() string { return "job_locks" }

type jobTick struct {
	Name      string    `gorm:"primaryKey"`
	LastTick  time.Time `gorm:"not null"`
	Owner     string    `gorm:"not null"`
	ClaimedAt time.Time `gorm:"not null"`
}

func (jobTick) TableName() string { return "job_ticks" }

// DBLocker stores leases in the job_locks table. Each step is one atomic
// statement, so it works across replicas sharing the database.
type DBLocker struct {
	db    *gorm.DB
	clock clock.Clock
}

func NewDBLocker(db *gorm.DB, clk clock.Clock) *DBLocker {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &DBLocker{db: db, clock: clk}
}

func (l *DBLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (Lease, bool, error) {
	if err := validate(name, ttl); err != nil {
		return nil, false, err
	}
	now := l.clock.Now()
	row := jobLock{
		Name:        name,
		Owner:       uuid.NewString(),
		LockedUntil: now.Add(ttl),
		AcquiredAt:  now,
	}

	result := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "name"}}, DoNothing: true}).
		Create(&row)
	if result.Error != nil {
		return nil, false, result.Error
	}
	if result.RowsAffected == 0 {
		// Take over only if the current holder let the lease expire.
		result = l.db.WithContext(ctx).Exec(
			`UPDATE job_locks
			 SET owner = ?, locked_until = ?, acquired_at = ?
			 WHERE name = ? AND locked_until < ?`,
			row.Owner,
			row.LockedUntil,
			row.AcquiredAt,
			name,
			now,
		)
		if result.Error != nil {
			return nil, false, result.Error
		}
		if result.RowsAffected == 0 {
			return nil, false, nil
		}
	}

	return &dbLease{locker: l, name: name, owner: row.Owner, ttl: ttl}, true, nil
}

// ClaimTick stores tick in job_ticks when it is newer than the last claim for
// name. Ticks are compared at second precision.
func (l *DBLocker) ClaimTick(ctx context.Context, name, owner string, tick time.Time) (bool, error) {
	if name == "" || tick.IsZero() {
		return false, fmt.Errorf("%w: empty name or tick", ErrInvalidLock)
	}
	row := jobTick{
		Name:      name,
		LastTick:  tick.UTC().Truncate(time.Second),
		Owner:     owner,
		ClaimedAt: l.clock.Now().UTC(),
	}

	result := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "name"}}, DoNothing: true}).
		Create(&row)
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 1 {
		return true, nil
	}

	result = l.db.WithContext(ctx).Exec(
		`UPDATE job_ticks
		 SET last_tick = ?, owner = ?, claimed_at = ?
		 WHERE name = ? AND last_tick < ?`,
		row.LastTick,
		row.Owner,
		row.ClaimedAt,
		name,
		row.LastTick,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

type dbLease struct {
	locker *DBLocker
	name   string
	owner  string
	ttl    time.Duration
}

func (l *dbLease) Name() string  { return l.name }
func (l *dbLease) Owner() string { return l.owner }

func (l *dbLease) Renew(ctx context.Context) error {
	result := l.locker.db.WithContext(ctx).Exec(
		`UPDATE job_locks SET locked_until = ? WHERE name = ? AND owner = ?`,
		l.locker.clock.Now().Add(l.ttl),
		l.name,
		l.owner,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrLockLost
	}
	return nil
}

func (l *dbLease) Release(ctx context.Context) error {
	result := l.locker.db.WithContext(ctx).Exec(
		`DELETE FROM job_locks WHERE name = ? AND owner = ?`,
		l.name,
		l.owner,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrLockLost
	}
	return nil
}
