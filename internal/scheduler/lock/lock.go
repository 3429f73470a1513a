// Package lock provides cross-instance leases that keep a scheduled job
// running on at most one replica at a time.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	obsmetrics "github.com/smallbiznis/loyaltyrail/internal/observability/metrics"
)

const releaseTimeout = 5 * time.Second

var (
	// ErrLockLost reports that another owner holds the lease now.
	ErrLockLost = obsmetrics.ErrLockLost

	ErrInvalidLock = errors.New("invalid_lock")
)

// Lease is a held lock. Renew extends it by the acquisition ttl and fails
// with ErrLockLost once another owner has taken over.
type Lease interface {
	Name() string
	Owner() string
	Renew(ctx context.Context) error
	Release(ctx context.Context) error
}

type Locker interface {
	// Acquire returns ok=false without error when someone else holds name.
	Acquire(ctx context.Context, name string, ttl time.Duration) (Lease, bool, error)
}

// TickClaimer records the latest scheduled tick each job has run for. ClaimTick
// succeeds at most once per (name, tick) across every instance sharing the
// backend, and never for a tick at or before the last claimed one.
type TickClaimer interface {
	ClaimTick(ctx context.Context, name, owner string, tick time.Time) (bool, error)
}

func validate(name string, ttl time.Duration) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidLock)
	}
	if ttl <= 0 {
		return fmt.Errorf("%w: ttl must be positive", ErrInvalidLock)
	}
	return nil
}

// WithLock runs fn while holding name. The lease is renewed every ttl/3; if a
// renewal finds the lease taken, or renewals keep failing for a whole ttl,
// fn's context is cancelled and the returned error wraps ErrLockLost. The
// lease is always released. acquired is false when the lock was held elsewhere.
func WithLock(ctx context.Context, locker Locker, name string, ttl time.Duration, fn func(ctx context.Context) error) (acquired bool, err error) {
	lease, ok, err := locker.Acquire(ctx, name, ttl)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	done := make(chan struct{})
	renewed := make(chan struct{})
	go func() {
		defer close(renewed)
		keepAlive(runCtx, lease, ttl, done, cancel)
	}()

	err = fn(runCtx)
	close(done)
	<-renewed

	if errors.Is(context.Cause(runCtx), ErrLockLost) {
		err = errors.Join(ErrLockLost, err)
	}

	releaseCtx, cancelRelease := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancelRelease()
	if rerr := lease.Release(releaseCtx); rerr != nil && !errors.Is(rerr, ErrLockLost) {
		err = errors.Join(err, fmt.Errorf("release %s: %w", name, rerr))
	}
	return true, err
}

func keepAlive(ctx context.Context, lease Lease, ttl time.Duration, done <-chan struct{}, cancel context.CancelCauseFunc) {
	interval := ttl / 3
	if interval <= 0 {
		interval = ttl
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastRenewed := time.Now()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := lease.Renew(ctx)
			switch {
			case err == nil:
				lastRenewed = time.Now()
			case errors.Is(err, ErrLockLost):
				cancel(ErrLockLost)
				return
			case time.Since(lastRenewed) >= ttl:
				cancel(fmt.Errorf("%w: %s", ErrLockLost, err.Error()))
				return
			}
		}
	}
}
