package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/gorm"
)

func TestClassifySchedulerJobReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "deadline",
			err:  context.DeadlineExceeded,
			want: SchedulerJobReasonDeadlineExceeded,
		},
		{
			name: "lock_lost",
			err:  fmt.Errorf("renew: %w", ErrLockLost),
			want: SchedulerJobReasonLockLost,
		},
		{
			name: "db_lock_timeout",
			err:  &pgconn.PgError{Code: "55P03"},
			want: SchedulerJobReasonDBLockTimeout,
		},
		{
			name: "serialization_failure",
			err:  &pgconn.PgError{Code: "40001"},
			want: SchedulerJobReasonSerializationFailure,
		},
		{
			name: "unique_violation",
			err:  gorm.ErrDuplicatedKey,
			want: SchedulerJobReasonUniqueViolation,
		},
		{
			name: "unknown",
			err:  errors.New("boom"),
			want: SchedulerJobReasonUnknown,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifySchedulerJobReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestClassifySchedulerErrorType(t *testing.T) {
	if got := ClassifySchedulerErrorType(context.Canceled); got != SchedulerErrorTypeDeadlineExceeded {
		t.Fatalf("expected deadline type, got %q", got)
	}
	if got := ClassifySchedulerErrorType(&pgconn.PgError{Code: "40001"}); got != SchedulerErrorTypeDB {
		t.Fatalf("expected db type, got %q", got)
	}
	if got := ClassifySchedulerErrorType(errors.New("relayer rejected")); got != SchedulerErrorTypeBusinessRule {
		t.Fatalf("expected business rule type, got %q", got)
	}
	if IsSchedulerErrorRetryable(gorm.ErrRecordNotFound) {
		t.Fatalf("record not found must not be retryable")
	}
	if !IsSchedulerErrorRetryable(&pgconn.PgError{Code: "55P03"}) {
		t.Fatalf("lock timeout should be retryable")
	}
}

func TestSchedulerMetricsCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := newSchedulerMetrics(registry, Config{
		ServiceName: "loyaltyrail",
		Environment: "test",
	})

	metrics.IncJobRun("settleRewards")
	metrics.IncJobRun("settleRewards")
	metrics.IncLockAttempt("settleRewards", LockOutcomeDenied)
	metrics.AddItemsProcessed("settleRewards", "pending_rewards", 3)
	metrics.AddItemsProcessed("settleRewards", "pending_rewards", 0)
	metrics.IncJobError("settleRewards", &pgconn.PgError{Code: "40001"})
	metrics.ObserveJobDuration("settleRewards", 250*time.Millisecond)

	if got := testutil.ToFloat64(metrics.jobRuns.WithLabelValues("settleRewards")); got != 2 {
		t.Fatalf("expected 2 runs, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.lockAttempts.WithLabelValues("settleRewards", LockOutcomeDenied)); got != 1 {
		t.Fatalf("expected 1 denied lock, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.itemsProcessed.WithLabelValues("settleRewards", "pending_rewards")); got != 3 {
		t.Fatalf("expected processed count 3, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.jobErrors.WithLabelValues("settleRewards", SchedulerJobReasonSerializationFailure)); got != 1 {
		t.Fatalf("expected 1 serialization error, got %v", got)
	}
}

func TestSchedulerMetricsNilSafe(t *testing.T) {
	var metrics *SchedulerMetrics
	metrics.IncJobRun("x")
	metrics.IncJobTimeout("x")
	metrics.IncJobError("x", errors.New("boom"))
	metrics.ObserveRunLag(time.Second)
}
