package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/smallbiznis/loyaltyrail/internal/clock"
	"github.com/smallbiznis/loyaltyrail/internal/config"
	obsmetrics "github.com/smallbiznis/loyaltyrail/internal/observability/metrics"
	"github.com/smallbiznis/loyaltyrail/internal/scheduler/lock"
	"github.com/smallbiznis/loyaltyrail/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestScheduler(t *testing.T, locker lock.Locker, pipeline config.PipelineConfig) (*Scheduler, *prometheus.Registry) {
	t.Helper()
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	t.Cleanup(restore)

	obsmetrics.ResetSchedulerMetricsForTest()
	obsmetrics.SchedulerWithConfig(obsmetrics.Config{
		ServiceName: "loyaltyrail",
		Environment: "test",
	})

	if locker == nil {
		locker = lock.NewDBLocker(testutil.NewDB(t), nil)
	}
	s, err := New(Params{
		Log:      zap.NewNop(),
		GenID:    testutil.NewNode(t),
		Clock:    clock.SystemClock{},
		Locker:   locker,
		Pipeline: config.NewStaticPipelineConfigHolder(pipeline),
	})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	return s, registry
}

func jobLabels(job string) map[string]string {
	return map[string]string{
		"service": "loyaltyrail",
		"env":     "test",
		"job":     job,
	}
}

func TestRunJobTimeoutIncrementsTimeout(t *testing.T) {
	s, registry := newTestScheduler(t, nil, config.PipelineConfig{})
	require.NoError(t, s.Register(Job{
		Name:    "timeout_job",
		Timeout: 5 * time.Millisecond,
		Run: func(ctx context.Context, log *zap.Logger) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}))

	if got := s.RunJob(context.Background(), "timeout_job"); got != OutcomeFailed {
		t.Fatalf("expected outcome failed, got %s", got)
	}

	if got := getCounterValue(t, registry, "loyaltyrail_scheduler_job_timeouts_total", jobLabels("timeout_job")); got != 1 {
		t.Fatalf("expected timeout count 1, got %v", got)
	}

	errorLabels := jobLabels("timeout_job")
	errorLabels["reason"] = obsmetrics.SchedulerJobReasonDeadlineExceeded
	if got := getCounterValue(t, registry, "loyaltyrail_scheduler_job_errors_total", errorLabels); got != 1 {
		t.Fatalf("expected error count 1, got %v", got)
	}
}

func TestRunJobRanAndReleasesLease(t *testing.T) {
	db := testutil.NewDB(t)
	locker := lock.NewDBLocker(db, nil)
	s, registry := newTestScheduler(t, locker, config.PipelineConfig{})

	var runs atomic.Int32
	require.NoError(t, s.Register(Job{
		Name: "settleRewards",
		Run: func(ctx context.Context, log *zap.Logger) error {
			runs.Add(1)
			AddProcessed(ctx, "pending_reward", 3)
			return nil
		},
	}))

	assert.Equal(t, OutcomeRan, s.RunJob(context.Background(), "settleRewards"))
	assert.Equal(t, OutcomeRan, s.RunJob(context.Background(), "SETTLEREWARDS"), "lookups are case-insensitive")
	assert.Equal(t, int32(2), runs.Load())

	assert.Equal(t, float64(2), getCounterValue(t, registry, "loyaltyrail_scheduler_job_runs_total", jobLabels("settleRewards")))

	itemLabels := jobLabels("settleRewards")
	itemLabels["resource"] = "pending_reward"
	assert.Equal(t, float64(6), getCounterValue(t, registry, "loyaltyrail_scheduler_items_processed_total", itemLabels))

	var held int64
	require.NoError(t, db.Raw(`SELECT COUNT(*) FROM job_locks`).Scan(&held).Error)
	assert.Zero(t, held, "lease must be released after the run")
}

func TestRunJobSkipsWhenLockHeldElsewhere(t *testing.T) {
	name := "sched_" + t.Name()
	other := lock.NewDBLocker(testutil.OpenShared(t, name), nil)
	mine := lock.NewDBLocker(testutil.OpenShared(t, name), nil)
	s, registry := newTestScheduler(t, mine, config.PipelineConfig{})

	var runs atomic.Int32
	require.NoError(t, s.Register(Job{
		Name: "settleRewards",
		Run: func(ctx context.Context, log *zap.Logger) error {
			runs.Add(1)
			return nil
		},
	}))

	lease, ok, err := other.Acquire(context.Background(), "settleRewards", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, OutcomeSkipped, s.RunJob(context.Background(), "settleRewards"))
	assert.Zero(t, runs.Load())

	denied := jobLabels("settleRewards")
	denied["outcome"] = obsmetrics.LockOutcomeDenied
	assert.Equal(t, float64(1), getCounterValue(t, registry, "loyaltyrail_scheduler_lock_attempts_total", denied))

	require.NoError(t, lease.Release(context.Background()))
	assert.Equal(t, OutcomeRan, s.RunJob(context.Background(), "settleRewards"))
}

func TestCronTickRunsOnceAcrossReplicas(t *testing.T) {
	name := "sched_" + t.Name()
	replicaA, _ := newTestScheduler(t, lock.NewDBLocker(testutil.OpenShared(t, name), nil), config.PipelineConfig{})
	replicaB, registry := newTestScheduler(t, lock.NewDBLocker(testutil.OpenShared(t, name), nil), config.PipelineConfig{})

	var runs atomic.Int32
	job := Job{
		Name: "settleRewards",
		Run: func(ctx context.Context, log *zap.Logger) error {
			runs.Add(1)
			return nil
		},
	}
	require.NoError(t, replicaA.Register(job))
	require.NoError(t, replicaB.Register(job))

	tick := time.Date(2025, 3, 1, 0, 5, 0, 0, time.UTC)
	if got := replicaA.runJob(context.Background(), "settleRewards", triggerCron, tick); got != OutcomeRan {
		t.Fatalf("expected first replica to run tick, got %s", got)
	}
	// The lease is free again; only the tick claim stops the late replica.
	if got := replicaB.runJob(context.Background(), "settleRewards", triggerCron, tick); got != OutcomeSkipped {
		t.Fatalf("expected late replica to skip claimed tick, got %s", got)
	}
	assert.Equal(t, int32(1), runs.Load())

	denied := jobLabels("settleRewards")
	denied["outcome"] = obsmetrics.LockOutcomeDenied
	assert.Equal(t, float64(1), getCounterValue(t, registry, "loyaltyrail_scheduler_lock_attempts_total", denied))

	assert.Equal(t, OutcomeRan, replicaB.runJob(context.Background(), "settleRewards", triggerCron, tick.Add(time.Minute)))
	assert.Equal(t, OutcomeRan, replicaA.RunJob(context.Background(), "settleRewards"), "manual runs carry no tick")
	assert.Equal(t, int32(3), runs.Load())
}

func TestCronTickRunsOnceWithConcurrentReplicas(t *testing.T) {
	db := testutil.NewDB(t)
	replicas := make([]*Scheduler, 4)
	for i := range replicas {
		replicas[i], _ = newTestScheduler(t, lock.NewDBLocker(db, nil), config.PipelineConfig{})
	}

	var runs atomic.Int32
	job := Job{
		Name: "calculateRewards",
		Run: func(ctx context.Context, log *zap.Logger) error {
			runs.Add(1)
			time.Sleep(20 * time.Millisecond)
			return nil
		},
	}
	for _, replica := range replicas {
		require.NoError(t, replica.Register(job))
	}

	tick := time.Date(2025, 3, 1, 1, 0, 0, 0, time.UTC)
	for round := 0; round < 3; round++ {
		outcomes := make([]Outcome, len(replicas))
		var wg sync.WaitGroup
		for i, replica := range replicas {
			wg.Add(1)
			go func(i int, replica *Scheduler) {
				defer wg.Done()
				// Stagger so some replicas arrive after the winner released its lease.
				time.Sleep(time.Duration(i) * 15 * time.Millisecond)
				outcomes[i] = replica.runJob(context.Background(), "calculateRewards", triggerCron, tick)
			}(i, replica)
		}
		wg.Wait()

		ran := 0
		for i, outcome := range outcomes {
			switch outcome {
			case OutcomeRan:
				ran++
			case OutcomeSkipped:
			default:
				t.Fatalf("round %d replica %d: unexpected outcome %s", round, i, outcome)
			}
		}
		if ran != 1 {
			t.Fatalf("round %d: expected exactly one replica to run tick %s, got %d", round, tick, ran)
		}
		tick = tick.Add(time.Minute)
	}
	assert.Equal(t, int32(3), runs.Load())
}

func TestRunJobDisabledAndUnknown(t *testing.T) {
	disabled := false
	s, _ := newTestScheduler(t, nil, config.PipelineConfig{
		Jobs: map[string]config.JobSettings{
			"cleanuppairings": {Enabled: &disabled, Schedule: "0 */6 * * *"},
		},
	})

	var runs atomic.Int32
	require.NoError(t, s.Register(Job{
		Name: "cleanupPairings",
		Run: func(ctx context.Context, log *zap.Logger) error {
			runs.Add(1)
			return nil
		},
	}))

	assert.Equal(t, OutcomeDisabled, s.RunJob(context.Background(), "cleanupPairings"))
	assert.Equal(t, OutcomeUnknown, s.RunJob(context.Background(), "nope"))
	assert.Zero(t, runs.Load())
	assert.False(t, s.Trigger("nope"))
}

func TestRunJobContainsFailures(t *testing.T) {
	s, registry := newTestScheduler(t, nil, config.PipelineConfig{})

	require.NoError(t, s.Register(Job{
		Name: "panics",
		Run: func(ctx context.Context, log *zap.Logger) error {
			panic("boom")
		},
	}))
	require.NoError(t, s.Register(Job{
		Name: "fails",
		Run: func(ctx context.Context, log *zap.Logger) error {
			return errors.New("relayer down")
		},
	}))

	assert.Equal(t, OutcomeFailed, s.RunJob(context.Background(), "panics"))
	assert.Equal(t, OutcomeFailed, s.RunJob(context.Background(), "fails"))

	unknown := jobLabels("fails")
	unknown["reason"] = obsmetrics.SchedulerJobReasonUnknown
	assert.Equal(t, float64(1), getCounterValue(t, registry, "loyaltyrail_scheduler_job_errors_total", unknown))
}

func TestRegisterRejectsInvalidJobs(t *testing.T) {
	s, _ := newTestScheduler(t, nil, config.PipelineConfig{})
	run := func(ctx context.Context, log *zap.Logger) error { return nil }

	assert.ErrorIs(t, s.Register(Job{Name: "", Run: run}), ErrInvalidJob)
	assert.ErrorIs(t, s.Register(Job{Name: "x"}), ErrInvalidJob)
	require.NoError(t, s.Register(Job{Name: "x", Run: run}))
	assert.ErrorIs(t, s.Register(Job{Name: "X", Run: run}), ErrDuplicateJob)
	assert.Equal(t, []string{"x"}, s.Jobs())
}

func TestTriggerCoalescesWhileRunning(t *testing.T) {
	s, _ := newTestScheduler(t, nil, config.PipelineConfig{})

	started := make(chan struct{}, 4)
	release := make(chan struct{})
	var runs atomic.Int32
	require.NoError(t, s.Register(Job{
		Name:     "calculateRewards",
		Schedule: "@every 1h",
		Run: func(ctx context.Context, log *zap.Logger) error {
			runs.Add(1)
			started <- struct{}{}
			<-release
			return nil
		},
	}))

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyStarted)

	require.True(t, s.Trigger("calculateRewards"))
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatalf("triggered job did not start")
	}

	for i := 0; i < 5; i++ {
		s.Trigger("calculateRewards")
	}
	close(release)

	require.Eventually(t, func() bool { return runs.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(stopCtx))
	assert.Equal(t, int32(2), runs.Load(), "pending triggers collapse into one run")
}

func TestStartRejectsBadSchedule(t *testing.T) {
	s, _ := newTestScheduler(t, nil, config.PipelineConfig{})
	require.NoError(t, s.Register(Job{
		Name:     "broken",
		Schedule: "every tuesday",
		Run:      func(ctx context.Context, log *zap.Logger) error { return nil },
	}))

	assert.ErrorIs(t, s.Start(context.Background()), ErrInvalidJob)
	assert.NoError(t, s.Stop(context.Background()))
}

func swapPrometheusRegistry(registry *prometheus.Registry) func() {
	oldRegisterer := prometheus.DefaultRegisterer
	oldGatherer := prometheus.DefaultGatherer
	prometheus.DefaultRegisterer = registry
	prometheus.DefaultGatherer = registry
	return func() {
		prometheus.DefaultRegisterer = oldRegisterer
		prometheus.DefaultGatherer = oldGatherer
		obsmetrics.ResetSchedulerMetricsForTest()
	}
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			if metric.Counter == nil {
				t.Fatalf("metric %s is not a counter", name)
			}
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
