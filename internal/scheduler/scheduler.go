// Package scheduler runs the background pipeline jobs on cron schedules. Every
// run holds a cross-instance lease, so a job executes on one replica at a time.
// Cron runs also claim their tick, so a tick executes on one replica at most.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/robfig/cron/v3"
	"github.com/smallbiznis/loyaltyrail/internal/clock"
	"github.com/smallbiznis/loyaltyrail/internal/config"
	obsmetrics "github.com/smallbiznis/loyaltyrail/internal/observability/metrics"
	"github.com/smallbiznis/loyaltyrail/internal/scheduler/lock"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	ErrInvalidConfig  = errors.New("invalid_scheduler_config")
	ErrInvalidJob     = errors.New("invalid_job")
	ErrDuplicateJob   = errors.New("duplicate_job")
	ErrAlreadyStarted = errors.New("scheduler_already_started")
)

// Outcome is the result of one RunJob call.
type Outcome string

const (
	OutcomeRan      Outcome = "ran"
	OutcomeFailed   Outcome = "failed"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeDisabled Outcome = "disabled"
	OutcomeUnknown  Outcome = "unknown"
)

const (
	triggerCron   = "cron"
	triggerEvent  = "event"
	triggerManual = "manual"
)

// Job is a named unit of background work. Zero Schedule, Timeout and LockTTL
// fall back to the pipeline config; LockTTL then defaults to twice the timeout.
type Job struct {
	Name     string
	Schedule string
	Timeout  time.Duration
	LockTTL  time.Duration
	Run      func(ctx context.Context, log *zap.Logger) error
}

// tick is the nominal cron time; zero for triggered runs.
type wakeup struct {
	at      time.Time
	tick    time.Time
	trigger string
}

type registeredJob struct {
	Job
	wake chan wakeup
}

type Params struct {
	fx.In

	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Locker   lock.Locker
	Pipeline *config.PipelineConfigHolder
	Config   Config `optional:"true"`
}

type Scheduler struct {
	log      *zap.Logger
	cfg      Config
	genID    *snowflake.Node
	clock    clock.Clock
	locker   lock.Locker
	pipeline *config.PipelineConfigHolder

	mu      sync.Mutex
	jobs    map[string]*registeredJob
	cron    *cron.Cron
	cancel  context.CancelFunc
	workers sync.WaitGroup
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.Locker == nil || p.Pipeline == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:      p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:      p.Config.withDefaults(),
		genID:    p.GenID,
		clock:    p.Clock,
		locker:   p.Locker,
		pipeline: p.Pipeline,
		jobs:     map[string]*registeredJob{},
	}, nil
}

// Register adds a job. Jobs registered after Start are runnable through
// RunJob and Trigger but are not put on the cron schedule.
func (s *Scheduler) Register(job Job) error {
	job.Name = strings.TrimSpace(job.Name)
	if job.Name == "" || job.Run == nil {
		return ErrInvalidJob
	}
	key := jobKey(job.Name)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[key]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, job.Name)
	}
	s.jobs[key] = &registeredJob{Job: job, wake: make(chan wakeup, 1)}
	return nil
}

// Jobs lists registered job names in sorted order.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for _, job := range s.jobs {
		names = append(names, job.Name)
	}
	sort.Strings(names)
	return names
}

func (s *Scheduler) lookup(name string) *registeredJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[jobKey(name)]
}

// RunJob runs name once under its lease. Job errors and panics are logged and
// reported through the outcome, never returned.
func (s *Scheduler) RunJob(ctx context.Context, name string) Outcome {
	return s.runJob(ctx, name, triggerManual, time.Time{})
}

func (s *Scheduler) runJob(parent context.Context, name, trigger string, tick time.Time) Outcome {
	job := s.lookup(name)
	if job == nil {
		s.log.Warn("scheduler.job.unknown", zap.String("job", name))
		return OutcomeUnknown
	}

	settings := s.pipeline.Get().Job(job.Name)
	if !settings.IsEnabled() {
		s.log.Debug("scheduler.job.disabled", zap.String("job", job.Name))
		return OutcomeDisabled
	}
	timeout, lockTTL := s.limits(job.Job, settings)

	ctx, run := s.newJobRun(parent, job.Name, trigger)
	schedMetrics := obsmetrics.Scheduler()

	var (
		jobErr    error
		tickTaken bool
	)
	acquired, err := lock.WithLock(ctx, s.locker, job.Name, lockTTL, func(lockCtx context.Context) error {
		if claimer, ok := s.locker.(lock.TickClaimer); ok && !tick.IsZero() {
			claimed, err := claimer.ClaimTick(lockCtx, job.Name, run.runID, tick)
			if err != nil {
				return err
			}
			if !claimed {
				tickTaken = true
				return nil
			}
		}
		jobErr = s.execute(lockCtx, job.Job, run, timeout)
		return nil
	})
	if !acquired {
		if err != nil {
			schedMetrics.IncLockAttempt(job.Name, obsmetrics.LockOutcomeError)
			s.logger(ctx).Error("scheduler.lock.failed",
				zap.String("job", job.Name),
				zap.String("run_id", run.runID),
				zap.Error(err),
			)
			return OutcomeFailed
		}
		schedMetrics.IncLockAttempt(job.Name, obsmetrics.LockOutcomeDenied)
		s.logger(ctx).Debug("scheduler.job.skipped",
			zap.String("job", job.Name),
			zap.String("reason", "lock_held"),
		)
		return OutcomeSkipped
	}
	if tickTaken && err == nil {
		schedMetrics.IncLockAttempt(job.Name, obsmetrics.LockOutcomeDenied)
		s.logger(ctx).Debug("scheduler.job.skipped",
			zap.String("job", job.Name),
			zap.String("reason", "tick_claimed"),
			zap.Time("tick", tick),
		)
		return OutcomeSkipped
	}
	schedMetrics.IncLockAttempt(job.Name, obsmetrics.LockOutcomeAcquired)

	// A lost lease surfaces through err even when the job body returned nil.
	if err != nil {
		jobErr = errors.Join(jobErr, err)
	}
	if jobErr != nil {
		schedMetrics.IncJobError(job.Name, jobErr)
		return OutcomeFailed
	}
	return OutcomeRan
}

func (s *Scheduler) limits(job Job, settings config.JobSettings) (time.Duration, time.Duration) {
	timeout := job.Timeout
	if timeout <= 0 {
		timeout = settings.Timeout
	}
	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeout
	}
	lockTTL := job.LockTTL
	if lockTTL <= 0 {
		lockTTL = settings.LockTTL
	}
	if lockTTL <= 0 {
		lockTTL = 2 * timeout
	}
	return timeout, lockTTL
}

func (s *Scheduler) execute(parent context.Context, job Job, run *jobRun, timeout time.Duration) (err error) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(job.Name)
	s.logJobStart(ctx, run, timeout)

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic: %v", job.Name, r)
		}
		schedMetrics.ObserveJobDuration(job.Name, time.Since(start))
		if err != nil && errors.Is(err, context.DeadlineExceeded) {
			schedMetrics.IncJobTimeout(job.Name)
		}
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run, err)
	}()

	log := s.logger(ctx).With(
		zap.String("job", job.Name),
		zap.String("run_id", run.runID),
	)
	return job.Run(ctx, log)
}

// Trigger asks for an out-of-schedule run of name. It never blocks; requests
// made while a run is already pending collapse into that run. It reports
// whether name is registered.
func (s *Scheduler) Trigger(name string) bool {
	job := s.lookup(name)
	if job == nil {
		return false
	}
	s.wake(job.wake, triggerEvent, time.Time{})
	return true
}

// Start schedules every registered job and starts one worker per job. Cron
// ticks and triggers both go through the worker, so a replica never runs the
// same job twice concurrently.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return ErrAlreadyStarted
	}

	runner := cron.New(
		cron.WithLocation(s.cfg.Location),
		cron.WithLogger(cronLogger{log: s.log.Sugar()}),
	)
	pipeline := s.pipeline.Get()
	for _, job := range s.jobs {
		schedule := strings.TrimSpace(job.Schedule)
		if schedule == "" {
			schedule = strings.TrimSpace(pipeline.Job(job.Name).Schedule)
		}
		if schedule == "" {
			s.log.Info("scheduler.job.unscheduled", zap.String("job", job.Name))
			continue
		}
		wake := job.wake
		var id cron.EntryID
		// The runner sets Prev to the firing time before it serves Entry.
		id, err := runner.AddFunc(schedule, func() { s.wake(wake, triggerCron, runner.Entry(id).Prev) })
		if err != nil {
			return fmt.Errorf("%w: %s schedule %q: %v", ErrInvalidJob, job.Name, schedule, err)
		}
		s.log.Info("scheduler.job.scheduled",
			zap.String("job", job.Name),
			zap.String("schedule", schedule),
		)
	}

	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	for _, job := range s.jobs {
		s.workers.Add(1)
		go s.work(workerCtx, job)
	}
	s.cron = runner
	s.cancel = cancel
	runner.Start()
	return nil
}

func (s *Scheduler) work(ctx context.Context, job *registeredJob) {
	defer s.workers.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case w := <-job.wake:
			obsmetrics.Scheduler().ObserveRunLag(s.clock.Now().Sub(w.at))
			s.runJob(ctx, job.Name, w.trigger, w.tick)
		}
	}
}

func (s *Scheduler) wake(ch chan wakeup, trigger string, tick time.Time) {
	select {
	case ch <- wakeup{at: s.clock.Now(), tick: tick, trigger: trigger}:
	default:
	}
}

// Stop halts the cron runner, cancels in-flight runs and waits for workers
// until ctx expires.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	runner, cancel := s.cron, s.cancel
	s.cron, s.cancel = nil, nil
	s.mu.Unlock()
	if runner == nil {
		return nil
	}

	runner.Stop()
	cancel()

	done := make(chan struct{})
	go func() {
		s.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("scheduler.stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func jobKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
