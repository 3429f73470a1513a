package scheduler

import (
	"context"
	"time"

	obscontext "github.com/smallbiznis/loyaltyrail/internal/observability/context"
	obslogger "github.com/smallbiznis/loyaltyrail/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/loyaltyrail/internal/observability/metrics"
	"go.uber.org/zap"
)

type jobRun struct {
	job            string
	runID          string
	trigger        string
	startedAt      time.Time
	processedCount int
	errorCount     int
}

type jobRunKey struct{}

func (r *jobRun) AddProcessed(count int) {
	if r == nil || count <= 0 {
		return
	}
	r.processedCount += count
}

func (r *jobRun) IncError() {
	if r == nil {
		return
	}
	r.errorCount++
}

// AddProcessed credits count items of resource to the job running in ctx.
// It is a no-op outside a scheduler run.
func AddProcessed(ctx context.Context, resource string, count int) {
	run := jobRunFromContext(ctx)
	if run == nil {
		return
	}
	run.AddProcessed(count)
	obsmetrics.Scheduler().AddItemsProcessed(run.job, resource, count)
}

// AddErrors records per-item failures that did not abort the run.
func AddErrors(ctx context.Context, count int) {
	run := jobRunFromContext(ctx)
	for i := 0; i < count; i++ {
		run.IncError()
	}
}

func (s *Scheduler) newJobRun(ctx context.Context, job, trigger string) (context.Context, *jobRun) {
	if ctx == nil {
		ctx = context.Background()
	}
	run := &jobRun{
		job:       job,
		runID:     s.genID.Generate().String(),
		trigger:   trigger,
		startedAt: time.Now(),
	}
	ctx = context.WithValue(ctx, jobRunKey{}, run)
	ctx = obscontext.WithActor(ctx, "system", "scheduler")
	ctx = obscontext.WithRequestID(ctx, run.runID)
	return ctx, run
}

func jobRunFromContext(ctx context.Context) *jobRun {
	if ctx == nil {
		return nil
	}
	if run, ok := ctx.Value(jobRunKey{}).(*jobRun); ok {
		return run
	}
	return nil
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

func (s *Scheduler) logJobStart(ctx context.Context, run *jobRun, timeout time.Duration) {
	if run == nil {
		return
	}
	s.logger(ctx).Info("scheduler.job.start",
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.String("trigger", run.trigger),
		zap.Duration("timeout", timeout),
	)
}

func (s *Scheduler) logJobFinish(ctx context.Context, run *jobRun, err error) {
	if run == nil {
		return
	}
	fields := []zap.Field{
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.Int64("duration_ms", time.Since(run.startedAt).Milliseconds()),
		zap.Int("processed_count", run.processedCount),
		zap.Int("error_count", run.errorCount),
	}
	log := s.logger(ctx)
	if err != nil {
		fields = append(fields,
			zap.String("reason", obsmetrics.ClassifySchedulerJobReason(err)),
			zap.Error(err),
		)
		log.Error("scheduler.job.finish", fields...)
		return
	}
	if run.errorCount > 0 {
		log.Warn("scheduler.job.finish", fields...)
		return
	}
	log.Info("scheduler.job.finish", fields...)
}

// cronLogger routes robfig/cron diagnostics into zap.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw("scheduler.cron."+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw("scheduler.cron."+msg, append(keysAndValues, "error", err)...)
}
