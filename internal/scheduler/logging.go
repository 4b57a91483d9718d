package scheduler

import (
	"context"
	"time"

	obslogger "github.com/smallbiznis/penwork/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/penwork/internal/observability/metrics"
	"go.uber.org/zap"
)

// jobRun is the bookkeeping for one execution of a job. It travels in the
// job's context so the job body can report progress.
type jobRun struct {
	job       string
	runID     string
	started   time.Time
	processed int
	errors    int
}

type jobRunKey struct{}

func (r *jobRun) AddProcessed(n int) {
	if r != nil && n > 0 {
		r.processed += n
	}
}

func (r *jobRun) IncError() {
	if r != nil {
		r.errors++
	}
}

func (s *Scheduler) startJobRun(ctx context.Context, job string) (context.Context, *jobRun) {
	run := &jobRun{job: job, runID: s.genID.Generate().String(), started: s.clock.Now()}
	return context.WithValue(ctx, jobRunKey{}, run), run
}

func jobRunFromContext(ctx context.Context) *jobRun {
	run, _ := ctx.Value(jobRunKey{}).(*jobRun)
	return run
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

func (r *jobRun) fields() []zap.Field {
	return []zap.Field{zap.String("job", r.job), zap.String("run_id", r.runID)}
}

func (s *Scheduler) logJobStart(ctx context.Context, run *jobRun) {
	s.logger(ctx).Info("scheduler.job.start", run.fields()...)
}

// logJobFinish logs at warn when the run recorded any error.
func (s *Scheduler) logJobFinish(ctx context.Context, run *jobRun) {
	fields := append(run.fields(),
		zap.Duration("duration", s.clock.Now().Sub(run.started)),
		zap.Int("processed_count", run.processed),
		zap.Int("error_count", run.errors),
	)
	level := zap.InfoLevel
	if run.errors > 0 {
		level = zap.WarnLevel
	}
	if ce := s.logger(ctx).Check(level, "scheduler.job.finish"); ce != nil {
		ce.Write(fields...)
	}
}

func (s *Scheduler) logSchedulerError(ctx context.Context, run *jobRun, msg string, err error, fields ...zap.Field) {
	run.IncError()
	base := []zap.Field{
		zap.String("error_type", obsmetrics.ClassifySchedulerJobReason(err)),
		zap.Bool("retryable", obsmetrics.IsSchedulerErrorRetryable(err)),
		zap.Error(err),
	}
	if run != nil {
		base = append(run.fields(), base...)
	}
	s.logger(ctx).Error(msg, append(base, fields...)...)
}
