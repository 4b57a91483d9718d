package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/penwork/internal/actorcontext"
	"github.com/smallbiznis/penwork/internal/clock"
	obsmetrics "github.com/smallbiznis/penwork/internal/observability/metrics"
	paysheetdomain "github.com/smallbiznis/penwork/internal/paysheet/domain"
	"github.com/smallbiznis/penwork/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

const lockKeyPrefix = "penwork:scheduler:"

// Reconciler recomputes cached paysheets from the assignment store.
type Reconciler interface {
	Reconcile(ctx context.Context) (paysheetdomain.ReconcileReport, error)
}

type Params struct {
	fx.In

	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Paysheets paysheetdomain.Service
	Redis     *redis.Client `optional:"true"`
	Config    Config        `optional:"true"`
}

type Scheduler struct {
	log        *zap.Logger
	cfg        Config
	genID      *snowflake.Node
	clock      clock.Clock
	reconciler Reconciler
	locker     *ratelimit.Locker
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.Paysheets == nil {
		return nil, ErrInvalidConfig
	}
	cfg := p.Config.withDefaults()
	return &Scheduler{
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        cfg,
		genID:      p.GenID,
		clock:      p.Clock,
		reconciler: p.Paysheets,
		locker:     ratelimit.NewLocker(p.Redis, cfg.JobTimeout),
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx = actorcontext.WithActor(ctx, actorcontext.System())
	ctx, run := s.startJobRun(ctx, name)
	log := s.logger(ctx).With(run.fields()...)

	release, ok := s.acquire(ctx, name)
	if !ok {
		log.Debug("scheduler.job.skipped", zap.String("reason", "held_by_other_instance"))
		return nil
	}
	defer release()

	s.logJobStart(ctx, run)
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if err != nil && run.errors == 0 {
		run.IncError()
	}
	s.logJobFinish(ctx, run)
	if err == nil {
		return nil
	}

	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// acquire takes the cross-instance job lock when Redis is configured. A
// Redis failure falls back to running locally.
func (s *Scheduler) acquire(ctx context.Context, name string) (func(), bool) {
	if s.locker == nil {
		return func() {}, true
	}
	key := lockKeyPrefix + name
	token, ok, err := s.locker.TryLock(ctx, key)
	if err != nil {
		s.logger(ctx).Warn("scheduler lock unavailable, running locally", zap.String("job", name), zap.Error(err))
		return func() {}, true
	}
	if !ok {
		return nil, false
	}
	return func() {
		if err := s.locker.Release(context.Background(), key, token); err != nil {
			s.log.Warn("failed to release scheduler lock", zap.String("job", name), zap.Error(err))
		}
	}, true
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{JobPaysheetReconcile, s.PaysheetReconcileJob},
	}

	for _, job := range jobs {
		if s.isJobEnabled(job.Name) {
			err = errors.Join(err, s.runJob(parent, job.Name, s.cfg.JobTimeout, job.Run))
		}
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		runLag := s.clock.Now().Sub(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// PaysheetReconcileJob replaces every cached writer paysheet with a fresh
// recompute and counts the ones that had drifted.
func (s *Scheduler) PaysheetReconcileJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)
	report, err := s.reconciler.Reconcile(ctx)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.paysheet.reconcile.failed", err)
		return err
	}
	run.AddProcessed(report.Writers)

	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.AddBatchProcessed(JobPaysheetReconcile, obsmetrics.ResourceWriters, report.Writers)
	schedMetrics.AddInconsistencies(JobPaysheetReconcile, report.Inconsistent)
	if report.Inconsistent > 0 {
		s.logger(ctx).Warn("scheduler.paysheet.reconciled",
			zap.Int("writers", report.Writers),
			zap.Int("inconsistent", report.Inconsistent),
		)
	}
	return nil
}
