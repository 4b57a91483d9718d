package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/penwork/internal/actorcontext"
	"github.com/smallbiznis/penwork/internal/clock"
	"github.com/smallbiznis/penwork/internal/config"
	obsmetrics "github.com/smallbiznis/penwork/internal/observability/metrics"
	paysheetdomain "github.com/smallbiznis/penwork/internal/paysheet/domain"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeReconciler struct {
	mu     sync.Mutex
	calls  []time.Time
	clock  clock.Clock
	report paysheetdomain.ReconcileReport
	err    error
	actors []actorcontext.Actor
}

func (f *fakeReconciler) Reconcile(ctx context.Context) (paysheetdomain.ReconcileReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, f.clock.Now())
	actor, _ := actorcontext.ActorFromContext(ctx)
	f.actors = append(f.actors, actor)
	return f.report, f.err
}

func newTestScheduler(t *testing.T, rec *fakeReconciler, clk clock.Clock, cfg Config) *Scheduler {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return &Scheduler{
		log:        zap.NewNop(),
		cfg:        cfg.withDefaults(),
		genID:      node,
		clock:      clk,
		reconciler: rec,
	}
}

func withSchedulerRegistry(t *testing.T) *prometheus.Registry {
	t.Helper()
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	t.Cleanup(restore)
	obsmetrics.ResetSchedulerMetricsForTest()
	obsmetrics.SchedulerWithConfig(obsmetrics.Config{ServiceName: "penwork", Environment: "test"})
	return registry
}

func TestReconcileJobRunsEachTickOverThirtyDays(t *testing.T) {
	registry := withSchedulerRegistry(t)
	clk := clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	rec := &fakeReconciler{clock: clk, report: paysheetdomain.ReconcileReport{Writers: 3, Inconsistent: 1}}
	s := newTestScheduler(t, rec, clk, Config{RunInterval: 24 * time.Hour})

	for day := 0; day < 30; day++ {
		require.NoError(t, s.RunOnce(context.Background()))
		clk.Advance(s.cfg.RunInterval)
	}

	require.Len(t, rec.calls, 30)
	require.Equal(t, time.Date(2026, 1, 30, 0, 0, 0, 0, time.UTC), rec.calls[29])
	for _, actor := range rec.actors {
		require.True(t, actor.IsSystem())
	}

	labels := map[string]string{"service": "penwork", "env": "test", "job": JobPaysheetReconcile}
	require.Equal(t, float64(30), getCounterValue(t, registry, "penwork_scheduler_job_runs_total", labels))
	require.Equal(t, float64(30), getCounterValue(t, registry, "penwork_scheduler_paysheet_inconsistencies_total", labels))

	writerLabels := map[string]string{"service": "penwork", "env": "test", "job": JobPaysheetReconcile, "resource": obsmetrics.ResourceWriters}
	require.Equal(t, float64(90), getCounterValue(t, registry, "penwork_scheduler_batch_processed_total", writerLabels))
}

func TestReconcileFailureIsReturnedAndCounted(t *testing.T) {
	registry := withSchedulerRegistry(t)
	clk := clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	boom := errors.New("snapshot failed")
	rec := &fakeReconciler{clock: clk, err: boom}
	s := newTestScheduler(t, rec, clk, Config{})

	err := s.RunOnce(context.Background())
	require.ErrorIs(t, err, boom)
	require.Contains(t, err.Error(), JobPaysheetReconcile)

	labels := map[string]string{
		"service": "penwork",
		"env":     "test",
		"job":     JobPaysheetReconcile,
		"reason":  obsmetrics.SchedulerJobReasonUnknown,
	}
	require.Equal(t, float64(1), getCounterValue(t, registry, "penwork_scheduler_job_errors_total", labels))
}

func TestDisabledJobIsSkipped(t *testing.T) {
	withSchedulerRegistry(t)
	clk := clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	rec := &fakeReconciler{clock: clk}
	s := newTestScheduler(t, rec, clk, Config{EnabledJobs: []string{"something_else"}})

	require.NoError(t, s.RunOnce(context.Background()))
	require.Empty(t, rec.calls)

	s.cfg.EnabledJobs = []string{"PAYSHEET_RECONCILE"}
	require.NoError(t, s.RunOnce(context.Background()))
	require.Len(t, rec.calls, 1)
}

func TestRunForeverStopsOnCancel(t *testing.T) {
	withSchedulerRegistry(t)
	clk := clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	rec := &fakeReconciler{clock: clk}
	s := newTestScheduler(t, rec, clk, Config{RunInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.RunForever(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.calls) == 1
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("run loop did not stop")
	}
}

func TestProvideConfigParsesJobList(t *testing.T) {
	cfg := ProvideConfig(config.Config{Scheduler: config.SchedulerConfig{
		Enabled: true,
		Jobs:    " paysheet_reconcile , ,other",
	}})
	require.Equal(t, []string{"paysheet_reconcile", "other"}, cfg.EnabledJobs)
	require.False(t, cfg.Disabled)
	require.Equal(t, DefaultConfig().RunInterval, cfg.RunInterval)
	require.Equal(t, DefaultConfig().JobTimeout, cfg.JobTimeout)
}
