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
	"github.com/smallbiznis/penwork/internal/authorization"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestClassifySchedulerJobReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "deadline", err: context.DeadlineExceeded, want: SchedulerJobReasonDeadlineExceeded},
		{name: "forbidden", err: authorization.ErrForbidden, want: SchedulerJobReasonForbidden},
		{name: "db_lock_timeout", err: &pgconn.PgError{Code: "55P03"}, want: SchedulerJobReasonDBLockTimeout},
		{name: "serialization_failure", err: fmt.Errorf("load: %w", &pgconn.PgError{Code: "40001"}), want: SchedulerJobReasonSerializationFailure},
		{name: "unique_violation", err: gorm.ErrDuplicatedKey, want: SchedulerJobReasonUniqueViolation},
		{name: "sqlite_busy", err: errors.New("database is locked"), want: SchedulerJobReasonTransient},
		{name: "unknown", err: errors.New("boom"), want: SchedulerJobReasonUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, ClassifySchedulerJobReason(tc.err))
		})
	}
}

func TestIsSchedulerErrorRetryable(t *testing.T) {
	require.True(t, IsSchedulerErrorRetryable(&pgconn.PgError{Code: "40001"}))
	require.True(t, IsSchedulerErrorRetryable(context.Canceled))
	require.False(t, IsSchedulerErrorRetryable(errors.New("boom")))
	require.False(t, IsSchedulerErrorRetryable(nil))
}

func TestAddBatchProcessed(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := newSchedulerMetrics(registry, Config{
		ServiceName: "penwork",
		Environment: "test",
	})

	metrics.AddBatchProcessed("paysheet_reconcile", ResourceWriters, 3)
	metrics.AddInconsistencies("paysheet_reconcile", 1)

	metrics.AddBatchProcessed("paysheet_reconcile", ResourceWriters, 0)
	metrics.ObserveRunLoopLag(-time.Second)

	require.Equal(t, float64(3), testutil.ToFloat64(metrics.batchProcessed.WithLabelValues("paysheet_reconcile", ResourceWriters)))
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.inconsistent.WithLabelValues("paysheet_reconcile")))

	var nilMetrics *SchedulerMetrics
	nilMetrics.IncJobRun("noop")
	nilMetrics.IncJobError("noop", errors.New("x"))
}
