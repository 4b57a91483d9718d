package domain

import (
	"context"
	"io"

	"github.com/bwmarrin/snowflake"
)

// Upload is a proof file handed over by the transport layer.
type Upload struct {
	Filename string
	Body     io.Reader
}

// ReconcileReport summarizes one recompute of cached paysheets.
type ReconcileReport struct {
	Writers      int
	Inconsistent int
	Changed      []snowflake.ID
}

type Service interface {
	ListPaysheets(ctx context.Context, status *PaysheetStatus) ([]WriterPaysheets, error)
	GetWriterPaysheets(ctx context.Context, writerID snowflake.ID) (WriterPaysheets, error)
	GetPaysheet(ctx context.Context, paysheetID string) (Period, error)
	// PayoutTarget resolves what paying the paysheet now would settle.
	PayoutTarget(ctx context.Context, paysheetID string) (PayoutTarget, error)

	PayPeriodWithProof(ctx context.Context, paysheetID string, proof Upload) (Period, error)
	PayAssignment(ctx context.Context, assignmentID snowflake.ID, proof Upload) (Period, error)
	CancelPendingPayout(ctx context.Context, paysheetID string) (Period, error)
	Statement(ctx context.Context, paysheetID string) (io.Reader, error)

	Invalidate(writerIDs ...snowflake.ID)
	Reconcile(ctx context.Context) (ReconcileReport, error)
}
