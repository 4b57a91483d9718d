package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type CreateRequest struct {
	Title       string
	Description string
	Attachments []string
}

type ListRequest struct {
	Statuses  []Status
	ClientID  *snowflake.ID
	WriterID  *snowflake.ID
	PageToken string
	PageSize  int
}

type ListResponse struct {
	Assignments   []Assignment `json:"assignments"`
	NextPageToken string       `json:"next_page_token,omitempty"`
	HasMore       bool         `json:"has_more"`
}

type SubmitPaymentProofRequest struct {
	ProofRef string
	Method   PaymentMethod
}

type ConfirmPaymentRequest struct {
	Source PaymentSource
	// ReferenceID is the gateway order id for gateway confirmations.
	ReferenceID string
}

type AssignWriterRequest struct {
	WriterID           snowflake.ID
	WriterPrice        decimal.Decimal
	ClientPriceIfUnset *decimal.Decimal
}

type ReassignWriterRequest struct {
	WriterID    snowflake.ID
	WriterPrice *decimal.Decimal
}

type PayoutReceipt struct {
	Proof       string
	ReferenceID string
}

// Result is returned by operations that may be idempotent no-ops.
type Result struct {
	Assignment Assignment
	Changed    bool
}

// Service is the only writer of status, report, pricing, payment and payout
// fields. Every mutating call is atomic and serialized per assignment id.
type Service interface {
	Create(ctx context.Context, req CreateRequest) (Assignment, error)
	Get(ctx context.Context, id snowflake.ID) (Assignment, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	History(ctx context.Context, id snowflake.ID) ([]Transition, error)

	SetClientPrice(ctx context.Context, id snowflake.ID, price decimal.Decimal) (Assignment, error)
	AcceptPrice(ctx context.Context, id snowflake.ID) (Assignment, error)
	RejectPrice(ctx context.Context, id snowflake.ID) (Assignment, error)
	SubmitPaymentProof(ctx context.Context, id snowflake.ID, req SubmitPaymentProofRequest) (Assignment, error)
	RejectPaymentProof(ctx context.Context, id snowflake.ID) (Assignment, error)
	ConfirmPayment(ctx context.Context, id snowflake.ID, req ConfirmPaymentRequest) (Result, error)
	AssignWriter(ctx context.Context, id snowflake.ID, req AssignWriterRequest) (Assignment, error)
	ReassignWriter(ctx context.Context, id snowflake.ID, req ReassignWriterRequest) (Assignment, error)
	UploadDeliverable(ctx context.Context, id snowflake.ID, files []string) (Assignment, error)
	ApproveWork(ctx context.Context, id snowflake.ID) (Assignment, error)
	RequestRevision(ctx context.Context, id snowflake.ID) (Assignment, error)

	RequestReport(ctx context.Context, id snowflake.ID) (Assignment, error)
	ForwardReportToWriter(ctx context.Context, id snowflake.ID) (Assignment, error)
	SubmitReport(ctx context.Context, id snowflake.ID, file string) (Assignment, error)
	ReleaseReportToClient(ctx context.Context, id snowflake.ID) (Assignment, error)

	MarkPayoutPending(ctx context.Context, ids []snowflake.ID, referenceID string) ([]Assignment, error)
	MarkPayoutPaid(ctx context.Context, ids []snowflake.ID, receipt PayoutReceipt) ([]Result, error)
	CancelPayout(ctx context.Context, ids []snowflake.ID, referenceID string) ([]Assignment, error)

	// LedgerSnapshot reads the assignments the paysheet aggregator needs.
	LedgerSnapshot(ctx context.Context, filter LedgerFilter) ([]Assignment, error)
	WritersWithEarnings(ctx context.Context) ([]snowflake.ID, error)
}
