package domain

import (
	"context"
	"net/url"

	"github.com/bwmarrin/snowflake"
	assignmentdomain "github.com/smallbiznis/penwork/internal/assignment/domain"
)

// SessionRequest names exactly one target for a gateway checkout.
type SessionRequest struct {
	AssignmentID *snowflake.ID
	PaysheetID   string
}

// Service bridges the bank and gateway payment paths into the assignment
// state machine. Both paths end in the same ConfirmPayment call.
type Service interface {
	// SubmitBankProof stores the slip first; the transition runs only after
	// the file is safely stored.
	SubmitBankProof(ctx context.Context, assignmentID snowflake.ID, proof ProofUpload) (assignmentdomain.Assignment, error)
	ConfirmBankPayment(ctx context.Context, assignmentID snowflake.ID) (assignmentdomain.Result, error)
	RejectBankProof(ctx context.Context, assignmentID snowflake.ID) (assignmentdomain.Assignment, error)

	CreateSession(ctx context.Context, req SessionRequest) (Session, error)
	HandleNotification(ctx context.Context, provider string, form url.Values) (CallbackResult, error)
	CancelOrder(ctx context.Context, orderID string) (PaymentOrder, error)
	GetOrder(ctx context.Context, orderID string) (PaymentOrder, error)
}
