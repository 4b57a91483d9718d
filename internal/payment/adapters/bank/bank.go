package bank

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	assignmentdomain "github.com/smallbiznis/penwork/internal/assignment/domain"
	paymentdomain "github.com/smallbiznis/penwork/internal/payment/domain"
	"github.com/smallbiznis/penwork/internal/storage"
)

// Adapter is the two-step bank transfer path: the client uploads a slip,
// then an administrator confirms it.
type Adapter struct {
	store       storage.Store
	assignments assignmentdomain.Service
}

func New(store storage.Store, assignments assignmentdomain.Service) *Adapter {
	return &Adapter{store: store, assignments: assignments}
}

// SubmitProof never applies the transition unless the slip was stored.
func (a *Adapter) SubmitProof(ctx context.Context, assignmentID snowflake.ID, proof paymentdomain.ProofUpload) (assignmentdomain.Assignment, error) {
	if proof.Body == nil || strings.TrimSpace(proof.Filename) == "" {
		return assignmentdomain.Assignment{}, paymentdomain.ErrProofRequired
	}
	ref, err := a.store.Save(ctx, storage.CategoryPaymentProof, proof.Filename, proof.Body)
	if err != nil {
		return assignmentdomain.Assignment{}, err
	}
	return a.assignments.SubmitPaymentProof(ctx, assignmentID, assignmentdomain.SubmitPaymentProofRequest{
		ProofRef: ref,
		Method:   assignmentdomain.PaymentMethodBank,
	})
}

func (a *Adapter) Confirm(ctx context.Context, assignmentID snowflake.ID) (assignmentdomain.Result, error) {
	return a.assignments.ConfirmPayment(ctx, assignmentID, assignmentdomain.ConfirmPaymentRequest{
		Source: assignmentdomain.PaymentSourceAdmin,
	})
}

// Reject discards the slip on file and reopens the payment cycle.
func (a *Adapter) Reject(ctx context.Context, assignmentID snowflake.ID) (assignmentdomain.Assignment, error) {
	return a.assignments.RejectPaymentProof(ctx, assignmentID)
}
