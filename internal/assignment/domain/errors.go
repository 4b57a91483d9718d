package domain

import (
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrNotFound             = errors.New("assignment_not_found")
	ErrInvalidID            = errors.New("invalid_assignment_id")
	ErrInvalidTitle         = errors.New("invalid_title")
	ErrInvalidClient        = errors.New("invalid_client")
	ErrInvalidWriter        = errors.New("invalid_writer")
	ErrInvalidPrice         = errors.New("invalid_price")
	ErrInvalidWriterPrice   = errors.New("invalid_writer_price")
	ErrClientPriceRequired  = errors.New("client_price_required")
	ErrInvalidPaymentMethod = errors.New("invalid_payment_method")
	ErrProofRequired        = errors.New("payment_proof_required")
	ErrFilesRequired        = errors.New("files_required")
	ErrWriterRequired       = errors.New("writer_required")
	ErrNotParty             = errors.New("not_assignment_party")
	ErrUnknownStatus        = errors.New("unknown_status")
	ErrInvalidPageToken     = errors.New("invalid_page_token")

	ErrInvalidTransition = errors.New("invalid_transition")
	ErrAlreadyAssigned   = errors.New("already_assigned")
	ErrPriceLocked       = errors.New("price_locked")
	ErrConflict          = errors.New("assignment_conflict")

	ErrPayoutNotEligible    = errors.New("payout_not_eligible")
	ErrPayoutAlreadyPending = errors.New("payout_already_pending")
	ErrPayoutReference      = errors.New("payout_reference_mismatch")
	ErrPayoutRecorded       = errors.New("payout_recorded")
)

// TransitionError reports a guard failure with the attempted action and the
// state it was attempted from.
type TransitionError struct {
	Action       Action
	Current      string
	AssignmentID snowflake.ID
}

func (e *TransitionError) Error() string {
	if e.AssignmentID != 0 {
		return fmt.Sprintf("invalid_transition: %s not allowed from %s (assignment %s)", e.Action, e.Current, e.AssignmentID)
	}
	return fmt.Sprintf("invalid_transition: %s not allowed from %s", e.Action, e.Current)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// StateError attaches the current state to a conflict sentinel such as
// ErrAlreadyAssigned or ErrPriceLocked.
type StateError struct {
	Err          error
	Current      Status
	AssignmentID snowflake.ID
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: assignment %s is %s", e.Err, e.AssignmentID, e.Current)
}

func (e *StateError) Unwrap() error {
	return e.Err
}

// CurrentState extracts the state carried by a transition or state error.
func CurrentState(err error) (string, bool) {
	var te *TransitionError
	if errors.As(err, &te) {
		return te.Current, true
	}
	var se *StateError
	if errors.As(err, &se) {
		return string(se.Current), true
	}
	return "", false
}
