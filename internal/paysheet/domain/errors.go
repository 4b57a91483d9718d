package domain

import "errors"

var (
	ErrInvalidPaysheetID        = errors.New("invalid_paysheet_id")
	ErrPaysheetNotFound         = errors.New("paysheet_not_found")
	ErrNothingDue               = errors.New("nothing_due")
	ErrNothingPending           = errors.New("nothing_pending")
	ErrProofRequired            = errors.New("payout_proof_required")
	ErrInvalidStatus            = errors.New("invalid_paysheet_status")
	ErrAggregationInconsistency = errors.New("aggregation_inconsistency")
)
