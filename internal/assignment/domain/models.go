package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Action names a state machine operation. It doubles as the event name
// emitted after a successful transition.
type Action string

const (
	ActionCreate             Action = "create"
	ActionSetClientPrice     Action = "set_client_price"
	ActionAcceptPrice        Action = "accept_price"
	ActionRejectPrice        Action = "reject_price"
	ActionSubmitPaymentProof Action = "submit_payment_proof"
	ActionRejectPaymentProof Action = "reject_payment_proof"
	ActionConfirmPayment     Action = "confirm_payment"
	ActionAssignWriter       Action = "assign_writer"
	ActionReassignWriter     Action = "reassign_writer"
	ActionUploadDeliverable  Action = "upload_deliverable"
	ActionApproveWork        Action = "approve_work"
	ActionRequestRevision    Action = "request_revision"

	ActionRequestReport Action = "request_report"
	ActionForwardReport Action = "forward_report_to_writer"
	ActionSubmitReport  Action = "submit_report"
	ActionReleaseReport Action = "release_report_to_client"

	ActionMarkPayoutPending Action = "mark_payout_pending"
	ActionMarkPayoutPaid    Action = "mark_payout_paid"
	ActionCancelPayout      Action = "cancel_payout"
)

// AffectsLedger reports whether the action can change a writer paysheet.
func (a Action) AffectsLedger() bool {
	switch a {
	case ActionAssignWriter, ActionReassignWriter, ActionUploadDeliverable,
		ActionMarkPayoutPending, ActionMarkPayoutPaid, ActionCancelPayout:
		return true
	default:
		return false
	}
}

type PaymentMethod string

const (
	PaymentMethodBank PaymentMethod = "bank"
	PaymentMethodCard PaymentMethod = "card"
)

func ParsePaymentMethod(raw string) (PaymentMethod, bool) {
	switch PaymentMethod(raw) {
	case PaymentMethodBank:
		return PaymentMethodBank, true
	case PaymentMethodCard:
		return PaymentMethodCard, true
	default:
		return "", false
	}
}

type PaymentStatus string

const (
	PaymentStatusUnpaid         PaymentStatus = "unpaid"
	PaymentStatusProofSubmitted PaymentStatus = "proof_submitted"
	PaymentStatusPaid           PaymentStatus = "paid"
)

type PayoutStatus string

const (
	PayoutStatusNone    PayoutStatus = "none"
	PayoutStatusPending PayoutStatus = "pending"
	PayoutStatusPaid    PayoutStatus = "paid"
)

// PaymentSource identifies which adapter confirmed a payment.
type PaymentSource string

const (
	PaymentSourceAdmin   PaymentSource = "admin"
	PaymentSourceGateway PaymentSource = "gateway"
)

// Assignment is the unit of work. It is serialized whole into every event.
type Assignment struct {
	ID          snowflake.ID  `gorm:"primaryKey" json:"id"`
	ClientID    snowflake.ID  `gorm:"not null;index" json:"client_id"`
	WriterID    *snowflake.ID `gorm:"index" json:"writer_id,omitempty"`
	Title       string        `gorm:"type:text;not null" json:"title"`
	Description string        `gorm:"type:text" json:"description,omitempty"`

	ClientPrice decimal.NullDecimal `gorm:"type:numeric(12,2)" json:"client_price"`
	WriterPrice decimal.NullDecimal `gorm:"type:numeric(12,2)" json:"writer_price"`

	Status       Status       `gorm:"type:text;not null;index" json:"status"`
	ReportStatus ReportStatus `gorm:"type:text;not null" json:"report_status"`
	ReportFile   *string      `gorm:"type:text" json:"report_file,omitempty"`

	PaymentMethod      *PaymentMethod `gorm:"type:text" json:"payment_method,omitempty"`
	PaymentStatus      PaymentStatus  `gorm:"type:text;not null" json:"payment_status"`
	PaymentProof       *string        `gorm:"type:text" json:"payment_proof,omitempty"`
	PaymentReferenceID *string        `gorm:"type:text" json:"payment_reference_id,omitempty"`

	Attachments    datatypes.JSONSlice[string] `json:"attachments"`
	CompletedFiles datatypes.JSONSlice[string] `json:"completed_files"`

	PayoutStatus      PayoutStatus `gorm:"type:text;not null" json:"payout_status"`
	PayoutProof       *string      `gorm:"type:text" json:"payout_proof,omitempty"`
	PayoutReferenceID *string      `gorm:"type:text" json:"payout_reference_id,omitempty"`
	PaidOutAt         *time.Time   `json:"paid_out_at,omitempty"`

	Version     int64      `gorm:"not null" json:"version"`
	CreatedAt   time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"not null" json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (Assignment) TableName() string { return "assignments" }

// Commission is the platform share. It is derived and never stored.
func (a Assignment) Commission() (decimal.Decimal, bool) {
	if !a.ClientPrice.Valid || !a.WriterPrice.Valid {
		return decimal.Zero, false
	}
	return a.ClientPrice.Decimal.Sub(a.WriterPrice.Decimal), true
}

// HasWriter reports whether a writer is assigned.
func (a Assignment) HasWriter() bool {
	return a.WriterID != nil && *a.WriterID != 0
}

// IsParty reports whether userID is the client or the assigned writer.
func (a Assignment) IsParty(userID snowflake.ID) bool {
	if userID == 0 {
		return false
	}
	if a.ClientID == userID {
		return true
	}
	return a.HasWriter() && *a.WriterID == userID
}

// CheckInvariants validates the cross-field rules every committed snapshot must hold.
func (a Assignment) CheckInvariants() error {
	if !a.Status.Valid() {
		return ErrUnknownStatus
	}
	if a.WriterPrice.Valid && !a.ClientPrice.Valid {
		return ErrClientPriceRequired
	}
	if a.HasWriter() && !WriterAllowed(a.Status) {
		return &StateError{Err: ErrInvalidWriter, Current: a.Status, AssignmentID: a.ID}
	}
	if a.ClientPrice.Valid && a.ClientPrice.Decimal.IsNegative() {
		return ErrInvalidPrice
	}
	if a.WriterPrice.Valid && a.WriterPrice.Decimal.IsNegative() {
		return ErrInvalidWriterPrice
	}
	return nil
}

// Transition is the append-only history row written with every change.
type Transition struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	AssignmentID snowflake.ID `gorm:"not null;index" json:"assignment_id"`
	Action       Action       `gorm:"type:text;not null" json:"action"`
	FromStatus   Status       `gorm:"type:text;not null" json:"from_status"`
	ToStatus     Status       `gorm:"type:text;not null" json:"to_status"`
	ActorID      *string      `gorm:"type:text" json:"actor_id,omitempty"`
	ActorRole    string       `gorm:"type:text;not null" json:"actor_role"`
	Version      int64        `gorm:"not null" json:"version"`
	CreatedAt    time.Time    `gorm:"not null" json:"created_at"`
}

func (Transition) TableName() string { return "assignment_transitions" }

// PriceOf wraps a decimal into a set NullDecimal.
func PriceOf(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: true}
}
