package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	assignmentdomain "github.com/smallbiznis/penwork/internal/assignment/domain"
)

// PeriodLayout formats the calendar month a period covers.
const PeriodLayout = "2006-01"

type PaysheetStatus string

const (
	StatusPaid    PaysheetStatus = "paid"
	StatusPending PaysheetStatus = "pending"
	StatusDue     PaysheetStatus = "due"
)

func ParseStatus(raw string) (PaysheetStatus, bool) {
	switch PaysheetStatus(raw) {
	case StatusPaid, StatusPending, StatusDue:
		return PaysheetStatus(raw), true
	default:
		return "", false
	}
}

// Row is one assignment's contribution to a period.
type Row struct {
	AssignmentID snowflake.ID                  `json:"assignment_id"`
	Title        string                        `json:"title"`
	WriterPrice  decimal.Decimal               `json:"writer_price"`
	Status       assignmentdomain.Status       `json:"status"`
	PayoutStatus assignmentdomain.PayoutStatus `json:"payout_status"`
	CompletedAt  *time.Time                    `json:"completed_at,omitempty"`
	PaidOutAt    *time.Time                    `json:"paid_out_at,omitempty"`
	PayoutProof  *string                       `json:"payout_proof,omitempty"`
	// InProgress marks work not yet completed, counted only as pending.
	InProgress bool `json:"in_progress"`
}

// Period is the derived payout view of one writer and one calendar month,
// or of a single assignment for individual payouts.
type Period struct {
	ID       string       `json:"id"`
	WriterID snowflake.ID `json:"writer_id"`
	Period   string       `json:"period"`

	TotalAmount      decimal.Decimal `json:"total_amount"`
	PaidAmount       decimal.Decimal `json:"paid_amount"`
	DueAmount        decimal.Decimal `json:"due_amount"`
	PendingAmount    decimal.Decimal `json:"pending_amount"`
	InProgressAmount decimal.Decimal `json:"in_progress_amount"`

	Status         PaysheetStatus   `json:"paysheet_status"`
	IsCurrentMonth bool             `json:"is_current_month"`
	TotalToPay     *decimal.Decimal `json:"total_to_pay,omitempty"`
	ProofURL       *string          `json:"proof_url,omitempty"`
	Individual     bool             `json:"individual"`

	Assignments []Row `json:"assignments"`
}

// PayoutPendingAmount is the part of PendingAmount waiting on a payout.
func (p Period) PayoutPendingAmount() decimal.Decimal {
	return p.PendingAmount.Sub(p.InProgressAmount)
}

// DueAssignmentIDs lists completed, unpaid, not pending rows.
func (p Period) DueAssignmentIDs() []snowflake.ID {
	return p.idsWhere(func(r Row) bool {
		return !r.InProgress && r.PayoutStatus == assignmentdomain.PayoutStatusNone
	})
}

// PendingAssignmentIDs lists rows reserved by an outstanding payout.
func (p Period) PendingAssignmentIDs() []snowflake.ID {
	return p.idsWhere(func(r Row) bool {
		return !r.InProgress && r.PayoutStatus == assignmentdomain.PayoutStatusPending
	})
}

func (p Period) idsWhere(match func(Row) bool) []snowflake.ID {
	var ids []snowflake.ID
	for _, row := range p.Assignments {
		if match(row) {
			ids = append(ids, row.AssignmentID)
		}
	}
	return ids
}

// WriterPaysheets is the grouped per-writer view.
type WriterPaysheets struct {
	WriterID      snowflake.ID `json:"writer_id"`
	MonthlyTotals []Period     `json:"monthly_totals"`
	Assignments   []Row        `json:"assignments"`
}

// PayoutTarget is what a payout of one paysheet would settle.
type PayoutTarget struct {
	PaysheetID    string
	WriterID      snowflake.ID
	AssignmentIDs []snowflake.ID
	Amount        decimal.Decimal
}
