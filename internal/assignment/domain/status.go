package domain

import "fmt"

// Status is the assignment workflow state. Every consumer dispatches on it
// through StatusVisitor, so adding a value breaks compilation until each
// visitor handles it.
type Status string

const (
	StatusNew                   Status = "new"
	StatusPriceSet              Status = "price_set"
	StatusPriceRejected         Status = "price_rejected"
	StatusPriceAccepted         Status = "price_accepted"
	StatusPaymentProofSubmitted Status = "payment_proof_submitted"
	StatusPaid                  Status = "paid"
	StatusInProgress            Status = "in_progress"
	StatusCompleted             Status = "completed"
	StatusAdminApproved         Status = "admin_approved"
	StatusRevision              Status = "revision"
)

// AllStatuses lists statuses in workflow order.
var AllStatuses = []Status{
	StatusNew,
	StatusPriceSet,
	StatusPriceRejected,
	StatusPriceAccepted,
	StatusPaymentProofSubmitted,
	StatusPaid,
	StatusInProgress,
	StatusCompleted,
	StatusAdminApproved,
	StatusRevision,
}

type StatusVisitor[T any] interface {
	VisitNew() (T, error)
	VisitPriceSet() (T, error)
	VisitPriceRejected() (T, error)
	VisitPriceAccepted() (T, error)
	VisitPaymentProofSubmitted() (T, error)
	VisitPaid() (T, error)
	VisitInProgress() (T, error)
	VisitCompleted() (T, error)
	VisitAdminApproved() (T, error)
	VisitRevision() (T, error)
}

// VisitStatus dispatches s to the matching visitor method.
func VisitStatus[T any](s Status, v StatusVisitor[T]) (T, error) {
	switch s {
	case StatusNew:
		return v.VisitNew()
	case StatusPriceSet:
		return v.VisitPriceSet()
	case StatusPriceRejected:
		return v.VisitPriceRejected()
	case StatusPriceAccepted:
		return v.VisitPriceAccepted()
	case StatusPaymentProofSubmitted:
		return v.VisitPaymentProofSubmitted()
	case StatusPaid:
		return v.VisitPaid()
	case StatusInProgress:
		return v.VisitInProgress()
	case StatusCompleted:
		return v.VisitCompleted()
	case StatusAdminApproved:
		return v.VisitAdminApproved()
	case StatusRevision:
		return v.VisitRevision()
	default:
		var zero T
		return zero, fmt.Errorf("%w: %q", ErrUnknownStatus, string(s))
	}
}

func (s Status) Valid() bool {
	_, err := VisitStatus[statusRule](s, statusTable{})
	return err == nil
}

// statusRule describes what a status permits.
type statusRule struct {
	edges map[Action]Status
	// priceLocked is true once a payment proof exists or payment settled.
	priceLocked bool
	// settled is true once payment is confirmed.
	settled bool
	// writerAllowed is true for statuses where a writer may be set.
	writerAllowed bool
}

var (
	ruleNew = statusRule{edges: map[Action]Status{
		ActionSetClientPrice: StatusPriceSet,
	}}
	rulePriceSet = statusRule{edges: map[Action]Status{
		ActionAcceptPrice: StatusPriceAccepted,
		ActionRejectPrice: StatusPriceRejected,
	}}
	rulePriceRejected = statusRule{edges: map[Action]Status{
		ActionSetClientPrice: StatusPriceSet,
	}}
	rulePriceAccepted = statusRule{edges: map[Action]Status{
		ActionSubmitPaymentProof: StatusPaymentProofSubmitted,
		ActionConfirmPayment:     StatusPaid,
	}}
	rulePaymentProofSubmitted = statusRule{priceLocked: true, edges: map[Action]Status{
		ActionConfirmPayment:     StatusPaid,
		ActionRejectPaymentProof: StatusPriceAccepted,
	}}
	rulePaid = statusRule{priceLocked: true, settled: true, writerAllowed: true, edges: map[Action]Status{
		ActionAssignWriter: StatusInProgress,
	}}
	ruleInProgress = statusRule{priceLocked: true, settled: true, writerAllowed: true, edges: map[Action]Status{
		ActionReassignWriter:    StatusInProgress,
		ActionUploadDeliverable: StatusCompleted,
	}}
	ruleCompleted = statusRule{priceLocked: true, settled: true, writerAllowed: true, edges: map[Action]Status{
		ActionApproveWork: StatusAdminApproved,
	}}
	ruleAdminApproved = statusRule{priceLocked: true, settled: true, writerAllowed: true, edges: map[Action]Status{
		ActionRequestRevision: StatusRevision,
	}}
	ruleRevision = statusRule{priceLocked: true, settled: true, writerAllowed: true, edges: map[Action]Status{
		ActionReassignWriter:    StatusRevision,
		ActionUploadDeliverable: StatusCompleted,
	}}
)

type statusTable struct{}

func (statusTable) VisitNew() (statusRule, error)           { return ruleNew, nil }
func (statusTable) VisitPriceSet() (statusRule, error)      { return rulePriceSet, nil }
func (statusTable) VisitPriceRejected() (statusRule, error) { return rulePriceRejected, nil }
func (statusTable) VisitPriceAccepted() (statusRule, error) { return rulePriceAccepted, nil }
func (statusTable) VisitPaymentProofSubmitted() (statusRule, error) {
	return rulePaymentProofSubmitted, nil
}
func (statusTable) VisitPaid() (statusRule, error)          { return rulePaid, nil }
func (statusTable) VisitInProgress() (statusRule, error)    { return ruleInProgress, nil }
func (statusTable) VisitCompleted() (statusRule, error)     { return ruleCompleted, nil }
func (statusTable) VisitAdminApproved() (statusRule, error) { return ruleAdminApproved, nil }
func (statusTable) VisitRevision() (statusRule, error)      { return ruleRevision, nil }

func ruleFor(s Status) (statusRule, error) {
	return VisitStatus[statusRule](s, statusTable{})
}

// NextStatus resolves the target status of action from current.
func NextStatus(current Status, action Action) (Status, error) {
	rule, err := ruleFor(current)
	if err != nil {
		return "", err
	}
	next, ok := rule.edges[action]
	if !ok {
		return "", &TransitionError{Action: action, Current: string(current)}
	}
	return next, nil
}

// PriceLocked reports whether the client price can no longer change.
func PriceLocked(s Status) bool {
	rule, err := ruleFor(s)
	return err == nil && rule.priceLocked
}

// PaymentSettled reports whether payment has been confirmed.
func PaymentSettled(s Status) bool {
	rule, err := ruleFor(s)
	return err == nil && rule.settled
}

// WriterAllowed reports whether an assignment in s may carry a writer.
func WriterAllowed(s Status) bool {
	rule, err := ruleFor(s)
	return err == nil && rule.writerAllowed
}
