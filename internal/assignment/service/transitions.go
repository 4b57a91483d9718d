package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/penwork/internal/actorcontext"
	"github.com/smallbiznis/penwork/internal/assignment/domain"
	"github.com/smallbiznis/penwork/internal/authorization"
	"github.com/smallbiznis/penwork/internal/realtime"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// party restricts which non-admin actors may act on an assignment.
type party int

const (
	partyNone party = iota
	partyClient
	partyWriter
)

// mutation applies one action to a locked, freshly loaded assignment.
// Returning changed=false ends the operation without a write or an event.
type mutation func(a *domain.Assignment, actor actorcontext.Actor, now time.Time) (changed bool, err error)

type step struct {
	action   domain.Action
	object   string
	authzAct string
	party    party
	apply    mutation
}

func (s *Service) run(ctx context.Context, id snowflake.ID, st step) (domain.Result, error) {
	actor, err := s.authorize(ctx, st.object, st.authzAct)
	if err != nil {
		s.metrics.RecordTransition(ctx, string(st.action), resultLabel(err))
		return domain.Result{}, err
	}
	if id == 0 {
		return domain.Result{}, domain.ErrInvalidID
	}

	release, err := s.locks.acquire(ctx, id)
	if err != nil {
		return domain.Result{}, err
	}
	defer release()

	var (
		result         domain.Result
		previousWriter *snowflake.ID
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if current == nil {
			return domain.ErrNotFound
		}
		if err := checkParty(actor, *current, st.party); err != nil {
			return err
		}

		before := *current
		now := s.clock.Now().UTC()
		changed, err := st.apply(current, actor, now)
		if err != nil {
			return err
		}
		if !changed {
			result = domain.Result{Assignment: before}
			return nil
		}

		current.Version = before.Version + 1
		current.UpdatedAt = now
		if err := current.CheckInvariants(); err != nil {
			return err
		}
		if err := s.repo.UpdateVersioned(ctx, tx, current, before.Version); err != nil {
			return err
		}
		if err := s.repo.InsertTransition(ctx, tx, s.newTransition(actor, current, st.action, before.Status, now)); err != nil {
			return err
		}
		if before.HasWriter() {
			w := *before.WriterID
			previousWriter = &w
		}
		result = domain.Result{Assignment: *current, Changed: true}
		return nil
	})
	if err != nil {
		s.metrics.RecordTransition(ctx, string(st.action), resultLabel(err))
		s.log.Info("assignment transition rejected",
			zap.String("assignment_id", id.String()),
			zap.String("action", string(st.action)),
			zap.Error(err),
		)
		return domain.Result{}, err
	}
	if !result.Changed {
		s.metrics.RecordTransition(ctx, string(st.action), "noop")
		return result, nil
	}

	s.metrics.RecordTransition(ctx, string(st.action), "ok")
	s.publish(ctx, realtime.EventEntityUpdated, st.action, result.Assignment, previousWriter)
	return result, nil
}

func (s *Service) runAssignment(ctx context.Context, id snowflake.ID, st step) (domain.Assignment, error) {
	res, err := s.run(ctx, id, st)
	if err != nil {
		return domain.Assignment{}, err
	}
	return res.Assignment, nil
}

func checkParty(actor actorcontext.Actor, a domain.Assignment, p party) error {
	if actor.IsAdmin() || actor.IsSystem() {
		return nil
	}
	switch p {
	case partyClient:
		if a.ClientID != actor.ID {
			return domain.ErrNotParty
		}
	case partyWriter:
		if !a.HasWriter() || *a.WriterID != actor.ID {
			return domain.ErrNotParty
		}
	}
	return nil
}

// advance moves a to the status action leads to, or fails with the
// current status attached.
func advance(a *domain.Assignment, action domain.Action) error {
	next, err := domain.NextStatus(a.Status, action)
	if err != nil {
		return withAssignment(err, a.ID)
	}
	a.Status = next
	return nil
}

func advanceReport(a *domain.Assignment, action domain.Action) error {
	if !a.HasWriter() {
		return domain.ErrWriterRequired
	}
	next, err := domain.NextReportStatus(a.ReportStatus, action)
	if err != nil {
		return withAssignment(err, a.ID)
	}
	a.ReportStatus = next
	return nil
}

func withAssignment(err error, id snowflake.ID) error {
	if te, ok := err.(*domain.TransitionError); ok {
		te.AssignmentID = id
		return te
	}
	return err
}

func (s *Service) SetClientPrice(ctx context.Context, id snowflake.ID, price decimal.Decimal) (domain.Assignment, error) {
	if !price.IsPositive() {
		return domain.Assignment{}, domain.ErrInvalidPrice
	}
	return s.runAssignment(ctx, id, step{
		action:   domain.ActionSetClientPrice,
		object:   authorization.ObjectAssignment,
		authzAct: authorization.ActionAssignmentSetPrice,
		apply: func(a *domain.Assignment, _ actorcontext.Actor, _ time.Time) (bool, error) {
			if a.HasWriter() {
				return false, &domain.StateError{Err: domain.ErrAlreadyAssigned, Current: a.Status, AssignmentID: a.ID}
			}
			if domain.PriceLocked(a.Status) {
				return false, &domain.StateError{Err: domain.ErrPriceLocked, Current: a.Status, AssignmentID: a.ID}
			}
			if err := advance(a, domain.ActionSetClientPrice); err != nil {
				return false, err
			}
			a.ClientPrice = domain.PriceOf(price)
			return true, nil
		},
	})
}

func (s *Service) AcceptPrice(ctx context.Context, id snowflake.ID) (domain.Assignment, error) {
	return s.runAssignment(ctx, id, step{
		action:   domain.ActionAcceptPrice,
		object:   authorization.ObjectAssignment,
		authzAct: authorization.ActionAssignmentRespondPrice,
		party:    partyClient,
		apply: func(a *domain.Assignment, _ actorcontext.Actor, _ time.Time) (bool, error) {
			return true, advance(a, domain.ActionAcceptPrice)
		},
	})
}

func (s *Service) RejectPrice(ctx context.Context, id snowflake.ID) (domain.Assignment, error) {
	return s.runAssignment(ctx, id, step{
		action:   domain.ActionRejectPrice,
		object:   authorization.ObjectAssignment,
		authzAct: authorization.ActionAssignmentRespondPrice,
		party:    partyClient,
		apply: func(a *domain.Assignment, _ actorcontext.Actor, _ time.Time) (bool, error) {
			return true, advance(a, domain.ActionRejectPrice)
		},
	})
}

func (s *Service) SubmitPaymentProof(ctx context.Context, id snowflake.ID, req domain.SubmitPaymentProofRequest) (domain.Assignment, error) {
	proof := strings.TrimSpace(req.ProofRef)
	if proof == "" {
		return domain.Assignment{}, domain.ErrProofRequired
	}
	method := req.Method
	if method == "" {
		method = domain.PaymentMethodBank
	}
	if method != domain.PaymentMethodBank {
		return domain.Assignment{}, domain.ErrInvalidPaymentMethod
	}
	return s.runAssignment(ctx, id, step{
		action:   domain.ActionSubmitPaymentProof,
		object:   authorization.ObjectAssignment,
		authzAct: authorization.ActionAssignmentSubmitProof,
		party:    partyClient,
		apply: func(a *domain.Assignment, _ actorcontext.Actor, _ time.Time) (bool, error) {
			if err := advance(a, domain.ActionSubmitPaymentProof); err != nil {
				return false, err
			}
			a.PaymentProof = &proof
			a.PaymentMethod = &method
			a.PaymentStatus = domain.PaymentStatusProofSubmitted
			return true, nil
		},
	})
}

func (s *Service) RejectPaymentProof(ctx context.Context, id snowflake.ID) (domain.Assignment, error) {
	return s.runAssignment(ctx, id, step{
		action:   domain.ActionRejectPaymentProof,
		object:   authorization.ObjectAssignment,
		authzAct: authorization.ActionAssignmentRejectProof,
		apply: func(a *domain.Assignment, _ actorcontext.Actor, _ time.Time) (bool, error) {
			if err := advance(a, domain.ActionRejectPaymentProof); err != nil {
				return false, err
			}
			a.PaymentProof = nil
			a.PaymentMethod = nil
			a.PaymentStatus = domain.PaymentStatusUnpaid
			return true, nil
		},
	})
}

// ConfirmPayment settles payment. Confirming an already settled assignment
// returns the current snapshot unchanged.
func (s *Service) ConfirmPayment(ctx context.Context, id snowflake.ID, req domain.ConfirmPaymentRequest) (domain.Result, error) {
	source := req.Source
	if source == "" {
		source = domain.PaymentSourceAdmin
	}
	if source != domain.PaymentSourceAdmin && source != domain.PaymentSourceGateway {
		return domain.Result{}, domain.ErrInvalidPaymentMethod
	}
	reference := strings.TrimSpace(req.ReferenceID)

	return s.run(ctx, id, step{
		action:   domain.ActionConfirmPayment,
		object:   authorization.ObjectAssignment,
		authzAct: authorization.ActionAssignmentConfirmPay,
		apply: func(a *domain.Assignment, _ actorcontext.Actor, _ time.Time) (bool, error) {
			if domain.PaymentSettled(a.Status) {
				return false, nil
			}
			// Without a proof on file only the gateway can vouch for the money.
			if a.Status == domain.StatusPriceAccepted && source != domain.PaymentSourceGateway {
				return false, &domain.TransitionError{Action: domain.ActionConfirmPayment, Current: string(a.Status), AssignmentID: a.ID}
			}
			if err := advance(a, domain.ActionConfirmPayment); err != nil {
				return false, err
			}
			a.PaymentStatus = domain.PaymentStatusPaid
			if source == domain.PaymentSourceGateway {
				card := domain.PaymentMethodCard
				a.PaymentMethod = &card
				if reference != "" {
					a.PaymentReferenceID = &reference
				}
			}
			return true, nil
		},
	})
}

func (s *Service) AssignWriter(ctx context.Context, id snowflake.ID, req domain.AssignWriterRequest) (domain.Assignment, error) {
	if req.WriterID == 0 {
		return domain.Assignment{}, domain.ErrInvalidWriter
	}
	if !req.WriterPrice.IsPositive() {
		return domain.Assignment{}, domain.ErrInvalidWriterPrice
	}
	if req.ClientPriceIfUnset != nil && !req.ClientPriceIfUnset.IsPositive() {
		return domain.Assignment{}, domain.ErrInvalidPrice
	}
	return s.runAssignment(ctx, id, step{
		action:   domain.ActionAssignWriter,
		object:   authorization.ObjectAssignment,
		authzAct: authorization.ActionAssignmentAssignWriter,
		apply: func(a *domain.Assignment, _ actorcontext.Actor, _ time.Time) (bool, error) {
			if a.HasWriter() {
				return false, &domain.StateError{Err: domain.ErrAlreadyAssigned, Current: a.Status, AssignmentID: a.ID}
			}
			if err := advance(a, domain.ActionAssignWriter); err != nil {
				return false, err
			}
			if !a.ClientPrice.Valid {
				if req.ClientPriceIfUnset == nil {
					return false, domain.ErrClientPriceRequired
				}
				a.ClientPrice = domain.PriceOf(*req.ClientPriceIfUnset)
			}
			writer := req.WriterID
			a.WriterID = &writer
			a.WriterPrice = domain.PriceOf(req.WriterPrice)
			return true, nil
		},
	})
}

func (s *Service) ReassignWriter(ctx context.Context, id snowflake.ID, req domain.ReassignWriterRequest) (domain.Assignment, error) {
	if req.WriterID == 0 {
		return domain.Assignment{}, domain.ErrInvalidWriter
	}
	if req.WriterPrice != nil && !req.WriterPrice.IsPositive() {
		return domain.Assignment{}, domain.ErrInvalidWriterPrice
	}
	return s.runAssignment(ctx, id, step{
		action:   domain.ActionReassignWriter,
		object:   authorization.ObjectAssignment,
		authzAct: authorization.ActionAssignmentAssignWriter,
		apply: func(a *domain.Assignment, _ actorcontext.Actor, _ time.Time) (bool, error) {
			if err := advance(a, domain.ActionReassignWriter); err != nil {
				return false, err
			}
			// A pending or paid payout belongs to the current writer's ledger.
			if a.PayoutStatus == domain.PayoutStatusPending || a.PayoutStatus == domain.PayoutStatusPaid {
				return false, &domain.StateError{Err: domain.ErrPayoutRecorded, Current: a.Status, AssignmentID: a.ID}
			}
			writer := req.WriterID
			a.WriterID = &writer
			if req.WriterPrice != nil {
				a.WriterPrice = domain.PriceOf(*req.WriterPrice)
			}
			return true, nil
		},
	})
}

func (s *Service) UploadDeliverable(ctx context.Context, id snowflake.ID, files []string) (domain.Assignment, error) {
	cleaned := cleanFiles(files)
	if len(cleaned) == 0 {
		return domain.Assignment{}, domain.ErrFilesRequired
	}
	return s.runAssignment(ctx, id, step{
		action:   domain.ActionUploadDeliverable,
		object:   authorization.ObjectAssignment,
		authzAct: authorization.ActionAssignmentDeliver,
		party:    partyWriter,
		apply: func(a *domain.Assignment, _ actorcontext.Actor, now time.Time) (bool, error) {
			if err := advance(a, domain.ActionUploadDeliverable); err != nil {
				return false, err
			}
			merged := make([]string, 0, len(a.CompletedFiles)+len(cleaned))
			merged = append(merged, a.CompletedFiles...)
			merged = append(merged, cleaned...)
			a.CompletedFiles = merged
			if a.CompletedAt == nil {
				completed := now
				a.CompletedAt = &completed
			}
			return true, nil
		},
	})
}

func (s *Service) ApproveWork(ctx context.Context, id snowflake.ID) (domain.Assignment, error) {
	return s.runAssignment(ctx, id, step{
		action:   domain.ActionApproveWork,
		object:   authorization.ObjectAssignment,
		authzAct: authorization.ActionAssignmentApprove,
		apply: func(a *domain.Assignment, _ actorcontext.Actor, _ time.Time) (bool, error) {
			return true, advance(a, domain.ActionApproveWork)
		},
	})
}

func (s *Service) RequestRevision(ctx context.Context, id snowflake.ID) (domain.Assignment, error) {
	return s.runAssignment(ctx, id, step{
		action:   domain.ActionRequestRevision,
		object:   authorization.ObjectAssignment,
		authzAct: authorization.ActionAssignmentRevision,
		party:    partyClient,
		apply: func(a *domain.Assignment, _ actorcontext.Actor, _ time.Time) (bool, error) {
			return true, advance(a, domain.ActionRequestRevision)
		},
	})
}

func (s *Service) RequestReport(ctx context.Context, id snowflake.ID) (domain.Assignment, error) {
	return s.runAssignment(ctx, id, step{
		action:   domain.ActionRequestReport,
		object:   authorization.ObjectReport,
		authzAct: authorization.ActionReportRequest,
		party:    partyClient,
		apply: func(a *domain.Assignment, _ actorcontext.Actor, _ time.Time) (bool, error) {
			return true, advanceReport(a, domain.ActionRequestReport)
		},
	})
}

func (s *Service) ForwardReportToWriter(ctx context.Context, id snowflake.ID) (domain.Assignment, error) {
	return s.runAssignment(ctx, id, step{
		action:   domain.ActionForwardReport,
		object:   authorization.ObjectReport,
		authzAct: authorization.ActionReportForward,
		apply: func(a *domain.Assignment, _ actorcontext.Actor, _ time.Time) (bool, error) {
			return true, advanceReport(a, domain.ActionForwardReport)
		},
	})
}

func (s *Service) SubmitReport(ctx context.Context, id snowflake.ID, file string) (domain.Assignment, error) {
	file = strings.TrimSpace(file)
	if file == "" {
		return domain.Assignment{}, domain.ErrFilesRequired
	}
	return s.runAssignment(ctx, id, step{
		action:   domain.ActionSubmitReport,
		object:   authorization.ObjectReport,
		authzAct: authorization.ActionReportSubmit,
		party:    partyWriter,
		apply: func(a *domain.Assignment, _ actorcontext.Actor, _ time.Time) (bool, error) {
			if err := advanceReport(a, domain.ActionSubmitReport); err != nil {
				return false, err
			}
			a.ReportFile = &file
			return true, nil
		},
	})
}

func (s *Service) ReleaseReportToClient(ctx context.Context, id snowflake.ID) (domain.Assignment, error) {
	return s.runAssignment(ctx, id, step{
		action:   domain.ActionReleaseReport,
		object:   authorization.ObjectReport,
		authzAct: authorization.ActionReportRelease,
		apply: func(a *domain.Assignment, _ actorcontext.Actor, _ time.Time) (bool, error) {
			return true, advanceReport(a, domain.ActionReleaseReport)
		},
	})
}
