package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/penwork/internal/assignment/domain"
	"github.com/smallbiznis/penwork/internal/authorization"
	"github.com/smallbiznis/penwork/internal/realtime"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// payoutMutation mirrors mutation for payout batches; returning false skips
// the assignment without failing the batch.
type payoutMutation func(a *domain.Assignment, now time.Time) (changed bool, err error)

// runBatch applies apply to every id in one transaction. Any error rolls the
// whole batch back.
func (s *Service) runBatch(ctx context.Context, ids []snowflake.ID, action domain.Action, apply payoutMutation) ([]domain.Result, error) {
	actor, err := s.authorize(ctx, authorization.ObjectAssignment, authorization.ActionAssignmentPayoutManage)
	if err != nil {
		s.metrics.RecordTransition(ctx, string(action), resultLabel(err))
		return nil, err
	}
	sorted := uniqueSorted(ids)
	if len(sorted) == 0 {
		return nil, domain.ErrInvalidID
	}

	release, err := s.locks.acquireAll(ctx, sorted)
	if err != nil {
		return nil, err
	}
	defer release()

	results := make([]domain.Result, 0, len(sorted))
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		items, err := s.repo.FindByIDs(ctx, tx, sorted)
		if err != nil {
			return err
		}
		if len(items) != len(sorted) {
			return domain.ErrNotFound
		}

		now := s.clock.Now().UTC()
		for _, current := range items {
			if err := payoutEligible(*current); err != nil {
				return err
			}
			before := *current
			changed, err := apply(current, now)
			if err != nil {
				return err
			}
			if !changed {
				results = append(results, domain.Result{Assignment: before})
				continue
			}
			current.Version = before.Version + 1
			current.UpdatedAt = now
			if err := s.repo.UpdateVersioned(ctx, tx, current, before.Version); err != nil {
				return err
			}
			if err := s.repo.InsertTransition(ctx, tx, s.newTransition(actor, current, action, before.Status, now)); err != nil {
				return err
			}
			results = append(results, domain.Result{Assignment: *current, Changed: true})
		}
		return nil
	})
	if err != nil {
		s.metrics.RecordTransition(ctx, string(action), resultLabel(err))
		s.log.Warn("payout batch rejected",
			zap.String("action", string(action)),
			zap.Strings("assignment_ids", idStrings(sorted)),
			zap.Error(err),
		)
		return nil, err
	}

	for _, res := range results {
		if !res.Changed {
			s.metrics.RecordTransition(ctx, string(action), "noop")
			continue
		}
		s.metrics.RecordTransition(ctx, string(action), "ok")
		s.publish(ctx, realtime.EventEntityUpdated, action, res.Assignment, nil)
	}
	return results, nil
}

func payoutEligible(a domain.Assignment) error {
	if a.CompletedAt == nil || !a.HasWriter() || !a.WriterPrice.Valid {
		return &domain.StateError{Err: domain.ErrPayoutNotEligible, Current: a.Status, AssignmentID: a.ID}
	}
	return nil
}

// MarkPayoutPending reserves completed work for a gateway payout session.
func (s *Service) MarkPayoutPending(ctx context.Context, ids []snowflake.ID, referenceID string) ([]domain.Assignment, error) {
	reference := strings.TrimSpace(referenceID)
	if reference == "" {
		return nil, domain.ErrPayoutReference
	}
	results, err := s.runBatch(ctx, ids, domain.ActionMarkPayoutPending, func(a *domain.Assignment, _ time.Time) (bool, error) {
		switch a.PayoutStatus {
		case domain.PayoutStatusPaid:
			return false, &domain.StateError{Err: domain.ErrPayoutNotEligible, Current: a.Status, AssignmentID: a.ID}
		case domain.PayoutStatusPending:
			if a.PayoutReferenceID != nil && *a.PayoutReferenceID == reference {
				return false, nil
			}
			return false, &domain.StateError{Err: domain.ErrPayoutAlreadyPending, Current: a.Status, AssignmentID: a.ID}
		}
		a.PayoutStatus = domain.PayoutStatusPending
		a.PayoutReferenceID = &reference
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return assignmentsOf(results), nil
}

// MarkPayoutPaid records a payout. Already paid assignments are reported
// unchanged, which makes repeated gateway notifications harmless.
func (s *Service) MarkPayoutPaid(ctx context.Context, ids []snowflake.ID, receipt domain.PayoutReceipt) ([]domain.Result, error) {
	proof := strings.TrimSpace(receipt.Proof)
	reference := strings.TrimSpace(receipt.ReferenceID)
	if proof == "" && reference == "" {
		return nil, domain.ErrProofRequired
	}
	return s.runBatch(ctx, ids, domain.ActionMarkPayoutPaid, func(a *domain.Assignment, now time.Time) (bool, error) {
		if a.PayoutStatus == domain.PayoutStatusPaid {
			return false, nil
		}
		if a.PayoutStatus == domain.PayoutStatusPending && a.PayoutReferenceID != nil && reference != "" && *a.PayoutReferenceID != reference {
			return false, &domain.StateError{Err: domain.ErrPayoutReference, Current: a.Status, AssignmentID: a.ID}
		}
		a.PayoutStatus = domain.PayoutStatusPaid
		if proof != "" {
			p := proof
			a.PayoutProof = &p
		}
		if reference != "" {
			r := reference
			a.PayoutReferenceID = &r
		}
		paidAt := now
		a.PaidOutAt = &paidAt
		return true, nil
	})
}

// CancelPayout releases a pending gateway payout so the work is due again.
func (s *Service) CancelPayout(ctx context.Context, ids []snowflake.ID, referenceID string) ([]domain.Assignment, error) {
	reference := strings.TrimSpace(referenceID)
	results, err := s.runBatch(ctx, ids, domain.ActionCancelPayout, func(a *domain.Assignment, _ time.Time) (bool, error) {
		switch a.PayoutStatus {
		case domain.PayoutStatusNone:
			return false, nil
		case domain.PayoutStatusPaid:
			return false, &domain.StateError{Err: domain.ErrPayoutNotEligible, Current: a.Status, AssignmentID: a.ID}
		}
		if reference != "" && a.PayoutReferenceID != nil && *a.PayoutReferenceID != reference {
			return false, &domain.StateError{Err: domain.ErrPayoutReference, Current: a.Status, AssignmentID: a.ID}
		}
		a.PayoutStatus = domain.PayoutStatusNone
		a.PayoutReferenceID = nil
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return assignmentsOf(results), nil
}

func assignmentsOf(results []domain.Result) []domain.Assignment {
	out := make([]domain.Assignment, 0, len(results))
	for _, res := range results {
		out = append(out, res.Assignment)
	}
	return out
}

