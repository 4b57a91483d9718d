package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/penwork/internal/actorcontext"
	assignmentdomain "github.com/smallbiznis/penwork/internal/assignment/domain"
	auditdomain "github.com/smallbiznis/penwork/internal/audit/domain"
	"github.com/smallbiznis/penwork/internal/authorization"
	"github.com/smallbiznis/penwork/internal/clock"
	"github.com/smallbiznis/penwork/internal/config"
	"github.com/smallbiznis/penwork/internal/observability/metrics"
	"github.com/smallbiznis/penwork/internal/payment/adapters"
	"github.com/smallbiznis/penwork/internal/payment/adapters/bank"
	paymentdomain "github.com/smallbiznis/penwork/internal/payment/domain"
	paysheetdomain "github.com/smallbiznis/penwork/internal/paysheet/domain"
	"github.com/smallbiznis/penwork/internal/ratelimit"
	"github.com/smallbiznis/penwork/internal/storage"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Config      config.Config
	Repo        paymentdomain.Repository
	Registry    *adapters.Registry
	Assignments assignmentdomain.Service
	Paysheets   paysheetdomain.Service
	Authz       authorization.Service
	Storage     storage.Store
	Limiter     *ratelimit.SessionLimiter `optional:"true"`
	AuditSvc    auditdomain.Service       `optional:"true"`
	Clock       clock.Clock               `optional:"true"`
	ObsMetrics  *metrics.Metrics          `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	currency    string
	repo        paymentdomain.Repository
	gateway     paymentdomain.GatewayAdapter
	bank        *bank.Adapter
	assignments assignmentdomain.Service
	paysheets   paysheetdomain.Service
	authz       authorization.Service
	limiter     *ratelimit.SessionLimiter
	auditSvc    auditdomain.Service
	clock       clock.Clock
	obsMetrics  *metrics.Metrics
}

func NewService(p Params) (*Service, error) {
	log := p.Log.Named("payment.service")

	gateway, err := p.Registry.Open(p.Config.Gateway.Provider, paymentdomain.AdapterConfig{
		MerchantID:     p.Config.Gateway.MerchantID,
		MerchantSecret: p.Config.Gateway.MerchantSecret,
		CheckoutURL:    p.Config.Gateway.CheckoutURL,
		ReturnURL:      p.Config.Gateway.ReturnURL,
		CancelURL:      p.Config.Gateway.CancelURL,
		NotifyURL:      p.Config.Gateway.NotifyURL,
	})
	switch {
	case errors.Is(err, paymentdomain.ErrInvalidConfig):
		log.Warn("card gateway disabled: merchant credentials missing", zap.String("provider", p.Config.Gateway.Provider))
		gateway = nil
	case errors.Is(err, paymentdomain.ErrProviderNotFound):
		return nil, fmt.Errorf("payment gateway %q (available: %s): %w", p.Config.Gateway.Provider, strings.Join(p.Registry.Providers(), ", "), err)
	case err != nil:
		return nil, fmt.Errorf("payment gateway %q: %w", p.Config.Gateway.Provider, err)
	}

	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	currency := strings.ToUpper(strings.TrimSpace(p.Config.Gateway.Currency))
	if currency == "" {
		currency = "LKR"
	}

	return &Service{
		db:          p.DB,
		log:         log,
		genID:       p.GenID,
		currency:    currency,
		repo:        p.Repo,
		gateway:     gateway,
		bank:        bank.New(p.Storage, p.Assignments),
		assignments: p.Assignments,
		paysheets:   p.Paysheets,
		authz:       p.Authz,
		limiter:     p.Limiter,
		auditSvc:    p.AuditSvc,
		clock:       clk,
		obsMetrics:  p.ObsMetrics,
	}, nil
}

func (s *Service) SubmitBankProof(ctx context.Context, assignmentID snowflake.ID, proof paymentdomain.ProofUpload) (assignmentdomain.Assignment, error) {
	return s.bank.SubmitProof(ctx, assignmentID, proof)
}

func (s *Service) ConfirmBankPayment(ctx context.Context, assignmentID snowflake.ID) (assignmentdomain.Result, error) {
	return s.bank.Confirm(ctx, assignmentID)
}

func (s *Service) RejectBankProof(ctx context.Context, assignmentID snowflake.ID) (assignmentdomain.Assignment, error) {
	before, err := s.assignments.Get(ctx, assignmentID)
	if err != nil {
		return assignmentdomain.Assignment{}, err
	}
	a, err := s.bank.Reject(ctx, assignmentID)
	if err != nil {
		return assignmentdomain.Assignment{}, err
	}
	actor, _ := actorcontext.ActorFromContext(ctx)
	metadata := map[string]any{"assignment_id": assignmentID.String()}
	if before.PaymentProof != nil {
		metadata["proof_ref"] = *before.PaymentProof
	}
	s.audit(ctx, actor, auditdomain.ActionPaymentProofRejected, assignmentID.String(), metadata)
	return a, nil
}

func (s *Service) CreateSession(ctx context.Context, req paymentdomain.SessionRequest) (paymentdomain.Session, error) {
	actor, err := s.authorize(ctx, authorization.ActionPaymentCreateSession)
	if err != nil {
		return paymentdomain.Session{}, err
	}
	if s.gateway == nil {
		return paymentdomain.Session{}, paymentdomain.ErrGatewayDisabled
	}
	paysheetID := strings.TrimSpace(req.PaysheetID)
	if (req.AssignmentID == nil) == (paysheetID == "") {
		return paymentdomain.Session{}, paymentdomain.ErrInvalidTarget
	}
	if err := s.throttle(ctx, actor); err != nil {
		return paymentdomain.Session{}, err
	}

	var order paymentdomain.PaymentOrder
	if req.AssignmentID != nil {
		order, err = s.assignmentOrder(ctx, actor, *req.AssignmentID)
	} else {
		order, err = s.paysheetOrder(ctx, actor, paysheetID)
	}
	if err != nil {
		return paymentdomain.Session{}, err
	}

	session, err := s.gateway.Checkout(order)
	if err != nil {
		return paymentdomain.Session{}, err
	}
	s.log.Info("gateway session created",
		zap.String("order_id", order.OrderID),
		zap.String("target_type", string(order.TargetType)),
		zap.String("target_key", order.TargetKey),
	)
	return session, nil
}

func (s *Service) assignmentOrder(ctx context.Context, actor actorcontext.Actor, id snowflake.ID) (paymentdomain.PaymentOrder, error) {
	a, err := s.assignments.Get(ctx, id)
	if err != nil {
		return paymentdomain.PaymentOrder{}, err
	}
	if a.Status != assignmentdomain.StatusPriceAccepted || !a.ClientPrice.Valid {
		return paymentdomain.PaymentOrder{}, &assignmentdomain.TransitionError{
			Action:       assignmentdomain.ActionConfirmPayment,
			Current:      string(a.Status),
			AssignmentID: a.ID,
		}
	}

	order := s.newOrder(actor, "A", paymentdomain.TargetAssignment, a.ID.String(), []snowflake.ID{a.ID}, a.ClientPrice.Decimal)
	if err := s.repo.InsertOrder(ctx, s.db, &order); err != nil {
		return paymentdomain.PaymentOrder{}, err
	}
	return order, nil
}

// paysheetOrder reserves the due work of a paysheet for this order so a
// second session cannot pay it twice.
func (s *Service) paysheetOrder(ctx context.Context, actor actorcontext.Actor, paysheetID string) (paymentdomain.PaymentOrder, error) {
	target, err := s.paysheets.PayoutTarget(ctx, paysheetID)
	if err != nil {
		return paymentdomain.PaymentOrder{}, err
	}

	order := s.newOrder(actor, "P", paymentdomain.TargetPaysheet, target.PaysheetID, target.AssignmentIDs, target.Amount)
	if err := s.repo.InsertOrder(ctx, s.db, &order); err != nil {
		return paymentdomain.PaymentOrder{}, err
	}
	if _, err := s.assignments.MarkPayoutPending(ctx, target.AssignmentIDs, order.OrderID); err != nil {
		s.closeOrder(ctx, order, paymentdomain.OrderStatusFailed)
		return paymentdomain.PaymentOrder{}, err
	}
	s.paysheets.Invalidate(target.WriterID)
	return order, nil
}

func (s *Service) HandleNotification(ctx context.Context, provider string, form url.Values) (paymentdomain.CallbackResult, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if s.gateway == nil || provider != s.gateway.Provider() {
		return paymentdomain.CallbackResult{}, paymentdomain.ErrProviderNotFound
	}

	n, err := s.gateway.ParseNotification(form)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrInvalidSignature) {
			s.obsMetrics.RecordPaymentCallback(ctx, provider, "invalid_signature")
			orderID := strings.TrimSpace(form.Get("order_id"))
			s.log.Warn("rejected gateway callback with bad signature", zap.String("order_id", orderID))
			s.audit(ctx, actorcontext.System(), auditdomain.ActionPaymentSignatureFailed, orderID, map[string]any{
				"provider":    provider,
				"status_code": form.Get("status_code"),
			})
			return paymentdomain.CallbackResult{}, err
		}
		s.obsMetrics.RecordPaymentCallback(ctx, provider, "invalid_payload")
		return paymentdomain.CallbackResult{}, err
	}

	stored, duplicate, err := s.recordCallback(ctx, n)
	if err != nil {
		return paymentdomain.CallbackResult{}, err
	}
	order, err := s.loadOrder(ctx, n.OrderID)
	if err != nil {
		s.obsMetrics.RecordPaymentCallback(ctx, provider, "unknown_order")
		return paymentdomain.CallbackResult{}, err
	}
	if duplicate {
		s.obsMetrics.RecordPaymentCallback(ctx, provider, "duplicate")
		return paymentdomain.CallbackResult{Order: order, Outcome: n.Outcome, Duplicate: true}, nil
	}
	if order.Provider != n.Provider || !order.Amount.Equal(n.Amount) || !strings.EqualFold(order.Currency, n.Currency) {
		s.obsMetrics.RecordPaymentCallback(ctx, provider, "mismatch")
		s.log.Warn("gateway callback does not match its order",
			zap.String("order_id", order.OrderID),
			zap.String("amount", n.Amount.String()),
			zap.String("currency", n.Currency),
		)
		return paymentdomain.CallbackResult{}, paymentdomain.ErrOrderMismatch
	}

	result, err := s.apply(ctx, order, n)
	if err != nil {
		s.obsMetrics.RecordPaymentCallback(ctx, provider, "error")
		return paymentdomain.CallbackResult{}, err
	}
	if err := s.repo.MarkCallbackProcessed(ctx, s.db, stored.ID, s.clock.Now().UTC()); err != nil {
		return paymentdomain.CallbackResult{}, err
	}
	s.obsMetrics.RecordPaymentCallback(ctx, provider, string(n.Outcome))
	return result, nil
}

// recordCallback stores the notification once per status. A replay of a
// callback that was fully processed reports duplicate; an unprocessed one is
// retried.
func (s *Service) recordCallback(ctx context.Context, n *paymentdomain.Notification) (*paymentdomain.PaymentCallback, bool, error) {
	payload, err := json.Marshal(flatten(n.Raw))
	if err != nil {
		return nil, false, paymentdomain.ErrInvalidPayload
	}
	callback := paymentdomain.PaymentCallback{
		ID:               s.genID.Generate(),
		Provider:         n.Provider,
		OrderID:          n.OrderID,
		GatewayPaymentID: n.GatewayPaymentID,
		StatusCode:       n.StatusCode,
		Payload:          datatypes.JSON(payload),
		ReceivedAt:       s.clock.Now().UTC(),
	}
	inserted, err := s.repo.InsertCallback(ctx, s.db, &callback)
	if err != nil {
		return nil, false, err
	}
	if inserted {
		return &callback, false, nil
	}

	stored, err := s.repo.FindCallback(ctx, s.db, n.Provider, n.OrderID, n.GatewayPaymentID, n.StatusCode)
	if err != nil {
		return nil, false, err
	}
	if stored == nil {
		return nil, false, paymentdomain.ErrInvalidPayload
	}
	return stored, stored.ProcessedAt != nil, nil
}

// apply converges the gateway path on the same guarded assignment
// operations the bank path uses.
func (s *Service) apply(ctx context.Context, order paymentdomain.PaymentOrder, n *paymentdomain.Notification) (paymentdomain.CallbackResult, error) {
	result := paymentdomain.CallbackResult{Order: order, Outcome: n.Outcome}
	sys := actorcontext.WithActor(ctx, actorcontext.System())

	switch n.Outcome {
	case paymentdomain.OutcomeSucceeded:
		if order.Status == paymentdomain.OrderStatusPaid {
			result.Duplicate = true
			return result, nil
		}
		if order.Status != paymentdomain.OrderStatusPending {
			s.log.Warn("payment succeeded for a closed order",
				zap.String("order_id", order.OrderID),
				zap.String("status", string(order.Status)),
			)
			return paymentdomain.CallbackResult{}, paymentdomain.ErrOrderNotPending
		}

		applied, err := s.settle(sys, order)
		if err != nil {
			return paymentdomain.CallbackResult{}, err
		}
		now := s.clock.Now().UTC()
		gatewayPaymentID := n.GatewayPaymentID
		order.Status = paymentdomain.OrderStatusPaid
		order.GatewayPaymentID = &gatewayPaymentID
		order.PaidAt = &now
		order.UpdatedAt = now
		if _, err := s.repo.UpdateOrderStatus(ctx, s.db, &order, paymentdomain.OrderStatusPending); err != nil {
			return paymentdomain.CallbackResult{}, err
		}
		result.Order = order
		result.Applied = applied

	case paymentdomain.OutcomeCancelled, paymentdomain.OutcomeFailed:
		if order.Status != paymentdomain.OrderStatusPending {
			return result, nil
		}
		if order.TargetType == paymentdomain.TargetPaysheet {
			if _, err := s.assignments.CancelPayout(sys, order.AssignmentIDs, order.OrderID); err != nil {
				return paymentdomain.CallbackResult{}, err
			}
		}
		status := paymentdomain.OrderStatusFailed
		if n.Outcome == paymentdomain.OutcomeCancelled {
			status = paymentdomain.OrderStatusCancelled
		}
		result.Order = s.closeOrder(ctx, order, status)
		result.Applied = true

	case paymentdomain.OutcomeReversed:
		s.log.Warn("gateway reported a chargeback", zap.String("order_id", order.OrderID))
		s.audit(ctx, actorcontext.System(), auditdomain.ActionPaymentReversed, order.OrderID, map[string]any{
			"target_type": string(order.TargetType),
			"target_key":  order.TargetKey,
		})
	}
	return result, nil
}

func (s *Service) settle(ctx context.Context, order paymentdomain.PaymentOrder) (bool, error) {
	switch order.TargetType {
	case paymentdomain.TargetAssignment:
		if len(order.AssignmentIDs) != 1 {
			return false, paymentdomain.ErrInvalidTarget
		}
		res, err := s.assignments.ConfirmPayment(ctx, order.AssignmentIDs[0], assignmentdomain.ConfirmPaymentRequest{
			Source:      assignmentdomain.PaymentSourceGateway,
			ReferenceID: order.OrderID,
		})
		if err != nil {
			return false, err
		}
		return res.Changed, nil
	case paymentdomain.TargetPaysheet:
		results, err := s.assignments.MarkPayoutPaid(ctx, order.AssignmentIDs, assignmentdomain.PayoutReceipt{ReferenceID: order.OrderID})
		if err != nil {
			return false, err
		}
		changed := false
		for _, res := range results {
			changed = changed || res.Changed
		}
		if changed {
			s.audit(ctx, actorcontext.System(), auditdomain.ActionPayoutRecorded, order.TargetKey, map[string]any{
				"order_id": order.OrderID,
				"amount":   order.Amount.String(),
			})
		}
		return changed, nil
	default:
		return false, paymentdomain.ErrInvalidTarget
	}
}

// CancelOrder closes an abandoned gateway order. Work reserved by a paysheet
// order becomes due again.
func (s *Service) CancelOrder(ctx context.Context, orderID string) (paymentdomain.PaymentOrder, error) {
	actor, err := s.authorize(ctx, authorization.ActionPaymentCancel)
	if err != nil {
		return paymentdomain.PaymentOrder{}, err
	}
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return paymentdomain.PaymentOrder{}, err
	}
	if order.Status != paymentdomain.OrderStatusPending {
		return paymentdomain.PaymentOrder{}, paymentdomain.ErrOrderNotPending
	}
	if order.TargetType == paymentdomain.TargetPaysheet {
		if _, err := s.assignments.CancelPayout(ctx, order.AssignmentIDs, order.OrderID); err != nil {
			return paymentdomain.PaymentOrder{}, err
		}
		s.audit(ctx, actor, auditdomain.ActionPayoutCancelled, order.TargetKey, map[string]any{
			"order_id": order.OrderID,
		})
	}
	return s.closeOrder(ctx, order, paymentdomain.OrderStatusCancelled), nil
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (paymentdomain.PaymentOrder, error) {
	if _, err := s.authorize(ctx, authorization.ActionPaymentView); err != nil {
		return paymentdomain.PaymentOrder{}, err
	}
	return s.loadOrder(ctx, orderID)
}

func (s *Service) newOrder(actor actorcontext.Actor, prefix string, typ paymentdomain.TargetType, key string, ids []snowflake.ID, amount decimal.Decimal) paymentdomain.PaymentOrder {
	now := s.clock.Now().UTC()
	return paymentdomain.PaymentOrder{
		OrderID:       prefix + ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		Provider:      s.gateway.Provider(),
		TargetType:    typ,
		TargetKey:     key,
		AssignmentIDs: datatypes.NewJSONSlice(ids),
		Amount:        amount,
		Currency:      s.currency,
		Status:        paymentdomain.OrderStatusPending,
		CreatedBy:     actor.Subject(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func (s *Service) closeOrder(ctx context.Context, order paymentdomain.PaymentOrder, status paymentdomain.OrderStatus) paymentdomain.PaymentOrder {
	from := order.Status
	order.Status = status
	order.UpdatedAt = s.clock.Now().UTC()
	if _, err := s.repo.UpdateOrderStatus(ctx, s.db, &order, from); err != nil {
		s.log.Error("failed to close payment order", zap.String("order_id", order.OrderID), zap.Error(err))
	}
	return order
}

func (s *Service) loadOrder(ctx context.Context, orderID string) (paymentdomain.PaymentOrder, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return paymentdomain.PaymentOrder{}, paymentdomain.ErrOrderNotFound
	}
	order, err := s.repo.FindOrder(ctx, s.db, orderID)
	if err != nil {
		return paymentdomain.PaymentOrder{}, err
	}
	if order == nil {
		return paymentdomain.PaymentOrder{}, paymentdomain.ErrOrderNotFound
	}
	return *order, nil
}

func (s *Service) throttle(ctx context.Context, actor actorcontext.Actor) error {
	res, err := s.limiter.Allow(ctx, actor.Subject())
	if err != nil {
		s.log.Warn("session rate limiter unavailable", zap.Error(err))
		return nil
	}
	if res.Allowed {
		return nil
	}
	s.obsMetrics.RecordRateLimitDenied(ctx, "payment.session")
	return &paymentdomain.RateLimitError{RetryAfter: res.RetryAfter}
}

func (s *Service) authorize(ctx context.Context, action string) (actorcontext.Actor, error) {
	actor, ok := actorcontext.ActorFromContext(ctx)
	if !ok {
		return actorcontext.Actor{}, authorization.ErrInvalidActor
	}
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectPayment, action); err != nil {
		return actorcontext.Actor{}, err
	}
	return actor, nil
}

func (s *Service) audit(ctx context.Context, actor actorcontext.Actor, action, targetID string, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	actorType := string(auditdomain.ActorTypeUser)
	var actorID *string
	if actor.IsSystem() {
		actorType = string(auditdomain.ActorTypeSystem)
	} else {
		id := actor.ID.String()
		actorID = &id
	}
	target := targetID
	if err := s.auditSvc.AuditLog(ctx, actorType, actorID, action, "payment", &target, metadata); err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
	}
}

func flatten(form url.Values) map[string]string {
	out := make(map[string]string, len(form))
	for key := range form {
		out[key] = form.Get(key)
	}
	return out
}
