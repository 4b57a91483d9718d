package service

import (
	"context"
	"errors"
	"io"
	"sort"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/penwork/internal/actorcontext"
	assignmentdomain "github.com/smallbiznis/penwork/internal/assignment/domain"
	auditdomain "github.com/smallbiznis/penwork/internal/audit/domain"
	"github.com/smallbiznis/penwork/internal/authorization"
	"github.com/smallbiznis/penwork/internal/cache"
	"github.com/smallbiznis/penwork/internal/clock"
	"github.com/smallbiznis/penwork/internal/config"
	"github.com/smallbiznis/penwork/internal/observability/metrics"
	"github.com/smallbiznis/penwork/internal/paysheet/domain"
	"github.com/smallbiznis/penwork/internal/providers/pdf"
	"github.com/smallbiznis/penwork/internal/realtime"
	"github.com/smallbiznis/penwork/internal/storage"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log         *zap.Logger
	Assignments assignmentdomain.Service
	Authz       authorization.Service
	Cache       cache.PaysheetCache
	Storage     storage.Store
	Ledger      *config.LedgerConfigHolder
	Config      config.Config
	PDF         pdf.Provider        `optional:"true"`
	Publisher   realtime.Publisher  `optional:"true"`
	AuditSvc    auditdomain.Service `optional:"true"`
	Clock       clock.Clock         `optional:"true"`
	Metrics     *metrics.Metrics    `optional:"true"`
}

type Service struct {
	log         *zap.Logger
	assignments assignmentdomain.Service
	authz       authorization.Service
	cache       cache.PaysheetCache
	storage     storage.Store
	ledger      *config.LedgerConfigHolder
	appName     string
	pdf         pdf.Provider
	publisher   realtime.Publisher
	auditSvc    auditdomain.Service
	clock       clock.Clock
	metrics     *metrics.Metrics
}

func New(p Params) *Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	renderer := p.PDF
	if renderer == nil {
		renderer = pdf.New()
	}
	return &Service{
		log:         p.Log.Named("paysheet.service"),
		assignments: p.Assignments,
		authz:       p.Authz,
		cache:       p.Cache,
		storage:     p.Storage,
		ledger:      p.Ledger,
		appName:     p.Config.AppName,
		pdf:         renderer,
		publisher:   p.Publisher,
		auditSvc:    p.AuditSvc,
		clock:       clk,
		metrics:     p.Metrics,
	}
}

func (s *Service) ListPaysheets(ctx context.Context, status *domain.PaysheetStatus) ([]domain.WriterPaysheets, error) {
	actor, err := s.authorize(ctx, authorization.ActionPaysheetView)
	if err != nil {
		return nil, err
	}
	if status != nil {
		if _, ok := domain.ParseStatus(string(*status)); !ok {
			return nil, domain.ErrInvalidStatus
		}
	}

	var sheets []domain.WriterPaysheets
	if actor.IsWriter() {
		own, err := s.writerSheet(ctx, actor.ID)
		if err != nil {
			return nil, err
		}
		if len(own.MonthlyTotals) > 0 {
			sheets = []domain.WriterPaysheets{own}
		}
	} else {
		periods, err := s.recomputeAll(ctx, "list")
		if err != nil {
			return nil, err
		}
		sheets = domain.GroupByWriter(periods)
	}

	if status != nil {
		sheets = domain.FilterByStatus(sheets, *status)
	}
	if sheets == nil {
		sheets = []domain.WriterPaysheets{}
	}
	return sheets, nil
}

func (s *Service) GetWriterPaysheets(ctx context.Context, writerID snowflake.ID) (domain.WriterPaysheets, error) {
	actor, err := s.authorize(ctx, authorization.ActionPaysheetView)
	if err != nil {
		return domain.WriterPaysheets{}, err
	}
	if writerID == 0 {
		return domain.WriterPaysheets{}, domain.ErrInvalidPaysheetID
	}
	if actor.IsWriter() && actor.ID != writerID {
		return domain.WriterPaysheets{}, authorization.ErrForbidden
	}
	return s.writerSheet(ctx, writerID)
}

func (s *Service) GetPaysheet(ctx context.Context, paysheetID string) (domain.Period, error) {
	actor, err := s.authorize(ctx, authorization.ActionPaysheetView)
	if err != nil {
		return domain.Period{}, err
	}
	p, err := s.resolve(ctx, paysheetID)
	if err != nil {
		return domain.Period{}, err
	}
	if actor.IsWriter() && actor.ID != p.WriterID {
		return domain.Period{}, domain.ErrPaysheetNotFound
	}
	return p, nil
}

func (s *Service) PayoutTarget(ctx context.Context, paysheetID string) (domain.PayoutTarget, error) {
	if _, err := s.authorize(ctx, authorization.ActionPaysheetPay); err != nil {
		return domain.PayoutTarget{}, err
	}
	p, err := s.resolve(ctx, paysheetID)
	if err != nil {
		return domain.PayoutTarget{}, err
	}
	ids := p.DueAssignmentIDs()
	if len(ids) == 0 {
		return domain.PayoutTarget{}, domain.ErrNothingDue
	}
	return domain.PayoutTarget{
		PaysheetID:    p.ID,
		WriterID:      p.WriterID,
		AssignmentIDs: ids,
		Amount:        p.DueAmount,
	}, nil
}

// PayPeriodWithProof stores the bank proof first; assignments are marked
// paid only once the proof is safely stored.
func (s *Service) PayPeriodWithProof(ctx context.Context, paysheetID string, proof domain.Upload) (domain.Period, error) {
	actor, err := s.authorize(ctx, authorization.ActionPaysheetPay)
	if err != nil {
		return domain.Period{}, err
	}
	if proof.Body == nil {
		return domain.Period{}, domain.ErrProofRequired
	}
	p, err := s.resolve(ctx, paysheetID)
	if err != nil {
		return domain.Period{}, err
	}
	due := p.DueAssignmentIDs()
	if len(due) == 0 {
		return domain.Period{}, domain.ErrNothingDue
	}

	ref, err := s.storage.Save(ctx, storage.CategoryPayoutProof, proof.Filename, proof.Body)
	if err != nil {
		return domain.Period{}, err
	}
	if _, err := s.assignments.MarkPayoutPaid(ctx, due, assignmentdomain.PayoutReceipt{Proof: ref}); err != nil {
		return domain.Period{}, err
	}

	s.audit(ctx, actor, auditdomain.ActionPayoutRecorded, p.ID, map[string]any{
		"writer_id":      p.WriterID.String(),
		"assignment_ids": idStrings(due),
		"amount":         p.DueAmount.String(),
		"proof_ref":      ref,
	})
	s.Invalidate(p.WriterID)
	return s.resolve(ctx, p.ID)
}

func (s *Service) PayAssignment(ctx context.Context, assignmentID snowflake.ID, proof domain.Upload) (domain.Period, error) {
	return s.PayPeriodWithProof(ctx, domain.IndividualID(assignmentID), proof)
}

func (s *Service) CancelPendingPayout(ctx context.Context, paysheetID string) (domain.Period, error) {
	actor, err := s.authorize(ctx, authorization.ActionPaysheetPay)
	if err != nil {
		return domain.Period{}, err
	}
	p, err := s.resolve(ctx, paysheetID)
	if err != nil {
		return domain.Period{}, err
	}
	pending := p.PendingAssignmentIDs()
	if len(pending) == 0 {
		return domain.Period{}, domain.ErrNothingPending
	}
	if _, err := s.assignments.CancelPayout(ctx, pending, ""); err != nil {
		return domain.Period{}, err
	}

	s.audit(ctx, actor, auditdomain.ActionPayoutCancelled, p.ID, map[string]any{
		"writer_id":      p.WriterID.String(),
		"assignment_ids": idStrings(pending),
	})
	s.Invalidate(p.WriterID)
	return s.resolve(ctx, p.ID)
}

func (s *Service) Statement(ctx context.Context, paysheetID string) (io.Reader, error) {
	p, err := s.GetPaysheet(ctx, paysheetID)
	if err != nil {
		return nil, err
	}
	cfg := s.ledger.Get()
	loc := cfg.Location()

	data := pdf.StatementData{
		PlatformName:  s.appName,
		StatementID:   p.ID,
		WriterID:      p.WriterID.String(),
		Period:        p.Period,
		IssuedAt:      s.clock.Now().In(loc).Format("2006-01-02 15:04 MST"),
		Status:        string(p.Status),
		Currency:      cfg.Currency,
		TotalAmount:   p.TotalAmount.StringFixed(2),
		PaidAmount:    p.PaidAmount.StringFixed(2),
		DueAmount:     p.DueAmount.StringFixed(2),
		PendingAmount: p.PendingAmount.StringFixed(2),
	}
	if p.ProofURL != nil {
		data.ProofRef = *p.ProofURL
	}
	for _, row := range p.Assignments {
		completed := "in progress"
		if row.CompletedAt != nil {
			completed = row.CompletedAt.In(loc).Format("2006-01-02")
		}
		data.Items = append(data.Items, pdf.StatementItem{
			AssignmentID: row.AssignmentID.String(),
			Title:        row.Title,
			CompletedAt:  completed,
			PayoutStatus: string(row.PayoutStatus),
			Amount:       row.WriterPrice.StringFixed(2),
		})
	}
	return s.pdf.GenerateStatement(ctx, data)
}

func (s *Service) Invalidate(writerIDs ...snowflake.ID) {
	for _, id := range writerIDs {
		s.cache.Invalidate(id)
	}
}

// Reconcile recomputes every writer from one fresh snapshot. A cached value
// that disagrees is reported and replaced; the fresh value always wins.
func (s *Service) Reconcile(ctx context.Context) (domain.ReconcileReport, error) {
	items, err := s.assignments.LedgerSnapshot(ctx, assignmentdomain.LedgerFilter{})
	if err != nil {
		return domain.ReconcileReport{}, err
	}
	cfg := s.ledger.Get()
	fresh := byWriter(domain.ComputePaysheets(items, s.clock.Now(), cfg.Location()))
	s.metrics.RecordLedgerRecompute(ctx, "reconcile")

	writers := make(map[snowflake.ID]struct{}, len(fresh))
	for id := range fresh {
		writers[id] = struct{}{}
	}
	for _, id := range s.cache.Writers() {
		writers[id] = struct{}{}
	}
	ordered := make([]snowflake.ID, 0, len(writers))
	for id := range writers {
		ordered = append(ordered, id)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	report := domain.ReconcileReport{Writers: len(fresh)}
	for _, writerID := range ordered {
		periods := fresh[writerID]
		cached, ok := s.cache.GetWriter(writerID)
		if ok && !domain.TotalsEqual(cached, periods) {
			report.Inconsistent++
			report.Changed = append(report.Changed, writerID)
			s.metrics.RecordLedgerInconsistency(ctx)
			s.log.Warn("cached paysheet disagreed with recompute",
				zap.String("writer_id", writerID.String()),
				zap.Error(domain.ErrAggregationInconsistency),
			)
			s.audit(ctx, actorcontext.System(), auditdomain.ActionLedgerInconsistency, writerID.String(), map[string]any{
				"cached_periods": len(cached),
				"fresh_periods":  len(periods),
			})
		}
		if len(periods) == 0 {
			s.cache.Invalidate(writerID)
			continue
		}
		s.cache.SetWriter(writerID, periods)
	}

	for _, writerID := range report.Changed {
		s.publish(ctx, realtime.NewPaysheetRefresh(writerID, "reconcile"))
	}
	return report, nil
}

// HandleEvent drops cached paysheets touched by an assignment change and
// tells the affected writers to refetch.
func (s *Service) HandleEvent(ctx context.Context, evt realtime.Event) {
	if len(evt.LedgerWriters) == 0 {
		return
	}
	for _, writerID := range evt.LedgerWriters {
		s.cache.Invalidate(writerID)
		s.publish(ctx, realtime.NewPaysheetRefresh(writerID, evt.Name))
	}
}

// RegisterConsumer subscribes the paysheet cache to the event bus.
func RegisterConsumer(bus *realtime.Bus, svc *Service) {
	bus.Consume("paysheet.cache", svc.HandleEvent)
}

func (s *Service) writerSheet(ctx context.Context, writerID snowflake.ID) (domain.WriterPaysheets, error) {
	periods, err := s.writerPeriods(ctx, writerID)
	if err != nil {
		return domain.WriterPaysheets{}, err
	}
	grouped := domain.GroupByWriter(periods)
	if len(grouped) == 0 {
		return domain.WriterPaysheets{WriterID: writerID, MonthlyTotals: []domain.Period{}, Assignments: []domain.Row{}}, nil
	}
	return grouped[0], nil
}

func (s *Service) writerPeriods(ctx context.Context, writerID snowflake.ID) ([]domain.Period, error) {
	if cached, ok := s.cache.GetWriter(writerID); ok {
		return cached, nil
	}
	id := writerID
	items, err := s.assignments.LedgerSnapshot(ctx, assignmentdomain.LedgerFilter{WriterID: &id})
	if err != nil {
		return nil, err
	}
	periods := domain.ComputePaysheets(items, s.clock.Now(), s.ledger.Get().Location())
	s.metrics.RecordLedgerRecompute(ctx, "writer")
	if len(periods) > 0 {
		s.cache.SetWriter(writerID, periods)
	}
	return periods, nil
}

func (s *Service) recomputeAll(ctx context.Context, reason string) ([]domain.Period, error) {
	items, err := s.assignments.LedgerSnapshot(ctx, assignmentdomain.LedgerFilter{})
	if err != nil {
		return nil, err
	}
	periods := domain.ComputePaysheets(items, s.clock.Now(), s.ledger.Get().Location())
	s.metrics.RecordLedgerRecompute(ctx, reason)
	for writerID, own := range byWriter(periods) {
		s.cache.SetWriter(writerID, own)
	}
	return periods, nil
}

func (s *Service) resolve(ctx context.Context, paysheetID string) (domain.Period, error) {
	key, err := domain.ParseID(paysheetID)
	if err != nil {
		return domain.Period{}, err
	}

	if key.Individual() {
		a, err := s.assignments.Get(ctx, key.AssignmentID)
		if err != nil {
			if errors.Is(err, assignmentdomain.ErrNotFound) {
				return domain.Period{}, domain.ErrPaysheetNotFound
			}
			return domain.Period{}, err
		}
		p, ok := domain.ComputeIndividual(a, s.clock.Now(), s.ledger.Get().Location())
		if !ok {
			return domain.Period{}, domain.ErrPaysheetNotFound
		}
		return p, nil
	}

	periods, err := s.writerPeriods(ctx, key.WriterID)
	if err != nil {
		return domain.Period{}, err
	}
	for _, p := range periods {
		if p.Period == key.Period {
			return p, nil
		}
	}
	return domain.Period{}, domain.ErrPaysheetNotFound
}

func (s *Service) authorize(ctx context.Context, action string) (actorcontext.Actor, error) {
	actor, ok := actorcontext.ActorFromContext(ctx)
	if !ok {
		return actorcontext.Actor{}, authorization.ErrInvalidActor
	}
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectPaysheet, action); err != nil {
		return actorcontext.Actor{}, err
	}
	return actor, nil
}

func (s *Service) publish(ctx context.Context, evt realtime.Event) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(ctx, evt)
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
	if err := s.auditSvc.AuditLog(ctx, actorType, actorID, action, "paysheet", &target, metadata); err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
	}
}

func byWriter(periods []domain.Period) map[snowflake.ID][]domain.Period {
	out := make(map[snowflake.ID][]domain.Period)
	for _, p := range periods {
		out[p.WriterID] = append(out[p.WriterID], p)
	}
	return out
}

func idStrings(ids []snowflake.ID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}

