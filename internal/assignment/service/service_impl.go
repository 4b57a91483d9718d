package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/penwork/internal/actorcontext"
	"github.com/smallbiznis/penwork/internal/assignment/domain"
	"github.com/smallbiznis/penwork/internal/authorization"
	"github.com/smallbiznis/penwork/internal/clock"
	"github.com/smallbiznis/penwork/internal/observability/metrics"
	"github.com/smallbiznis/penwork/internal/ratelimit"
	"github.com/smallbiznis/penwork/internal/realtime"
	"github.com/smallbiznis/penwork/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Repo      domain.Repository
	Authz     authorization.Service
	Publisher realtime.Publisher `optional:"true"`
	Locker    *ratelimit.Locker  `optional:"true"`
	Clock     clock.Clock        `optional:"true"`
	Metrics   *metrics.Metrics   `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	repo      domain.Repository
	authz     authorization.Service
	publisher realtime.Publisher
	locks     *assignmentLocks
	clock     clock.Clock
	metrics   *metrics.Metrics
}

func New(p Params) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	log := p.Log.Named("assignment.service")
	return &Service{
		db:        p.DB,
		log:       log,
		genID:     p.GenID,
		repo:      p.Repo,
		authz:     p.Authz,
		publisher: p.Publisher,
		locks:     &assignmentLocks{local: newKeyedMutex(), remote: p.Locker, log: log},
		clock:     clk,
		metrics:   p.Metrics,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (domain.Assignment, error) {
	actor, err := s.authorize(ctx, authorization.ObjectAssignment, authorization.ActionAssignmentCreate)
	if err != nil {
		return domain.Assignment{}, err
	}
	if !actor.IsClient() {
		return domain.Assignment{}, domain.ErrInvalidClient
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		return domain.Assignment{}, domain.ErrInvalidTitle
	}

	now := s.clock.Now().UTC()
	a := &domain.Assignment{
		ID:             s.genID.Generate(),
		ClientID:       actor.ID,
		Title:          title,
		Description:    strings.TrimSpace(req.Description),
		Status:         domain.StatusNew,
		ReportStatus:   domain.ReportNone,
		PaymentStatus:  domain.PaymentStatusUnpaid,
		PayoutStatus:   domain.PayoutStatusNone,
		Attachments:    datatypes.JSONSlice[string](cleanFiles(req.Attachments)),
		CompletedFiles: datatypes.JSONSlice[string]{},
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, a); err != nil {
			return err
		}
		return s.repo.InsertTransition(ctx, tx, s.newTransition(actor, a, domain.ActionCreate, domain.StatusNew, now))
	})
	if err != nil {
		s.metrics.RecordTransition(ctx, string(domain.ActionCreate), "error")
		return domain.Assignment{}, err
	}

	s.metrics.RecordTransition(ctx, string(domain.ActionCreate), "ok")
	s.publish(ctx, realtime.EventEntityCreated, domain.ActionCreate, *a, nil)
	return *a, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (domain.Assignment, error) {
	actor, err := s.authorize(ctx, authorization.ObjectAssignment, authorization.ActionAssignmentView)
	if err != nil {
		return domain.Assignment{}, err
	}
	if id == 0 {
		return domain.Assignment{}, domain.ErrInvalidID
	}

	a, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.Assignment{}, err
	}
	if a == nil {
		return domain.Assignment{}, domain.ErrNotFound
	}
	if !canView(actor, *a) {
		return domain.Assignment{}, domain.ErrNotFound
	}
	return *a, nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	actor, err := s.authorize(ctx, authorization.ObjectAssignment, authorization.ActionAssignmentView)
	if err != nil {
		return domain.ListResponse{}, err
	}

	filter := domain.ListFilter{
		Statuses: req.Statuses,
		ClientID: req.ClientID,
		WriterID: req.WriterID,
		Limit:    normalizePageSize(req.PageSize),
	}
	for _, status := range filter.Statuses {
		if !status.Valid() {
			return domain.ListResponse{}, domain.ErrUnknownStatus
		}
	}
	switch actor.Role {
	case actorcontext.RoleClient:
		own := actor.ID
		filter.ClientID = &own
	case actorcontext.RoleWriter:
		own := actor.ID
		filter.WriterID = &own
	}

	if token := strings.TrimSpace(req.PageToken); token != "" {
		before, err := pagination.DecodeIDCursor(token)
		if err != nil {
			return domain.ListResponse{}, domain.ErrInvalidPageToken
		}
		filter.Before = &before
	}

	items, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return domain.ListResponse{}, err
	}

	items, page := pagination.Page(items, filter.Limit, func(a *domain.Assignment) pagination.Cursor {
		return pagination.Cursor{ID: a.ID.String()}
	})
	resp := domain.ListResponse{
		Assignments:   make([]domain.Assignment, 0, len(items)),
		NextPageToken: page.NextPageToken,
		HasMore:       page.HasMore,
	}
	for _, item := range items {
		resp.Assignments = append(resp.Assignments, *item)
	}
	return resp, nil
}

func (s *Service) History(ctx context.Context, id snowflake.ID) ([]domain.Transition, error) {
	if _, err := s.authorize(ctx, authorization.ObjectAssignment, authorization.ActionAssignmentHistory); err != nil {
		return nil, err
	}
	if id == 0 {
		return nil, domain.ErrInvalidID
	}
	a, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, domain.ErrNotFound
	}

	items, err := s.repo.ListTransitions(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Transition, 0, len(items))
	for _, item := range items {
		out = append(out, *item)
	}
	return out, nil
}

func (s *Service) LedgerSnapshot(ctx context.Context, filter domain.LedgerFilter) ([]domain.Assignment, error) {
	items, err := s.repo.ListForLedger(ctx, s.db, filter)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Assignment, 0, len(items))
	for _, item := range items {
		out = append(out, *item)
	}
	return out, nil
}

func (s *Service) WritersWithEarnings(ctx context.Context) ([]snowflake.ID, error) {
	return s.repo.ListWriterIDs(ctx, s.db, nil)
}

func (s *Service) authorize(ctx context.Context, object, action string) (actorcontext.Actor, error) {
	actor, ok := actorcontext.ActorFromContext(ctx)
	if !ok {
		return actorcontext.Actor{}, authorization.ErrInvalidActor
	}
	if err := s.authz.Authorize(ctx, actor, object, action); err != nil {
		return actorcontext.Actor{}, err
	}
	return actor, nil
}

func (s *Service) newTransition(actor actorcontext.Actor, a *domain.Assignment, action domain.Action, from domain.Status, now time.Time) *domain.Transition {
	var actorID *string
	if !actor.IsSystem() && actor.ID != 0 {
		id := actor.ID.String()
		actorID = &id
	}
	return &domain.Transition{
		ID:           s.genID.Generate(),
		AssignmentID: a.ID,
		Action:       action,
		FromStatus:   from,
		ToStatus:     a.Status,
		ActorID:      actorID,
		ActorRole:    string(actor.Role),
		Version:      a.Version,
		CreatedAt:    now,
	}
}

// publish hands the committed snapshot to the broadcaster. previousWriter is
// set when a reassignment moved the work away from someone.
func (s *Service) publish(ctx context.Context, typ realtime.EventType, action domain.Action, a domain.Assignment, previousWriter *snowflake.ID) {
	if s.publisher == nil {
		return
	}
	rooms := []string{realtime.AdminRoom, realtime.UserRoom(a.ClientID)}
	var writers []snowflake.ID
	if a.HasWriter() {
		rooms = append(rooms, realtime.UserRoom(*a.WriterID))
		writers = append(writers, *a.WriterID)
	}
	if previousWriter != nil && *previousWriter != 0 && (!a.HasWriter() || *previousWriter != *a.WriterID) {
		rooms = append(rooms, realtime.UserRoom(*previousWriter))
		writers = append(writers, *previousWriter)
	}

	evt, err := realtime.NewSnapshotEvent(typ, string(action), realtime.EntityAssignment, a.ID.String(), a.Version, a, rooms...)
	if err != nil {
		s.log.Error("failed to build assignment event", zap.String("assignment_id", a.ID.String()), zap.Error(err))
		return
	}
	if action.AffectsLedger() {
		evt.LedgerWriters = writers
	}
	s.publisher.Publish(ctx, evt)
}

func canView(actor actorcontext.Actor, a domain.Assignment) bool {
	if actor.IsAdmin() || actor.IsSystem() {
		return true
	}
	return a.IsParty(actor.ID)
}

func normalizePageSize(size int) int {
	if size <= 0 {
		return defaultPageSize
	}
	if size > maxPageSize {
		return maxPageSize
	}
	return size
}

func cleanFiles(files []string) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrAlreadyAssigned),
		errors.Is(err, domain.ErrPriceLocked):
		return "rejected"
	case errors.Is(err, authorization.ErrForbidden):
		return "forbidden"
	default:
		return "error"
	}
}

func idStrings(ids []snowflake.ID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, strconv.FormatInt(id.Int64(), 10))
	}
	return out
}
