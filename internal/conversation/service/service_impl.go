package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/penwork/internal/actorcontext"
	assignmentdomain "github.com/smallbiznis/penwork/internal/assignment/domain"
	"github.com/smallbiznis/penwork/internal/authorization"
	"github.com/smallbiznis/penwork/internal/clock"
	"github.com/smallbiznis/penwork/internal/config"
	"github.com/smallbiznis/penwork/internal/conversation/domain"
	"github.com/smallbiznis/penwork/internal/observability/metrics"
	"github.com/smallbiznis/penwork/internal/realtime"
	"github.com/smallbiznis/penwork/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Config      config.Config
	Repo        domain.Repository
	Authz       authorization.Service
	Assignments assignmentdomain.Service
	Publisher   realtime.Publisher `optional:"true"`
	Clock       clock.Clock        `optional:"true"`
	Metrics     *metrics.Metrics   `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	supportAdmin snowflake.ID
	repo         domain.Repository
	authz        authorization.Service
	assignments  assignmentdomain.Service
	publisher    realtime.Publisher
	clock        clock.Clock
	metrics      *metrics.Metrics
}

func New(p Params) *Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("conversation.service"),
		genID:        p.GenID,
		supportAdmin: snowflake.ID(p.Config.SupportAdminID),
		repo:         p.Repo,
		authz:        p.Authz,
		assignments:  p.Assignments,
		publisher:    p.Publisher,
		clock:        clk,
		metrics:      p.Metrics,
	}
}

// target is a conversation to find or create plus the parties it must have.
type target struct {
	conversation domain.Conversation
	participants []domain.Participant
}

func (s *Service) SendMessage(ctx context.Context, req domain.SendRequest) (domain.Message, error) {
	actor, err := s.authorize(ctx, authorization.ActionConversationSend)
	if err != nil {
		return domain.Message{}, err
	}
	body := strings.TrimSpace(req.Body)
	if body == "" {
		return domain.Message{}, domain.ErrEmptyMessage
	}
	if utf8.RuneCountInString(body) > domain.MaxBodyLength {
		return domain.Message{}, domain.ErrMessageTooLong
	}

	tgt, err := s.resolveTarget(ctx, actor, req)
	if err != nil {
		return domain.Message{}, err
	}

	now := s.clock.Now().UTC()
	var (
		msg          domain.Message
		conv         *domain.Conversation
		participants []domain.Participant
		incremented  int64
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		conv, err = s.ensureConversation(ctx, tx, tgt.conversation, now)
		if err != nil {
			return err
		}
		for _, p := range tgt.participants {
			p.ConversationID = conv.ID
			if err := s.repo.AddParticipant(ctx, tx, p); err != nil {
				return err
			}
		}

		msg = domain.Message{
			ID:             s.genID.Generate(),
			ConversationID: conv.ID,
			SenderID:       actor.ID,
			Body:           body,
			CreatedAt:      now,
		}
		if err := s.repo.InsertMessage(ctx, tx, &msg); err != nil {
			return err
		}
		incremented, err = s.repo.IncrementUnread(ctx, tx, conv.ID, actor.ID)
		if err != nil {
			return err
		}
		if err := s.repo.TouchConversation(ctx, tx, conv.ID, now); err != nil {
			return err
		}
		participants, err = s.repo.ListParticipants(ctx, tx, conv.ID)
		return err
	})
	if err != nil {
		return domain.Message{}, err
	}

	conv.UpdatedAt = now
	s.metrics.RecordUnreadIncrement(ctx, int(incremented))
	s.publishMessage(ctx, *conv, participants, msg)
	return msg, nil
}

func (s *Service) resolveTarget(ctx context.Context, actor actorcontext.Actor, req domain.SendRequest) (target, error) {
	switch {
	case req.AssignmentID != nil && req.ClientID == nil:
		return s.assignmentTarget(ctx, actor, *req.AssignmentID)
	case req.AssignmentID == nil:
		return s.supportTarget(ctx, actor, req.ClientID)
	default:
		return target{}, domain.ErrInvalidTarget
	}
}

// assignmentTarget relies on the assignment service to hide assignments the
// caller is not a party to.
func (s *Service) assignmentTarget(ctx context.Context, actor actorcontext.Actor, assignmentID snowflake.ID) (target, error) {
	a, err := s.assignments.Get(ctx, assignmentID)
	if err != nil {
		return target{}, err
	}
	id := a.ID
	tgt := target{
		conversation: domain.Conversation{
			ConversationKey: domain.AssignmentKey(a.ID),
			Kind:            domain.KindAssignment,
			ClientID:        a.ClientID,
			AssignmentID:    &id,
		},
		participants: []domain.Participant{{UserID: a.ClientID, Role: domain.RoleClient}},
	}
	if a.HasWriter() {
		tgt.participants = append(tgt.participants, domain.Participant{UserID: *a.WriterID, Role: domain.RoleWriter})
	}
	if s.supportAdmin != 0 {
		admin := s.supportAdmin
		tgt.conversation.AdminID = &admin
		tgt.participants = append(tgt.participants, domain.Participant{UserID: admin, Role: domain.RoleAdmin})
	}
	if actor.IsAdmin() && actor.ID != s.supportAdmin {
		tgt.participants = append(tgt.participants, domain.Participant{UserID: actor.ID, Role: domain.RoleAdmin})
	}
	return tgt, nil
}

func (s *Service) supportTarget(ctx context.Context, actor actorcontext.Actor, clientID *snowflake.ID) (target, error) {
	var client snowflake.ID
	switch {
	case actor.IsClient():
		if clientID != nil && *clientID != actor.ID {
			return target{}, authorization.ErrForbidden
		}
		client = actor.ID
	case actor.IsAdmin():
		if clientID == nil || *clientID == 0 {
			return target{}, domain.ErrInvalidTarget
		}
		client = *clientID
	default:
		return target{}, authorization.ErrForbidden
	}

	admin := s.supportAdmin
	if admin == 0 && actor.IsAdmin() {
		admin = actor.ID
	}
	if admin == 0 {
		// An existing thread keeps the admin that opened it.
		existing, err := s.repo.FindByKey(ctx, s.db, domain.SupportKey(client))
		if err != nil {
			return target{}, err
		}
		if existing == nil || existing.AdminID == nil {
			return target{}, domain.ErrNoSupportAdmin
		}
		admin = *existing.AdminID
	}

	tgt := target{
		conversation: domain.Conversation{
			ConversationKey: domain.SupportKey(client),
			Kind:            domain.KindSupport,
			ClientID:        client,
			AdminID:         &admin,
		},
		participants: []domain.Participant{
			{UserID: client, Role: domain.RoleClient},
			{UserID: admin, Role: domain.RoleAdmin},
		},
	}
	if actor.IsAdmin() && actor.ID != admin {
		tgt.participants = append(tgt.participants, domain.Participant{UserID: actor.ID, Role: domain.RoleAdmin})
	}
	return tgt, nil
}

// ensureConversation creates the conversation on first use. Two concurrent
// first messages converge on the same row through the unique key.
func (s *Service) ensureConversation(ctx context.Context, tx *gorm.DB, c domain.Conversation, now time.Time) (*domain.Conversation, error) {
	existing, err := s.repo.FindByKey(ctx, tx, c.ConversationKey)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	c.ID = s.genID.Generate()
	c.CreatedAt = now
	c.UpdatedAt = now
	if err := s.repo.InsertConversation(ctx, tx, &c); err != nil {
		return nil, err
	}
	created, err := s.repo.FindByKey(ctx, tx, c.ConversationKey)
	if err != nil {
		return nil, err
	}
	if created == nil {
		return nil, domain.ErrNotFound
	}
	return created, nil
}

func (s *Service) ListMessages(ctx context.Context, req domain.ListMessagesRequest) (domain.ListMessagesResponse, error) {
	actor, err := s.authorize(ctx, authorization.ActionConversationRead)
	if err != nil {
		return domain.ListMessagesResponse{}, err
	}
	if _, _, err := s.loadVisible(ctx, s.db, actor, req.ConversationID); err != nil {
		return domain.ListMessagesResponse{}, err
	}

	filter := domain.MessageFilter{
		ConversationID: req.ConversationID,
		Limit:          normalizePageSize(req.PageSize),
	}
	if token := strings.TrimSpace(req.PageToken); token != "" {
		before, err := pagination.DecodeIDCursor(token)
		if err != nil {
			return domain.ListMessagesResponse{}, domain.ErrInvalidPageToken
		}
		filter.Before = &before
	}

	items, err := s.repo.ListMessages(ctx, s.db, filter)
	if err != nil {
		return domain.ListMessagesResponse{}, err
	}
	items, page := pagination.Page(items, filter.Limit, func(m *domain.Message) pagination.Cursor {
		return pagination.Cursor{ID: m.ID.String()}
	})
	resp := domain.ListMessagesResponse{
		Messages:      make([]domain.Message, 0, len(items)),
		NextPageToken: page.NextPageToken,
		HasMore:       page.HasMore,
	}
	for _, m := range items {
		resp.Messages = append(resp.Messages, *m)
	}
	return resp, nil
}

// MarkRead zeroes the caller's counter and tells the caller's other
// sessions, so every open tab converges on the same count.
func (s *Service) MarkRead(ctx context.Context, conversationID snowflake.ID) (domain.UnreadCount, error) {
	actor, err := s.authorize(ctx, authorization.ActionConversationRead)
	if err != nil {
		return domain.UnreadCount{}, err
	}

	now := s.clock.Now().UTC()
	var latest snowflake.ID
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, participants, err := s.loadVisible(ctx, tx, actor, conversationID)
		if err != nil {
			return err
		}
		if !isParticipant(participants, actor.ID) {
			if err := s.repo.AddParticipant(ctx, tx, domain.Participant{
				ConversationID: conversationID,
				UserID:         actor.ID,
				Role:           domain.RoleAdmin,
			}); err != nil {
				return err
			}
		}
		if err := s.repo.ResetUnread(ctx, tx, conversationID, actor.ID, now); err != nil {
			return err
		}
		latest, err = s.repo.LatestMessageID(ctx, tx, conversationID)
		return err
	})
	if err != nil {
		return domain.UnreadCount{}, err
	}

	count := domain.UnreadCount{
		ConversationID: conversationID,
		UserID:         actor.ID,
		UnreadCount:    0,
		LastMessageID:  latest,
	}
	s.publishUnread(ctx, "conversation.read", count)
	return count, nil
}

func (s *Service) UnreadCounts(ctx context.Context) (domain.UnreadSummary, error) {
	actor, err := s.authorize(ctx, authorization.ActionConversationRead)
	if err != nil {
		return domain.UnreadSummary{}, err
	}
	items, err := s.repo.UnreadForUser(ctx, s.db, actor.ID)
	if err != nil {
		return domain.UnreadSummary{}, err
	}
	summary := domain.UnreadSummary{Conversations: make([]domain.UnreadCount, 0, len(items))}
	for _, count := range items {
		summary.Total += count.UnreadCount
		summary.Conversations = append(summary.Conversations, count)
	}
	return summary, nil
}

// HandleEvent keeps assignment chats in step with writer changes: the
// current writer joins, a replaced writer leaves.
func (s *Service) HandleEvent(ctx context.Context, evt realtime.Event) {
	if evt.EntityType != realtime.EntityAssignment {
		return
	}
	if evt.Name != string(assignmentdomain.ActionAssignWriter) && evt.Name != string(assignmentdomain.ActionReassignWriter) {
		return
	}
	var a assignmentdomain.Assignment
	if err := json.Unmarshal(evt.Snapshot, &a); err != nil || !a.HasWriter() {
		return
	}

	var (
		conv         *domain.Conversation
		participants []domain.Participant
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		conv, err = s.repo.FindByKey(ctx, tx, domain.AssignmentKey(a.ID))
		if err != nil || conv == nil {
			return err
		}
		current, err := s.repo.ListParticipants(ctx, tx, conv.ID)
		if err != nil {
			return err
		}
		for _, p := range current {
			if p.Role == domain.RoleWriter && p.UserID != *a.WriterID {
				if err := s.repo.RemoveParticipant(ctx, tx, conv.ID, p.UserID); err != nil {
					return err
				}
			}
		}
		if err := s.repo.AddParticipant(ctx, tx, domain.Participant{
			ConversationID: conv.ID,
			UserID:         *a.WriterID,
			Role:           domain.RoleWriter,
		}); err != nil {
			return err
		}
		participants, err = s.repo.ListParticipants(ctx, tx, conv.ID)
		return err
	})
	if err != nil {
		s.log.Warn("failed to sync assignment chat participants",
			zap.String("assignment_id", a.ID.String()),
			zap.Error(err),
		)
		return
	}
	if conv == nil {
		return
	}
	s.publishConversation(ctx, *conv, participants, evt.Name, conv.UpdatedAt.UnixNano())
}

// RegisterConsumer subscribes assignment chats to writer changes.
func RegisterConsumer(bus *realtime.Bus, svc *Service) {
	bus.Consume("conversation.participants", svc.HandleEvent)
}

func (s *Service) loadVisible(ctx context.Context, db *gorm.DB, actor actorcontext.Actor, id snowflake.ID) (*domain.Conversation, []domain.Participant, error) {
	if id == 0 {
		return nil, nil, domain.ErrNotFound
	}
	conv, err := s.repo.FindByID(ctx, db, id)
	if err != nil {
		return nil, nil, err
	}
	if conv == nil {
		return nil, nil, domain.ErrNotFound
	}
	participants, err := s.repo.ListParticipants(ctx, db, id)
	if err != nil {
		return nil, nil, err
	}
	if !actor.IsAdmin() && !isParticipant(participants, actor.ID) {
		return nil, nil, domain.ErrNotFound
	}
	return conv, participants, nil
}

func (s *Service) publishMessage(ctx context.Context, conv domain.Conversation, participants []domain.Participant, msg domain.Message) {
	if s.publisher == nil {
		return
	}
	rooms := participantRooms(conv, participants)
	evt, err := realtime.NewSnapshotEvent(realtime.EventMessageReceived, "message.sent", realtime.EntityMessage, msg.ID.String(), int64(msg.ID), msg, rooms...)
	if err != nil {
		s.log.Error("failed to build message event", zap.Error(err))
		return
	}
	s.publisher.Publish(ctx, evt)
	s.publishConversation(ctx, conv, participants, "message.sent", int64(msg.ID))

	for _, p := range participants {
		if p.UserID == msg.SenderID {
			continue
		}
		s.publishUnread(ctx, "message.sent", domain.UnreadCount{
			ConversationID: conv.ID,
			UserID:         p.UserID,
			UnreadCount:    p.UnreadCount,
			LastMessageID:  msg.ID,
		})
	}
}

func (s *Service) publishConversation(ctx context.Context, conv domain.Conversation, participants []domain.Participant, name string, version int64) {
	if s.publisher == nil {
		return
	}
	snapshot := conv
	snapshot.Participants = nil
	evt, err := realtime.NewSnapshotEvent(realtime.EventConversationUpdated, name, realtime.EntityConversation, conv.ID.String(), version, snapshot, participantRooms(conv, participants)...)
	if err != nil {
		s.log.Error("failed to build conversation event", zap.Error(err))
		return
	}
	s.publisher.Publish(ctx, evt)
}

func (s *Service) publishUnread(ctx context.Context, name string, count domain.UnreadCount) {
	if s.publisher == nil {
		return
	}
	evt, err := realtime.NewSnapshotEvent(realtime.EventUnreadCountUpdated, name, realtime.EntityUnreadCount, count.ConversationID.String(), int64(count.LastMessageID), count, realtime.UserRoom(count.UserID))
	if err != nil {
		s.log.Error("failed to build unread event", zap.Error(err))
		return
	}
	s.publisher.Publish(ctx, evt)
}

func (s *Service) authorize(ctx context.Context, action string) (actorcontext.Actor, error) {
	actor, ok := actorcontext.ActorFromContext(ctx)
	if !ok {
		return actorcontext.Actor{}, authorization.ErrInvalidActor
	}
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectConversation, action); err != nil {
		return actorcontext.Actor{}, err
	}
	return actor, nil
}

func participantRooms(conv domain.Conversation, participants []domain.Participant) []string {
	rooms := make([]string, 0, len(participants)+1)
	for _, p := range participants {
		rooms = append(rooms, realtime.UserRoom(p.UserID))
	}
	if conv.Kind == domain.KindSupport {
		rooms = append(rooms, realtime.AdminRoom)
	}
	return rooms
}

func isParticipant(participants []domain.Participant, userID snowflake.ID) bool {
	for _, p := range participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
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
