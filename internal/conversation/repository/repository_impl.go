package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/penwork/internal/conversation/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertConversation(ctx context.Context, db *gorm.DB, c *domain.Conversation) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO conversations (
			id, conversation_key, kind, client_id, admin_id, assignment_id, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (conversation_key) DO NOTHING`,
		c.ID,
		c.ConversationKey,
		c.Kind,
		c.ClientID,
		c.AdminID,
		c.AssignmentID,
		c.CreatedAt,
		c.UpdatedAt,
	).Error
}

func (r *repo) FindByKey(ctx context.Context, db *gorm.DB, key string) (*domain.Conversation, error) {
	return r.findOne(ctx, db, "conversation_key = ?", key)
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Conversation, error) {
	return r.findOne(ctx, db, "id = ?", id)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, where string, arg any) (*domain.Conversation, error) {
	var item domain.Conversation
	err := db.WithContext(ctx).Raw(
		`SELECT id, conversation_key, kind, client_id, admin_id, assignment_id, created_at, updated_at
		 FROM conversations
		 WHERE `+where+`
		 LIMIT 1`,
		arg,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) TouchConversation(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE conversations SET updated_at = ? WHERE id = ?`,
		at,
		id,
	).Error
}

func (r *repo) AddParticipant(ctx context.Context, db *gorm.DB, p domain.Participant) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO conversation_participants (conversation_id, user_id, role, unread_count, last_read_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (conversation_id, user_id) DO NOTHING`,
		p.ConversationID,
		p.UserID,
		p.Role,
		p.UnreadCount,
		p.LastReadAt,
	).Error
}

func (r *repo) RemoveParticipant(ctx context.Context, db *gorm.DB, conversationID, userID snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`DELETE FROM conversation_participants WHERE conversation_id = ? AND user_id = ?`,
		conversationID,
		userID,
	).Error
}

func (r *repo) ListParticipants(ctx context.Context, db *gorm.DB, conversationID snowflake.ID) ([]domain.Participant, error) {
	var items []domain.Participant
	err := db.WithContext(ctx).Raw(
		`SELECT conversation_id, user_id, role, unread_count, last_read_at
		 FROM conversation_participants
		 WHERE conversation_id = ?
		 ORDER BY user_id ASC`,
		conversationID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) InsertMessage(ctx context.Context, db *gorm.DB, m *domain.Message) error {
	return db.WithContext(ctx).Create(m).Error
}

func (r *repo) ListMessages(ctx context.Context, db *gorm.DB, filter domain.MessageFilter) ([]*domain.Message, error) {
	var items []*domain.Message
	stmt := db.WithContext(ctx).Model(&domain.Message{}).
		Where("conversation_id = ?", filter.ConversationID)
	if filter.Before != nil {
		stmt = stmt.Where("id < ?", *filter.Before)
	}
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}
	if err := stmt.Order("id desc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) LatestMessageID(ctx context.Context, db *gorm.DB, conversationID snowflake.ID) (snowflake.ID, error) {
	var id int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(MAX(id), 0) FROM messages WHERE conversation_id = ?`,
		conversationID,
	).Scan(&id).Error
	if err != nil {
		return 0, err
	}
	return snowflake.ID(id), nil
}

func (r *repo) IncrementUnread(ctx context.Context, db *gorm.DB, conversationID, senderID snowflake.ID) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE conversation_participants
		 SET unread_count = unread_count + 1
		 WHERE conversation_id = ? AND user_id <> ?`,
		conversationID,
		senderID,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *repo) ResetUnread(ctx context.Context, db *gorm.DB, conversationID, userID snowflake.ID, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE conversation_participants
		 SET unread_count = 0, last_read_at = ?
		 WHERE conversation_id = ? AND user_id = ?`,
		at,
		conversationID,
		userID,
	).Error
}

func (r *repo) UnreadForUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) ([]domain.UnreadCount, error) {
	var items []domain.UnreadCount
	err := db.WithContext(ctx).Raw(
		`SELECT p.conversation_id, p.user_id, p.unread_count,
			COALESCE((SELECT MAX(m.id) FROM messages m WHERE m.conversation_id = p.conversation_id), 0) AS last_message_id
		 FROM conversation_participants p
		 WHERE p.user_id = ?
		 ORDER BY p.conversation_id ASC`,
		userID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
