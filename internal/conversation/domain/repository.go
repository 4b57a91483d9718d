package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type MessageFilter struct {
	ConversationID snowflake.ID
	Before         *snowflake.ID
	Limit          int
}

type Repository interface {
	// InsertConversation is a no-op when the key already exists.
	InsertConversation(ctx context.Context, db *gorm.DB, c *Conversation) error
	FindByKey(ctx context.Context, db *gorm.DB, key string) (*Conversation, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Conversation, error)
	TouchConversation(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error

	AddParticipant(ctx context.Context, db *gorm.DB, p Participant) error
	RemoveParticipant(ctx context.Context, db *gorm.DB, conversationID, userID snowflake.ID) error
	ListParticipants(ctx context.Context, db *gorm.DB, conversationID snowflake.ID) ([]Participant, error)

	InsertMessage(ctx context.Context, db *gorm.DB, m *Message) error
	ListMessages(ctx context.Context, db *gorm.DB, filter MessageFilter) ([]*Message, error)
	LatestMessageID(ctx context.Context, db *gorm.DB, conversationID snowflake.ID) (snowflake.ID, error)

	// IncrementUnread adds one to every participant except sender.
	IncrementUnread(ctx context.Context, db *gorm.DB, conversationID, senderID snowflake.ID) (int64, error)
	ResetUnread(ctx context.Context, db *gorm.DB, conversationID, userID snowflake.ID, at time.Time) error
	// UnreadForUser returns the user's counters with each conversation's
	// newest message id.
	UnreadForUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) ([]UnreadCount, error)
}
