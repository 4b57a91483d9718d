package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Kind string

const (
	// KindSupport is the one-to-one thread between a client and support.
	KindSupport Kind = "support"
	// KindAssignment is the thread attached to one assignment.
	KindAssignment Kind = "assignment"
)

type ParticipantRole string

const (
	RoleClient ParticipantRole = "client"
	RoleWriter ParticipantRole = "writer"
	RoleAdmin  ParticipantRole = "admin"
)

// MaxBodyLength bounds a single message body in runes.
const MaxBodyLength = 4000

type Conversation struct {
	ID              snowflake.ID  `json:"id" gorm:"primaryKey"`
	ConversationKey string        `json:"conversation_key" gorm:"type:text;not null;uniqueIndex"`
	Kind            Kind          `json:"kind" gorm:"type:text;not null"`
	ClientID        snowflake.ID  `json:"client_id" gorm:"not null"`
	AdminID         *snowflake.ID `json:"admin_id,omitempty"`
	AssignmentID    *snowflake.ID `json:"assignment_id,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`

	Participants []Participant `json:"participants,omitempty" gorm:"-"`
}

func (Conversation) TableName() string { return "conversations" }

// Participant carries one party's unread counter. The counter is zeroed
// only by that party's read acknowledgement.
type Participant struct {
	ConversationID snowflake.ID    `json:"conversation_id" gorm:"primaryKey"`
	UserID         snowflake.ID    `json:"user_id" gorm:"primaryKey"`
	Role           ParticipantRole `json:"role" gorm:"type:text;not null"`
	UnreadCount    int             `json:"unread_count" gorm:"not null"`
	LastReadAt     *time.Time      `json:"last_read_at,omitempty"`
}

func (Participant) TableName() string { return "conversation_participants" }

type Message struct {
	ID             snowflake.ID `json:"id" gorm:"primaryKey"`
	ConversationID snowflake.ID `json:"conversation_id" gorm:"not null;index"`
	SenderID       snowflake.ID `json:"sender_id" gorm:"not null"`
	Body           string       `json:"body" gorm:"type:text;not null"`
	CreatedAt      time.Time    `json:"created_at"`
}

func (Message) TableName() string { return "messages" }

// UnreadCount is the unread_count.updated payload. LastMessageID is the
// newest message the count accounts for, so a client can tell a stale
// count from a fresh one.
type UnreadCount struct {
	ConversationID snowflake.ID `json:"conversation_id"`
	UserID         snowflake.ID `json:"user_id"`
	UnreadCount    int          `json:"unread_count"`
	LastMessageID  snowflake.ID `json:"last_message_id,omitempty"`
}

func SupportKey(clientID snowflake.ID) string {
	return "support:" + clientID.String()
}

func AssignmentKey(assignmentID snowflake.ID) string {
	return "assignment:" + assignmentID.String()
}
