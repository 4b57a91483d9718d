package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

// SendRequest targets an assignment chat or a client's support thread.
type SendRequest struct {
	AssignmentID *snowflake.ID
	ClientID     *snowflake.ID
	Body         string
}

type ListMessagesRequest struct {
	ConversationID snowflake.ID
	PageToken      string
	PageSize       int
}

type ListMessagesResponse struct {
	Messages      []Message `json:"messages"`
	NextPageToken string    `json:"next_page_token,omitempty"`
	HasMore       bool      `json:"has_more"`
}

type UnreadSummary struct {
	Total         int           `json:"total"`
	Conversations []UnreadCount `json:"conversations"`
}

type Service interface {
	// SendMessage creates the conversation on first use.
	SendMessage(ctx context.Context, req SendRequest) (Message, error)
	ListMessages(ctx context.Context, req ListMessagesRequest) (ListMessagesResponse, error)
	MarkRead(ctx context.Context, conversationID snowflake.ID) (UnreadCount, error)
	UnreadCounts(ctx context.Context) (UnreadSummary, error)
}
