package domain

import "errors"

var (
	ErrNotFound         = errors.New("conversation_not_found")
	ErrInvalidTarget    = errors.New("invalid_conversation_target")
	ErrEmptyMessage     = errors.New("empty_message")
	ErrMessageTooLong   = errors.New("message_too_long")
	ErrNoSupportAdmin   = errors.New("support_admin_not_configured")
	ErrInvalidPageToken = errors.New("invalid_page_token")
)
