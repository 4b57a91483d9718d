package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrInvalidConfig    = errors.New("invalid_config")
	ErrProviderNotFound = errors.New("provider_not_found")
	ErrGatewayDisabled  = errors.New("gateway_disabled")
	ErrInvalidTarget    = errors.New("invalid_payment_target")
	ErrInvalidAmount    = errors.New("invalid_amount")
	ErrOrderNotFound    = errors.New("order_not_found")
	ErrOrderMismatch    = errors.New("order_mismatch")
	ErrOrderNotPending  = errors.New("order_not_pending")
	ErrProofRequired    = errors.New("payment_proof_required")
)

// RateLimitError is returned when a caller opens checkout sessions too fast.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate_limited: retry after %s", e.RetryAfter)
}
