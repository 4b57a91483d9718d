package domain

import (
	"net/url"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// TargetType names what a gateway order settles.
type TargetType string

const (
	TargetAssignment TargetType = "assignment"
	TargetPaysheet   TargetType = "paysheet"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusFailed    OrderStatus = "failed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// PaymentOrder binds one gateway order id to exactly one target. Orders are
// never reused; an abandoned redirect stays pending until a callback or an
// admin resolves it.
type PaymentOrder struct {
	OrderID          string                            `json:"order_id" gorm:"primaryKey"`
	Provider         string                            `json:"provider" gorm:"type:text;not null"`
	TargetType       TargetType                        `json:"target_type" gorm:"type:text;not null"`
	TargetKey        string                            `json:"target_key" gorm:"type:text;not null"`
	AssignmentIDs    datatypes.JSONSlice[snowflake.ID] `json:"assignment_ids" gorm:"type:text"`
	Amount           decimal.Decimal                   `json:"amount" gorm:"type:numeric;not null"`
	Currency         string                            `json:"currency" gorm:"type:text;not null"`
	Status           OrderStatus                       `json:"status" gorm:"type:text;not null"`
	GatewayPaymentID *string                           `json:"gateway_payment_id,omitempty"`
	CreatedBy        string                            `json:"created_by"`
	CreatedAt        time.Time                         `json:"created_at"`
	UpdatedAt        time.Time                         `json:"updated_at"`
	PaidAt           *time.Time                        `json:"paid_at,omitempty"`
}

func (PaymentOrder) TableName() string { return "payment_orders" }

// PaymentCallback is one received gateway notification. The unique
// (provider, order_id, gateway_payment_id, status_code) key makes replays
// detectable while a pending notify and its later settlement stay distinct.
type PaymentCallback struct {
	ID               snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider         string         `json:"provider" gorm:"type:varchar(32);not null;uniqueIndex:idx_payment_callbacks_key"`
	OrderID          string         `json:"order_id" gorm:"type:varchar(64);not null;uniqueIndex:idx_payment_callbacks_key"`
	GatewayPaymentID string         `json:"gateway_payment_id" gorm:"type:varchar(128);not null;uniqueIndex:idx_payment_callbacks_key"`
	StatusCode       string         `json:"status_code" gorm:"type:varchar(8);not null;uniqueIndex:idx_payment_callbacks_key"`
	Payload          datatypes.JSON `json:"payload"`
	ReceivedAt       time.Time      `json:"received_at"`
	ProcessedAt      *time.Time     `json:"processed_at,omitempty"`
}

func (PaymentCallback) TableName() string { return "payment_callbacks" }

// NotificationOutcome is the canonical result a gateway reports.
type NotificationOutcome string

const (
	OutcomeSucceeded NotificationOutcome = "succeeded"
	OutcomePending   NotificationOutcome = "pending"
	OutcomeCancelled NotificationOutcome = "cancelled"
	OutcomeFailed    NotificationOutcome = "failed"
	OutcomeReversed  NotificationOutcome = "reversed"
)

// Notification is a verified gateway callback parsed by an adapter.
type Notification struct {
	Provider         string
	OrderID          string
	GatewayPaymentID string
	StatusCode       string
	Outcome          NotificationOutcome
	Amount           decimal.Decimal
	Currency         string
	Raw              url.Values
}

// Session carries the redirect parameters for a hosted checkout.
type Session struct {
	Provider    string          `json:"provider"`
	CheckoutURL string          `json:"checkout_url"`
	MerchantID  string          `json:"merchant_id"`
	OrderID     string          `json:"order_id"`
	Amount      string          `json:"amount"`
	Currency    string          `json:"currency"`
	Hash        string          `json:"hash"`
	ReturnURL   string          `json:"return_url"`
	CancelURL   string          `json:"cancel_url"`
	NotifyURL   string          `json:"notify_url"`
	Items       string          `json:"items"`
	Total       decimal.Decimal `json:"-"`
}

// CallbackResult reports what a notification did.
type CallbackResult struct {
	Order     PaymentOrder
	Outcome   NotificationOutcome
	Applied   bool
	Duplicate bool
}
