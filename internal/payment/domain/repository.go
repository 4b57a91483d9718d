package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	InsertOrder(ctx context.Context, db *gorm.DB, order *PaymentOrder) error
	FindOrder(ctx context.Context, db *gorm.DB, orderID string) (*PaymentOrder, error)
	// UpdateOrderStatus only moves orders that are still in from.
	UpdateOrderStatus(ctx context.Context, db *gorm.DB, order *PaymentOrder, from OrderStatus) (bool, error)

	// InsertCallback returns false when the same callback was already stored.
	InsertCallback(ctx context.Context, db *gorm.DB, callback *PaymentCallback) (bool, error)
	FindCallback(ctx context.Context, db *gorm.DB, provider, orderID, gatewayPaymentID, statusCode string) (*PaymentCallback, error)
	MarkCallbackProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error
}
