package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/penwork/internal/payment/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertOrder(ctx context.Context, db *gorm.DB, order *domain.PaymentOrder) error {
	return db.WithContext(ctx).Create(order).Error
}

func (r *repo) FindOrder(ctx context.Context, db *gorm.DB, orderID string) (*domain.PaymentOrder, error) {
	var item domain.PaymentOrder
	err := db.WithContext(ctx).Where("order_id = ?", orderID).Take(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *repo) UpdateOrderStatus(ctx context.Context, db *gorm.DB, order *domain.PaymentOrder, from domain.OrderStatus) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payment_orders
		 SET status = ?, gateway_payment_id = ?, paid_at = ?, updated_at = ?
		 WHERE order_id = ? AND status = ?`,
		order.Status,
		order.GatewayPaymentID,
		order.PaidAt,
		order.UpdatedAt,
		order.OrderID,
		from,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) InsertCallback(ctx context.Context, db *gorm.DB, callback *domain.PaymentCallback) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO payment_callbacks (
			id, provider, order_id, gateway_payment_id, status_code,
			payload, received_at, processed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider, order_id, gateway_payment_id, status_code) DO NOTHING`,
		callback.ID,
		callback.Provider,
		callback.OrderID,
		callback.GatewayPaymentID,
		callback.StatusCode,
		callback.Payload,
		callback.ReceivedAt,
		callback.ProcessedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindCallback(ctx context.Context, db *gorm.DB, provider, orderID, gatewayPaymentID, statusCode string) (*domain.PaymentCallback, error) {
	var item domain.PaymentCallback
	err := db.WithContext(ctx).Raw(
		`SELECT id, provider, order_id, gateway_payment_id, status_code,
			payload, received_at, processed_at
		 FROM payment_callbacks
		 WHERE provider = ? AND order_id = ? AND gateway_payment_id = ? AND status_code = ?
		 LIMIT 1`,
		provider,
		orderID,
		gatewayPaymentID,
		statusCode,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) MarkCallbackProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_callbacks
		 SET processed_at = ?
		 WHERE id = ?`,
		processedAt,
		id,
	).Error
}
