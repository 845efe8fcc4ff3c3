package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"pos-sync-service/internal/models"
)

// OrderRepository handles database operations for orders
type OrderRepository struct {
	db *gorm.DB
}

// NewOrderRepository creates a new order repository
func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create inserts an order with its items in one transaction
func (r *OrderRepository) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Omit("Branch").Create(order).Error
	})
}

// GetByID retrieves an order with its items
func (r *OrderRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		First(&order, "id = ?", id).Error
	if err != nil {
		return nil, translateError(err)
	}
	return &order, nil
}

// ClaimDispatch marks an undispatched, non-terminal order as being sent to the
// POS. A claim older than staleBefore is taken over. It reports whether the
// claim was won.
func (r *OrderRepository) ClaimDispatch(ctx context.Context, id uuid.UUID, staleBefore time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND pos_order_id IS NULL", id).
		Where("status NOT IN ?", []models.OrderStatus{models.OrderStatusCompleted, models.OrderStatusCancelled}).
		Where("pos_dispatching_at IS NULL OR pos_dispatching_at < ?", staleBefore).
		Update("pos_dispatching_at", time.Now())
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// MarkDispatched stores the POS order id and, when status is non-empty, the
// new status. An order that already carries a POS order id is left untouched
// and ErrAlreadyDispatched is returned.
func (r *OrderRepository) MarkDispatched(ctx context.Context, id uuid.UUID, posOrderID string, status models.OrderStatus) error {
	now := time.Now()
	updates := map[string]interface{}{
		"pos_order_id":          posOrderID,
		"pos_dispatched_at":     &now,
		"pos_dispatching_at":    nil,
		"pos_dispatch_attempts": gorm.Expr("pos_dispatch_attempts + 1"),
		"pos_dispatch_error":    "",
		"updated_at":            now,
	}
	if status != "" {
		updates["status"] = status
	}
	result := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND pos_order_id IS NULL", id).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAlreadyDispatched
	}
	return nil
}

// RecordDispatchFailure stores the last dispatch error and releases the
// dispatch claim without touching status
func (r *OrderRepository) RecordDispatchFailure(ctx context.Context, id uuid.UUID, message string) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"pos_dispatch_attempts": gorm.Expr("pos_dispatch_attempts + 1"),
			"pos_dispatch_error":    message,
			"pos_dispatching_at":    nil,
			"updated_at":            time.Now(),
		}).Error
}

// ListUndispatched retrieves orders that have not reached the POS yet
func (r *OrderRepository) ListUndispatched(ctx context.Context, opts ListOptions) ([]models.Order, error) {
	var orders []models.Order
	query := r.db.WithContext(ctx).
		Where("pos_order_id IS NULL AND status <> ?", models.OrderStatusCancelled).
		Order("created_at ASC")
	if opts.Limit > 0 {
		query = query.Limit(opts.Limit).Offset(opts.Offset)
	}
	if err := query.Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}
