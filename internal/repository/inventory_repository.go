package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"pos-sync-service/internal/models"
)

const inventoryUpsertBatch = 200

// InventoryRepository handles database operations for per-branch stock
type InventoryRepository struct {
	db *gorm.DB
}

// NewInventoryRepository creates a new inventory repository
func NewInventoryRepository(db *gorm.DB) *InventoryRepository {
	return &InventoryRepository{db: db}
}

// Upsert inserts or updates rows keyed by (product, branch)
func (r *InventoryRepository) Upsert(ctx context.Context, rows []models.ProductInventory) error {
	if len(rows) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "product_id"}, {Name: "branch_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"quantity", "unit", "last_synced_at", "updated_at"}),
	}).CreateInBatches(rows, inventoryUpsertBatch).Error
}

// Get retrieves the stock of one product at one branch
func (r *InventoryRepository) Get(ctx context.Context, productID, branchID uuid.UUID) (*models.ProductInventory, error) {
	var row models.ProductInventory
	err := r.db.WithContext(ctx).
		Where("product_id = ? AND branch_id = ?", productID, branchID).
		First(&row).Error
	if err != nil {
		return nil, translateError(err)
	}
	return &row, nil
}

// ListByBranch retrieves all stock rows of a branch
func (r *InventoryRepository) ListByBranch(ctx context.Context, branchID uuid.UUID) ([]models.ProductInventory, error) {
	var rows []models.ProductInventory
	if err := r.db.WithContext(ctx).Where("branch_id = ?", branchID).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// CountByBranch counts stock rows of a branch
func (r *InventoryRepository) CountByBranch(ctx context.Context, branchID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.ProductInventory{}).Where("branch_id = ?", branchID).Count(&count).Error
	return count, err
}
