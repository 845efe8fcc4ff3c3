package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"pos-sync-service/internal/models"
)

// BranchRepository handles database operations for branches
type BranchRepository struct {
	db *gorm.DB
}

// NewBranchRepository creates a new branch repository
func NewBranchRepository(db *gorm.DB) *BranchRepository {
	return &BranchRepository{db: db}
}

// Create creates a new branch
func (r *BranchRepository) Create(ctx context.Context, branch *models.Branch) error {
	return r.db.WithContext(ctx).Create(branch).Error
}

// Save persists every field of an existing branch
func (r *BranchRepository) Save(ctx context.Context, branch *models.Branch) error {
	return r.db.WithContext(ctx).Save(branch).Error
}

// GetByID retrieves a branch by ID
func (r *BranchRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Branch, error) {
	var branch models.Branch
	if err := r.db.WithContext(ctx).First(&branch, "id = ?", id).Error; err != nil {
		return nil, translateError(err)
	}
	return &branch, nil
}

// GetByExternalID retrieves a branch by its POS storage id
func (r *BranchRepository) GetByExternalID(ctx context.Context, externalID string) (*models.Branch, error) {
	var branch models.Branch
	if err := r.db.WithContext(ctx).First(&branch, "external_id = ?", externalID).Error; err != nil {
		return nil, translateError(err)
	}
	return &branch, nil
}

// List retrieves all branches, optionally only active ones
func (r *BranchRepository) List(ctx context.Context, activeOnly bool) ([]models.Branch, error) {
	var branches []models.Branch
	query := r.db.WithContext(ctx).Order("name ASC")
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}
	if err := query.Find(&branches).Error; err != nil {
		return nil, err
	}
	return branches, nil
}

// DeactivateMissing deactivates active branches whose external id is not in keep
func (r *BranchRepository) DeactivateMissing(ctx context.Context, keep []string) (int64, error) {
	query := r.db.WithContext(ctx).
		Model(&models.Branch{}).
		Where("is_active = ?", true)
	if len(keep) > 0 {
		query = query.Where("external_id NOT IN ?", keep)
	}
	result := query.Updates(map[string]interface{}{
		"is_active":  false,
		"updated_at": time.Now(),
	})
	return result.RowsAffected, result.Error
}
