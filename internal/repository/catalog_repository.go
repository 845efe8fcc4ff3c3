package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"pos-sync-service/internal/models"
)

// CatalogRepository handles database operations for categories and products
type CatalogRepository struct {
	db *gorm.DB
}

// NewCatalogRepository creates a new catalog repository
func NewCatalogRepository(db *gorm.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// ==================== Categories ====================

// CreateCategory creates a new category
func (r *CatalogRepository) CreateCategory(ctx context.Context, category *models.Category) error {
	return r.db.WithContext(ctx).Create(category).Error
}

// SaveCategory persists every field of an existing category
func (r *CatalogRepository) SaveCategory(ctx context.Context, category *models.Category) error {
	return r.db.WithContext(ctx).Save(category).Error
}

// GetCategoryByExternalID retrieves a category by its POS id
func (r *CatalogRepository) GetCategoryByExternalID(ctx context.Context, externalID string) (*models.Category, error) {
	var category models.Category
	if err := r.db.WithContext(ctx).First(&category, "external_id = ?", externalID).Error; err != nil {
		return nil, translateError(err)
	}
	return &category, nil
}

// ListCategories retrieves categories ordered for display
func (r *CatalogRepository) ListCategories(ctx context.Context, activeOnly bool) ([]models.Category, error) {
	var categories []models.Category
	query := r.db.WithContext(ctx)
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}
	if err := query.Order("sort_order ASC, name ASC").Find(&categories).Error; err != nil {
		return nil, err
	}
	return categories, nil
}

// CategoryIDsByExternalID maps POS category ids to local ids
func (r *CatalogRepository) CategoryIDsByExternalID(ctx context.Context) (map[string]uuid.UUID, error) {
	var rows []struct {
		ID         uuid.UUID
		ExternalID string
	}
	if err := r.db.WithContext(ctx).Model(&models.Category{}).Select("id, external_id").Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]uuid.UUID, len(rows))
	for _, row := range rows {
		out[row.ExternalID] = row.ID
	}
	return out, nil
}

// ==================== Products ====================

// CreateProduct creates a new product
func (r *CatalogRepository) CreateProduct(ctx context.Context, product *models.Product) error {
	return r.db.WithContext(ctx).Create(product).Error
}

// SaveProduct persists every field of an existing product
func (r *CatalogRepository) SaveProduct(ctx context.Context, product *models.Product) error {
	return r.db.WithContext(ctx).Omit("Category").Save(product).Error
}

// GetProductByID retrieves a product by ID
func (r *CatalogRepository) GetProductByID(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var product models.Product
	if err := r.db.WithContext(ctx).First(&product, "id = ?", id).Error; err != nil {
		return nil, translateError(err)
	}
	return &product, nil
}

// GetProductByExternalID retrieves a product by its POS id
func (r *CatalogRepository) GetProductByExternalID(ctx context.Context, externalID string) (*models.Product, error) {
	var product models.Product
	if err := r.db.WithContext(ctx).First(&product, "external_id = ?", externalID).Error; err != nil {
		return nil, translateError(err)
	}
	return &product, nil
}

// GetProductsByIDs retrieves products keyed by ID. Missing IDs are absent from the map.
func (r *CatalogRepository) GetProductsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.Product, error) {
	out := make(map[uuid.UUID]*models.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var products []models.Product
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&products).Error; err != nil {
		return nil, err
	}
	for i := range products {
		out[products[i].ID] = &products[i]
	}
	return out, nil
}

// ListPOSProducts retrieves every product mirrored from the POS, keyed by external id
func (r *CatalogRepository) ListPOSProducts(ctx context.Context) (map[string]*models.Product, error) {
	var products []models.Product
	if err := r.db.WithContext(ctx).Where("external_id IS NOT NULL").Find(&products).Error; err != nil {
		return nil, err
	}
	out := make(map[string]*models.Product, len(products))
	for i := range products {
		out[*products[i].ExternalID] = &products[i]
	}
	return out, nil
}

// ListActiveProducts retrieves every active product
func (r *CatalogRepository) ListActiveProducts(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	if err := r.db.WithContext(ctx).Where("is_active = ?", true).Order("name ASC").Find(&products).Error; err != nil {
		return nil, err
	}
	return products, nil
}

// ListProducts retrieves products with pagination
func (r *CatalogRepository) ListProducts(ctx context.Context, activeOnly bool, opts ListOptions) ([]models.Product, int64, error) {
	var products []models.Product
	var total int64

	query := r.db.WithContext(ctx).Model(&models.Product{})
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if opts.Limit > 0 {
		query = query.Limit(opts.Limit).Offset(opts.Offset)
	}
	if err := query.Order("name ASC").Find(&products).Error; err != nil {
		return nil, 0, err
	}
	return products, total, nil
}
