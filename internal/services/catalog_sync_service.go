package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"pos-sync-service/internal/clients"
	"pos-sync-service/internal/models"
	"pos-sync-service/internal/repository"
)

// EntityStats counts the outcome of syncing one entity type
type EntityStats struct {
	Created     int `json:"created"`
	Updated     int `json:"updated"`
	Unchanged   int `json:"unchanged"`
	Skipped     int `json:"skipped"`
	Deactivated int `json:"deactivated"`
	Failed      int `json:"failed"`
}

// Total is the number of records mirrored from the POS
func (s EntityStats) Total() int {
	return s.Created + s.Updated + s.Unchanged
}

// CatalogSyncResult is the outcome of a full catalog sync
type CatalogSyncResult struct {
	Branches   EntityStats `json:"branches"`
	Categories EntityStats `json:"categories"`
	Products   EntityStats `json:"products"`
}

// Total is the number of records mirrored across all entity types
func (r *CatalogSyncResult) Total() int {
	return r.Branches.Total() + r.Categories.Total() + r.Products.Total()
}

// CatalogMergeEngine upserts branches, categories and products keyed by their
// POS identifiers. POS-sourced fields are overwritten; locally curated fields
// are only filled while empty.
type CatalogMergeEngine struct {
	pos          clients.POSClient
	branchRepo   *repository.BranchRepository
	catalogRepo  *repository.CatalogRepository
	imageBaseURL string
	logger       *logrus.Entry
	now          func() time.Time
}

// NewCatalogMergeEngine creates a new catalog merge engine
func NewCatalogMergeEngine(
	pos clients.POSClient,
	branchRepo *repository.BranchRepository,
	catalogRepo *repository.CatalogRepository,
	imageBaseURL string,
	logger *logrus.Logger,
) *CatalogMergeEngine {
	return &CatalogMergeEngine{
		pos:          pos,
		branchRepo:   branchRepo,
		catalogRepo:  catalogRepo,
		imageBaseURL: imageBaseURL,
		logger:       logger.WithField("component", "catalog_merge"),
		now:          time.Now,
	}
}

// SyncCatalog runs branches, categories and products in order. A remote
// failure stops the sync; the counts gathered so far are returned with it.
func (e *CatalogMergeEngine) SyncCatalog(ctx context.Context) (*CatalogSyncResult, error) {
	result := &CatalogSyncResult{}
	var err error

	if result.Branches, err = e.SyncBranches(ctx); err != nil {
		return result, err
	}
	if result.Categories, err = e.SyncCategories(ctx); err != nil {
		return result, err
	}
	if result.Products, err = e.SyncProducts(ctx); err != nil {
		return result, err
	}
	return result, nil
}

// SyncBranches mirrors POS storages as branches and deactivates branches the
// POS no longer lists.
func (e *CatalogMergeEngine) SyncBranches(ctx context.Context) (EntityStats, error) {
	var stats EntityStats

	storages, err := e.pos.GetStorages(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to fetch storages: %w", err)
	}

	now := e.now()
	keep := make([]string, 0, len(storages))
	for _, storage := range storages {
		externalID := NormalizeExternalRef(storage.ID)
		if externalID == "" {
			stats.Skipped++
			continue
		}
		if !storage.Deleted {
			keep = append(keep, externalID)
		}

		local, err := e.branchRepo.GetByExternalID(ctx, externalID)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			if storage.Deleted {
				stats.Skipped++
				continue
			}
			branch := &models.Branch{
				ExternalID:        externalID,
				Name:              storage.Name,
				Address:           storage.Address,
				DeliveryAvailable: true,
				PickupAvailable:   true,
				IsActive:          true,
				LastSyncedAt:      &now,
			}
			if err := e.branchRepo.Create(ctx, branch); err != nil {
				e.logger.WithError(err).WithField("storage_id", externalID).Error("Failed to create branch")
				stats.Failed++
				continue
			}
			stats.Created++
		case err != nil:
			e.logger.WithError(err).WithField("storage_id", externalID).Error("Failed to load branch")
			stats.Failed++
		default:
			if !mergeBranch(local, storage) {
				stats.Unchanged++
				continue
			}
			local.LastSyncedAt = &now
			if err := e.branchRepo.Save(ctx, local); err != nil {
				e.logger.WithError(err).WithField("storage_id", externalID).Error("Failed to update branch")
				stats.Failed++
				continue
			}
			stats.Updated++
		}
	}

	// An empty list is treated as a POS glitch rather than every branch closing
	if len(storages) > 0 {
		deactivated, err := e.branchRepo.DeactivateMissing(ctx, keep)
		if err != nil {
			return stats, fmt.Errorf("failed to deactivate missing branches: %w", err)
		}
		stats.Deactivated = int(deactivated)
	}

	e.logger.WithFields(statsFields(stats)).Info("Branches synced")
	return stats, nil
}

func mergeBranch(local *models.Branch, remote clients.POSStorage) bool {
	changed := false
	if local.Name != remote.Name {
		local.Name = remote.Name
		changed = true
	}
	if local.Address != remote.Address {
		local.Address = remote.Address
		changed = true
	}
	if active := !remote.Deleted; local.IsActive != active {
		local.IsActive = active
		changed = true
	}
	return changed
}

// SyncCategories upserts POS menu categories. Description and image are local.
func (e *CatalogMergeEngine) SyncCategories(ctx context.Context) (EntityStats, error) {
	var stats EntityStats

	categories, err := e.pos.GetCategories(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to fetch categories: %w", err)
	}

	now := e.now()
	for _, remote := range categories {
		externalID := NormalizeExternalRef(remote.ID)
		if externalID == "" {
			stats.Skipped++
			continue
		}

		local, err := e.catalogRepo.GetCategoryByExternalID(ctx, externalID)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			category := &models.Category{
				ExternalID:   externalID,
				Name:         remote.Name,
				DisplayName:  remote.Name,
				SortOrder:    remote.SortOrder,
				IsActive:     !remote.Hidden,
				LastSyncedAt: &now,
			}
			if err := e.catalogRepo.CreateCategory(ctx, category); err != nil {
				e.logger.WithError(err).WithField("category_id", externalID).Error("Failed to create category")
				stats.Failed++
				continue
			}
			stats.Created++
		case err != nil:
			e.logger.WithError(err).WithField("category_id", externalID).Error("Failed to load category")
			stats.Failed++
		default:
			if !mergeCategory(local, remote) {
				stats.Unchanged++
				continue
			}
			local.LastSyncedAt = &now
			if err := e.catalogRepo.SaveCategory(ctx, local); err != nil {
				e.logger.WithError(err).WithField("category_id", externalID).Error("Failed to update category")
				stats.Failed++
				continue
			}
			stats.Updated++
		}
	}

	e.logger.WithFields(statsFields(stats)).Info("Categories synced")
	return stats, nil
}

func mergeCategory(local *models.Category, remote clients.POSCategory) bool {
	changed := false
	if local.Name != remote.Name {
		local.Name = remote.Name
		changed = true
	}
	if local.SortOrder != remote.SortOrder {
		local.SortOrder = remote.SortOrder
		changed = true
	}
	if active := !remote.Hidden; local.IsActive != active {
		local.IsActive = active
		changed = true
	}
	if local.DisplayName == "" && remote.Name != "" {
		local.DisplayName = remote.Name
		changed = true
	}
	return changed
}

// SyncProducts upserts POS products against the categories already stored.
// Products whose category is unknown locally are skipped.
func (e *CatalogMergeEngine) SyncProducts(ctx context.Context) (EntityStats, error) {
	var stats EntityStats

	categoryIDs, err := e.catalogRepo.CategoryIDsByExternalID(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to load categories: %w", err)
	}
	remote, err := e.pos.GetProducts(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to fetch products: %w", err)
	}
	local, err := e.catalogRepo.ListPOSProducts(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to load products: %w", err)
	}

	now := e.now()
	for _, p := range remote {
		externalID := NormalizeExternalRef(p.ID)
		if externalID == "" {
			stats.Skipped++
			continue
		}
		log := e.logger.WithFields(logrus.Fields{"product_id": externalID, "name": p.Name})

		existing := local[externalID]
		n := NormalizeProduct(p, existing != nil && existing.CustomQuantity != nil)

		categoryID, ok := categoryIDs[n.CategoryExternalID]
		if n.CategoryExternalID == "" || !ok {
			log.WithField("category_id", n.CategoryExternalID).Warn("Skipping product with unknown category")
			stats.Skipped++
			continue
		}
		imageURL := e.imageURL(n.PhotoPath)

		if existing == nil {
			product := newProduct(n, categoryID, imageURL, now)
			if err := e.catalogRepo.CreateProduct(ctx, product); err != nil {
				log.WithError(err).Error("Failed to create product")
				stats.Failed++
				continue
			}
			local[externalID] = product
			stats.Created++
			continue
		}

		if n.Price.IsZero() && !existing.Price.IsZero() {
			log.Warn("POS price is empty, keeping stored price")
			n.Price = existing.Price
		}
		if !mergeProduct(existing, n, categoryID, imageURL) {
			stats.Unchanged++
			continue
		}
		existing.LastSyncedAt = &now
		if err := e.catalogRepo.SaveProduct(ctx, existing); err != nil {
			log.WithError(err).Error("Failed to update product")
			stats.Failed++
			continue
		}
		stats.Updated++
	}

	e.logger.WithFields(statsFields(stats)).Info("Products synced")
	return stats, nil
}

func newProduct(n NormalizedProduct, categoryID uuid.UUID, imageURL string, now time.Time) *models.Product {
	externalID := n.ExternalID
	return &models.Product{
		ExternalID:     &externalID,
		IngredientID:   optionalString(n.IngredientID),
		CategoryID:     &categoryID,
		Name:           n.Name,
		Slug:           Slugify(n.Name),
		Price:          n.Price,
		Classification: n.Classification,
		IsActive:       n.IsActive,
		ImageURL:       imageURL,
		Attributes:     n.Attributes,
		CustomQuantity: n.DefaultQuantity,
		LastSyncedAt:   &now,
	}
}

// mergeProduct applies a normalized POS product onto a stored one and reports
// whether anything changed. Bundle, display name and a set custom quantity or
// slug are never overwritten.
func mergeProduct(local *models.Product, n NormalizedProduct, categoryID uuid.UUID, imageURL string) bool {
	changed := false

	if local.Name != n.Name {
		local.Name = n.Name
		changed = true
	}
	if applyPrice(local, n.Price) {
		changed = true
	}
	if local.IsActive != n.IsActive {
		local.IsActive = n.IsActive
		changed = true
	}
	if imageURL != "" && local.ImageURL != imageURL {
		local.ImageURL = imageURL
		changed = true
	}
	if local.CategoryID == nil || *local.CategoryID != categoryID {
		local.CategoryID = &categoryID
		changed = true
	}
	if stringValue(local.IngredientID) != n.IngredientID {
		local.IngredientID = optionalString(n.IngredientID)
		changed = true
	}
	if local.Classification != n.Classification {
		local.Classification = n.Classification
		changed = true
	}
	if !sameJSON(local.Attributes, n.Attributes) {
		local.Attributes = n.Attributes
		changed = true
	}

	// Fill-if-empty
	if local.CustomQuantity == nil && n.DefaultQuantity != nil && !local.IsBundle() {
		local.CustomQuantity = n.DefaultQuantity
		changed = true
	}
	if local.Slug == "" {
		if slug := Slugify(n.Name); slug != "" {
			local.Slug = slug
			changed = true
		}
	}

	return changed
}

// applyPrice sets a new price and tracks sales: a drop keeps the previous
// price as the original, a price at or above the original clears it.
func applyPrice(p *models.Product, price decimal.Decimal) bool {
	if p.Price.Equal(price) {
		return false
	}

	switch {
	case p.OriginalPrice.Valid && !price.LessThan(p.OriginalPrice.Decimal):
		p.OriginalPrice = decimal.NullDecimal{}
	case price.LessThan(p.Price) && !p.OriginalPrice.Valid:
		p.OriginalPrice = decimal.NewNullDecimal(p.Price)
	}
	p.Price = price
	return true
}

// SyncPrices updates the price of existing products only
func (e *CatalogMergeEngine) SyncPrices(ctx context.Context) (EntityStats, error) {
	var stats EntityStats

	remote, err := e.pos.GetProducts(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to fetch products: %w", err)
	}
	local, err := e.catalogRepo.ListPOSProducts(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to load products: %w", err)
	}

	now := e.now()
	for _, p := range remote {
		existing := local[NormalizeExternalRef(p.ID)]
		if existing == nil {
			stats.Skipped++
			continue
		}

		price := NormalizeProduct(p, existing.CustomQuantity != nil).Price
		if price.IsZero() && !existing.Price.IsZero() {
			e.logger.WithField("product_id", p.ID).Warn("POS price is empty, keeping stored price")
			stats.Skipped++
			continue
		}
		if !applyPrice(existing, price) {
			stats.Unchanged++
			continue
		}
		existing.LastSyncedAt = &now
		if err := e.catalogRepo.SaveProduct(ctx, existing); err != nil {
			e.logger.WithError(err).WithField("product_id", p.ID).Error("Failed to update product price")
			stats.Failed++
			continue
		}
		stats.Updated++
	}

	e.logger.WithFields(statsFields(stats)).Info("Prices synced")
	return stats, nil
}

// SyncImages updates the image reference of existing products that have a POS photo
func (e *CatalogMergeEngine) SyncImages(ctx context.Context) (EntityStats, error) {
	var stats EntityStats

	remote, err := e.pos.GetProducts(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to fetch products: %w", err)
	}
	local, err := e.catalogRepo.ListPOSProducts(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to load products: %w", err)
	}

	now := e.now()
	for _, p := range remote {
		existing := local[NormalizeExternalRef(p.ID)]
		imageURL := e.imageURL(strings.TrimSpace(p.PhotoPath))
		if existing == nil || imageURL == "" {
			stats.Skipped++
			continue
		}
		if existing.ImageURL == imageURL {
			stats.Unchanged++
			continue
		}
		existing.ImageURL = imageURL
		existing.LastSyncedAt = &now
		if err := e.catalogRepo.SaveProduct(ctx, existing); err != nil {
			e.logger.WithError(err).WithField("product_id", p.ID).Error("Failed to update product image")
			stats.Failed++
			continue
		}
		stats.Updated++
	}

	e.logger.WithFields(statsFields(stats)).Info("Images synced")
	return stats, nil
}

// imageURL resolves a POS photo path against the image host
func (e *CatalogMergeEngine) imageURL(path string) string {
	if path == "" {
		return ""
	}
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") || e.imageBaseURL == "" {
		return path
	}
	return strings.TrimRight(e.imageBaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

func statsFields(s EntityStats) logrus.Fields {
	return logrus.Fields{
		"created":     s.Created,
		"updated":     s.Updated,
		"unchanged":   s.Unchanged,
		"skipped":     s.Skipped,
		"deactivated": s.Deactivated,
		"failed":      s.Failed,
	}
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func sameJSON(a, b models.JSONB) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	ra, errA := json.Marshal(a)
	rb, errB := json.Marshal(b)
	return errA == nil && errB == nil && string(ra) == string(rb)
}
