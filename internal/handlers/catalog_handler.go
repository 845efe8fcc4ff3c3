package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"pos-sync-service/internal/models"
	"pos-sync-service/internal/repository"
	"pos-sync-service/internal/services"
)

// CatalogHandler serves the synced catalog to the storefront
type CatalogHandler struct {
	branchRepo    *repository.BranchRepository
	catalogRepo   *repository.CatalogRepository
	inventoryRepo *repository.InventoryRepository
}

// NewCatalogHandler creates a new catalog handler
func NewCatalogHandler(
	branchRepo *repository.BranchRepository,
	catalogRepo *repository.CatalogRepository,
	inventoryRepo *repository.InventoryRepository,
) *CatalogHandler {
	return &CatalogHandler{
		branchRepo:    branchRepo,
		catalogRepo:   catalogRepo,
		inventoryRepo: inventoryRepo,
	}
}

// ProductView is a product with the price of one orderable unit
type ProductView struct {
	models.Product
	DisplayPrice decimal.Decimal `json:"displayPrice"`
}

func includeHidden(c *gin.Context) bool {
	return c.Query("all") == "true"
}

func productView(p models.Product) ProductView {
	return ProductView{Product: p, DisplayPrice: services.DisplayPrice(p.Price, p.CustomQuantity)}
}

// ListBranches returns active branches
func (h *CatalogHandler) ListBranches(c *gin.Context) {
	branches, err := h.branchRepo.List(c.Request.Context(), !includeHidden(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": branches, "total": len(branches)})
}

// ListCategories returns active categories; ?all=true includes hidden ones
func (h *CatalogHandler) ListCategories(c *gin.Context) {
	categories, err := h.catalogRepo.ListCategories(c.Request.Context(), !includeHidden(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": categories, "total": len(categories)})
}

// ListProducts returns active products with pagination; ?all=true includes hidden ones
func (h *CatalogHandler) ListProducts(c *gin.Context) {
	opts := repository.ListOptions{Limit: 50}
	if limit := c.Query("limit"); limit != "" {
		if l, err := strconv.Atoi(limit); err == nil && l > 0 && l <= 500 {
			opts.Limit = l
		}
	}
	if offset := c.Query("offset"); offset != "" {
		if o, err := strconv.Atoi(offset); err == nil && o >= 0 {
			opts.Offset = o
		}
	}

	products, total, err := h.catalogRepo.ListProducts(c.Request.Context(), !includeHidden(c), opts)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	views := make([]ProductView, 0, len(products))
	for _, p := range products {
		views = append(views, productView(p))
	}

	c.JSON(http.StatusOK, gin.H{
		"data":   views,
		"total":  total,
		"limit":  opts.Limit,
		"offset": opts.Offset,
	})
}

// GetProduct returns a single product
func (h *CatalogHandler) GetProduct(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	product, err := h.catalogRepo.GetProductByID(c.Request.Context(), id)
	if err == nil && !product.IsActive && !includeHidden(c) {
		err = repository.ErrNotFound
	}
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "product not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": productView(*product)})
}

// GetBranchInventory returns the stock rows of a branch. Products without a
// row have zero stock.
func (h *CatalogHandler) GetBranchInventory(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	if _, err := h.branchRepo.GetByID(c.Request.Context(), id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "branch not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	rows, err := h.inventoryRepo.ListByBranch(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": rows, "total": len(rows)})
}
