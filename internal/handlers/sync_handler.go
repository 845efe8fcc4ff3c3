package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"pos-sync-service/internal/models"
	"pos-sync-service/internal/repository"
	"pos-sync-service/internal/services"
)

// SyncHandler handles operator sync endpoints
type SyncHandler struct {
	service *services.SyncService
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(service *services.SyncService) *SyncHandler {
	return &SyncHandler{service: service}
}

// RunFullSync syncs branches, categories and products
func (h *SyncHandler) RunFullSync(c *gin.Context) {
	summary, err := h.service.RunFullSync(c.Request.Context(), models.TriggerManual)
	respondSync(c, summary, err)
}

// RunProductsSync syncs products only
func (h *SyncHandler) RunProductsSync(c *gin.Context) {
	summary, err := h.service.RunProductsSync(c.Request.Context(), models.TriggerManual)
	respondSync(c, summary, err)
}

// RunPricesSync updates prices of existing products
func (h *SyncHandler) RunPricesSync(c *gin.Context) {
	summary, err := h.service.RunPricesSync(c.Request.Context(), models.TriggerManual)
	respondSync(c, summary, err)
}

// RunImagesSync updates product images
func (h *SyncHandler) RunImagesSync(c *gin.Context) {
	summary, err := h.service.RunImagesSync(c.Request.Context(), models.TriggerManual)
	respondSync(c, summary, err)
}

// RunInventorySync reconciles stock; ?mode=full|quick
func (h *SyncHandler) RunInventorySync(c *gin.Context) {
	mode, err := services.ParseInventoryMode(c.Query("mode"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	summary, err := h.service.RunInventorySync(c.Request.Context(), mode, models.TriggerManual)
	respondSync(c, summary, err)
}

// RunBranchInventorySync reconciles stock of one branch; ?mode=full|quick
func (h *SyncHandler) RunBranchInventorySync(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	mode, err := services.ParseInventoryMode(c.Query("mode"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	summary, err := h.service.RunBranchInventorySync(c.Request.Context(), id, mode, models.TriggerManual)
	if summary == nil && errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "branch not found"})
		return
	}
	respondSync(c, summary, err)
}

// ListRuns returns sync runs, newest first
func (h *SyncHandler) ListRuns(c *gin.Context) {
	opts := repository.SyncListOptions{
		Kind:   c.Query("kind"),
		Status: c.Query("status"),
		Limit:  50,
	}
	if limit := c.Query("limit"); limit != "" {
		if l, err := strconv.Atoi(limit); err == nil && l > 0 && l <= 200 {
			opts.Limit = l
		}
	}
	if offset := c.Query("offset"); offset != "" {
		if o, err := strconv.Atoi(offset); err == nil && o >= 0 {
			opts.Offset = o
		}
	}

	runs, total, err := h.service.ListRuns(c.Request.Context(), opts)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":   runs,
		"total":  total,
		"limit":  opts.Limit,
		"offset": opts.Offset,
	})
}

// ListStuckRuns returns runs that have been running for too long
func (h *SyncHandler) ListStuckRuns(c *gin.Context) {
	runs, err := h.service.ListStuckRuns(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": runs, "total": len(runs)})
}

// GetRun returns a single sync run
func (h *SyncHandler) GetRun(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	run, err := h.service.GetRun(c.Request.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "sync run not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": run})
}

// GetStats returns sync statistics
func (h *SyncHandler) GetStats(c *gin.Context) {
	stats, err := h.service.GetStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": stats})
}

// respondSync writes a sync outcome. A run that was recorded but failed is
// reported as 502 with the run attached.
func respondSync(c *gin.Context, summary *services.SyncSummary, err error) {
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"data": summary})
	case errors.Is(err, services.ErrSyncInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case summary != nil:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "data": summary})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
