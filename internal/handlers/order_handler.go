package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"pos-sync-service/internal/repository"
	"pos-sync-service/internal/services"
)

// OrderHandler handles storefront order endpoints
type OrderHandler struct {
	orders     *services.OrderService
	dispatcher *services.OrderDispatchEngine
}

// NewOrderHandler creates a new order handler
func NewOrderHandler(orders *services.OrderService, dispatcher *services.OrderDispatchEngine) *OrderHandler {
	return &OrderHandler{orders: orders, dispatcher: dispatcher}
}

// PlaceOrder creates an order. The POS dispatch runs in the background.
func (h *OrderHandler) PlaceOrder(c *gin.Context) {
	var req services.PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := h.orders.PlaceOrder(c.Request.Context(), &req)
	if errors.Is(err, services.ErrInvalidOrder) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": order})
}

// GetOrder returns an order with its items
func (h *OrderHandler) GetOrder(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	order, err := h.orders.GetOrder(c.Request.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": order})
}

// ListUndispatched returns orders not yet mirrored in the POS
func (h *OrderHandler) ListUndispatched(c *gin.Context) {
	orders, err := h.orders.ListUndispatched(c.Request.Context(), repository.ListOptions{Limit: 100})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": orders, "total": len(orders)})
}

// DispatchOrder sends an order to the POS synchronously. The POS call is not
// cancelled when the client disconnects.
func (h *OrderHandler) DispatchOrder(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	result, err := h.dispatcher.DispatchOrder(context.WithoutCancel(c.Request.Context()), id)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"data": result})
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
	case errors.Is(err, services.ErrOrderNotDispatchable), errors.Is(err, services.ErrDispatchInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrNoValidLineItems), errors.Is(err, services.ErrUnresolvedBundleComponent):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	}
}
