package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"pos-sync-service/internal/models"
	"pos-sync-service/internal/repository"
)

// OrderDispatcher hands a persisted order to the POS without blocking
type OrderDispatcher interface {
	DispatchInBackground(orderID uuid.UUID)
}

// PlaceOrderItem is one requested line
type PlaceOrderItem struct {
	ProductID uuid.UUID `json:"productId"`
	Quantity  int       `json:"quantity"`
}

// PlaceOrderRequest contains the data for placing a storefront order
type PlaceOrderRequest struct {
	BranchID          uuid.UUID              `json:"branchId"`
	FulfillmentMode   models.FulfillmentMode `json:"fulfillmentMode"`
	CustomerName      string                 `json:"customerName"`
	CustomerPhone     string                 `json:"customerPhone"`
	DeliveryAddress   string                 `json:"deliveryAddress"`
	CallbackRequested bool                   `json:"callbackRequested"`
	Note              string                 `json:"note"`
	Items             []PlaceOrderItem       `json:"items"`
}

// OrderService places storefront orders
type OrderService struct {
	orderRepo   *repository.OrderRepository
	catalogRepo *repository.CatalogRepository
	branchRepo  *repository.BranchRepository
	dispatcher  OrderDispatcher
	deliveryFee decimal.Decimal
	logger      *logrus.Entry
	now         func() time.Time
}

// NewOrderService creates a new order service
func NewOrderService(
	orderRepo *repository.OrderRepository,
	catalogRepo *repository.CatalogRepository,
	branchRepo *repository.BranchRepository,
	dispatcher OrderDispatcher,
	deliveryFee decimal.Decimal,
	logger *logrus.Logger,
) *OrderService {
	return &OrderService{
		orderRepo:   orderRepo,
		catalogRepo: catalogRepo,
		branchRepo:  branchRepo,
		dispatcher:  dispatcher,
		deliveryFee: deliveryFee,
		logger:      logger.WithField("component", "order_service"),
		now:         time.Now,
	}
}

// PlaceOrder validates and persists an order, then dispatches it to the POS in
// the background. The order is created regardless of POS availability.
func (s *OrderService) PlaceOrder(ctx context.Context, req *PlaceOrderRequest) (*models.Order, error) {
	if err := validateOrderRequest(req); err != nil {
		return nil, err
	}

	branch, err := s.branchRepo.GetByID(ctx, req.BranchID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: unknown branch", ErrInvalidOrder)
	}
	if err != nil {
		return nil, err
	}
	if !branch.IsActive {
		return nil, fmt.Errorf("%w: branch is closed", ErrInvalidOrder)
	}
	if req.FulfillmentMode == models.FulfillmentDelivery && !branch.DeliveryAvailable {
		return nil, fmt.Errorf("%w: branch does not deliver", ErrInvalidOrder)
	}
	if req.FulfillmentMode == models.FulfillmentPickup && !branch.PickupAvailable {
		return nil, fmt.Errorf("%w: branch does not offer pickup", ErrInvalidOrder)
	}

	ids := make([]uuid.UUID, 0, len(req.Items))
	for _, item := range req.Items {
		ids = append(ids, item.ProductID)
	}
	products, err := s.catalogRepo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load products: %w", err)
	}

	order := &models.Order{
		OrderNumber:       s.orderNumber(),
		BranchID:          branch.ID,
		FulfillmentMode:   req.FulfillmentMode,
		Status:            models.OrderStatusPending,
		CustomerName:      strings.TrimSpace(req.CustomerName),
		CustomerPhone:     strings.TrimSpace(req.CustomerPhone),
		CallbackRequested: req.CallbackRequested,
		Note:              strings.TrimSpace(req.Note),
		Subtotal:          decimal.Zero,
		DeliveryFee:       decimal.Zero,
	}
	if req.FulfillmentMode == models.FulfillmentDelivery {
		order.DeliveryAddress = strings.TrimSpace(req.DeliveryAddress)
		order.DeliveryFee = s.deliveryFee
	}

	for _, item := range req.Items {
		product := products[item.ProductID]
		if product == nil || !product.IsActive {
			return nil, fmt.Errorf("%w: product %s is not available", ErrInvalidOrder, item.ProductID)
		}

		line := models.OrderItem{
			ProductID:   product.ID,
			ProductName: productTitle(product),
			Quantity:    item.Quantity,
		}
		if product.IsBundle() {
			line.UnitPrice = product.Price
		} else {
			line.CustomQuantity = frozenQuantity(product.CustomQuantity)
			line.UnitPrice = DisplayPrice(product.Price, line.CustomQuantity)
		}
		line.LineTotal = line.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))).Round(2)

		order.Subtotal = order.Subtotal.Add(line.LineTotal)
		order.Items = append(order.Items, line)
	}
	order.Total = order.Subtotal.Add(order.DeliveryFee)

	if err := s.orderRepo.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"order_id":     order.ID,
		"order_number": order.OrderNumber,
		"branch_id":    branch.ID,
		"items":        len(order.Items),
		"total":        order.Total.String(),
	}).Info("Order placed")

	if s.dispatcher != nil {
		s.dispatcher.DispatchInBackground(order.ID)
	}
	return order, nil
}

// GetOrder retrieves an order with its items
func (s *OrderService) GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return s.orderRepo.GetByID(ctx, id)
}

// ListUndispatched lists orders not yet mirrored in the POS
func (s *OrderService) ListUndispatched(ctx context.Context, opts repository.ListOptions) ([]models.Order, error) {
	return s.orderRepo.ListUndispatched(ctx, opts)
}

func validateOrderRequest(req *PlaceOrderRequest) error {
	if req == nil || len(req.Items) == 0 {
		return fmt.Errorf("%w: no items", ErrInvalidOrder)
	}
	if strings.TrimSpace(req.CustomerPhone) == "" {
		return fmt.Errorf("%w: phone is required", ErrInvalidOrder)
	}
	switch req.FulfillmentMode {
	case models.FulfillmentPickup:
	case models.FulfillmentDelivery:
		if strings.TrimSpace(req.DeliveryAddress) == "" {
			return fmt.Errorf("%w: delivery address is required", ErrInvalidOrder)
		}
	default:
		return fmt.Errorf("%w: unknown fulfillment mode %q", ErrInvalidOrder, req.FulfillmentMode)
	}
	for _, item := range req.Items {
		if item.Quantity < 1 {
			return fmt.Errorf("%w: quantity must be positive", ErrInvalidOrder)
		}
	}
	return nil
}

// frozenQuantity copies a product's custom quantity onto an order item so
// later product edits do not change the order
func frozenQuantity(q *models.CustomQuantity) *models.CustomQuantity {
	if q == nil {
		return nil
	}
	c := *q
	return &c
}

func productTitle(p *models.Product) string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.Name
}

func (s *OrderService) orderNumber() string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
	return fmt.Sprintf("ORD-%s-%s", s.now().Format("20060102"), suffix)
}
