package services

import (
	"context"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"pos-sync-service/internal/clients"
	"pos-sync-service/internal/models"
	"pos-sync-service/internal/repository"
)

// DispatchResult is the outcome of sending an order to the POS
type DispatchResult struct {
	OrderID           uuid.UUID              `json:"orderId"`
	POSOrderID        string                 `json:"posOrderId"`
	Status            models.OrderStatus     `json:"status"`
	Lines             []clients.POSOrderLine `json:"lines,omitempty"`
	Dropped           []uuid.UUID            `json:"dropped,omitempty"`
	AlreadyDispatched bool                   `json:"alreadyDispatched"`
}

// OrderDispatchEngine mirrors locally placed orders into the POS as incoming
// orders. It only reads products and only writes dispatch fields of orders.
type OrderDispatchEngine struct {
	pos         clients.POSClient
	orderRepo   *repository.OrderRepository
	catalogRepo *repository.CatalogRepository
	branchRepo  *repository.BranchRepository
	timeout     time.Duration
	logger      *logrus.Entry
}

// NewOrderDispatchEngine creates a new dispatch engine. timeout bounds the POS call.
func NewOrderDispatchEngine(
	pos clients.POSClient,
	orderRepo *repository.OrderRepository,
	catalogRepo *repository.CatalogRepository,
	branchRepo *repository.BranchRepository,
	timeout time.Duration,
	logger *logrus.Logger,
) *OrderDispatchEngine {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &OrderDispatchEngine{
		pos:         pos,
		orderRepo:   orderRepo,
		catalogRepo: catalogRepo,
		branchRepo:  branchRepo,
		timeout:     timeout,
		logger:      logger.WithField("component", "order_dispatch"),
	}
}

// DispatchInBackground dispatches an order without blocking the caller.
// Failures are logged and left on the order for a manual re-dispatch.
func (e *OrderDispatchEngine) DispatchInBackground(orderID uuid.UUID) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*e.timeout)
		defer cancel()

		if _, err := e.DispatchOrder(ctx, orderID); err != nil {
			e.logger.WithError(err).WithField("order_id", orderID).Warn("Background order dispatch failed")
		}
	}()
}

// DispatchOrder submits an order to the POS and records the POS order id.
// An order already mirrored in the POS is returned as is without resubmitting.
// Completed and cancelled orders are refused. The order is claimed before the
// POS call so concurrent dispatches of one order submit it at most once.
// On failure the order keeps its status, the claim is released and the error
// is returned.
func (e *OrderDispatchEngine) DispatchOrder(ctx context.Context, orderID uuid.UUID) (*DispatchResult, error) {
	order, err := e.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	log := e.logger.WithFields(logrus.Fields{"order_id": order.ID, "order_number": order.OrderNumber})

	if order.IsDispatched() {
		return alreadyDispatched(order), nil
	}
	if order.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: order %s is %s", ErrOrderNotDispatchable, order.OrderNumber, order.Status)
	}

	claimed, err := e.orderRepo.ClaimDispatch(ctx, order.ID, time.Now().Add(-e.claimTTL()))
	if err != nil {
		return nil, fmt.Errorf("failed to claim order %s for dispatch: %w", order.OrderNumber, err)
	}
	if !claimed {
		// Dispatched, cancelled or still in flight elsewhere
		current, err := e.orderRepo.GetByID(ctx, order.ID)
		if err != nil {
			return nil, err
		}
		if current.IsDispatched() {
			return alreadyDispatched(current), nil
		}
		if current.Status.IsTerminal() {
			return nil, fmt.Errorf("%w: order %s is %s", ErrOrderNotDispatchable, current.OrderNumber, current.Status)
		}
		return nil, fmt.Errorf("%w: order %s", ErrDispatchInProgress, order.OrderNumber)
	}

	payload, dropped, err := e.buildPayload(ctx, order)
	if err != nil {
		e.recordFailure(ctx, order, err)
		return nil, err
	}
	for _, id := range dropped {
		log.WithField("product_id", id).Warn("Order item has no POS mapping, left out of POS order")
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	created, err := e.pos.CreateIncomingOrder(callCtx, payload)
	if err != nil {
		err = fmt.Errorf("failed to submit order %s to POS: %w", order.OrderNumber, err)
		e.recordFailure(ctx, order, err)
		return nil, err
	}

	// Orders an operator already advanced keep their status
	var next models.OrderStatus
	status := order.Status
	if models.CanTransitionOrderStatus(order.Status, models.OrderStatusConfirmed) {
		next, status = models.OrderStatusConfirmed, models.OrderStatusConfirmed
	}
	if err := e.orderRepo.MarkDispatched(context.WithoutCancel(ctx), order.ID, created.IncomingOrderID, next); err != nil {
		log.WithError(err).WithField("pos_order_id", created.IncomingOrderID).Error("Order accepted by POS but not recorded locally")
		return nil, fmt.Errorf("failed to record POS order %s: %w", created.IncomingOrderID, err)
	}

	log.WithFields(logrus.Fields{
		"pos_order_id": created.IncomingOrderID,
		"lines":        len(payload.Products),
	}).Info("Order dispatched to POS")

	return &DispatchResult{
		OrderID:    order.ID,
		POSOrderID: created.IncomingOrderID,
		Status:     status,
		Lines:      payload.Products,
		Dropped:    dropped,
	}, nil
}

// claimTTL is how long a dispatch claim blocks other dispatches of the order
func (e *OrderDispatchEngine) claimTTL() time.Duration {
	return 3 * e.timeout
}

func alreadyDispatched(order *models.Order) *DispatchResult {
	return &DispatchResult{
		OrderID:           order.ID,
		POSOrderID:        *order.POSOrderID,
		Status:            order.Status,
		AlreadyDispatched: true,
	}
}

func (e *OrderDispatchEngine) recordFailure(ctx context.Context, order *models.Order, cause error) {
	if err := e.orderRepo.RecordDispatchFailure(context.WithoutCancel(ctx), order.ID, cause.Error()); err != nil {
		e.logger.WithError(err).WithField("order_id", order.ID).Error("Failed to record dispatch failure")
	}
}

func (e *OrderDispatchEngine) buildPayload(ctx context.Context, order *models.Order) (*clients.POSIncomingOrder, []uuid.UUID, error) {
	branch, err := e.branchRepo.GetByID(ctx, order.BranchID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load branch of order %s: %w", order.OrderNumber, err)
	}

	products, err := e.loadProducts(ctx, order.Items)
	if err != nil {
		return nil, nil, err
	}

	lines, dropped, err := ExpandOrderLines(order.Items, products)
	if err != nil {
		return nil, nil, err
	}

	payload := &clients.POSIncomingOrder{
		SpotID:      branch.ExternalID,
		FirstName:   order.CustomerName,
		Phone:       order.CustomerPhone,
		Comment:     BuildOrderComment(order),
		ServiceMode: clients.ServiceModeTakeaway,
		Products:    lines,
	}
	if order.FulfillmentMode == models.FulfillmentDelivery {
		payload.ServiceMode = clients.ServiceModeDelivery
		payload.Address = order.DeliveryAddress
	}
	return payload, dropped, nil
}

// loadProducts resolves the products of the items and of any bundle components
func (e *OrderDispatchEngine) loadProducts(ctx context.Context, items []models.OrderItem) (map[uuid.UUID]*models.Product, error) {
	ids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	products, err := e.catalogRepo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load order products: %w", err)
	}

	var components []uuid.UUID
	for _, p := range products {
		for _, c := range p.Bundle {
			if _, ok := products[c.ProductID]; !ok {
				components = append(components, c.ProductID)
			}
		}
	}
	if len(components) > 0 {
		more, err := e.catalogRepo.GetProductsByIDs(ctx, components)
		if err != nil {
			return nil, fmt.Errorf("failed to load bundle components: %w", err)
		}
		for id, p := range more {
			products[id] = p
		}
	}
	return products, nil
}

// ExpandOrderLines turns order items into POS lines. Bundles expand into
// their components scaled by the ordered count; items with a custom quantity
// convert into the POS reporting unit; lines for the same POS product are
// summed in first-seen order. Items without a POS mapping are returned as
// dropped. An unresolvable bundle component fails the whole expansion.
func ExpandOrderLines(items []models.OrderItem, products map[uuid.UUID]*models.Product) ([]clients.POSOrderLine, []uuid.UUID, error) {
	var (
		lines   []clients.POSOrderLine
		index   = make(map[string]int)
		dropped []uuid.UUID
	)
	add := func(posID string, count decimal.Decimal) {
		if i, ok := index[posID]; ok {
			lines[i].Count = lines[i].Count.Add(count)
			return
		}
		index[posID] = len(lines)
		lines = append(lines, clients.POSOrderLine{ProductID: posID, Count: count})
	}

	for _, item := range items {
		product := products[item.ProductID]
		if product == nil {
			dropped = append(dropped, item.ProductID)
			continue
		}

		if product.IsBundle() {
			ordered := decimal.NewFromInt(int64(item.Quantity))
			for _, c := range product.Bundle {
				component := products[c.ProductID]
				if component == nil || component.POSProductID() == "" {
					return nil, nil, fmt.Errorf("%w: %s in bundle %q", ErrUnresolvedBundleComponent, c.ProductID, product.Name)
				}
				add(component.POSProductID(), c.Quantity.Mul(ordered))
			}
			continue
		}

		posID := product.POSProductID()
		if posID == "" {
			dropped = append(dropped, item.ProductID)
			continue
		}
		add(posID, POSQuantity(item.Quantity, item.CustomQuantity))
	}

	if len(lines) == 0 {
		return nil, dropped, ErrNoValidLineItems
	}
	return lines, dropped, nil
}

const orderCommentPlaceholder = "Замовлення з сайту"

var orderCommentTemplate = template.Must(template.New("comment").Parse(
	`Замовлення {{.Number}}. {{if .Delivery}}Доставка: {{.Address}}{{else}}Самовивіз{{end}}. ` +
		`Передзвонити: {{if .Callback}}так{{else}}ні{{end}}.` +
		`{{with .Note}} Коментар: {{.}}{{end}}`))

type orderCommentData struct {
	Number   string
	Delivery bool
	Address  string
	Callback bool
	Note     string
}

// BuildOrderComment renders the human readable POS comment of an order. Any
// rendering failure degrades to a placeholder.
func BuildOrderComment(order *models.Order) (comment string) {
	defer func() {
		if r := recover(); r != nil {
			comment = orderCommentPlaceholder
		}
	}()

	data := orderCommentData{
		Number:   order.OrderNumber,
		Delivery: order.FulfillmentMode == models.FulfillmentDelivery,
		Address:  strings.TrimSpace(order.DeliveryAddress),
		Callback: order.CallbackRequested,
		Note:     strings.TrimSpace(order.Note),
	}

	var b strings.Builder
	if err := orderCommentTemplate.Execute(&b, data); err != nil {
		return orderCommentPlaceholder
	}
	return b.String()
}
