package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// OrderStatus represents the status of a storefront order
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusConfirmed  OrderStatus = "CONFIRMED"
	OrderStatusPreparing  OrderStatus = "PREPARING"
	OrderStatusReady      OrderStatus = "READY"
	OrderStatusDelivering OrderStatus = "DELIVERING"
	OrderStatusCompleted  OrderStatus = "COMPLETED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
)

// IsTerminal reports whether the order reached a final status
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// FulfillmentMode is how the customer receives the order
type FulfillmentMode string

const (
	FulfillmentDelivery FulfillmentMode = "DELIVERY"
	FulfillmentPickup   FulfillmentMode = "PICKUP"
)

// Order is a locally placed storefront order
type Order struct {
	ID              uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	OrderNumber     string          `gorm:"type:varchar(50);not null;uniqueIndex:idx_orders_number" json:"orderNumber"`
	BranchID        uuid.UUID       `gorm:"type:uuid;not null;index:idx_orders_branch" json:"branchId"`
	Branch          *Branch         `gorm:"foreignKey:BranchID" json:"branch,omitempty"`
	FulfillmentMode FulfillmentMode `gorm:"type:varchar(20);not null" json:"fulfillmentMode"`
	Status          OrderStatus     `gorm:"type:varchar(20);not null;index:idx_orders_status" json:"status"`

	// Customer
	CustomerName      string `gorm:"type:varchar(255)" json:"customerName"`
	CustomerPhone     string `gorm:"type:varchar(50);not null" json:"customerPhone"`
	DeliveryAddress   string `gorm:"type:varchar(500)" json:"deliveryAddress,omitempty"`
	CallbackRequested bool   `json:"callbackRequested"`
	Note              string `gorm:"type:text" json:"note,omitempty"`

	// Totals
	Subtotal    decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"subtotal"`
	DeliveryFee decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"deliveryFee"`
	Total       decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"total"`

	// POS mirror
	POSOrderID          *string    `gorm:"type:varchar(64);index:idx_orders_pos_order" json:"posOrderId,omitempty"`
	POSDispatchedAt     *time.Time `json:"posDispatchedAt,omitempty"`
	POSDispatchingAt    *time.Time `json:"-"`
	POSDispatchAttempts int        `json:"posDispatchAttempts"`
	POSDispatchError    string     `gorm:"type:text" json:"posDispatchError,omitempty"`

	Items []OrderItem `gorm:"foreignKey:OrderID" json:"items,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (Order) TableName() string {
	return "orders"
}

func (o *Order) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}

// IsDispatched reports whether the order is already mirrored in the POS
func (o *Order) IsDispatched() bool {
	return o.POSOrderID != nil && *o.POSOrderID != ""
}

// OrderItem is one line of an order. CustomQuantity is frozen at order time.
type OrderItem struct {
	ID             uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	OrderID        uuid.UUID       `gorm:"type:uuid;not null;index:idx_order_items_order" json:"orderId"`
	ProductID      uuid.UUID       `gorm:"type:uuid;not null" json:"productId"`
	ProductName    string          `gorm:"type:varchar(255)" json:"productName"`
	Quantity       int             `gorm:"not null" json:"quantity"`
	UnitPrice      decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"unitPrice"`
	LineTotal      decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"lineTotal"`
	CustomQuantity *CustomQuantity `gorm:"type:jsonb" json:"customQuantity,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

func (OrderItem) TableName() string {
	return "order_items"
}

func (i *OrderItem) BeforeCreate(tx *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}
