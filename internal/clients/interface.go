package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// POSClient defines the calls the service makes against the POS API.
// Implementations carry no business logic.
type POSClient interface {
	// Catalog
	GetStorages(ctx context.Context) ([]POSStorage, error)
	GetCategories(ctx context.Context) ([]POSCategory, error)
	GetProducts(ctx context.Context) ([]POSProduct, error)

	// Stock
	GetStorageLeftovers(ctx context.Context, storageID string) ([]POSLeftover, error)

	// Orders
	CreateIncomingOrder(ctx context.Context, order *POSIncomingOrder) (*POSIncomingOrderResult, error)
}

var (
	// ErrCircuitOpen is returned without calling the POS while the breaker is open
	ErrCircuitOpen = errors.New("pos circuit breaker is open")
)

// APIError is an error reported inside a POS response envelope
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("pos api error %d", e.Code)
	}
	return fmt.Sprintf("pos api error %d: %s", e.Code, e.Message)
}

// HTTPError is a non-2xx POS response
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("pos http error (status %d): %s", e.StatusCode, e.Body)
}

// POSStorage represents a POS storage, mirrored locally as a branch
type POSStorage struct {
	ID      string
	Name    string
	Address string
	Deleted bool
}

// POSCategory represents a POS menu category
type POSCategory struct {
	ID        string
	Name      string
	ParentID  string
	SortOrder int
	Hidden    bool
}

// POSProduct represents a POS menu product. Price is kept in its raw wire form
// because the POS encodes it inconsistently.
type POSProduct struct {
	ID             string
	Name           string
	CategoryID     string
	Price          json.RawMessage
	Hidden         bool
	PhotoPath      string
	IngredientID   string
	IngredientUnit string
	Flags          map[string]string
}

// POSLeftover is the stock of one ingredient at one storage
type POSLeftover struct {
	IngredientID string
	Name         string
	Quantity     decimal.Decimal
	Unit         string
}

// ServiceMode is the POS fulfillment mode of an incoming order
type ServiceMode int

const (
	ServiceModeDineIn   ServiceMode = 1
	ServiceModeTakeaway ServiceMode = 2
	ServiceModeDelivery ServiceMode = 3
)

// POSOrderLine is one product line of an incoming order
type POSOrderLine struct {
	ProductID string
	Count     decimal.Decimal
}

// POSIncomingOrder is the payload for creating a POS incoming order
type POSIncomingOrder struct {
	SpotID      string
	FirstName   string
	Phone       string
	Address     string
	Comment     string
	ServiceMode ServiceMode
	Products    []POSOrderLine
}

// POSIncomingOrderResult is the POS response to an incoming order
type POSIncomingOrderResult struct {
	IncomingOrderID string
	Status          int
}
