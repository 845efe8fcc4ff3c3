package services

import "errors"

var (
	// ErrSyncInProgress is returned when a run of the same resource group is already running
	ErrSyncInProgress = errors.New("a sync of this kind is already running")

	// ErrRunAlreadyFinalized is returned when a terminal run is finalized again
	ErrRunAlreadyFinalized = errors.New("sync run is already finalized")

	// ErrNoValidLineItems is returned when no order line maps to a POS product
	ErrNoValidLineItems = errors.New("order has no line items that map to POS products")

	// ErrUnresolvedBundleComponent is returned when a bundle references an unknown product
	ErrUnresolvedBundleComponent = errors.New("bundle component does not resolve to a POS product")

	// ErrOrderNotDispatchable is returned for completed or cancelled orders
	ErrOrderNotDispatchable = errors.New("order status does not allow dispatch")

	// ErrDispatchInProgress is returned while another dispatch of the order holds its claim
	ErrDispatchInProgress = errors.New("order dispatch is already in progress")

	// ErrInvalidOrder is returned for order requests that fail validation
	ErrInvalidOrder = errors.New("invalid order")

	// ErrInvalidCode is returned when a verification code does not match or has expired
	ErrInvalidCode = errors.New("invalid or expired verification code")

	// ErrTooManyAttempts is returned once a verification code exhausted its attempts
	ErrTooManyAttempts = errors.New("too many verification attempts")
)
