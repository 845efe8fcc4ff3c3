package models

import "fmt"

// ValidOrderTransitions defines valid state transitions for OrderStatus
// Flow: PENDING → CONFIRMED → PREPARING → READY → (DELIVERING →) COMPLETED
// CANCELLED can be reached from any non-terminal state
var ValidOrderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed:  {OrderStatusPreparing, OrderStatusCancelled},
	OrderStatusPreparing:  {OrderStatusReady, OrderStatusCancelled},
	OrderStatusReady:      {OrderStatusDelivering, OrderStatusCompleted, OrderStatusCancelled}, // pickup skips DELIVERING
	OrderStatusDelivering: {OrderStatusCompleted, OrderStatusCancelled},
	OrderStatusCompleted:  {}, // Terminal state
	OrderStatusCancelled:  {}, // Terminal state
}

// ValidSyncTransitions defines valid state transitions for SyncStatus
var ValidSyncTransitions = map[SyncStatus][]SyncStatus{
	SyncStatusRunning:   {SyncStatusCompleted, SyncStatusFailed},
	SyncStatusCompleted: {},
	SyncStatusFailed:    {},
}

// CanTransitionOrderStatus checks if a transition from one order status to another is valid
func CanTransitionOrderStatus(from, to OrderStatus) bool {
	validTransitions, exists := ValidOrderTransitions[from]
	if !exists {
		return false
	}
	for _, validTo := range validTransitions {
		if validTo == to {
			return true
		}
	}
	return false
}

// CanTransitionSyncStatus checks if a transition from one sync status to another is valid
func CanTransitionSyncStatus(from, to SyncStatus) bool {
	validTransitions, exists := ValidSyncTransitions[from]
	if !exists {
		return false
	}
	for _, validTo := range validTransitions {
		if validTo == to {
			return true
		}
	}
	return false
}

// ValidateOrderTransition returns an error describing an invalid order transition
func ValidateOrderTransition(from, to OrderStatus) error {
	if !CanTransitionOrderStatus(from, to) {
		return fmt.Errorf("invalid order status transition from %s to %s", from, to)
	}
	return nil
}
