package repository

import (
	"errors"

	"gorm.io/gorm"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("record not found")

// ErrAlreadyDispatched is returned when an order already carries a POS order id
var ErrAlreadyDispatched = errors.New("order is already dispatched")

// ListOptions contains common pagination options
type ListOptions struct {
	Limit  int
	Offset int
}

func translateError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
