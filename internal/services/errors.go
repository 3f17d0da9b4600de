package services

import (
	"errors"
	"fmt"

	"github.com/breadline/orderform/validation"
)

var (
	// ErrOrderNotFound is returned when an order id refers to nothing, so
	// HTTP handlers can respond with 404.
	ErrOrderNotFound = errors.New("order not found")
	// ErrFormNotFound is returned when a form key refers to nothing.
	ErrFormNotFound = errors.New("form not found")
	// ErrProductNotFound is returned when a product name is not in the form.
	ErrProductNotFound = errors.New("product not found")
)

// ValidationError carries per-field violations so the caller can re-render
// the offending fields. The operation was not attempted.
type ValidationError struct {
	Fields validation.Violations
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %v", map[string]string(e.Fields))
}

// InventoryError reports which product failed admission and how much of it
// remains orderable. The whole order was rejected; nothing was committed.
type InventoryError struct {
	Product   string
	Available int
}

func (e *InventoryError) Error() string {
	return fmt.Sprintf("%s: We only have %d left", e.Product, e.Available)
}

// Message is the client-facing per-product text.
func (e *InventoryError) Message() string {
	return fmt.Sprintf("We only have %d left", e.Available)
}
