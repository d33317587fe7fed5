package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrLockUnavailable   = errors.New("lock unavailable")
	ErrStorage           = errors.New("storage failure")
	ErrCartClosed        = errors.New("cart is closed")

	// ErrVersionConflict is returned by the cart repository when the stored
	// version no longer matches. Callers retry; it never reaches a client.
	ErrVersionConflict = errors.New("version conflict")
)

// ProductError ties a failure kind to the product that caused it.
type ProductError struct {
	ProductID string
	Err       error
}

func (e *ProductError) Error() string {
	return fmt.Sprintf("product %s: %v", e.ProductID, e.Err)
}

func (e *ProductError) Unwrap() error {
	return e.Err
}

func NewProductError(productID string, err error) error {
	return &ProductError{ProductID: productID, Err: err}
}

// Validationf builds an ErrValidation with a field-level message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
