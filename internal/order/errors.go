package order

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofrs/uuid"
)

var (
	ErrForbidden               = errors.New("not allowed to perform this action")
	ErrOrderNotFound           = errors.New("order not found")
	ErrInvalidStatusTransition = errors.New("invalid order status transition")
	ErrConcurrentUpdate        = errors.New("order was modified concurrently")
	ErrAlreadyPaid             = errors.New("order is already paid")
)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError collects every malformed input field of a request.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

type ProductNotFoundError struct {
	ProductID uuid.UUID
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

type ProductUnavailableError struct {
	ProductID uuid.UUID
	Name      string
}

func (e *ProductUnavailableError) Error() string {
	return fmt.Sprintf("product %q is not available", e.Name)
}

type InsufficientStockError struct {
	ProductID uuid.UUID
	Name      string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %q: available %d, requested %d", e.Name, e.Available, e.Requested)
}
