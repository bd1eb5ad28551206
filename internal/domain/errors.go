package domain

import (
	"errors"
	"fmt"
	"strings"

	apperrors "github.com/utafrali/stockledger/pkg/errors"
)

// Domain sentinels. Constructors below chain them under the generic
// apperrors categories so callers can match at either level.
var (
	ErrInvalidQuantity        = errors.New("invalid quantity")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrInsufficientStock      = errors.New("insufficient stock")
)

// Machine-readable error codes.
const (
	CodeInvalidQuantity        = "INVALID_QUANTITY"
	CodeInvalidStateTransition = "INVALID_STATE_TRANSITION"
	CodeInsufficientStock      = "INSUFFICIENT_STOCK"
)

// InvalidQuantity reports a quantity that would break a stock rule.
func InvalidQuantity(format string, args ...any) *apperrors.AppError {
	return apperrors.Validation(CodeInvalidQuantity, fmt.Sprintf(format, args...), ErrInvalidQuantity)
}

// InvalidStateTransition reports an order transition the state machine forbids.
func InvalidStateTransition(orderID string, from, to OrderStatus) *apperrors.AppError {
	return apperrors.Validation(
		CodeInvalidStateTransition,
		fmt.Sprintf("order %s cannot move from %s to %s", orderID, from, to),
		ErrInvalidStateTransition,
	)
}

// ShortLine describes one product that could not be reserved.
type ShortLine struct {
	ProductID string `json:"product_id"`
	Requested string `json:"requested"`
	Available string `json:"available"`
}

// InsufficientStockError is returned when an order cannot be confirmed. It
// lists every offending product, not just the first.
type InsufficientStockError struct {
	OrderID string
	Lines   []ShortLine
}

func (e *InsufficientStockError) Error() string {
	parts := make([]string, 0, len(e.Lines))
	for _, l := range e.Lines {
		parts = append(parts, fmt.Sprintf("%s (requested %s, available %s)", l.ProductID, l.Requested, l.Available))
	}
	return fmt.Sprintf("insufficient stock for order %s: %s", e.OrderID, strings.Join(parts, ", "))
}

// ErrorCode implements the coded-error contract used by apperrors.Code.
func (e *InsufficientStockError) ErrorCode() string { return CodeInsufficientStock }

func (e *InsufficientStockError) Unwrap() []error {
	return []error{ErrInsufficientStock, apperrors.ErrConflict}
}
