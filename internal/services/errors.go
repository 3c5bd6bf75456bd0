package services

import (
	"errors"
	"fmt"
	"strings"

	domain "github.com/agoramall/orders-api/internal/domain"
	"github.com/agoramall/orders-api/internal/repositories"
)

var (
	// ErrInvalidInput indicates the caller supplied malformed parameters.
	ErrInvalidInput = errors.New("orders: invalid input")
	// ErrUnavailable indicates a dependency is currently unavailable.
	ErrUnavailable = errors.New("orders: unavailable")
	// ErrAuthorizationFailed indicates the entitlement/pricing resolution denied at least one line.
	ErrAuthorizationFailed = errors.New("orders: authorization failed")
	// ErrInsufficientStock indicates the reservation ledger denied the requested quantities.
	ErrInsufficientStock = errors.New("orders: insufficient stock")
	// ErrOrderNotFound indicates no order matches the id for the caller.
	ErrOrderNotFound = errors.New("orders: order not found")
	// ErrOrderExpired indicates the order's hold window has passed.
	ErrOrderExpired = errors.New("orders: order expired")
	// ErrInvalidStateTransition indicates the requested lifecycle transition is not legal.
	ErrInvalidStateTransition = errors.New("orders: invalid state transition")
	// ErrPaymentGateway indicates the external payment provider failed; retryable.
	ErrPaymentGateway = errors.New("orders: payment gateway error")
	// ErrStockNoLongerAvailable indicates stock for an existing order's lines has gone.
	ErrStockNoLongerAvailable = errors.New("orders: stock no longer available")
)

// AuthorizationFailedError carries per-line deny reasons alongside
// ErrAuthorizationFailed.
type AuthorizationFailedError struct {
	Denied []domain.DeniedItem
}

// Error concatenates the deny reasons for client display.
func (e *AuthorizationFailedError) Error() string {
	if e == nil || len(e.Denied) == 0 {
		return ErrAuthorizationFailed.Error()
	}
	reasons := make([]string, 0, len(e.Denied))
	for _, item := range e.Denied {
		ref := item.VariantID
		if ref == "" {
			ref = item.ProductID
		}
		reasons = append(reasons, fmt.Sprintf("%s: %s", ref, item.Reason))
	}
	return "orders: authorization failed: " + strings.Join(reasons, "; ")
}

// Unwrap ties the error to the ErrAuthorizationFailed sentinel.
func (e *AuthorizationFailedError) Unwrap() error { return ErrAuthorizationFailed }

// StockError carries per-line shortfall detail. It wraps either
// ErrInsufficientStock (order creation) or ErrStockNoLongerAvailable
// (payment retry against an existing order).
type StockError struct {
	Lines    []repositories.InsufficientLine
	sentinel error
}

// NewInsufficientStockError builds a creation-time stock denial.
func NewInsufficientStockError(lines []repositories.InsufficientLine) *StockError {
	return &StockError{Lines: lines, sentinel: ErrInsufficientStock}
}

// NewStockNoLongerAvailableError builds a retry-time stock denial.
func NewStockNoLongerAvailableError(lines []repositories.InsufficientLine) *StockError {
	return &StockError{Lines: lines, sentinel: ErrStockNoLongerAvailable}
}

// Error lists the shortfall per variant.
func (e *StockError) Error() string {
	if e == nil {
		return ErrInsufficientStock.Error()
	}
	parts := make([]string, 0, len(e.Lines))
	for _, line := range e.Lines {
		parts = append(parts, fmt.Sprintf("%s: requested %d, available %d", line.VariantID, line.Requested, line.Available))
	}
	if len(parts) == 0 {
		return e.sentinel.Error()
	}
	return e.sentinel.Error() + ": " + strings.Join(parts, "; ")
}

// Unwrap ties the error to its stock sentinel.
func (e *StockError) Unwrap() error {
	if e == nil || e.sentinel == nil {
		return ErrInsufficientStock
	}
	return e.sentinel
}
