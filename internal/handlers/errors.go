package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/agoramall/orders-api/internal/platform/httpx"
	"github.com/agoramall/orders-api/internal/services"
)

// writeServiceError maps the service error taxonomy onto the HTTP envelope.
// Structured detail (per-line shortfall, deny reasons) rides in the details
// field so clients can offer corrective action.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	var authErr *services.AuthorizationFailedError
	if errors.As(err, &authErr) {
		denied := make([]map[string]any, 0, len(authErr.Denied))
		for _, item := range authErr.Denied {
			denied = append(denied, map[string]any{
				"productId": item.ProductID,
				"variantId": item.VariantID,
				"reason":    item.Reason,
			})
		}
		httpx.WriteError(ctx, w, httpx.NewError("AUTHORIZATION_FAILED", authErr.Error(), http.StatusForbidden).
			WithDetails(map[string]any{"deniedItems": denied}))
		return
	}

	var stockErr *services.StockError
	if errors.As(err, &stockErr) {
		code := "INSUFFICIENT_STOCK"
		if errors.Is(err, services.ErrStockNoLongerAvailable) {
			code = "STOCK_NO_LONGER_AVAILABLE"
		}
		insufficient := make([]map[string]any, 0, len(stockErr.Lines))
		for _, line := range stockErr.Lines {
			insufficient = append(insufficient, map[string]any{
				"variantId": line.VariantID,
				"requested": line.Requested,
				"available": line.Available,
			})
		}
		httpx.WriteError(ctx, w, httpx.NewError(code, stockErr.Error(), http.StatusConflict).
			WithDetails(map[string]any{"insufficient": insufficient}))
		return
	}

	switch {
	case errors.Is(err, services.ErrInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("VALIDATION_ERROR", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrAuthorizationFailed):
		httpx.WriteError(ctx, w, httpx.NewError("AUTHORIZATION_FAILED", err.Error(), http.StatusForbidden))
	case errors.Is(err, services.ErrInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("INSUFFICIENT_STOCK", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrStockNoLongerAvailable):
		httpx.WriteError(ctx, w, httpx.NewError("STOCK_NO_LONGER_AVAILABLE", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("ORDER_NOT_FOUND", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrOrderExpired):
		httpx.WriteError(ctx, w, httpx.NewError("ORDER_EXPIRED", err.Error(), http.StatusGone))
	case errors.Is(err, services.ErrInvalidStateTransition):
		httpx.WriteError(ctx, w, httpx.NewError("INVALID_STATE_TRANSITION", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrPaymentGateway):
		// Generic retryable failure; provider detail stays in the logs.
		httpx.WriteError(ctx, w, httpx.NewError("PAYMENT_GATEWAY_ERROR", "payment provider is unavailable, try again", http.StatusBadGateway))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "an unexpected error occurred", http.StatusInternalServerError))
	}
}
