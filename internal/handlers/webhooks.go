package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/agoramall/orders-api/internal/payments"
	"github.com/agoramall/orders-api/internal/platform/httpx"
	"github.com/agoramall/orders-api/internal/services"
)

// WebhookHandlers receives payment provider notifications. Delivery is
// at-least-once; the completion transition is idempotent on the order side.
type WebhookHandlers struct {
	orders  services.OrderService
	gateway payments.Gateway
}

// NewWebhookHandlers constructs webhook handlers. The gateway is optional;
// when present, payment success notifications are verified against the
// provider before the order transitions.
func NewWebhookHandlers(orders services.OrderService, gateway payments.Gateway) *WebhookHandlers {
	return &WebhookHandlers{
		orders:  orders,
		gateway: gateway,
	}
}

// Routes registers webhook endpoints under the provided router.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments", h.paymentEvent)
}

type paymentEventRequest struct {
	Type       string `json:"type"`
	TenantID   string `json:"tenantId"`
	OrderID    string `json:"orderId"`
	PaymentRef string `json:"paymentRef"`
}

func (h *WebhookHandlers) paymentEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req paymentEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("VALIDATION_ERROR", "request body must be valid JSON", http.StatusBadRequest))
		return
	}
	if strings.TrimSpace(req.OrderID) == "" || strings.TrimSpace(req.TenantID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("VALIDATION_ERROR", "tenantId and orderId are required", http.StatusBadRequest))
		return
	}

	switch strings.TrimSpace(req.Type) {
	case "payment.succeeded", "checkout.session.completed":
	default:
		// Unhandled event types are acknowledged so the provider stops
		// redelivering them.
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	// Never assume success from the notification alone.
	if h.gateway != nil && strings.TrimSpace(req.PaymentRef) != "" {
		details, err := h.gateway.LookupPayment(ctx, payments.LookupRequest{PaymentRef: req.PaymentRef})
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("PAYMENT_GATEWAY_ERROR", "could not verify payment with provider", http.StatusBadGateway))
			return
		}
		if details.Status != payments.StatusSucceeded {
			httpx.WriteError(ctx, w, httpx.NewError("VALIDATION_ERROR", "payment is not captured", http.StatusConflict))
			return
		}
	}

	order, err := h.orders.CompleteOrder(ctx, services.CompleteOrderCommand{
		TenantID:   strings.TrimSpace(req.TenantID),
		OrderID:    strings.TrimSpace(req.OrderID),
		PaymentRef: strings.TrimSpace(req.PaymentRef),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"orderId": order.ID,
	})
}
