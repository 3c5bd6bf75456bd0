package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/agoramall/orders-api/internal/domain"
	"github.com/agoramall/orders-api/internal/platform/httpx"
	"github.com/agoramall/orders-api/internal/platform/requestctx"
	"github.com/agoramall/orders-api/internal/services"
)

const maxOrderRequestBody = 16 * 1024

var errBodyTooLarge = errors.New("request body too large")

// OrderHandlers exposes the order lifecycle endpoints.
type OrderHandlers struct {
	orders   services.OrderService
	payments services.PaymentService
}

// NewOrderHandlers constructs order handlers.
func NewOrderHandlers(orders services.OrderService, payments services.PaymentService) *OrderHandlers {
	return &OrderHandlers{
		orders:   orders,
		payments: payments,
	}
}

// Routes registers order endpoints under the provided router.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/orders", h.createOrder)
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{orderID}", h.getOrder)
	r.Post("/orders/{orderID}/retry-payment", h.retryPayment)
	r.Post("/orders/{orderID}/cancel", h.cancelOrder)
	r.Post("/orders/{orderID}/refund", h.refundOrder)
}

type orderItemRequest struct {
	ProductID string `json:"productId"`
	VariantID string `json:"variantId"`
	Quantity  int    `json:"qty"`
}

type createOrderRequest struct {
	AgentID string             `json:"agentId"`
	Items   []orderItemRequest `json:"items"`
}

type orderItemResponse struct {
	ProductID string `json:"productId"`
	VariantID string `json:"variantId"`
	Name      string `json:"name,omitempty"`
	Quantity  int    `json:"qty"`
	UnitPrice int64  `json:"unitPrice"`
	Total     int64  `json:"total"`
}

type orderResponse struct {
	ID              string              `json:"id"`
	OrderNumber     string              `json:"orderNumber"`
	Channel         string              `json:"channel"`
	AgentID         string              `json:"agentId,omitempty"`
	Status          string              `json:"status"`
	PaymentStatus   string              `json:"paymentStatus"`
	Currency        string              `json:"currency"`
	TotalAmount     int64               `json:"totalAmount"`
	Items           []orderItemResponse `json:"items"`
	PaymentAttempts int                 `json:"paymentAttempts"`
	CreatedAt       time.Time           `json:"createdAt"`
	ExpiresAt       time.Time           `json:"expiresAt"`
}

type retryPaymentRequest struct {
	PaymentMethod string `json:"paymentMethod"`
}

type retryPaymentResponse struct {
	SessionID string    `json:"sessionId"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
	Reused    bool      `json:"reused"`
	Attempts  int       `json:"attempts"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requestctx.IdentityFrom(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "caller identity is required", http.StatusUnauthorized))
		return
	}

	var req createOrderRequest
	if err := decodeBody(r, &req); err != nil {
		writeBodyError(w, r, err)
		return
	}

	items := make([]services.OrderItemInput, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, services.OrderItemInput{
			ProductID: strings.TrimSpace(item.ProductID),
			VariantID: strings.TrimSpace(item.VariantID),
			Quantity:  item.Quantity,
		})
	}

	order, err := h.orders.CreateOrder(ctx, services.CreateOrderCommand{
		TenantID: identity.TenantID,
		UserID:   identity.UserID,
		AgentID:  strings.TrimSpace(req.AgentID),
		Items:    items,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResponse(order))
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requestctx.IdentityFrom(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "caller identity is required", http.StatusUnauthorized))
		return
	}

	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			httpx.WriteError(ctx, w, httpx.NewError("VALIDATION_ERROR", "limit must be a non-negative integer", http.StatusBadRequest))
			return
		}
		limit = parsed
	}

	orders, err := h.orders.ListOrders(ctx, identity.TenantID, identity.UserID, limit)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	responses := make([]orderResponse, 0, len(orders))
	for _, order := range orders {
		responses = append(responses, toOrderResponse(order))
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": responses})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requestctx.IdentityFrom(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "caller identity is required", http.StatusUnauthorized))
		return
	}

	order, err := h.orders.GetOrder(ctx, identity.TenantID, identity.UserID, chi.URLParam(r, "orderID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *OrderHandlers) retryPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requestctx.IdentityFrom(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "caller identity is required", http.StatusUnauthorized))
		return
	}

	var req retryPaymentRequest
	if err := decodeBody(r, &req); err != nil {
		writeBodyError(w, r, err)
		return
	}

	result, err := h.payments.RetryPayment(ctx, services.RetryPaymentCommand{
		TenantID:      identity.TenantID,
		UserID:        identity.UserID,
		OrderID:       chi.URLParam(r, "orderID"),
		PaymentMethod: strings.TrimSpace(req.PaymentMethod),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, retryPaymentResponse{
		SessionID: result.SessionID,
		URL:       result.URL,
		ExpiresAt: result.ExpiresAt,
		Reused:    result.Reused,
		Attempts:  result.Attempts,
	})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requestctx.IdentityFrom(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "caller identity is required", http.StatusUnauthorized))
		return
	}

	var req cancelOrderRequest
	if err := decodeBody(r, &req); err != nil {
		writeBodyError(w, r, err)
		return
	}

	order, err := h.orders.CancelOrder(ctx, services.CancelOrderCommand{
		TenantID: identity.TenantID,
		UserID:   identity.UserID,
		OrderID:  chi.URLParam(r, "orderID"),
		Reason:   strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

type refundOrderRequest struct {
	Reason string `json:"reason"`
}

func (h *OrderHandlers) refundOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requestctx.IdentityFrom(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "caller identity is required", http.StatusUnauthorized))
		return
	}

	var req refundOrderRequest
	if err := decodeBody(r, &req); err != nil {
		writeBodyError(w, r, err)
		return
	}

	order, err := h.orders.RefundOrder(ctx, services.RefundOrderCommand{
		TenantID: identity.TenantID,
		OrderID:  chi.URLParam(r, "orderID"),
		Reason:   strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func toOrderResponse(order domain.Order) orderResponse {
	items := make([]orderItemResponse, len(order.Items))
	for i, item := range order.Items {
		items[i] = orderItemResponse{
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Total:     item.Total,
		}
	}
	agentID := ""
	if order.AgentID != nil {
		agentID = *order.AgentID
	}
	return orderResponse{
		ID:              order.ID,
		OrderNumber:     order.OrderNumber,
		Channel:         string(order.Channel),
		AgentID:         agentID,
		Status:          string(order.Status),
		PaymentStatus:   string(order.PaymentStatus),
		Currency:        order.Currency,
		TotalAmount:     order.TotalAmount,
		Items:           items,
		PaymentAttempts: order.PaymentAttempts,
		CreatedAt:       order.CreatedAt,
		ExpiresAt:       order.ExpiresAt,
	}
}

func decodeBody(r *http.Request, out any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxOrderRequestBody+1))
	if err != nil {
		return err
	}
	if len(body) > maxOrderRequestBody {
		return errBodyTooLarge
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errors.New("request body must be valid JSON")
	}
	return nil
}

func writeBodyError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusBadRequest
	if errors.Is(err, errBodyTooLarge) {
		status = http.StatusRequestEntityTooLarge
	}
	httpx.WriteError(r.Context(), w, httpx.NewError("VALIDATION_ERROR", err.Error(), status))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
