package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/agoramall/orders-api/internal/domain"
	"github.com/agoramall/orders-api/internal/repositories"
	"github.com/agoramall/orders-api/internal/services"
)

type stubOrderService struct {
	createFunc   func(ctx context.Context, cmd services.CreateOrderCommand) (domain.Order, error)
	getFunc      func(ctx context.Context, tenantID, userID, orderID string) (domain.Order, error)
	listFunc     func(ctx context.Context, tenantID, userID string, limit int) ([]domain.Order, error)
	cancelFunc   func(ctx context.Context, cmd services.CancelOrderCommand) (domain.Order, error)
	completeFunc func(ctx context.Context, cmd services.CompleteOrderCommand) (domain.Order, error)
	refundFunc   func(ctx context.Context, cmd services.RefundOrderCommand) (domain.Order, error)
}

func (s *stubOrderService) CreateOrder(ctx context.Context, cmd services.CreateOrderCommand) (domain.Order, error) {
	if s.createFunc != nil {
		return s.createFunc(ctx, cmd)
	}
	return domain.Order{}, nil
}

func (s *stubOrderService) GetOrder(ctx context.Context, tenantID, userID, orderID string) (domain.Order, error) {
	if s.getFunc != nil {
		return s.getFunc(ctx, tenantID, userID, orderID)
	}
	return domain.Order{}, nil
}

func (s *stubOrderService) ListOrders(ctx context.Context, tenantID, userID string, limit int) ([]domain.Order, error) {
	if s.listFunc != nil {
		return s.listFunc(ctx, tenantID, userID, limit)
	}
	return nil, nil
}

func (s *stubOrderService) CancelOrder(ctx context.Context, cmd services.CancelOrderCommand) (domain.Order, error) {
	if s.cancelFunc != nil {
		return s.cancelFunc(ctx, cmd)
	}
	return domain.Order{}, nil
}

func (s *stubOrderService) CompleteOrder(ctx context.Context, cmd services.CompleteOrderCommand) (domain.Order, error) {
	if s.completeFunc != nil {
		return s.completeFunc(ctx, cmd)
	}
	return domain.Order{}, nil
}

func (s *stubOrderService) RefundOrder(ctx context.Context, cmd services.RefundOrderCommand) (domain.Order, error) {
	if s.refundFunc != nil {
		return s.refundFunc(ctx, cmd)
	}
	return domain.Order{}, nil
}

type stubPaymentService struct {
	retryFunc func(ctx context.Context, cmd services.RetryPaymentCommand) (services.PaymentRetryResult, error)
}

func (s *stubPaymentService) RetryPayment(ctx context.Context, cmd services.RetryPaymentCommand) (services.PaymentRetryResult, error) {
	if s.retryFunc != nil {
		return s.retryFunc(ctx, cmd)
	}
	return services.PaymentRetryResult{}, nil
}

func newOrderRouter(orders services.OrderService, payments services.PaymentService) chi.Router {
	return NewRouter(WithOrders(NewOrderHandlers(orders, payments).Routes))
}

func doRequest(t *testing.T, router chi.Router, method, path, body string, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if authed {
		req.Header.Set("X-User-ID", "user-1")
		req.Header.Set("X-Tenant-ID", "t1")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid JSON response %q: %v", rec.Body.String(), err)
	}
	return payload
}

func sampleOrder() domain.Order {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	return domain.Order{
		ID:            "ord_1",
		OrderNumber:   "AM-2026-000001",
		UserID:        "user-1",
		TenantID:      "t1",
		Channel:       domain.ChannelTenant,
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.PaymentStatusUnpaid,
		Currency:      "USD",
		TotalAmount:   5000,
		Items: []domain.OrderLineItem{{
			ProductID: "prod-1", VariantID: "var-1", Name: "Kettle 1L",
			Quantity: 2, UnitPrice: 2500, Total: 5000,
		}},
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(30 * time.Minute),
	}
}

func TestCreateOrderRequiresIdentity(t *testing.T) {
	router := newOrderRouter(&stubOrderService{}, &stubPaymentService{})

	rec := doRequest(t, router, http.MethodPost, "/api/v1/orders", `{"items":[{"variantId":"var-1","qty":1}]}`, false)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	payload := decodeEnvelope(t, rec)
	if payload["error"] != "unauthenticated" {
		t.Fatalf("unexpected envelope %v", payload)
	}
}

func TestCreateOrderSuccess(t *testing.T) {
	var captured services.CreateOrderCommand
	orders := &stubOrderService{
		createFunc: func(_ context.Context, cmd services.CreateOrderCommand) (domain.Order, error) {
			captured = cmd
			return sampleOrder(), nil
		},
	}
	router := newOrderRouter(orders, &stubPaymentService{})

	rec := doRequest(t, router, http.MethodPost, "/api/v1/orders",
		`{"agentId":"agent-1","items":[{"productId":"prod-1","variantId":"var-1","qty":2}]}`, true)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	if captured.TenantID != "t1" || captured.UserID != "user-1" || captured.AgentID != "agent-1" {
		t.Fatalf("identity not threaded: %+v", captured)
	}
	if len(captured.Items) != 1 || captured.Items[0].Quantity != 2 {
		t.Fatalf("items not decoded: %+v", captured.Items)
	}

	payload := decodeEnvelope(t, rec)
	if payload["id"] != "ord_1" || payload["orderNumber"] != "AM-2026-000001" || payload["status"] != "PENDING" {
		t.Fatalf("unexpected body %v", payload)
	}
	items, ok := payload["items"].([]any)
	if !ok || len(items) != 1 {
		t.Fatalf("unexpected items %v", payload["items"])
	}
	item := items[0].(map[string]any)
	if item["qty"] != float64(2) || item["unitPrice"] != float64(2500) {
		t.Fatalf("unexpected item %v", item)
	}
}

func TestCreateOrderAuthorizationFailed(t *testing.T) {
	orders := &stubOrderService{
		createFunc: func(context.Context, services.CreateOrderCommand) (domain.Order, error) {
			return domain.Order{}, &services.AuthorizationFailedError{Denied: []domain.DeniedItem{
				{ProductID: "prod-1", VariantID: "var-2", Reason: "NOT_AUTHORIZED"},
			}}
		},
	}
	router := newOrderRouter(orders, &stubPaymentService{})

	rec := doRequest(t, router, http.MethodPost, "/api/v1/orders", `{"items":[{"variantId":"var-2","qty":1}]}`, true)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	payload := decodeEnvelope(t, rec)
	if payload["error"] != "AUTHORIZATION_FAILED" {
		t.Fatalf("unexpected code %v", payload["error"])
	}
	denied, ok := payload["deniedItems"].([]any)
	if !ok || len(denied) != 1 {
		t.Fatalf("deniedItems missing: %v", payload)
	}
	if denied[0].(map[string]any)["reason"] != "NOT_AUTHORIZED" {
		t.Fatalf("unexpected denial %v", denied[0])
	}
}

func TestCreateOrderInsufficientStock(t *testing.T) {
	orders := &stubOrderService{
		createFunc: func(context.Context, services.CreateOrderCommand) (domain.Order, error) {
			return domain.Order{}, services.NewInsufficientStockError([]repositories.InsufficientLine{
				{VariantID: "var-1", Requested: 6, Available: 4},
			})
		},
	}
	router := newOrderRouter(orders, &stubPaymentService{})

	rec := doRequest(t, router, http.MethodPost, "/api/v1/orders", `{"items":[{"variantId":"var-1","qty":6}]}`, true)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	payload := decodeEnvelope(t, rec)
	if payload["error"] != "INSUFFICIENT_STOCK" {
		t.Fatalf("unexpected code %v", payload["error"])
	}
	insufficient, ok := payload["insufficient"].([]any)
	if !ok || len(insufficient) != 1 {
		t.Fatalf("insufficient detail missing: %v", payload)
	}
	line := insufficient[0].(map[string]any)
	if line["requested"] != float64(6) || line["available"] != float64(4) {
		t.Fatalf("unexpected shortfall %v", line)
	}
}

func TestCreateOrderRejectsInvalidJSON(t *testing.T) {
	router := newOrderRouter(&stubOrderService{}, &stubPaymentService{})

	rec := doRequest(t, router, http.MethodPost, "/api/v1/orders", `{"items":`, true)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	payload := decodeEnvelope(t, rec)
	if payload["error"] != "VALIDATION_ERROR" {
		t.Fatalf("unexpected code %v", payload["error"])
	}
}

func TestGetOrderNotFound(t *testing.T) {
	orders := &stubOrderService{
		getFunc: func(context.Context, string, string, string) (domain.Order, error) {
			return domain.Order{}, services.ErrOrderNotFound
		},
	}
	router := newOrderRouter(orders, &stubPaymentService{})

	rec := doRequest(t, router, http.MethodGet, "/api/v1/orders/ord_missing", "", true)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if payload := decodeEnvelope(t, rec); payload["error"] != "ORDER_NOT_FOUND" {
		t.Fatalf("unexpected code %v", payload["error"])
	}
}

func TestListOrdersValidatesLimit(t *testing.T) {
	router := newOrderRouter(&stubOrderService{}, &stubPaymentService{})

	rec := doRequest(t, router, http.MethodGet, "/api/v1/orders?limit=nope", "", true)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestRetryPaymentResponses(t *testing.T) {
	expiry := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)

	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"expired", services.ErrOrderExpired, http.StatusGone, "ORDER_EXPIRED"},
		{"gateway", services.ErrPaymentGateway, http.StatusBadGateway, "PAYMENT_GATEWAY_ERROR"},
		{"state", services.ErrInvalidStateTransition, http.StatusConflict, "INVALID_STATE_TRANSITION"},
		{"stock gone", services.NewStockNoLongerAvailableError(nil), http.StatusConflict, "STOCK_NO_LONGER_AVAILABLE"},
	}
	for _, tc := range cases {
		payments := &stubPaymentService{
			retryFunc: func(context.Context, services.RetryPaymentCommand) (services.PaymentRetryResult, error) {
				return services.PaymentRetryResult{}, tc.err
			},
		}
		router := newOrderRouter(&stubOrderService{}, payments)
		rec := doRequest(t, router, http.MethodPost, "/api/v1/orders/ord_1/retry-payment", `{"paymentMethod":"card"}`, true)
		if rec.Code != tc.wantStatus {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.wantStatus, rec.Code)
		}
		if payload := decodeEnvelope(t, rec); payload["error"] != tc.wantCode {
			t.Fatalf("%s: unexpected code %v", tc.name, payload["error"])
		}
	}

	payments := &stubPaymentService{
		retryFunc: func(_ context.Context, cmd services.RetryPaymentCommand) (services.PaymentRetryResult, error) {
			if cmd.OrderID != "ord_1" || cmd.PaymentMethod != "card" {
				t.Fatalf("unexpected command %+v", cmd)
			}
			return services.PaymentRetryResult{
				SessionID: "cs_1",
				URL:       "https://checkout.example/ord_1",
				ExpiresAt: expiry,
				Reused:    true,
				Attempts:  3,
			}, nil
		},
	}
	router := newOrderRouter(&stubOrderService{}, payments)
	rec := doRequest(t, router, http.MethodPost, "/api/v1/orders/ord_1/retry-payment", `{"paymentMethod":"card"}`, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	payload := decodeEnvelope(t, rec)
	if payload["sessionId"] != "cs_1" || payload["reused"] != true || payload["attempts"] != float64(3) {
		t.Fatalf("unexpected body %v", payload)
	}
}

func TestRetryPaymentGatewayMessageIsGeneric(t *testing.T) {
	payments := &stubPaymentService{
		retryFunc: func(context.Context, services.RetryPaymentCommand) (services.PaymentRetryResult, error) {
			return services.PaymentRetryResult{}, errors.Join(services.ErrPaymentGateway, errors.New("stripe: sk_live key rejected"))
		},
	}
	router := newOrderRouter(&stubOrderService{}, payments)

	rec := doRequest(t, router, http.MethodPost, "/api/v1/orders/ord_1/retry-payment", `{"paymentMethod":"card"}`, true)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	payload := decodeEnvelope(t, rec)
	message, _ := payload["message"].(string)
	if strings.Contains(message, "stripe") || strings.Contains(message, "sk_live") {
		t.Fatalf("provider detail leaked: %q", message)
	}
}

func TestCancelOrderSuccess(t *testing.T) {
	order := sampleOrder()
	order.Status = domain.OrderStatusCancelled
	order.PaymentStatus = domain.PaymentStatusFailed
	orders := &stubOrderService{
		cancelFunc: func(_ context.Context, cmd services.CancelOrderCommand) (domain.Order, error) {
			if cmd.OrderID != "ord_1" || cmd.Reason != "changed my mind" {
				t.Fatalf("unexpected command %+v", cmd)
			}
			return order, nil
		},
	}
	router := newOrderRouter(orders, &stubPaymentService{})

	rec := doRequest(t, router, http.MethodPost, "/api/v1/orders/ord_1/cancel", `{"reason":"changed my mind"}`, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if payload := decodeEnvelope(t, rec); payload["status"] != "CANCELLED" {
		t.Fatalf("unexpected body %v", payload)
	}
}

func TestRefundOrderSuccess(t *testing.T) {
	order := sampleOrder()
	order.Status = domain.OrderStatusRefunded
	order.PaymentStatus = domain.PaymentStatusRefunded
	orders := &stubOrderService{
		refundFunc: func(_ context.Context, cmd services.RefundOrderCommand) (domain.Order, error) {
			if cmd.OrderID != "ord_1" || cmd.Reason != "damaged" {
				t.Fatalf("unexpected command %+v", cmd)
			}
			return order, nil
		},
	}
	router := newOrderRouter(orders, &stubPaymentService{})

	rec := doRequest(t, router, http.MethodPost, "/api/v1/orders/ord_1/refund", `{"reason":"damaged"}`, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if payload := decodeEnvelope(t, rec); payload["status"] != "REFUNDED" {
		t.Fatalf("unexpected body %v", payload)
	}
}
