package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	domain "github.com/agoramall/orders-api/internal/domain"
	"github.com/agoramall/orders-api/internal/payments"
	"github.com/agoramall/orders-api/internal/repositories/memory"
)

type paymentFixture struct {
	now      time.Time
	store    *memory.Store
	orders   *memory.OrderRepository
	ledger   *memory.InventoryRepository
	sessions *memory.PaymentSessionRepository
	counters *memory.CounterRepository
	gateway  *stubGateway
	service  PaymentService
}

func newPaymentFixture(t *testing.T) *paymentFixture {
	t.Helper()

	store := memory.NewStore()
	f := &paymentFixture{
		now:      time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
		store:    store,
		orders:   memory.NewOrderRepository(store),
		ledger:   memory.NewInventoryRepository(store),
		sessions: memory.NewPaymentSessionRepository(store),
		counters: memory.NewCounterRepository(store),
		gateway:  &stubGateway{},
	}

	inventory, err := NewInventoryService(InventoryServiceDeps{
		Ledger: f.ledger,
		Clock:  func() time.Time { return f.now },
	})
	if err != nil {
		t.Fatalf("inventory service: %v", err)
	}
	usage, err := NewCounterUsageRecorder(f.counters)
	if err != nil {
		t.Fatalf("usage recorder: %v", err)
	}
	service, err := NewPaymentService(PaymentServiceDeps{
		Orders:     f.orders,
		Sessions:   f.sessions,
		Inventory:  inventory,
		Gateway:    f.gateway,
		Usage:      usage,
		UnitOfWork: memory.NewUnitOfWork(store),
		Clock:      func() time.Time { return f.now },
		SuccessURL: "https://shop.example/success",
		CancelURL:  "https://shop.example/cancel",
		SessionTTL: 30 * time.Minute,
	})
	if err != nil {
		t.Fatalf("payment service: %v", err)
	}
	f.service = service
	return f
}

// seedPendingOrder installs a pending order with a live ACTIVE hold.
func (f *paymentFixture) seedPendingOrder(t *testing.T, orderID string) domain.Order {
	t.Helper()
	ctx := context.Background()

	f.ledger.SeedStock(domain.VariantStock{TenantID: "t1", ProductID: "prod-1", VariantID: "var-1", OnHand: 10})
	order := domain.Order{
		ID:            orderID,
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
		CreatedAt: f.now,
		UpdatedAt: f.now,
		ExpiresAt: f.now.Add(30 * time.Minute),
	}
	if err := f.orders.Insert(ctx, order); err != nil {
		t.Fatalf("order insert: %v", err)
	}
	if err := f.ledger.CreateReservations(ctx, domain.InventoryReservation{
		OrderID:   orderID,
		TenantID:  "t1",
		UserID:    "user-1",
		Lines:     []domain.ReservationLine{{ProductID: "prod-1", VariantID: "var-1", Quantity: 2}},
		ExpiresAt: order.ExpiresAt,
		CreatedAt: f.now,
	}); err != nil {
		t.Fatalf("reservation: %v", err)
	}
	return order
}

func usageCounterID(tenantID string) string {
	return fmt.Sprintf("usage__%s__payments.sessions.created", tenantID)
}

func TestPaymentServiceRetryCreatesSession(t *testing.T) {
	ctx := context.Background()
	f := newPaymentFixture(t)
	f.seedPendingOrder(t, "ord_1")

	result, err := f.service.RetryPayment(ctx, RetryPaymentCommand{
		TenantID: "t1", UserID: "user-1", OrderID: "ord_1", PaymentMethod: "card",
	})
	if err != nil {
		t.Fatalf("RetryPayment: %v", err)
	}
	if result.Reused || result.Attempts != 1 || result.SessionID == "" || result.URL == "" {
		t.Fatalf("unexpected result %+v", result)
	}

	order, _ := f.orders.FindByID(ctx, "t1", "ord_1")
	if order.PaymentAttempts != 1 || order.LastPaymentMethod != "card" {
		t.Fatalf("attempt not recorded: %+v", order)
	}
	if order.LastPaymentAttemptAt == nil || !order.LastPaymentAttemptAt.Equal(f.now) {
		t.Fatalf("attempt timestamp not recorded: %v", order.LastPaymentAttemptAt)
	}
	if got := f.counters.Value(usageCounterID("t1")); got != 1 {
		t.Fatalf("expected one metered session, got %d", got)
	}

	session, err := f.sessions.LatestPending(ctx, "t1", "ord_1")
	if err != nil {
		t.Fatalf("LatestPending: %v", err)
	}
	if session.ID != result.SessionID || session.PaymentMethod != "card" {
		t.Fatalf("unexpected stored session %+v", session)
	}
	if !session.ExpiresAt.Equal(f.now.Add(30 * time.Minute)) {
		t.Fatalf("session TTL not applied: %v", session.ExpiresAt)
	}
}

func TestPaymentServiceRetryReusesPendingSession(t *testing.T) {
	ctx := context.Background()
	f := newPaymentFixture(t)
	f.seedPendingOrder(t, "ord_1")

	first, err := f.service.RetryPayment(ctx, RetryPaymentCommand{
		TenantID: "t1", UserID: "user-1", OrderID: "ord_1", PaymentMethod: "card",
	})
	if err != nil {
		t.Fatalf("first retry: %v", err)
	}

	// Same method while the session is still live: no gateway call, no
	// metering, same session id, attempt counter still advances.
	for attempt := 2; attempt <= 3; attempt++ {
		result, err := f.service.RetryPayment(ctx, RetryPaymentCommand{
			TenantID: "t1", UserID: "user-1", OrderID: "ord_1", PaymentMethod: "card",
		})
		if err != nil {
			t.Fatalf("retry %d: %v", attempt, err)
		}
		if !result.Reused || result.SessionID != first.SessionID {
			t.Fatalf("retry %d must reuse %s, got %+v", attempt, first.SessionID, result)
		}
		if result.Attempts != attempt {
			t.Fatalf("retry %d: expected attempts %d, got %d", attempt, attempt, result.Attempts)
		}
	}

	f.gateway.mu.Lock()
	calls := f.gateway.createCalls
	f.gateway.mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected one gateway session, got %d", calls)
	}
	if got := f.counters.Value(usageCounterID("t1")); got != 1 {
		t.Fatalf("reuse must not meter, got %d", got)
	}
}

func TestPaymentServiceRetryNewMethodCreatesNewSession(t *testing.T) {
	ctx := context.Background()
	f := newPaymentFixture(t)
	f.seedPendingOrder(t, "ord_1")

	first, err := f.service.RetryPayment(ctx, RetryPaymentCommand{
		TenantID: "t1", UserID: "user-1", OrderID: "ord_1", PaymentMethod: "card",
	})
	if err != nil {
		t.Fatalf("first retry: %v", err)
	}

	second, err := f.service.RetryPayment(ctx, RetryPaymentCommand{
		TenantID: "t1", UserID: "user-1", OrderID: "ord_1", PaymentMethod: "alipay",
	})
	if err != nil {
		t.Fatalf("second retry: %v", err)
	}
	if second.Reused || second.SessionID == first.SessionID {
		t.Fatalf("method switch must create a new session, got %+v", second)
	}
	if second.Attempts != 2 {
		t.Fatalf("expected attempts 2, got %d", second.Attempts)
	}
	if got := f.counters.Value(usageCounterID("t1")); got != 2 {
		t.Fatalf("expected two metered sessions, got %d", got)
	}
}

func TestPaymentServiceRetryExpiredOrder(t *testing.T) {
	ctx := context.Background()
	f := newPaymentFixture(t)
	f.seedPendingOrder(t, "ord_1")

	f.now = f.now.Add(31 * time.Minute)

	_, err := f.service.RetryPayment(ctx, RetryPaymentCommand{
		TenantID: "t1", UserID: "user-1", OrderID: "ord_1", PaymentMethod: "card",
	})
	if !errors.Is(err, ErrOrderExpired) {
		t.Fatalf("expected ErrOrderExpired, got %v", err)
	}
	f.gateway.mu.Lock()
	calls := f.gateway.createCalls
	f.gateway.mu.Unlock()
	if calls != 0 {
		t.Fatalf("expired order must never reach the gateway, got %d calls", calls)
	}
}

func TestPaymentServiceRetryGatewayFailureCountsAttempt(t *testing.T) {
	ctx := context.Background()
	f := newPaymentFixture(t)
	f.seedPendingOrder(t, "ord_1")
	f.gateway.createFunc = func(context.Context, payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
		return payments.CheckoutSession{}, fmt.Errorf("checkout: %w", payments.ErrGatewayUnavailable)
	}

	_, err := f.service.RetryPayment(ctx, RetryPaymentCommand{
		TenantID: "t1", UserID: "user-1", OrderID: "ord_1", PaymentMethod: "card",
	})
	if !errors.Is(err, ErrPaymentGateway) {
		t.Fatalf("expected ErrPaymentGateway, got %v", err)
	}

	order, _ := f.orders.FindByID(ctx, "t1", "ord_1")
	if order.PaymentAttempts != 1 {
		t.Fatalf("failed attempt must still count, got %d", order.PaymentAttempts)
	}
	if got := f.counters.Value(usageCounterID("t1")); got != 0 {
		t.Fatalf("a failed session must not meter, got %d", got)
	}
	if _, err := f.sessions.LatestPending(ctx, "t1", "ord_1"); !isNotFound(err) {
		t.Fatalf("no session may be stored on gateway failure, got %v", err)
	}
}

func TestPaymentServiceRetryStockNoLongerAvailable(t *testing.T) {
	ctx := context.Background()
	f := newPaymentFixture(t)
	f.seedPendingOrder(t, "ord_1")

	// The hold is gone and a competitor took the remaining stock.
	if _, _, err := f.ledger.Release(ctx, "t1", "ord_1", "expired", f.now); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := f.ledger.CreateReservations(ctx, domain.InventoryReservation{
		OrderID:   "ord_other",
		TenantID:  "t1",
		UserID:    "user-2",
		Lines:     []domain.ReservationLine{{ProductID: "prod-1", VariantID: "var-1", Quantity: 9}},
		ExpiresAt: f.now.Add(30 * time.Minute),
		CreatedAt: f.now,
	}); err != nil {
		t.Fatalf("competitor reservation: %v", err)
	}

	_, err := f.service.RetryPayment(ctx, RetryPaymentCommand{
		TenantID: "t1", UserID: "user-1", OrderID: "ord_1", PaymentMethod: "card",
	})
	if !errors.Is(err, ErrStockNoLongerAvailable) {
		t.Fatalf("expected ErrStockNoLongerAvailable, got %v", err)
	}

	// The order is reported, not auto-cancelled.
	order, _ := f.orders.FindByID(ctx, "t1", "ord_1")
	if order.Status != domain.OrderStatusPending {
		t.Fatalf("order must stay PENDING, got %s", order.Status)
	}
}

func TestPaymentServiceRetryGuards(t *testing.T) {
	ctx := context.Background()
	f := newPaymentFixture(t)
	order := f.seedPendingOrder(t, "ord_1")

	if _, err := f.service.RetryPayment(ctx, RetryPaymentCommand{
		TenantID: "t1", UserID: "user-1", OrderID: "ord_1",
	}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("missing method: expected ErrInvalidInput, got %v", err)
	}
	if _, err := f.service.RetryPayment(ctx, RetryPaymentCommand{
		TenantID: "t1", UserID: "user-2", OrderID: "ord_1", PaymentMethod: "card",
	}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("foreign user: expected ErrOrderNotFound, got %v", err)
	}
	if _, err := f.service.RetryPayment(ctx, RetryPaymentCommand{
		TenantID: "t1", UserID: "user-1", OrderID: "ord_missing", PaymentMethod: "card",
	}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("missing order: expected ErrOrderNotFound, got %v", err)
	}

	order.Status = domain.OrderStatusCancelled
	order.PaymentStatus = domain.PaymentStatusFailed
	if err := f.orders.Update(ctx, order); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := f.service.RetryPayment(ctx, RetryPaymentCommand{
		TenantID: "t1", UserID: "user-1", OrderID: "ord_1", PaymentMethod: "card",
	}); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("cancelled order: expected ErrInvalidStateTransition, got %v", err)
	}
}

// staleOrderReads serves queued snapshots before delegating to the store, so
// a test can model a retry whose pre-transaction read raced a transition.
type staleOrderReads struct {
	*memory.OrderRepository
	queued []domain.Order
}

func (r *staleOrderReads) FindByID(ctx context.Context, tenantID, orderID string) (domain.Order, error) {
	if len(r.queued) > 0 {
		order := r.queued[0]
		r.queued = r.queued[1:]
		return order, nil
	}
	return r.OrderRepository.FindByID(ctx, tenantID, orderID)
}

func TestPaymentServiceRetryDoesNotResurrectCancelledOrder(t *testing.T) {
	ctx := context.Background()
	f := newPaymentFixture(t)
	pendingSnapshot := f.seedPendingOrder(t, "ord_1")

	// Commit a cancellation the way the order service does: hold released,
	// order CANCELLED/FAILED.
	if _, _, err := f.ledger.Release(ctx, "t1", "ord_1", "user_cancelled", f.now); err != nil {
		t.Fatalf("release: %v", err)
	}
	now := f.now
	reason := "user_cancelled"
	cancelled := pendingSnapshot
	cancelled.Status = domain.OrderStatusCancelled
	cancelled.PaymentStatus = domain.PaymentStatusFailed
	cancelled.CancelReason = &reason
	cancelled.CancelledAt = &now
	cancelled.UpdatedAt = now
	if err := f.orders.Update(ctx, cancelled); err != nil {
		t.Fatalf("cancel update: %v", err)
	}

	inventory, err := NewInventoryService(InventoryServiceDeps{
		Ledger: f.ledger,
		Clock:  func() time.Time { return f.now },
	})
	if err != nil {
		t.Fatalf("inventory service: %v", err)
	}
	usage, err := NewCounterUsageRecorder(f.counters)
	if err != nil {
		t.Fatalf("usage recorder: %v", err)
	}
	service, err := NewPaymentService(PaymentServiceDeps{
		Orders:     &staleOrderReads{OrderRepository: f.orders, queued: []domain.Order{pendingSnapshot}},
		Sessions:   f.sessions,
		Inventory:  inventory,
		Gateway:    f.gateway,
		Usage:      usage,
		UnitOfWork: memory.NewUnitOfWork(f.store),
		Clock:      func() time.Time { return f.now },
		SuccessURL: "https://shop.example/success",
		CancelURL:  "https://shop.example/cancel",
		SessionTTL: 30 * time.Minute,
	})
	if err != nil {
		t.Fatalf("payment service: %v", err)
	}

	_, err = service.RetryPayment(ctx, RetryPaymentCommand{
		TenantID: "t1", UserID: "user-1", OrderID: "ord_1", PaymentMethod: "card",
	})
	if !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}

	order, findErr := f.orders.FindByID(ctx, "t1", "ord_1")
	if findErr != nil {
		t.Fatalf("FindByID: %v", findErr)
	}
	if order.Status != domain.OrderStatusCancelled || order.PaymentStatus != domain.PaymentStatusFailed {
		t.Fatalf("cancelled order was overwritten: %s/%s", order.Status, order.PaymentStatus)
	}
	if order.PaymentAttempts != 0 || order.LastPaymentMethod != "" {
		t.Fatalf("stale retry snapshot leaked into the order: %+v", order)
	}
	if _, err := f.sessions.LatestPending(ctx, "t1", "ord_1"); !isNotFound(err) {
		t.Fatalf("no session must be stored for a cancelled order, got %v", err)
	}
	if got := f.counters.Value(usageCounterID("t1")); got != 0 {
		t.Fatalf("cancelled order must not meter usage, got %d", got)
	}
}
