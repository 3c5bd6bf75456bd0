package services

import (
	"context"
	"time"

	domain "github.com/agoramall/orders-api/internal/domain"
	"github.com/agoramall/orders-api/internal/repositories"
)

// Logger is the structured logging contract shared by all services.
type Logger func(ctx context.Context, event string, fields map[string]any)

// OrderItemInput is one requested line. VariantID may be empty on the tenant
// channel; the resolver then picks the product's default variant.
type OrderItemInput struct {
	ProductID string
	VariantID string
	Quantity  int
}

// CreateOrderCommand carries everything needed to place an order.
type CreateOrderCommand struct {
	TenantID string
	UserID   string
	// AgentID marks the order as agent-resold. An id that does not resolve
	// to an ACTIVE agent falls back to the tenant channel.
	AgentID string
	Items   []OrderItemInput
}

// CancelOrderCommand cancels a PENDING unpaid order.
type CancelOrderCommand struct {
	TenantID string
	UserID   string
	OrderID  string
	Reason   string
}

// CompleteOrderCommand is the webhook-driven payment success transition.
type CompleteOrderCommand struct {
	TenantID   string
	OrderID    string
	PaymentRef string
}

// RefundOrderCommand refunds a COMPLETED order.
type RefundOrderCommand struct {
	TenantID string
	OrderID  string
	Reason   string
}

// OrderService orchestrates order creation and lifecycle transitions.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (domain.Order, error)
	GetOrder(ctx context.Context, tenantID, userID, orderID string) (domain.Order, error)
	ListOrders(ctx context.Context, tenantID, userID string, limit int) ([]domain.Order, error)
	CancelOrder(ctx context.Context, cmd CancelOrderCommand) (domain.Order, error)
	CompleteOrder(ctx context.Context, cmd CompleteOrderCommand) (domain.Order, error)
	RefundOrder(ctx context.Context, cmd RefundOrderCommand) (domain.Order, error)
}

// RetryPaymentCommand requests a checkout session for a pending order.
type RetryPaymentCommand struct {
	TenantID      string
	UserID        string
	OrderID       string
	PaymentMethod string
}

// PaymentRetryResult is the session handed back to the client.
type PaymentRetryResult struct {
	SessionID string
	URL       string
	ExpiresAt time.Time
	// Reused is true when an in-flight session satisfied the retry.
	Reused   bool
	Attempts int
}

// PaymentService coordinates external checkout sessions per order.
type PaymentService interface {
	RetryPayment(ctx context.Context, cmd RetryPaymentCommand) (PaymentRetryResult, error)
}

// AuthorizationResolver prices and allows/denies each requested line for one
// sales channel. Resolution is computed fresh per call; decisions are never
// cached because entitlements can change between requests.
type AuthorizationResolver interface {
	Resolve(ctx context.Context, tenantID string, channel domain.SalesChannel, ownerID string, items []OrderItemInput) (domain.AuthorizationResult, error)
}

// InventoryService fronts the reservation ledger, translating ledger errors
// into the service taxonomy.
type InventoryService interface {
	CheckAvailability(ctx context.Context, tenantID string, lines []domain.ReservationLine) (repositories.AvailabilityReport, error)
	Reserve(ctx context.Context, reservation domain.InventoryReservation) error
	Confirm(ctx context.Context, tenantID, orderID string) (domain.InventoryReservation, error)
	Release(ctx context.Context, tenantID, orderID, reason string) (domain.InventoryReservation, bool, error)
	Restock(ctx context.Context, tenantID, orderID string) (domain.InventoryReservation, error)
	GetReservation(ctx context.Context, tenantID, orderID string) (domain.InventoryReservation, error)
	SweepExpired(ctx context.Context, limit int) (int, error)
}

// UsageRecorder meters billable plugin usage. Exactly the new-session path of
// a payment retry consumes one unit; reuse consumes zero.
type UsageRecorder interface {
	RecordSessionCreated(ctx context.Context, tenantID string) error
}

// LifecycleHooks receives fire-and-forget notifications after lifecycle
// transitions commit. Implementations must never block the caller.
type LifecycleHooks interface {
	OnOrderCompleted(ctx context.Context, orderID string)
	OnOrderRefunded(ctx context.Context, orderID string)
}
