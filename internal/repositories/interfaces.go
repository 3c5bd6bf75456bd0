package repositories

import (
	"context"
	"time"

	domain "github.com/agoramall/orders-api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork groups repository operations into one atomic transaction. Within
// the callback, repository reads must precede repository writes; the
// Firestore-backed implementation enforces the store's read-before-write rule.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists orders with their embedded line items.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, tenantID, orderID string) (domain.Order, error)
	ListByUser(ctx context.Context, tenantID, userID string, limit int) ([]domain.Order, error)
}

// InsufficientLine reports the per-variant shortfall behind a stock denial.
type InsufficientLine struct {
	VariantID string
	Requested int
	Available int
}

// AvailabilityReport is the result of a non-transactional availability check.
type AvailabilityReport struct {
	Available    bool
	Insufficient []InsufficientLine
}

// InventoryRepository is the reservation ledger. The variant stock counter is
// mutated exclusively through these entry points.
type InventoryRepository interface {
	// CheckAvailability computes totalStock minus live holds, logically
	// excluding ACTIVE reservations past their expiry. Fast-fail only; the
	// authoritative check happens inside CreateReservations.
	CheckAvailability(ctx context.Context, tenantID string, lines []domain.ReservationLine, now time.Time) (AvailabilityReport, error)
	// CreateReservations re-verifies stock and places the hold. Must run
	// inside the same transaction as the order insert; fails the whole
	// transaction with an insufficient-stock error when the earlier check
	// went stale.
	CreateReservations(ctx context.Context, reservation domain.InventoryReservation) error
	// Confirm converts the order's ACTIVE hold into a hard stock decrement.
	Confirm(ctx context.Context, tenantID, orderID string, now time.Time) (domain.InventoryReservation, error)
	// Release returns the order's ACTIVE hold to the pool. Idempotent: a
	// reservation already released or confirmed reports released=false
	// without error.
	Release(ctx context.Context, tenantID, orderID, reason string, now time.Time) (reservation domain.InventoryReservation, released bool, err error)
	// Restock returns already-confirmed quantity to onHand for a refund.
	Restock(ctx context.Context, tenantID, orderID string, now time.Time) (domain.InventoryReservation, error)
	GetReservation(ctx context.Context, tenantID, orderID string) (domain.InventoryReservation, error)
	// SweepExpired physically releases ACTIVE reservations past expiry.
	// Entry point for the external scheduled job.
	SweepExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// PaymentSessionRepository stores external checkout sessions per order.
type PaymentSessionRepository interface {
	Insert(ctx context.Context, session domain.PaymentSession) error
	// LatestPending returns the newest PENDING session for the order,
	// regardless of expiry; callers apply the reuse rule.
	LatestPending(ctx context.Context, tenantID, orderID string) (domain.PaymentSession, error)
	MarkConsumed(ctx context.Context, tenantID, orderID, sessionID string, now time.Time) error
}

// RefundRepository records refunds referencing the originating payment.
type RefundRepository interface {
	Insert(ctx context.Context, refund domain.Refund) error
	FindByOrder(ctx context.Context, tenantID, orderID string) ([]domain.Refund, error)
}

// CatalogRepository reads products and variants for pricing and validation.
type CatalogRepository interface {
	GetProduct(ctx context.Context, tenantID, productID string) (domain.Product, error)
	GetVariant(ctx context.Context, tenantID, variantID string) (domain.Variant, error)
	// ListActiveVariants returns active variants of a product ordered by
	// activation time then id, so default-variant selection is deterministic.
	ListActiveVariants(ctx context.Context, tenantID, productID string) ([]domain.Variant, error)
}

// AgentRepository reads agent accounts and their entitlements.
type AgentRepository interface {
	FindByID(ctx context.Context, tenantID, agentID string) (domain.Agent, error)
	GetEntitlement(ctx context.Context, tenantID, agentID, variantID string) (domain.AgentEntitlement, error)
}

// CounterRepository provides transactional monotonic counters, used for
// per-tenant order numbers and usage metering.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}
