package domain

import (
	"time"
)

// SalesChannel identifies the sales path an order was placed through.
type SalesChannel string

const (
	// ChannelTenant marks orders placed directly on a tenant storefront.
	ChannelTenant SalesChannel = "TENANT"
	// ChannelAgent marks orders resold through an agent mall storefront.
	ChannelAgent SalesChannel = "AGENT"
)

// OrderStatus enumerates the order lifecycle states.
type OrderStatus string

const (
	// OrderStatusPending indicates the order awaits payment.
	OrderStatusPending OrderStatus = "PENDING"
	// OrderStatusCompleted indicates payment succeeded and stock was deducted.
	OrderStatusCompleted OrderStatus = "COMPLETED"
	// OrderStatusCancelled indicates the order was cancelled before payment.
	OrderStatusCancelled OrderStatus = "CANCELLED"
	// OrderStatusRefunded indicates a completed order was refunded.
	OrderStatusRefunded OrderStatus = "REFUNDED"
)

// PaymentStatus enumerates the payment states coupled to an order.
type PaymentStatus string

const (
	// PaymentStatusUnpaid indicates no successful payment exists yet.
	PaymentStatusUnpaid PaymentStatus = "UNPAID"
	// PaymentStatusPaid indicates the payment was captured.
	PaymentStatusPaid PaymentStatus = "PAID"
	// PaymentStatusFailed indicates payment was abandoned or failed terminally.
	PaymentStatusFailed PaymentStatus = "FAILED"
	// PaymentStatusRefunded indicates the captured payment was returned.
	PaymentStatusRefunded PaymentStatus = "REFUNDED"
)

// ReservationStatus enumerates inventory reservation states.
type ReservationStatus string

const (
	// ReservationStatusActive marks a live soft hold on stock.
	ReservationStatusActive ReservationStatus = "ACTIVE"
	// ReservationStatusConfirmed marks a hold converted into a hard deduction.
	ReservationStatusConfirmed ReservationStatus = "CONFIRMED"
	// ReservationStatusReleased marks a hold returned to the available pool.
	ReservationStatusReleased ReservationStatus = "RELEASED"
)

// SessionStatus enumerates external checkout session states.
type SessionStatus string

const (
	// SessionStatusPending indicates the session awaits customer completion.
	SessionStatusPending SessionStatus = "PENDING"
	// SessionStatusExpired indicates the session passed its expiry unused.
	SessionStatusExpired SessionStatus = "EXPIRED"
	// SessionStatusConsumed indicates the session produced a captured payment.
	SessionStatusConsumed SessionStatus = "CONSUMED"
)

// Order represents one checkout attempt. TotalAmount is fixed at creation;
// refunds are recorded separately and never mutate it.
type Order struct {
	ID                   string
	OrderNumber          string
	UserID               string
	TenantID             string
	AgentID              *string
	Channel              SalesChannel
	Status               OrderStatus
	PaymentStatus        PaymentStatus
	Currency             string
	TotalAmount          int64
	Items                []OrderLineItem
	PaymentAttempts      int
	LastPaymentMethod    string
	LastPaymentAttemptAt *time.Time
	PaymentRef           *string
	CancelReason         *string
	CancelledAt          *time.Time
	CompletedAt          *time.Time
	RefundedAt           *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
	ExpiresAt            time.Time
}

// Expired reports whether the order's hold window has passed at the given instant.
func (o Order) Expired(now time.Time) bool {
	return !o.ExpiresAt.IsZero() && o.ExpiresAt.Before(now)
}

// OrderLineItem is one product/variant with the unit price frozen at order
// creation. Immutable after creation.
type OrderLineItem struct {
	ProductID string
	VariantID string
	Name      string
	Quantity  int
	UnitPrice int64
	Total     int64
}

// InventoryReservation is a time-bounded claim on stock held for one order.
type InventoryReservation struct {
	OrderID   string
	TenantID  string
	UserID    string
	Status    ReservationStatus
	Lines     []ReservationLine
	Reason    string
	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ExpiredAt reports whether an ACTIVE reservation is logically released at now.
func (r InventoryReservation) ExpiredAt(now time.Time) bool {
	return r.Status == ReservationStatusActive && r.ExpiresAt.Before(now)
}

// ReservationLine is the reserved quantity for one variant.
type ReservationLine struct {
	ProductID string
	VariantID string
	Quantity  int
}

// MergeReservationLines combines lines naming the same variant into one,
// preserving first-occurrence order. Stock checks compare the per-variant
// total against availability, so duplicate lines must never be counted
// independently.
func MergeReservationLines(lines []ReservationLine) []ReservationLine {
	merged := make([]ReservationLine, 0, len(lines))
	index := make(map[string]int, len(lines))
	for _, line := range lines {
		if i, ok := index[line.VariantID]; ok {
			merged[i].Quantity += line.Quantity
			continue
		}
		index[line.VariantID] = len(merged)
		merged = append(merged, line)
	}
	return merged
}

// VariantStock is the contended stock record for one (tenant, variant) pair.
// OnHand only changes on confirm (decrement) and refund restock (increment);
// Reserved tracks live soft holds.
type VariantStock struct {
	TenantID  string
	ProductID string
	VariantID string
	OnHand    int
	Reserved  int
	Available int
	UpdatedAt time.Time
}

// PaymentSession is one outstanding external checkout session for an order.
// Sessions accumulate historically; only the newest PENDING one is reusable.
type PaymentSession struct {
	ID            string
	OrderID       string
	TenantID      string
	Provider      string
	PaymentMethod string
	URL           string
	Status        SessionStatus
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

// Reusable reports whether the session can satisfy a retry at the given instant.
func (s PaymentSession) Reusable(now time.Time) bool {
	return s.Status == SessionStatusPending && s.ExpiresAt.After(now)
}

// Refund records the return of a captured payment for a refunded order.
type Refund struct {
	ID         string
	OrderID    string
	TenantID   string
	PaymentRef string
	Amount     int64
	Currency   string
	Reason     string
	CreatedAt  time.Time
}

// AgentStatus enumerates agent account states.
type AgentStatus string

const (
	// AgentStatusActive marks agents allowed to resell.
	AgentStatusActive AgentStatus = "ACTIVE"
	// AgentStatusSuspended marks agents barred from placing orders.
	AgentStatusSuspended AgentStatus = "SUSPENDED"
)

// Agent is a reseller account bound to a tenant.
type Agent struct {
	ID        string
	TenantID  string
	Name      string
	Status    AgentStatus
	CreatedAt time.Time
}

// AgentEntitlement grants an agent the right to resell one variant,
// optionally at an overridden unit price.
type AgentEntitlement struct {
	AgentID       string
	TenantID      string
	ProductID     string
	VariantID     string
	Active        bool
	PriceOverride *int64
	CreatedAt     time.Time
}

// Product groups variants under a tenant catalog entry.
type Product struct {
	ID        string
	TenantID  string
	Name      string
	Active    bool
	CreatedAt time.Time
}

// Variant is a sellable unit of a product with tenant and agent prices in
// minor currency units.
type Variant struct {
	ID         string
	ProductID  string
	TenantID   string
	Name       string
	Active     bool
	UnitPrice  int64
	AgentPrice *int64
	Currency   string
	CreatedAt  time.Time
}

// AuthorizedItem is one allowed line with its effective unit price.
type AuthorizedItem struct {
	ProductID      string
	VariantID      string
	Name           string
	Quantity       int
	EffectivePrice int64
	Currency       string
}

// DeniedItem is one rejected line with its deny reason.
type DeniedItem struct {
	ProductID string
	VariantID string
	Reason    string
}

// AuthorizationResult is the transient per-request authorization decision.
// Never cached across requests; entitlements can change between calls.
type AuthorizationResult struct {
	AuthorizedItems []AuthorizedItem
	DeniedItems     []DeniedItem
}

// IsValid reports whether every requested line was authorized.
func (r AuthorizationResult) IsValid() bool {
	return len(r.DeniedItems) == 0
}
