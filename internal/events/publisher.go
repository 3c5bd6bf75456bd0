// Package events publishes order lifecycle events to downstream consumers.
// Publishing is best-effort: a failed publish is logged and never fails the
// order operation that produced it.
package events

import (
	"context"
	"time"
)

// Event types emitted by the order service.
const (
	TypeOrderCreated   = "order.created"
	TypeOrderPaid      = "order.paid"
	TypeOrderCancelled = "order.cancelled"
	TypeOrderRefunded  = "order.refunded"
)

// OrderEventItem is one line of the order snapshot carried on an event.
type OrderEventItem struct {
	ProductID string `json:"productId"`
	VariantID string `json:"variantId"`
	Quantity  int    `json:"qty"`
	UnitPrice int64  `json:"unitPrice"`
}

// OrderEvent is the payload for every order lifecycle event type.
type OrderEvent struct {
	Type        string           `json:"type"`
	OrderID     string           `json:"orderId"`
	TenantID    string           `json:"tenantId"`
	UserID      string           `json:"userId"`
	Channel     string           `json:"channel"`
	TotalAmount int64            `json:"totalAmount"`
	Currency    string           `json:"currency"`
	Items       []OrderEventItem `json:"items"`
	OccurredAt  time.Time        `json:"occurredAt"`
}

// Publisher delivers order events to a sink.
type Publisher interface {
	Publish(ctx context.Context, event OrderEvent) error
}
