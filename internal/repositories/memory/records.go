package memory

import (
	domain "github.com/agoramall/orders-api/internal/domain"
)

// Records hold value copies of domain structs so callers can never mutate
// stored state through a returned pointer.

type orderRecord struct {
	order domain.Order
}

type reservationRecord struct {
	reservation domain.InventoryReservation
}

type stockRecord struct {
	stock domain.VariantStock
}

type sessionRecord struct {
	session domain.PaymentSession
}

type refundRecord struct {
	refund domain.Refund
}

type productRecord struct {
	product domain.Product
}

type variantRecord struct {
	variant domain.Variant
}

type agentRecord struct {
	agent domain.Agent
}

type entitlementRecord struct {
	entitlement domain.AgentEntitlement
}

func copyOrder(o domain.Order) domain.Order {
	out := o
	out.Items = append([]domain.OrderLineItem(nil), o.Items...)
	return out
}

func copyReservation(r domain.InventoryReservation) domain.InventoryReservation {
	out := r
	out.Lines = append([]domain.ReservationLine(nil), r.Lines...)
	return out
}
