package services

import (
	domain "github.com/agoramall/orders-api/internal/domain"
)

// Legal lifecycle transitions. Everything not listed fails with
// ErrInvalidStateTransition; terminal states have no successors.
var orderTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:   {domain.OrderStatusCompleted, domain.OrderStatusCancelled},
	domain.OrderStatusCompleted: {domain.OrderStatusRefunded},
}

var paymentTransitions = map[domain.PaymentStatus][]domain.PaymentStatus{
	domain.PaymentStatusUnpaid: {domain.PaymentStatusPaid, domain.PaymentStatusFailed},
	domain.PaymentStatusPaid:   {domain.PaymentStatusRefunded},
}

// CanTransitionOrder reports whether from→to is a legal order status change.
func CanTransitionOrder(from, to domain.OrderStatus) bool {
	for _, allowed := range orderTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// CanTransitionPayment reports whether from→to is a legal payment status change.
func CanTransitionPayment(from, to domain.PaymentStatus) bool {
	for _, allowed := range paymentTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
