package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/agoramall/orders-api/internal/domain"
	"github.com/agoramall/orders-api/internal/events"
	"github.com/agoramall/orders-api/internal/payments"
	"github.com/agoramall/orders-api/internal/repositories"
)

const (
	// Fixed hold window for new orders; reservations share the same expiry.
	defaultHoldWindow = 30 * time.Minute

	cancelReasonUser = "user_cancelled"
)

// OrderServiceDeps wires the dependencies required by the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Refunds     repositories.RefundRepository
	Sessions    repositories.PaymentSessionRepository
	Counters    repositories.CounterRepository
	Agents      repositories.AgentRepository
	Inventory   InventoryService
	Resolver    AuthorizationResolver
	UnitOfWork  repositories.UnitOfWork
	Events      events.Publisher
	Hooks       LifecycleHooks
	// Gateway, when set, issues the provider-side refund before the
	// refund transition commits.
	Gateway     payments.Gateway
	Clock       func() time.Time
	IDGenerator func() string
	Logger      Logger
	HoldWindow  time.Duration
}

type orderService struct {
	orders     repositories.OrderRepository
	refunds    repositories.RefundRepository
	sessions   repositories.PaymentSessionRepository
	counters   repositories.CounterRepository
	agents     repositories.AgentRepository
	inventory  InventoryService
	resolver   AuthorizationResolver
	uow        repositories.UnitOfWork
	events     events.Publisher
	hooks      LifecycleHooks
	gateway    payments.Gateway
	now        func() time.Time
	newID      func() string
	logger     Logger
	holdWindow time.Duration
}

// NewOrderService constructs an OrderService validating required dependencies.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Refunds == nil {
		return nil, errors.New("order service: refund repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
	}
	if deps.Agents == nil {
		return nil, errors.New("order service: agent repository is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("order service: inventory service is required")
	}
	if deps.Resolver == nil {
		return nil, errors.New("order service: authorization resolver is required")
	}
	if deps.UnitOfWork == nil {
		return nil, errors.New("order service: unit of work is required")
	}
	if deps.IDGenerator == nil {
		return nil, errors.New("order service: id generator is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	holdWindow := deps.HoldWindow
	if holdWindow <= 0 {
		holdWindow = defaultHoldWindow
	}

	return &orderService{
		orders:    deps.Orders,
		refunds:   deps.Refunds,
		sessions:  deps.Sessions,
		counters:  deps.Counters,
		agents:    deps.Agents,
		inventory: deps.Inventory,
		resolver:  deps.Resolver,
		uow:       deps.UnitOfWork,
		events:    deps.Events,
		hooks:     deps.Hooks,
		gateway:   deps.Gateway,
		now: func() time.Time {
			return clock().UTC()
		},
		newID:      deps.IDGenerator,
		logger:     logger,
		holdWindow: holdWindow,
	}, nil
}

// CreateOrder authorizes, prices, and persists a new order together with its
// stock reservation in one transaction.
func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (domain.Order, error) {
	tenantID := strings.TrimSpace(cmd.TenantID)
	userID := strings.TrimSpace(cmd.UserID)
	if tenantID == "" || userID == "" {
		return domain.Order{}, fmt.Errorf("%w: tenant id and user id are required", ErrInvalidInput)
	}
	if len(cmd.Items) == 0 {
		return domain.Order{}, fmt.Errorf("%w: at least one item is required", ErrInvalidInput)
	}
	for _, item := range cmd.Items {
		if strings.TrimSpace(item.ProductID) == "" && strings.TrimSpace(item.VariantID) == "" {
			return domain.Order{}, fmt.Errorf("%w: item needs a product id or variant id", ErrInvalidInput)
		}
		if item.Quantity <= 0 {
			return domain.Order{}, fmt.Errorf("%w: item quantity must be positive", ErrInvalidInput)
		}
	}

	channel, agentID := s.resolveChannel(ctx, tenantID, strings.TrimSpace(cmd.AgentID))

	ownerID := userID
	if channel == domain.ChannelAgent {
		ownerID = *agentID
	}
	authz, err := s.resolver.Resolve(ctx, tenantID, channel, ownerID, cmd.Items)
	if err != nil {
		return domain.Order{}, err
	}
	if !authz.IsValid() {
		return domain.Order{}, &AuthorizationFailedError{Denied: authz.DeniedItems}
	}

	lines := make([]domain.ReservationLine, len(authz.AuthorizedItems))
	items := make([]domain.OrderLineItem, len(authz.AuthorizedItems))
	var total int64
	currency := ""
	for i, authorized := range authz.AuthorizedItems {
		lines[i] = domain.ReservationLine{
			ProductID: authorized.ProductID,
			VariantID: authorized.VariantID,
			Quantity:  authorized.Quantity,
		}
		lineTotal := authorized.EffectivePrice * int64(authorized.Quantity)
		items[i] = domain.OrderLineItem{
			ProductID: authorized.ProductID,
			VariantID: authorized.VariantID,
			Name:      authorized.Name,
			Quantity:  authorized.Quantity,
			UnitPrice: authorized.EffectivePrice,
			Total:     lineTotal,
		}
		total += lineTotal
		if currency == "" {
			currency = authorized.Currency
		}
	}
	// Two items can resolve to the same variant (product-only lines share
	// the default variant); the hold must carry their combined quantity.
	lines = domain.MergeReservationLines(lines)

	// Fast-fail only; the authoritative check runs inside the transaction.
	report, err := s.inventory.CheckAvailability(ctx, tenantID, lines)
	if err != nil {
		return domain.Order{}, err
	}
	if !report.Available {
		return domain.Order{}, NewInsufficientStockError(report.Insufficient)
	}

	now := s.now()
	orderID := "ord_" + s.newID()
	orderNumber, err := s.nextOrderNumber(ctx, tenantID, now)
	if err != nil {
		return domain.Order{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	order := domain.Order{
		ID:            orderID,
		OrderNumber:   orderNumber,
		UserID:        userID,
		TenantID:      tenantID,
		AgentID:       agentID,
		Channel:       channel,
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.PaymentStatusUnpaid,
		Currency:      currency,
		TotalAmount:   total,
		Items:         items,
		CreatedAt:     now,
		UpdatedAt:     now,
		ExpiresAt:     now.Add(s.holdWindow),
	}
	reservation := domain.InventoryReservation{
		OrderID:   orderID,
		TenantID:  tenantID,
		UserID:    userID,
		Lines:     lines,
		ExpiresAt: order.ExpiresAt,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.uow.RunInTx(ctx, func(ctx context.Context) error {
		// Reserve first: its transactional re-check aborts the whole
		// transaction on a stale availability read, leaving no order row.
		if err := s.inventory.Reserve(ctx, reservation); err != nil {
			return err
		}
		return s.orders.Insert(ctx, order)
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientStock) {
			return domain.Order{}, err
		}
		return domain.Order{}, fmt.Errorf("create order: %w", err)
	}

	s.logger(ctx, "order.created", map[string]any{
		"orderId":     orderID,
		"orderNumber": orderNumber,
		"tenantId":    tenantID,
		"channel":     string(channel),
		"totalAmount": total,
	})
	s.publish(ctx, events.TypeOrderCreated, order)
	return order, nil
}

// resolveChannel decides the sales channel. An agent id that does not resolve
// to an ACTIVE agent in this tenant is ignored and the order proceeds
// tenant-direct; the fallback is logged for reconciliation.
func (s *orderService) resolveChannel(ctx context.Context, tenantID, agentID string) (domain.SalesChannel, *string) {
	if agentID == "" {
		return domain.ChannelTenant, nil
	}
	agent, err := s.agents.FindByID(ctx, tenantID, agentID)
	if err != nil || agent.Status != domain.AgentStatusActive {
		s.logger(ctx, "order.agent_fallback", map[string]any{
			"tenantId": tenantID,
			"agentId":  agentID,
		})
		return domain.ChannelTenant, nil
	}
	return domain.ChannelAgent, &agent.ID
}

func (s *orderService) GetOrder(ctx context.Context, tenantID, userID, orderID string) (domain.Order, error) {
	order, err := s.orders.FindByID(ctx, strings.TrimSpace(tenantID), strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, s.mapOrderError(err, orderID)
	}
	if order.UserID != strings.TrimSpace(userID) {
		return domain.Order{}, fmt.Errorf("%w: order %s", ErrOrderNotFound, orderID)
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, tenantID, userID string, limit int) ([]domain.Order, error) {
	tenantID = strings.TrimSpace(tenantID)
	userID = strings.TrimSpace(userID)
	if tenantID == "" || userID == "" {
		return nil, fmt.Errorf("%w: tenant id and user id are required", ErrInvalidInput)
	}
	orders, err := s.orders.ListByUser(ctx, tenantID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return orders, nil
}

// CancelOrder releases the order's hold and terminalizes it. Only PENDING
// unpaid orders may be cancelled; paid orders go through the refund path.
func (s *orderService) CancelOrder(ctx context.Context, cmd CancelOrderCommand) (domain.Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrInvalidInput)
	}
	reason := strings.TrimSpace(cmd.Reason)
	if reason == "" {
		reason = cancelReasonUser
	}

	var cancelled domain.Order
	err := s.uow.RunInTx(ctx, func(ctx context.Context) error {
		order, err := s.orders.FindByID(ctx, cmd.TenantID, orderID)
		if err != nil {
			return s.mapOrderError(err, orderID)
		}
		if cmd.UserID != "" && order.UserID != strings.TrimSpace(cmd.UserID) {
			return fmt.Errorf("%w: order %s", ErrOrderNotFound, orderID)
		}
		if !CanTransitionOrder(order.Status, domain.OrderStatusCancelled) || order.PaymentStatus != domain.PaymentStatusUnpaid {
			return fmt.Errorf("%w: %s/%s order cannot be cancelled", ErrInvalidStateTransition, order.Status, order.PaymentStatus)
		}

		// Idempotent: an already swept reservation reports released=false.
		if _, _, err := s.inventory.Release(ctx, order.TenantID, orderID, reason); err != nil && !errors.Is(err, ErrOrderNotFound) {
			return err
		}

		now := s.now()
		order.Status = domain.OrderStatusCancelled
		order.PaymentStatus = domain.PaymentStatusFailed
		order.CancelReason = &reason
		order.CancelledAt = &now
		order.UpdatedAt = now
		if err := s.orders.Update(ctx, order); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		cancelled = order
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.logger(ctx, "order.cancelled", map[string]any{
		"orderId": orderID,
		"reason":  reason,
	})
	s.publish(ctx, events.TypeOrderCancelled, cancelled)
	return cancelled, nil
}

// CompleteOrder is the payment-success transition driven by the provider
// webhook. Confirming the reservation, marking the order paid, and consuming
// the session commit together; webhook redelivery is a no-op.
func (s *orderService) CompleteOrder(ctx context.Context, cmd CompleteOrderCommand) (domain.Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrInvalidInput)
	}

	// Session lookup is a query and must not join the store transaction. A
	// transient lookup failure aborts the call: the provider redelivers the
	// webhook, so the session is consumed on the retry instead of stranding
	// PENDING forever.
	var sessionID string
	if s.sessions != nil {
		session, err := s.sessions.LatestPending(ctx, cmd.TenantID, orderID)
		switch {
		case err == nil:
			sessionID = session.ID
		case isNotFound(err):
			// Orders completed without a stored session stay legal.
		default:
			return domain.Order{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	alreadyCompleted := false
	var completed domain.Order
	err := s.uow.RunInTx(ctx, func(ctx context.Context) error {
		order, err := s.orders.FindByID(ctx, cmd.TenantID, orderID)
		if err != nil {
			return s.mapOrderError(err, orderID)
		}
		if order.Status == domain.OrderStatusCompleted && order.PaymentStatus == domain.PaymentStatusPaid {
			alreadyCompleted = true
			completed = order
			return nil
		}
		if !CanTransitionOrder(order.Status, domain.OrderStatusCompleted) || !CanTransitionPayment(order.PaymentStatus, domain.PaymentStatusPaid) {
			return fmt.Errorf("%w: %s/%s order cannot complete", ErrInvalidStateTransition, order.Status, order.PaymentStatus)
		}

		if _, err := s.inventory.Confirm(ctx, order.TenantID, orderID); err != nil {
			return err
		}

		now := s.now()
		order.Status = domain.OrderStatusCompleted
		order.PaymentStatus = domain.PaymentStatusPaid
		if ref := strings.TrimSpace(cmd.PaymentRef); ref != "" {
			order.PaymentRef = &ref
		}
		order.CompletedAt = &now
		order.UpdatedAt = now
		if err := s.orders.Update(ctx, order); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if sessionID != "" {
			if err := s.sessions.MarkConsumed(ctx, order.TenantID, orderID, sessionID, now); err != nil {
				return fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
		}
		completed = order
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	if alreadyCompleted {
		return completed, nil
	}

	s.logger(ctx, "order.completed", map[string]any{
		"orderId":    orderID,
		"paymentRef": cmd.PaymentRef,
	})
	if s.hooks != nil {
		s.hooks.OnOrderCompleted(ctx, orderID)
	}
	s.publish(ctx, events.TypeOrderPaid, completed)
	return completed, nil
}

// RefundOrder restocks the confirmed quantity and records exactly one refund
// referencing the originating payment.
func (s *orderService) RefundOrder(ctx context.Context, cmd RefundOrderCommand) (domain.Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrInvalidInput)
	}

	// The provider-side refund happens before the local transition. The
	// idempotency key keeps a retried refund from paying out twice; a
	// failed transition after a successful payout is recoverable by retry.
	existing, err := s.orders.FindByID(ctx, cmd.TenantID, orderID)
	if err != nil {
		return domain.Order{}, s.mapOrderError(err, orderID)
	}
	if !CanTransitionOrder(existing.Status, domain.OrderStatusRefunded) || !CanTransitionPayment(existing.PaymentStatus, domain.PaymentStatusRefunded) {
		return domain.Order{}, fmt.Errorf("%w: %s/%s order cannot be refunded", ErrInvalidStateTransition, existing.Status, existing.PaymentStatus)
	}
	if s.gateway != nil && existing.PaymentRef != nil {
		_, err := s.gateway.Refund(ctx, payments.RefundRequest{
			PaymentRef:     *existing.PaymentRef,
			Reason:         strings.TrimSpace(cmd.Reason),
			IdempotencyKey: "refund-" + orderID,
			Metadata: map[string]string{
				"orderId":  orderID,
				"tenantId": existing.TenantID,
			},
		})
		if err != nil {
			return domain.Order{}, fmt.Errorf("%w: %v", ErrPaymentGateway, err)
		}
	}

	var refunded domain.Order
	err = s.uow.RunInTx(ctx, func(ctx context.Context) error {
		order, err := s.orders.FindByID(ctx, cmd.TenantID, orderID)
		if err != nil {
			return s.mapOrderError(err, orderID)
		}
		if !CanTransitionOrder(order.Status, domain.OrderStatusRefunded) || !CanTransitionPayment(order.PaymentStatus, domain.PaymentStatusRefunded) {
			return fmt.Errorf("%w: %s/%s order cannot be refunded", ErrInvalidStateTransition, order.Status, order.PaymentStatus)
		}

		if _, err := s.inventory.Restock(ctx, order.TenantID, orderID); err != nil {
			return err
		}

		now := s.now()
		paymentRef := ""
		if order.PaymentRef != nil {
			paymentRef = *order.PaymentRef
		}
		refund := domain.Refund{
			ID:         "ref_" + s.newID(),
			OrderID:    orderID,
			TenantID:   order.TenantID,
			PaymentRef: paymentRef,
			Amount:     order.TotalAmount,
			Currency:   order.Currency,
			Reason:     strings.TrimSpace(cmd.Reason),
			CreatedAt:  now,
		}
		if err := s.refunds.Insert(ctx, refund); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}

		order.Status = domain.OrderStatusRefunded
		order.PaymentStatus = domain.PaymentStatusRefunded
		order.RefundedAt = &now
		order.UpdatedAt = now
		if err := s.orders.Update(ctx, order); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		refunded = order
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.logger(ctx, "order.refunded", map[string]any{
		"orderId": orderID,
		"amount":  refunded.TotalAmount,
	})
	if s.hooks != nil {
		s.hooks.OnOrderRefunded(ctx, orderID)
	}
	s.publish(ctx, events.TypeOrderRefunded, refunded)
	return refunded, nil
}

// nextOrderNumber produces AM-<year>-<seq>, sequential per tenant and year.
// Runs outside the order transaction; a failed creation may burn a value.
func (s *orderService) nextOrderNumber(ctx context.Context, tenantID string, now time.Time) (string, error) {
	counterID := fmt.Sprintf("orders__%s__%d", tenantID, now.Year())
	seq, err := s.counters.Next(ctx, counterID, 1)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("AM-%d-%06d", now.Year(), seq), nil
}

// publish emits an order lifecycle event. At-least-once with best effort: a
// failed publish is logged and never fails the committed operation.
func (s *orderService) publish(ctx context.Context, eventType string, order domain.Order) {
	if s.events == nil {
		return
	}
	items := make([]events.OrderEventItem, len(order.Items))
	for i, item := range order.Items {
		items[i] = events.OrderEventItem{
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		}
	}
	event := events.OrderEvent{
		Type:        eventType,
		OrderID:     order.ID,
		TenantID:    order.TenantID,
		UserID:      order.UserID,
		Channel:     string(order.Channel),
		TotalAmount: order.TotalAmount,
		Currency:    order.Currency,
		Items:       items,
		OccurredAt:  s.now(),
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger(ctx, "order.event_publish_failed", map[string]any{
			"orderId": order.ID,
			"type":    eventType,
			"error":   err.Error(),
		})
	}
}

func (s *orderService) mapOrderError(err error, orderID string) error {
	if isNotFound(err) {
		return fmt.Errorf("%w: order %s", ErrOrderNotFound, orderID)
	}
	if errors.Is(err, ErrOrderNotFound) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
