package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/agoramall/orders-api/internal/domain"
	"github.com/agoramall/orders-api/internal/payments"
	"github.com/agoramall/orders-api/internal/repositories"
)

// PaymentServiceDeps wires the dependencies required by the payment service.
type PaymentServiceDeps struct {
	Orders     repositories.OrderRepository
	Sessions   repositories.PaymentSessionRepository
	Inventory  InventoryService
	Gateway    payments.Gateway
	Usage      UsageRecorder
	UnitOfWork repositories.UnitOfWork
	Clock      func() time.Time
	Logger     Logger
	SuccessURL string
	CancelURL  string
	SessionTTL time.Duration
}

type paymentService struct {
	orders     repositories.OrderRepository
	sessions   repositories.PaymentSessionRepository
	inventory  InventoryService
	gateway    payments.Gateway
	usage      UsageRecorder
	uow        repositories.UnitOfWork
	now        func() time.Time
	logger     Logger
	successURL string
	cancelURL  string
	sessionTTL time.Duration
}

// NewPaymentService constructs a PaymentService validating required dependencies.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment service: order repository is required")
	}
	if deps.Sessions == nil {
		return nil, errors.New("payment service: session repository is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("payment service: inventory service is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("payment service: gateway is required")
	}
	if deps.Usage == nil {
		return nil, errors.New("payment service: usage recorder is required")
	}
	if deps.UnitOfWork == nil {
		return nil, errors.New("payment service: unit of work is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	ttl := deps.SessionTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}

	return &paymentService{
		orders:    deps.Orders,
		sessions:  deps.Sessions,
		inventory: deps.Inventory,
		gateway:   deps.Gateway,
		usage:     deps.Usage,
		uow:       deps.UnitOfWork,
		now: func() time.Time {
			return clock().UTC()
		},
		logger:     logger,
		successURL: deps.SuccessURL,
		cancelURL:  deps.CancelURL,
		sessionTTL: ttl,
	}, nil
}

// RetryPayment returns a checkout session for a pending order. Same payment
// method against a live PENDING session reuses it without touching the
// gateway or the usage meter; anything else creates a new session and meters
// one unit. The attempt counter advances on every call, gateway failures
// included.
func (s *paymentService) RetryPayment(ctx context.Context, cmd RetryPaymentCommand) (PaymentRetryResult, error) {
	tenantID := strings.TrimSpace(cmd.TenantID)
	userID := strings.TrimSpace(cmd.UserID)
	orderID := strings.TrimSpace(cmd.OrderID)
	method := strings.TrimSpace(cmd.PaymentMethod)
	if tenantID == "" || userID == "" || orderID == "" {
		return PaymentRetryResult{}, fmt.Errorf("%w: tenant, user and order ids are required", ErrInvalidInput)
	}
	if method == "" {
		return PaymentRetryResult{}, fmt.Errorf("%w: payment method is required", ErrInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, tenantID, orderID)
	if err != nil {
		if isNotFound(err) {
			return PaymentRetryResult{}, fmt.Errorf("%w: order %s", ErrOrderNotFound, orderID)
		}
		return PaymentRetryResult{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if order.UserID != userID {
		return PaymentRetryResult{}, fmt.Errorf("%w: order %s", ErrOrderNotFound, orderID)
	}
	if order.Status != domain.OrderStatusPending || order.PaymentStatus != domain.PaymentStatusUnpaid {
		return PaymentRetryResult{}, fmt.Errorf("%w: %s/%s order cannot retry payment", ErrInvalidStateTransition, order.Status, order.PaymentStatus)
	}

	now := s.now()
	if order.Expired(now) {
		return PaymentRetryResult{}, fmt.Errorf("%w: order %s", ErrOrderExpired, orderID)
	}

	if err := s.verifyStockStillHeld(ctx, order, now); err != nil {
		return PaymentRetryResult{}, err
	}

	if order.LastPaymentMethod == method {
		session, err := s.sessions.LatestPending(ctx, tenantID, orderID)
		if err == nil && session.Reusable(now) {
			order, err = s.recordAttempt(ctx, tenantID, orderID, "", now)
			if err != nil {
				return PaymentRetryResult{}, err
			}
			s.logger(ctx, "payment.session_reused", map[string]any{
				"orderId":   orderID,
				"sessionId": session.ID,
				"attempts":  order.PaymentAttempts,
			})
			return PaymentRetryResult{
				SessionID: session.ID,
				URL:       session.URL,
				ExpiresAt: session.ExpiresAt,
				Reused:    true,
				Attempts:  order.PaymentAttempts,
			}, nil
		}
		if err != nil && !isNotFound(err) {
			return PaymentRetryResult{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	return s.createSession(ctx, order, method, now)
}

// recordAttempt advances the attempt counter inside one transaction with a
// re-read of the order status. A retry racing a cancellation must never write
// its stale PENDING snapshot over the committed CANCELLED state.
func (s *paymentService) recordAttempt(ctx context.Context, tenantID, orderID, method string, now time.Time) (domain.Order, error) {
	var updated domain.Order
	err := s.uow.RunInTx(ctx, func(ctx context.Context) error {
		order, err := s.orders.FindByID(ctx, tenantID, orderID)
		if err != nil {
			return err
		}
		if order.Status != domain.OrderStatusPending || order.PaymentStatus != domain.PaymentStatusUnpaid {
			return fmt.Errorf("%w: %s/%s order cannot retry payment", ErrInvalidStateTransition, order.Status, order.PaymentStatus)
		}
		order.PaymentAttempts++
		if method != "" {
			order.LastPaymentMethod = method
		}
		order.LastPaymentAttemptAt = &now
		order.UpdatedAt = now
		updated = order
		return s.orders.Update(ctx, order)
	})
	if err != nil {
		if errors.Is(err, ErrInvalidStateTransition) {
			return domain.Order{}, err
		}
		if isNotFound(err) {
			return domain.Order{}, fmt.Errorf("%w: order %s", ErrOrderNotFound, orderID)
		}
		return domain.Order{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return updated, nil
}

// verifyStockStillHeld fast-fails a retry whose stock has evaporated. A still
// ACTIVE unexpired hold vouches for the stock by itself; once the hold is
// gone the pool has to cover the order's lines again. The order is never
// auto-cancelled here.
func (s *paymentService) verifyStockStillHeld(ctx context.Context, order domain.Order, now time.Time) error {
	reservation, err := s.inventory.GetReservation(ctx, order.TenantID, order.ID)
	if err != nil && !errors.Is(err, ErrOrderNotFound) {
		return err
	}
	if err == nil && reservation.Status == domain.ReservationStatusActive && !reservation.ExpiredAt(now) {
		return nil
	}

	lines := make([]domain.ReservationLine, len(order.Items))
	for i, item := range order.Items {
		lines[i] = domain.ReservationLine{
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Quantity:  item.Quantity,
		}
	}
	report, err := s.inventory.CheckAvailability(ctx, order.TenantID, lines)
	if err != nil {
		if errors.Is(err, ErrInsufficientStock) {
			return NewStockNoLongerAvailableError(nil)
		}
		return err
	}
	if !report.Available {
		return NewStockNoLongerAvailableError(report.Insufficient)
	}
	return nil
}

func (s *paymentService) createSession(ctx context.Context, order domain.Order, method string, now time.Time) (PaymentRetryResult, error) {
	items := make([]payments.CheckoutLineItem, len(order.Items))
	for i, item := range order.Items {
		items[i] = payments.CheckoutLineItem{
			Name:     item.Name,
			SKU:      item.VariantID,
			Quantity: int64(item.Quantity),
			Amount:   item.UnitPrice,
			Currency: order.Currency,
		}
	}

	session, gatewayErr := s.gateway.CreateCheckoutSession(ctx, payments.CheckoutSessionRequest{
		OrderID:       order.ID,
		Amount:        order.TotalAmount,
		Currency:      order.Currency,
		PaymentMethod: method,
		SuccessURL:    s.successURL,
		CancelURL:     s.cancelURL,
		Metadata: map[string]string{
			"orderId":  order.ID,
			"tenantId": order.TenantID,
		},
		IdempotencyKey: fmt.Sprintf("%s-%d", order.ID, order.PaymentAttempts+1),
		Items:          items,
	})

	// The attempt is recorded regardless of the gateway outcome so callers
	// can rate-limit retries.
	order, err := s.recordAttempt(ctx, order.TenantID, order.ID, method, now)
	if err != nil {
		return PaymentRetryResult{}, err
	}

	if gatewayErr != nil {
		s.logger(ctx, "payment.gateway_failed", map[string]any{
			"orderId":  order.ID,
			"method":   method,
			"attempts": order.PaymentAttempts,
			"error":    gatewayErr.Error(),
		})
		return PaymentRetryResult{}, fmt.Errorf("%w: %v", ErrPaymentGateway, gatewayErr)
	}

	expiresAt := session.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = now.Add(s.sessionTTL)
	}
	record := domain.PaymentSession{
		ID:            session.ID,
		OrderID:       order.ID,
		TenantID:      order.TenantID,
		Provider:      session.Provider,
		PaymentMethod: method,
		URL:           session.RedirectURL,
		Status:        domain.SessionStatusPending,
		CreatedAt:     now,
		ExpiresAt:     expiresAt,
	}
	if err := s.sessions.Insert(ctx, record); err != nil {
		return PaymentRetryResult{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	// Metering is billing telemetry; a failed increment must not lose the
	// session the customer is about to pay on.
	if err := s.usage.RecordSessionCreated(ctx, order.TenantID); err != nil {
		s.logger(ctx, "payment.usage_record_failed", map[string]any{
			"tenantId": order.TenantID,
			"error":    err.Error(),
		})
	}

	s.logger(ctx, "payment.session_created", map[string]any{
		"orderId":   order.ID,
		"sessionId": session.ID,
		"method":    method,
		"attempts":  order.PaymentAttempts,
	})
	return PaymentRetryResult{
		SessionID: record.ID,
		URL:       record.URL,
		ExpiresAt: record.ExpiresAt,
		Attempts:  order.PaymentAttempts,
	}, nil
}
