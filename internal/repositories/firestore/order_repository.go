package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/agoramall/orders-api/internal/domain"
	pfirestore "github.com/agoramall/orders-api/internal/platform/firestore"
)

const ordersCollection = "orders"

// OrderRepository persists orders in Firestore, one document per order.
type OrderRepository struct {
	provider *pfirestore.Provider
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{provider: provider}, nil
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order insert: id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return pfirestore.WrapError("order.insert", err)
	}
	ref := client.Collection(ordersCollection).Doc(orderID)
	doc := newOrderDocument(order)

	if tx, ok := pfirestore.TxFrom(ctx); ok {
		err = tx.Create(ref, doc)
	} else {
		_, err = ref.Create(ctx, doc)
	}
	if err != nil {
		return pfirestore.WrapError("order.insert", err)
	}
	return nil
}

func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order update: id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return pfirestore.WrapError("order.update", err)
	}
	ref := client.Collection(ordersCollection).Doc(orderID)
	doc := newOrderDocument(order)

	if tx, ok := pfirestore.TxFrom(ctx); ok {
		err = tx.Set(ref, doc)
	} else {
		_, err = ref.Set(ctx, doc)
	}
	if err != nil {
		return pfirestore.WrapError("order.update", err)
	}
	return nil
}

func (r *OrderRepository) FindByID(ctx context.Context, tenantID, orderID string) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, pfirestore.WrapError("order.find", status.Error(codes.NotFound, "order id is empty"))
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("order.find", err)
	}
	ref := client.Collection(ordersCollection).Doc(orderID)

	var snap *firestore.DocumentSnapshot
	if tx, ok := pfirestore.TxFrom(ctx); ok {
		snap, err = tx.Get(ref)
	} else {
		snap, err = ref.Get(ctx)
	}
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("order.find", err)
	}

	var doc orderDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Order{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
	}
	// Documents from another tenant are reported as missing, never as denied.
	if tenantID != "" && doc.TenantID != strings.TrimSpace(tenantID) {
		return domain.Order{}, pfirestore.WrapError("order.find", status.Errorf(codes.NotFound, "order %s not found", orderID))
	}
	return doc.toDomain(snap.Ref.ID), nil
}

func (r *OrderRepository) ListByUser(ctx context.Context, tenantID, userID string, limit int) ([]domain.Order, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("order repository not initialised")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, pfirestore.WrapError("order.list", err)
	}

	iter := client.Collection(ordersCollection).
		Where("tenantId", "==", strings.TrimSpace(tenantID)).
		Where("userId", "==", strings.TrimSpace(userID)).
		OrderBy("createdAt", firestore.Desc).
		Limit(limit).
		Documents(ctx)
	defer iter.Stop()

	var orders []domain.Order
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("order.list", err)
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
		}
		orders = append(orders, doc.toDomain(snap.Ref.ID))
	}
	return orders, nil
}

type orderDocument struct {
	OrderNumber          string              `firestore:"orderNumber"`
	TenantID             string              `firestore:"tenantId"`
	UserID               string              `firestore:"userId"`
	Channel              string              `firestore:"channel"`
	AgentID              *string             `firestore:"agentId,omitempty"`
	Status               string              `firestore:"status"`
	PaymentStatus        string              `firestore:"paymentStatus"`
	Items                []orderItemDocument `firestore:"items"`
	TotalAmount          int64               `firestore:"totalAmount"`
	Currency             string              `firestore:"currency"`
	PaymentAttempts      int                 `firestore:"paymentAttempts"`
	LastPaymentMethod    string              `firestore:"lastPaymentMethod,omitempty"`
	LastPaymentAttemptAt *time.Time          `firestore:"lastPaymentAttemptAt,omitempty"`
	PaymentRef           *string             `firestore:"paymentRef,omitempty"`
	CancelReason         *string             `firestore:"cancelReason,omitempty"`
	CancelledAt          *time.Time          `firestore:"cancelledAt,omitempty"`
	CompletedAt          *time.Time          `firestore:"completedAt,omitempty"`
	RefundedAt           *time.Time          `firestore:"refundedAt,omitempty"`
	ExpiresAt            time.Time           `firestore:"expiresAt"`
	CreatedAt            time.Time           `firestore:"createdAt"`
	UpdatedAt            time.Time           `firestore:"updatedAt"`
}

type orderItemDocument struct {
	ProductID string `firestore:"productId"`
	VariantID string `firestore:"variantId"`
	Name      string `firestore:"name,omitempty"`
	Quantity  int    `firestore:"qty"`
	UnitPrice int64  `firestore:"unitPrice"`
	Total     int64  `firestore:"total"`
}

func newOrderDocument(order domain.Order) orderDocument {
	items := make([]orderItemDocument, len(order.Items))
	for i, item := range order.Items {
		items[i] = orderItemDocument{
			ProductID: strings.TrimSpace(item.ProductID),
			VariantID: strings.TrimSpace(item.VariantID),
			Name:      strings.TrimSpace(item.Name),
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Total:     item.Total,
		}
	}
	return orderDocument{
		OrderNumber:          strings.TrimSpace(order.OrderNumber),
		TenantID:             strings.TrimSpace(order.TenantID),
		UserID:               strings.TrimSpace(order.UserID),
		Channel:              string(order.Channel),
		AgentID:              order.AgentID,
		Status:               string(order.Status),
		PaymentStatus:        string(order.PaymentStatus),
		Items:                items,
		TotalAmount:          order.TotalAmount,
		Currency:             strings.TrimSpace(order.Currency),
		PaymentAttempts:      order.PaymentAttempts,
		LastPaymentMethod:    strings.TrimSpace(order.LastPaymentMethod),
		LastPaymentAttemptAt: order.LastPaymentAttemptAt,
		PaymentRef:           order.PaymentRef,
		CancelReason:         order.CancelReason,
		CancelledAt:          order.CancelledAt,
		CompletedAt:          order.CompletedAt,
		RefundedAt:           order.RefundedAt,
		ExpiresAt:            order.ExpiresAt.UTC(),
		CreatedAt:            order.CreatedAt.UTC(),
		UpdatedAt:            order.UpdatedAt.UTC(),
	}
}

func (d orderDocument) toDomain(id string) domain.Order {
	items := make([]domain.OrderLineItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = domain.OrderLineItem{
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Total:     item.Total,
		}
	}
	return domain.Order{
		ID:                   id,
		OrderNumber:          d.OrderNumber,
		TenantID:             d.TenantID,
		UserID:               d.UserID,
		Channel:              domain.SalesChannel(d.Channel),
		AgentID:              d.AgentID,
		Status:               domain.OrderStatus(d.Status),
		PaymentStatus:        domain.PaymentStatus(d.PaymentStatus),
		Items:                items,
		TotalAmount:          d.TotalAmount,
		Currency:             d.Currency,
		PaymentAttempts:      d.PaymentAttempts,
		LastPaymentMethod:    d.LastPaymentMethod,
		LastPaymentAttemptAt: d.LastPaymentAttemptAt,
		PaymentRef:           d.PaymentRef,
		CancelReason:         d.CancelReason,
		CancelledAt:          d.CancelledAt,
		CompletedAt:          d.CompletedAt,
		RefundedAt:           d.RefundedAt,
		ExpiresAt:            d.ExpiresAt,
		CreatedAt:            d.CreatedAt,
		UpdatedAt:            d.UpdatedAt,
	}
}
