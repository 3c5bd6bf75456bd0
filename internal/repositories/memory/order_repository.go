package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	domain "github.com/agoramall/orders-api/internal/domain"
	"github.com/agoramall/orders-api/internal/repositories"
)

// OrderRepository is the in-memory order store.
type OrderRepository struct {
	store *Store
}

// NewOrderRepository constructs an order repository over the store.
func NewOrderRepository(store *Store) *OrderRepository {
	return &OrderRepository{store: store}
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	unlock := r.store.lock(ctx)
	defer unlock()

	id := strings.TrimSpace(order.ID)
	if id == "" {
		return repositories.NewConflictError("order.insert", "order id is required")
	}
	if _, exists := r.store.orders[id]; exists {
		return repositories.NewConflictError("order.insert", fmt.Sprintf("order %s already exists", id))
	}
	r.store.orders[id] = orderRecord{order: copyOrder(order)}
	return nil
}

func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	unlock := r.store.lock(ctx)
	defer unlock()

	id := strings.TrimSpace(order.ID)
	if _, exists := r.store.orders[id]; !exists {
		return repositories.NewNotFoundError("order.update", fmt.Sprintf("order %s not found", id))
	}
	r.store.orders[id] = orderRecord{order: copyOrder(order)}
	return nil
}

func (r *OrderRepository) FindByID(ctx context.Context, tenantID, orderID string) (domain.Order, error) {
	unlock := r.store.lock(ctx)
	defer unlock()

	rec, exists := r.store.orders[strings.TrimSpace(orderID)]
	if !exists || (tenantID != "" && rec.order.TenantID != strings.TrimSpace(tenantID)) {
		return domain.Order{}, repositories.NewNotFoundError("order.find", fmt.Sprintf("order %s not found", orderID))
	}
	return copyOrder(rec.order), nil
}

func (r *OrderRepository) ListByUser(ctx context.Context, tenantID, userID string, limit int) ([]domain.Order, error) {
	unlock := r.store.lock(ctx)
	defer unlock()

	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var orders []domain.Order
	for _, rec := range r.store.orders {
		if rec.order.TenantID == strings.TrimSpace(tenantID) && rec.order.UserID == strings.TrimSpace(userID) {
			orders = append(orders, copyOrder(rec.order))
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.After(orders[j].CreatedAt)
		}
		return orders[i].ID > orders[j].ID
	})
	if len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}
