package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	domain "github.com/agoramall/orders-api/internal/domain"
	"github.com/agoramall/orders-api/internal/repositories"
)

// RefundRepository is the in-memory refund ledger.
type RefundRepository struct {
	store *Store
}

// NewRefundRepository constructs a refund repository over the store.
func NewRefundRepository(store *Store) *RefundRepository {
	return &RefundRepository{store: store}
}

func (r *RefundRepository) Insert(ctx context.Context, refund domain.Refund) error {
	unlock := r.store.lock(ctx)
	defer unlock()

	id := strings.TrimSpace(refund.ID)
	if id == "" {
		return repositories.NewConflictError("refund.insert", "refund id is required")
	}
	if _, exists := r.store.refunds[id]; exists {
		return repositories.NewConflictError("refund.insert", fmt.Sprintf("refund %s already exists", id))
	}
	r.store.refunds[id] = refundRecord{refund: refund}
	return nil
}

func (r *RefundRepository) FindByOrder(ctx context.Context, tenantID, orderID string) ([]domain.Refund, error) {
	unlock := r.store.lock(ctx)
	defer unlock()

	var refunds []domain.Refund
	for _, rec := range r.store.refunds {
		if rec.refund.TenantID == strings.TrimSpace(tenantID) && rec.refund.OrderID == strings.TrimSpace(orderID) {
			refunds = append(refunds, rec.refund)
		}
	}
	sort.Slice(refunds, func(i, j int) bool {
		return refunds[i].CreatedAt.Before(refunds[j].CreatedAt)
	})
	return refunds, nil
}
