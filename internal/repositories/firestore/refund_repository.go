package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/agoramall/orders-api/internal/domain"
	pfirestore "github.com/agoramall/orders-api/internal/platform/firestore"
)

const refundsCollection = "refunds"

// RefundRepository is an append-only refund ledger.
type RefundRepository struct {
	provider *pfirestore.Provider
}

// NewRefundRepository constructs a Firestore-backed refund ledger.
func NewRefundRepository(provider *pfirestore.Provider) (*RefundRepository, error) {
	if provider == nil {
		return nil, errors.New("refund repository requires firestore provider")
	}
	return &RefundRepository{provider: provider}, nil
}

func (r *RefundRepository) Insert(ctx context.Context, refund domain.Refund) error {
	if r == nil || r.provider == nil {
		return errors.New("refund repository not initialised")
	}
	refundID := strings.TrimSpace(refund.ID)
	if refundID == "" {
		return errors.New("refund insert: id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return pfirestore.WrapError("refund.insert", err)
	}
	ref := client.Collection(refundsCollection).Doc(refundID)
	doc := refundDocument{
		OrderID:    strings.TrimSpace(refund.OrderID),
		TenantID:   strings.TrimSpace(refund.TenantID),
		PaymentRef: strings.TrimSpace(refund.PaymentRef),
		Amount:     refund.Amount,
		Currency:   strings.TrimSpace(refund.Currency),
		Reason:     strings.TrimSpace(refund.Reason),
		CreatedAt:  refund.CreatedAt.UTC(),
	}

	if tx, ok := pfirestore.TxFrom(ctx); ok {
		err = tx.Create(ref, doc)
	} else {
		_, err = ref.Create(ctx, doc)
	}
	if err != nil {
		return pfirestore.WrapError("refund.insert", err)
	}
	return nil
}

func (r *RefundRepository) FindByOrder(ctx context.Context, tenantID, orderID string) ([]domain.Refund, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("refund repository not initialised")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, pfirestore.WrapError("refund.list", err)
	}

	iter := client.Collection(refundsCollection).
		Where("tenantId", "==", strings.TrimSpace(tenantID)).
		Where("orderId", "==", strings.TrimSpace(orderID)).
		OrderBy("createdAt", firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var refunds []domain.Refund
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("refund.list", err)
		}
		var doc refundDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode refund %s: %w", snap.Ref.ID, err)
		}
		refunds = append(refunds, domain.Refund{
			ID:         snap.Ref.ID,
			OrderID:    doc.OrderID,
			TenantID:   doc.TenantID,
			PaymentRef: doc.PaymentRef,
			Amount:     doc.Amount,
			Currency:   doc.Currency,
			Reason:     doc.Reason,
			CreatedAt:  doc.CreatedAt,
		})
	}
	return refunds, nil
}

type refundDocument struct {
	OrderID    string    `firestore:"orderId"`
	TenantID   string    `firestore:"tenantId"`
	PaymentRef string    `firestore:"paymentRef"`
	Amount     int64     `firestore:"amount"`
	Currency   string    `firestore:"currency"`
	Reason     string    `firestore:"reason,omitempty"`
	CreatedAt  time.Time `firestore:"createdAt"`
}
