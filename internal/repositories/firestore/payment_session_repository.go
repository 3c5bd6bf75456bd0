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

const paymentSessionsCollection = "paymentSessions"

// PaymentSessionRepository stores checkout sessions. Sessions are append-only
// history; status flips are the only mutation.
type PaymentSessionRepository struct {
	provider *pfirestore.Provider
}

// NewPaymentSessionRepository constructs a Firestore-backed session store.
func NewPaymentSessionRepository(provider *pfirestore.Provider) (*PaymentSessionRepository, error) {
	if provider == nil {
		return nil, errors.New("payment session repository requires firestore provider")
	}
	return &PaymentSessionRepository{provider: provider}, nil
}

func (r *PaymentSessionRepository) Insert(ctx context.Context, session domain.PaymentSession) error {
	if r == nil || r.provider == nil {
		return errors.New("payment session repository not initialised")
	}
	sessionID := strings.TrimSpace(session.ID)
	if sessionID == "" {
		return errors.New("payment session insert: id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return pfirestore.WrapError("paymentSession.insert", err)
	}
	ref := client.Collection(paymentSessionsCollection).Doc(sessionID)
	doc := sessionDocument{
		OrderID:       strings.TrimSpace(session.OrderID),
		TenantID:      strings.TrimSpace(session.TenantID),
		Provider:      strings.TrimSpace(session.Provider),
		PaymentMethod: strings.TrimSpace(session.PaymentMethod),
		URL:           strings.TrimSpace(session.URL),
		Status:        string(session.Status),
		CreatedAt:     session.CreatedAt.UTC(),
		ExpiresAt:     session.ExpiresAt.UTC(),
	}

	if tx, ok := pfirestore.TxFrom(ctx); ok {
		err = tx.Create(ref, doc)
	} else {
		_, err = ref.Create(ctx, doc)
	}
	if err != nil {
		return pfirestore.WrapError("paymentSession.insert", err)
	}
	return nil
}

func (r *PaymentSessionRepository) LatestPending(ctx context.Context, tenantID, orderID string) (domain.PaymentSession, error) {
	if r == nil || r.provider == nil {
		return domain.PaymentSession{}, errors.New("payment session repository not initialised")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.PaymentSession{}, pfirestore.WrapError("paymentSession.latest", err)
	}

	iter := client.Collection(paymentSessionsCollection).
		Where("tenantId", "==", strings.TrimSpace(tenantID)).
		Where("orderId", "==", strings.TrimSpace(orderID)).
		Where("status", "==", string(domain.SessionStatusPending)).
		OrderBy("createdAt", firestore.Desc).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return domain.PaymentSession{}, pfirestore.WrapError("paymentSession.latest", status.Errorf(codes.NotFound, "no pending session for order %s", orderID))
	}
	if err != nil {
		return domain.PaymentSession{}, pfirestore.WrapError("paymentSession.latest", err)
	}

	var doc sessionDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.PaymentSession{}, fmt.Errorf("decode session %s: %w", snap.Ref.ID, err)
	}
	return doc.toDomain(snap.Ref.ID), nil
}

// MarkConsumed flips the session to CONSUMED. Blind field update so it can run
// as a write-only step inside an enclosing transaction.
func (r *PaymentSessionRepository) MarkConsumed(ctx context.Context, tenantID, orderID, sessionID string, now time.Time) error {
	if r == nil || r.provider == nil {
		return errors.New("payment session repository not initialised")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return errors.New("payment session consume: session id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return pfirestore.WrapError("paymentSession.consume", err)
	}
	ref := client.Collection(paymentSessionsCollection).Doc(sessionID)
	updates := []firestore.Update{
		{Path: "status", Value: string(domain.SessionStatusConsumed)},
		{Path: "consumedAt", Value: now.UTC()},
	}

	if tx, ok := pfirestore.TxFrom(ctx); ok {
		err = tx.Update(ref, updates)
	} else {
		_, err = ref.Update(ctx, updates)
	}
	if err != nil {
		return pfirestore.WrapError("paymentSession.consume", err)
	}
	return nil
}

type sessionDocument struct {
	OrderID       string     `firestore:"orderId"`
	TenantID      string     `firestore:"tenantId"`
	Provider      string     `firestore:"provider"`
	PaymentMethod string     `firestore:"paymentMethod"`
	URL           string     `firestore:"url"`
	Status        string     `firestore:"status"`
	CreatedAt     time.Time  `firestore:"createdAt"`
	ExpiresAt     time.Time  `firestore:"expiresAt"`
	ConsumedAt    *time.Time `firestore:"consumedAt,omitempty"`
}

func (d sessionDocument) toDomain(id string) domain.PaymentSession {
	return domain.PaymentSession{
		ID:            id,
		OrderID:       d.OrderID,
		TenantID:      d.TenantID,
		Provider:      d.Provider,
		PaymentMethod: d.PaymentMethod,
		URL:           d.URL,
		Status:        domain.SessionStatus(d.Status),
		CreatedAt:     d.CreatedAt,
		ExpiresAt:     d.ExpiresAt,
	}
}
