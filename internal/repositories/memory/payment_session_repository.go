package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	domain "github.com/agoramall/orders-api/internal/domain"
	"github.com/agoramall/orders-api/internal/repositories"
)

// PaymentSessionRepository is the in-memory checkout session store.
type PaymentSessionRepository struct {
	store *Store
}

// NewPaymentSessionRepository constructs a session repository over the store.
func NewPaymentSessionRepository(store *Store) *PaymentSessionRepository {
	return &PaymentSessionRepository{store: store}
}

func (r *PaymentSessionRepository) Insert(ctx context.Context, session domain.PaymentSession) error {
	unlock := r.store.lock(ctx)
	defer unlock()

	id := strings.TrimSpace(session.ID)
	if id == "" {
		return repositories.NewConflictError("paymentSession.insert", "session id is required")
	}
	if _, exists := r.store.sessions[id]; exists {
		return repositories.NewConflictError("paymentSession.insert", fmt.Sprintf("session %s already exists", id))
	}
	r.store.sessions[id] = sessionRecord{session: session}
	return nil
}

func (r *PaymentSessionRepository) LatestPending(ctx context.Context, tenantID, orderID string) (domain.PaymentSession, error) {
	unlock := r.store.lock(ctx)
	defer unlock()

	var latest *domain.PaymentSession
	for _, rec := range r.store.sessions {
		s := rec.session
		if s.TenantID != strings.TrimSpace(tenantID) || s.OrderID != strings.TrimSpace(orderID) {
			continue
		}
		if s.Status != domain.SessionStatusPending {
			continue
		}
		if latest == nil || s.CreatedAt.After(latest.CreatedAt) {
			copy := s
			latest = &copy
		}
	}
	if latest == nil {
		return domain.PaymentSession{}, repositories.NewNotFoundError("paymentSession.latest", fmt.Sprintf("no pending session for order %s", orderID))
	}
	return *latest, nil
}

func (r *PaymentSessionRepository) MarkConsumed(ctx context.Context, tenantID, orderID, sessionID string, now time.Time) error {
	unlock := r.store.lock(ctx)
	defer unlock()

	rec, exists := r.store.sessions[strings.TrimSpace(sessionID)]
	if !exists || rec.session.TenantID != strings.TrimSpace(tenantID) {
		return repositories.NewNotFoundError("paymentSession.consume", fmt.Sprintf("session %s not found", sessionID))
	}
	rec.session.Status = domain.SessionStatusConsumed
	r.store.sessions[strings.TrimSpace(sessionID)] = rec
	return nil
}
