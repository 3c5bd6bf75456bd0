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
	"github.com/agoramall/orders-api/internal/repositories"
)

const (
	inventoryCollection    = "inventory"
	reservationsCollection = "stockReservations"

	// Cap on expired holds physically released while a reserve transaction
	// is already touching the ledger. The sweep job handles the rest.
	reserveSweepLimit = 20
)

// InventoryRepository implements the reservation ledger on Firestore. Stock
// documents are keyed by tenant and variant; reservation documents are keyed
// by order id so confirm/release per order are single-document lookups.
type InventoryRepository struct {
	provider *pfirestore.Provider
}

// NewInventoryRepository constructs a Firestore-backed reservation ledger.
func NewInventoryRepository(provider *pfirestore.Provider) (*InventoryRepository, error) {
	if provider == nil {
		return nil, errors.New("inventory repository requires firestore provider")
	}
	return &InventoryRepository{provider: provider}, nil
}

func (r *InventoryRepository) CheckAvailability(ctx context.Context, tenantID string, lines []domain.ReservationLine, now time.Time) (repositories.AvailabilityReport, error) {
	if r == nil || r.provider == nil {
		return repositories.AvailabilityReport{}, errors.New("inventory repository not initialised")
	}
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return repositories.AvailabilityReport{}, errors.New("inventory check: tenant id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return repositories.AvailabilityReport{}, wrapInventoryError("inventory.check", err)
	}

	expiredHeld, err := r.expiredHeldByVariant(ctx, client, tenantID, now)
	if err != nil {
		return repositories.AvailabilityReport{}, err
	}

	report := repositories.AvailabilityReport{Available: true}
	for _, line := range domain.MergeReservationLines(lines) {
		snap, err := client.Collection(inventoryCollection).Doc(stockDocID(tenantID, line.VariantID)).Get(ctx)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.AvailabilityReport{}, repositories.NewInventoryError(repositories.InventoryErrorStockNotFound, fmt.Sprintf("stock for variant %s not found", line.VariantID), err)
			}
			return repositories.AvailabilityReport{}, wrapInventoryError("inventory.check", err)
		}
		var doc stockDocument
		if err := snap.DataTo(&doc); err != nil {
			return repositories.AvailabilityReport{}, fmt.Errorf("decode stock %s: %w", snap.Ref.ID, err)
		}
		// Holds past expiry are logically released even before a sweep runs.
		available := doc.OnHand - doc.Reserved + expiredHeld[line.VariantID]
		if available < line.Quantity {
			report.Available = false
			report.Insufficient = append(report.Insufficient, repositories.InsufficientLine{
				VariantID: line.VariantID,
				Requested: line.Quantity,
				Available: available,
			})
		}
	}
	return report, nil
}

// CreateReservations re-verifies stock inside the transaction and places the
// hold, physically releasing any expired holds it collides with first.
func (r *InventoryRepository) CreateReservations(ctx context.Context, reservation domain.InventoryReservation) error {
	if r == nil || r.provider == nil {
		return errors.New("inventory repository not initialised")
	}
	orderID := strings.TrimSpace(reservation.OrderID)
	if orderID == "" {
		return errors.New("inventory reserve: order id is required")
	}
	if len(reservation.Lines) == 0 {
		return errors.New("inventory reserve: at least one line is required")
	}
	// Duplicate variant lines are collapsed so the re-check sees the
	// per-variant total, not each line in isolation.
	reservation.Lines = domain.MergeReservationLines(reservation.Lines)

	return r.inTx(ctx, func(ctx context.Context, client *firestore.Client, tx *firestore.Transaction) error {
		resRef := client.Collection(reservationsCollection).Doc(orderID)
		if _, err := tx.Get(resRef); err == nil {
			return repositories.NewInventoryError(repositories.InventoryErrorInvalidReservationState, fmt.Sprintf("reservation for order %s already exists", orderID), nil)
		} else if status.Code(err) != codes.NotFound {
			return wrapInventoryError("inventory.reserve", err)
		}

		now := reservation.CreatedAt.UTC()
		if now.IsZero() {
			now = time.Now().UTC()
		}

		expired, err := r.expiredReservations(tx, client, reservation.TenantID, now, reserveSweepLimit)
		if err != nil {
			return err
		}

		// Read every stock document the transaction will touch before the
		// first write: the requested variants plus those held by expired
		// reservations being released.
		stockIDs := map[string]struct{}{}
		for _, line := range reservation.Lines {
			stockIDs[stockDocID(reservation.TenantID, line.VariantID)] = struct{}{}
		}
		for _, res := range expired {
			for _, line := range res.doc.Lines {
				stockIDs[stockDocID(res.doc.TenantID, line.VariantID)] = struct{}{}
			}
		}

		stocks := map[string]*stockDocument{}
		for id := range stockIDs {
			snap, err := tx.Get(client.Collection(inventoryCollection).Doc(id))
			if err != nil {
				if status.Code(err) == codes.NotFound {
					return repositories.NewInventoryError(repositories.InventoryErrorStockNotFound, fmt.Sprintf("stock %s not found", id), err)
				}
				return wrapInventoryError("inventory.reserve", err)
			}
			var doc stockDocument
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode stock %s: %w", snap.Ref.ID, err)
			}
			stocks[id] = &doc
		}

		for _, res := range expired {
			for _, line := range res.doc.Lines {
				if stock, ok := stocks[stockDocID(res.doc.TenantID, line.VariantID)]; ok {
					stock.Reserved -= line.Quantity
				}
			}
		}

		var insufficient []repositories.InsufficientLine
		for _, line := range reservation.Lines {
			stock := stocks[stockDocID(reservation.TenantID, line.VariantID)]
			available := stock.OnHand - stock.Reserved
			if available < line.Quantity {
				insufficient = append(insufficient, repositories.InsufficientLine{
					VariantID: line.VariantID,
					Requested: line.Quantity,
					Available: available,
				})
			}
		}
		if len(insufficient) > 0 {
			return repositories.NewInsufficientStockError("insufficient stock on transactional re-check", insufficient)
		}

		for _, line := range reservation.Lines {
			stocks[stockDocID(reservation.TenantID, line.VariantID)].Reserved += line.Quantity
		}

		for _, res := range expired {
			res.doc.Status = string(domain.ReservationStatusReleased)
			res.doc.Reason = "expired"
			res.doc.UpdatedAt = now
			if err := tx.Set(res.ref, res.doc); err != nil {
				return wrapInventoryError("inventory.reserve", err)
			}
		}
		for id, stock := range stocks {
			stock.UpdatedAt = now
			stock.recalculate()
			if err := tx.Set(client.Collection(inventoryCollection).Doc(id), stock); err != nil {
				return wrapInventoryError("inventory.reserve", err)
			}
		}

		doc := newReservationDocument(reservation)
		doc.Status = string(domain.ReservationStatusActive)
		doc.CreatedAt = now
		doc.UpdatedAt = now
		if err := tx.Create(resRef, doc); err != nil {
			if status.Code(err) == codes.AlreadyExists {
				return repositories.NewInventoryError(repositories.InventoryErrorInvalidReservationState, fmt.Sprintf("reservation for order %s already exists", orderID), err)
			}
			return wrapInventoryError("inventory.reserve", err)
		}
		return nil
	})
}

// Confirm converts the order's hold into a hard stock decrement. Confirming
// an already confirmed reservation is a no-op so retried payment webhooks
// never decrement twice.
func (r *InventoryRepository) Confirm(ctx context.Context, tenantID, orderID string, now time.Time) (domain.InventoryReservation, error) {
	var result domain.InventoryReservation
	err := r.mutateReservation(ctx, tenantID, orderID, func(ctx context.Context, client *firestore.Client, tx *firestore.Transaction, resRef *firestore.DocumentRef, doc *reservationDocument) error {
		switch domain.ReservationStatus(doc.Status) {
		case domain.ReservationStatusConfirmed:
			result = doc.toDomain(orderID)
			return nil
		case domain.ReservationStatusActive:
		default:
			return repositories.NewInventoryError(repositories.InventoryErrorInvalidReservationState, fmt.Sprintf("reservation for order %s is %s", orderID, doc.Status), nil)
		}

		stocks, refs, err := r.readStocks(tx, client, doc)
		if err != nil {
			return err
		}
		for i, line := range doc.Lines {
			stock := stocks[i]
			if stock.Reserved < line.Quantity || stock.OnHand < line.Quantity {
				return repositories.NewInventoryError(repositories.InventoryErrorInvalidReservationState, fmt.Sprintf("held quantity for variant %s is inconsistent", line.VariantID), nil)
			}
			stock.Reserved -= line.Quantity
			stock.OnHand -= line.Quantity
			stock.UpdatedAt = now.UTC()
			stock.recalculate()
			if err := tx.Set(refs[i], stock); err != nil {
				return wrapInventoryError("inventory.confirm", err)
			}
		}

		doc.Status = string(domain.ReservationStatusConfirmed)
		doc.UpdatedAt = now.UTC()
		if err := tx.Set(resRef, doc); err != nil {
			return wrapInventoryError("inventory.confirm", err)
		}
		result = doc.toDomain(orderID)
		return nil
	})
	return result, err
}

// Release returns the order's ACTIVE hold to the pool. Idempotent.
func (r *InventoryRepository) Release(ctx context.Context, tenantID, orderID, reason string, now time.Time) (domain.InventoryReservation, bool, error) {
	var result domain.InventoryReservation
	released := false
	err := r.mutateReservation(ctx, tenantID, orderID, func(ctx context.Context, client *firestore.Client, tx *firestore.Transaction, resRef *firestore.DocumentRef, doc *reservationDocument) error {
		if domain.ReservationStatus(doc.Status) != domain.ReservationStatusActive {
			result = doc.toDomain(orderID)
			return nil
		}

		stocks, refs, err := r.readStocks(tx, client, doc)
		if err != nil {
			return err
		}
		for i, line := range doc.Lines {
			stock := stocks[i]
			stock.Reserved -= line.Quantity
			stock.UpdatedAt = now.UTC()
			stock.recalculate()
			if err := tx.Set(refs[i], stock); err != nil {
				return wrapInventoryError("inventory.release", err)
			}
		}

		doc.Status = string(domain.ReservationStatusReleased)
		doc.Reason = strings.TrimSpace(reason)
		doc.UpdatedAt = now.UTC()
		if err := tx.Set(resRef, doc); err != nil {
			return wrapInventoryError("inventory.release", err)
		}
		released = true
		result = doc.toDomain(orderID)
		return nil
	})
	return result, released, err
}

// Restock returns already-confirmed quantity to the pool for a refund.
func (r *InventoryRepository) Restock(ctx context.Context, tenantID, orderID string, now time.Time) (domain.InventoryReservation, error) {
	var result domain.InventoryReservation
	err := r.mutateReservation(ctx, tenantID, orderID, func(ctx context.Context, client *firestore.Client, tx *firestore.Transaction, resRef *firestore.DocumentRef, doc *reservationDocument) error {
		if domain.ReservationStatus(doc.Status) != domain.ReservationStatusConfirmed {
			return repositories.NewInventoryError(repositories.InventoryErrorInvalidReservationState, fmt.Sprintf("reservation for order %s is %s, expected CONFIRMED", orderID, doc.Status), nil)
		}

		stocks, refs, err := r.readStocks(tx, client, doc)
		if err != nil {
			return err
		}
		for i, line := range doc.Lines {
			stock := stocks[i]
			stock.OnHand += line.Quantity
			stock.UpdatedAt = now.UTC()
			stock.recalculate()
			if err := tx.Set(refs[i], stock); err != nil {
				return wrapInventoryError("inventory.restock", err)
			}
		}

		doc.Status = string(domain.ReservationStatusReleased)
		doc.Reason = "refund"
		doc.UpdatedAt = now.UTC()
		if err := tx.Set(resRef, doc); err != nil {
			return wrapInventoryError("inventory.restock", err)
		}
		result = doc.toDomain(orderID)
		return nil
	})
	return result, err
}

func (r *InventoryRepository) GetReservation(ctx context.Context, tenantID, orderID string) (domain.InventoryReservation, error) {
	if r == nil || r.provider == nil {
		return domain.InventoryReservation{}, errors.New("inventory repository not initialised")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.InventoryReservation{}, wrapInventoryError("inventory.get", err)
	}

	ref := client.Collection(reservationsCollection).Doc(strings.TrimSpace(orderID))
	var snap *firestore.DocumentSnapshot
	if tx, ok := pfirestore.TxFrom(ctx); ok {
		snap, err = tx.Get(ref)
	} else {
		snap, err = ref.Get(ctx)
	}
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return domain.InventoryReservation{}, repositories.NewInventoryError(repositories.InventoryErrorReservationNotFound, fmt.Sprintf("reservation for order %s not found", orderID), err)
		}
		return domain.InventoryReservation{}, wrapInventoryError("inventory.get", err)
	}

	var doc reservationDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.InventoryReservation{}, fmt.Errorf("decode reservation %s: %w", snap.Ref.ID, err)
	}
	if tenantID != "" && doc.TenantID != tenantID {
		return domain.InventoryReservation{}, repositories.NewInventoryError(repositories.InventoryErrorReservationNotFound, fmt.Sprintf("reservation for order %s not found", orderID), nil)
	}
	return doc.toDomain(snap.Ref.ID), nil
}

// SweepExpired physically releases expired ACTIVE holds, one transaction per
// reservation so one poisoned document cannot wedge the sweep.
func (r *InventoryRepository) SweepExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if r == nil || r.provider == nil {
		return 0, errors.New("inventory repository not initialised")
	}
	if limit <= 0 {
		limit = 100
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return 0, wrapInventoryError("inventory.sweep", err)
	}

	iter := client.Collection(reservationsCollection).
		Where("status", "==", string(domain.ReservationStatusActive)).
		Where("expiresAt", "<", now.UTC()).
		Limit(limit).
		Documents(ctx)
	defer iter.Stop()

	released := 0
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return released, wrapInventoryError("inventory.sweep", err)
		}
		var doc reservationDocument
		if err := snap.DataTo(&doc); err != nil {
			return released, fmt.Errorf("decode reservation %s: %w", snap.Ref.ID, err)
		}
		if _, didRelease, err := r.Release(ctx, doc.TenantID, snap.Ref.ID, "expired", now); err != nil {
			return released, err
		} else if didRelease {
			released++
		}
	}
	return released, nil
}

// inTx joins the transaction carried on the context or opens a fresh one.
func (r *InventoryRepository) inTx(ctx context.Context, fn func(ctx context.Context, client *firestore.Client, tx *firestore.Transaction) error) error {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return wrapInventoryError("inventory", err)
	}
	if tx, ok := pfirestore.TxFrom(ctx); ok {
		return fn(ctx, client, tx)
	}
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return fn(ctx, client, tx)
	})
}

func (r *InventoryRepository) mutateReservation(ctx context.Context, tenantID, orderID string, fn func(ctx context.Context, client *firestore.Client, tx *firestore.Transaction, resRef *firestore.DocumentRef, doc *reservationDocument) error) error {
	if r == nil || r.provider == nil {
		return errors.New("inventory repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return errors.New("inventory: order id is required")
	}

	return r.inTx(ctx, func(ctx context.Context, client *firestore.Client, tx *firestore.Transaction) error {
		resRef := client.Collection(reservationsCollection).Doc(orderID)
		snap, err := tx.Get(resRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewInventoryError(repositories.InventoryErrorReservationNotFound, fmt.Sprintf("reservation for order %s not found", orderID), err)
			}
			return wrapInventoryError("inventory", err)
		}
		var doc reservationDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode reservation %s: %w", snap.Ref.ID, err)
		}
		if tenantID != "" && doc.TenantID != strings.TrimSpace(tenantID) {
			return repositories.NewInventoryError(repositories.InventoryErrorReservationNotFound, fmt.Sprintf("reservation for order %s not found", orderID), nil)
		}
		return fn(ctx, client, tx, resRef, &doc)
	})
}

func (r *InventoryRepository) readStocks(tx *firestore.Transaction, client *firestore.Client, doc *reservationDocument) ([]*stockDocument, []*firestore.DocumentRef, error) {
	stocks := make([]*stockDocument, len(doc.Lines))
	refs := make([]*firestore.DocumentRef, len(doc.Lines))
	for i, line := range doc.Lines {
		ref := client.Collection(inventoryCollection).Doc(stockDocID(doc.TenantID, line.VariantID))
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return nil, nil, repositories.NewInventoryError(repositories.InventoryErrorStockNotFound, fmt.Sprintf("stock for variant %s not found", line.VariantID), err)
			}
			return nil, nil, wrapInventoryError("inventory", err)
		}
		var stock stockDocument
		if err := snap.DataTo(&stock); err != nil {
			return nil, nil, fmt.Errorf("decode stock %s: %w", snap.Ref.ID, err)
		}
		stocks[i] = &stock
		refs[i] = ref
	}
	return stocks, refs, nil
}

type expiredReservation struct {
	ref *firestore.DocumentRef
	doc *reservationDocument
}

func (r *InventoryRepository) expiredReservations(tx *firestore.Transaction, client *firestore.Client, tenantID string, now time.Time, limit int) ([]expiredReservation, error) {
	query := client.Collection(reservationsCollection).
		Where("tenantId", "==", strings.TrimSpace(tenantID)).
		Where("status", "==", string(domain.ReservationStatusActive)).
		Where("expiresAt", "<", now.UTC()).
		Limit(limit)

	iter := tx.Documents(query)
	defer iter.Stop()

	var expired []expiredReservation
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, wrapInventoryError("inventory.reserve", err)
		}
		var doc reservationDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode reservation %s: %w", snap.Ref.ID, err)
		}
		expired = append(expired, expiredReservation{ref: snap.Ref, doc: &doc})
	}
	return expired, nil
}

func (r *InventoryRepository) expiredHeldByVariant(ctx context.Context, client *firestore.Client, tenantID string, now time.Time) (map[string]int, error) {
	iter := client.Collection(reservationsCollection).
		Where("tenantId", "==", tenantID).
		Where("status", "==", string(domain.ReservationStatusActive)).
		Where("expiresAt", "<", now.UTC()).
		Documents(ctx)
	defer iter.Stop()

	held := map[string]int{}
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, wrapInventoryError("inventory.check", err)
		}
		var doc reservationDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode reservation %s: %w", snap.Ref.ID, err)
		}
		for _, line := range doc.Lines {
			held[line.VariantID] += line.Quantity
		}
	}
	return held, nil
}

// Helper structures ---------------------------------------------------------

func stockDocID(tenantID, variantID string) string {
	return strings.TrimSpace(tenantID) + "__" + strings.TrimSpace(variantID)
}

type stockDocument struct {
	TenantID  string    `firestore:"tenantId"`
	ProductID string    `firestore:"productId"`
	VariantID string    `firestore:"variantId"`
	OnHand    int       `firestore:"onHand"`
	Reserved  int       `firestore:"reserved"`
	Available int       `firestore:"available"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func (s *stockDocument) recalculate() {
	s.Available = s.OnHand - s.Reserved
}

type reservationDocument struct {
	TenantID  string                    `firestore:"tenantId"`
	UserID    string                    `firestore:"userId"`
	Status    string                    `firestore:"status"`
	Lines     []reservationLineDocument `firestore:"lines"`
	Reason    string                    `firestore:"reason,omitempty"`
	ExpiresAt time.Time                 `firestore:"expiresAt"`
	CreatedAt time.Time                 `firestore:"createdAt"`
	UpdatedAt time.Time                 `firestore:"updatedAt"`
}

type reservationLineDocument struct {
	ProductID string `firestore:"productId"`
	VariantID string `firestore:"variantId"`
	Quantity  int    `firestore:"qty"`
}

func newReservationDocument(res domain.InventoryReservation) reservationDocument {
	lines := make([]reservationLineDocument, len(res.Lines))
	for i, line := range res.Lines {
		lines[i] = reservationLineDocument{
			ProductID: strings.TrimSpace(line.ProductID),
			VariantID: strings.TrimSpace(line.VariantID),
			Quantity:  line.Quantity,
		}
	}
	return reservationDocument{
		TenantID:  strings.TrimSpace(res.TenantID),
		UserID:    strings.TrimSpace(res.UserID),
		Status:    string(res.Status),
		Lines:     lines,
		Reason:    strings.TrimSpace(res.Reason),
		ExpiresAt: res.ExpiresAt.UTC(),
		CreatedAt: res.CreatedAt.UTC(),
		UpdatedAt: res.UpdatedAt.UTC(),
	}
}

func (d reservationDocument) toDomain(orderID string) domain.InventoryReservation {
	lines := make([]domain.ReservationLine, len(d.Lines))
	for i, line := range d.Lines {
		lines[i] = domain.ReservationLine{
			ProductID: line.ProductID,
			VariantID: line.VariantID,
			Quantity:  line.Quantity,
		}
	}
	return domain.InventoryReservation{
		OrderID:   orderID,
		TenantID:  d.TenantID,
		UserID:    d.UserID,
		Status:    domain.ReservationStatus(d.Status),
		Lines:     lines,
		Reason:    d.Reason,
		ExpiresAt: d.ExpiresAt,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

func wrapInventoryError(op string, err error) error {
	if err == nil {
		return nil
	}
	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		if invErr.Op == "" {
			invErr.Op = op
		}
		return invErr
	}
	return pfirestore.WrapError(op, err)
}
