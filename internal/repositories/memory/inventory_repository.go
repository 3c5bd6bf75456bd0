package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	domain "github.com/agoramall/orders-api/internal/domain"
	"github.com/agoramall/orders-api/internal/repositories"
)

// InventoryRepository is the in-memory reservation ledger. Semantics mirror
// the Firestore implementation, including lazy release of expired holds.
type InventoryRepository struct {
	store *Store
}

// NewInventoryRepository constructs an inventory ledger over the store.
func NewInventoryRepository(store *Store) *InventoryRepository {
	return &InventoryRepository{store: store}
}

// SeedStock installs a stock record. Test setup helper.
func (r *InventoryRepository) SeedStock(stock domain.VariantStock) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	stock.Available = stock.OnHand - stock.Reserved
	r.store.stocks[stockKey(stock.TenantID, stock.VariantID)] = stockRecord{stock: stock}
}

// Stock returns the current stock record. Test assertion helper.
func (r *InventoryRepository) Stock(tenantID, variantID string) (domain.VariantStock, bool) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	rec, ok := r.store.stocks[stockKey(tenantID, variantID)]
	return rec.stock, ok
}

func (r *InventoryRepository) CheckAvailability(ctx context.Context, tenantID string, lines []domain.ReservationLine, now time.Time) (repositories.AvailabilityReport, error) {
	unlock := r.store.lock(ctx)
	defer unlock()

	expiredHeld := r.expiredHeldLocked(tenantID, now)

	report := repositories.AvailabilityReport{Available: true}
	for _, line := range domain.MergeReservationLines(lines) {
		rec, ok := r.store.stocks[stockKey(tenantID, line.VariantID)]
		if !ok {
			return repositories.AvailabilityReport{}, repositories.NewInventoryError(repositories.InventoryErrorStockNotFound, fmt.Sprintf("stock for variant %s not found", line.VariantID), nil)
		}
		available := rec.stock.OnHand - rec.stock.Reserved + expiredHeld[line.VariantID]
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

func (r *InventoryRepository) CreateReservations(ctx context.Context, reservation domain.InventoryReservation) error {
	unlock := r.store.lock(ctx)
	defer unlock()

	orderID := strings.TrimSpace(reservation.OrderID)
	if _, exists := r.store.reservations[orderID]; exists {
		return repositories.NewInventoryError(repositories.InventoryErrorInvalidReservationState, fmt.Sprintf("reservation for order %s already exists", orderID), nil)
	}

	now := reservation.CreatedAt
	if now.IsZero() {
		now = time.Now()
	}

	// Expired holds colliding with this tenant's pool are physically
	// released before the availability check.
	for id, rec := range r.store.reservations {
		if rec.reservation.TenantID != reservation.TenantID || !rec.reservation.ExpiredAt(now) {
			continue
		}
		r.releaseLocked(id, "expired", now)
	}

	// Duplicate variant lines are collapsed so the availability check sees
	// the per-variant total, not each line in isolation.
	reservation.Lines = domain.MergeReservationLines(reservation.Lines)

	var insufficient []repositories.InsufficientLine
	for _, line := range reservation.Lines {
		rec, ok := r.store.stocks[stockKey(reservation.TenantID, line.VariantID)]
		if !ok {
			return repositories.NewInventoryError(repositories.InventoryErrorStockNotFound, fmt.Sprintf("stock for variant %s not found", line.VariantID), nil)
		}
		available := rec.stock.OnHand - rec.stock.Reserved
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
		key := stockKey(reservation.TenantID, line.VariantID)
		rec := r.store.stocks[key]
		rec.stock.Reserved += line.Quantity
		rec.stock.Available = rec.stock.OnHand - rec.stock.Reserved
		rec.stock.UpdatedAt = now
		r.store.stocks[key] = rec
	}

	stored := copyReservation(reservation)
	stored.Status = domain.ReservationStatusActive
	stored.CreatedAt = now
	stored.UpdatedAt = now
	r.store.reservations[orderID] = reservationRecord{reservation: stored}
	return nil
}

func (r *InventoryRepository) Confirm(ctx context.Context, tenantID, orderID string, now time.Time) (domain.InventoryReservation, error) {
	unlock := r.store.lock(ctx)
	defer unlock()

	rec, err := r.findLocked(tenantID, orderID)
	if err != nil {
		return domain.InventoryReservation{}, err
	}
	switch rec.reservation.Status {
	case domain.ReservationStatusConfirmed:
		return copyReservation(rec.reservation), nil
	case domain.ReservationStatusActive:
	default:
		return domain.InventoryReservation{}, repositories.NewInventoryError(repositories.InventoryErrorInvalidReservationState, fmt.Sprintf("reservation for order %s is %s", orderID, rec.reservation.Status), nil)
	}

	for _, line := range rec.reservation.Lines {
		key := stockKey(rec.reservation.TenantID, line.VariantID)
		stock := r.store.stocks[key]
		if stock.stock.Reserved < line.Quantity || stock.stock.OnHand < line.Quantity {
			return domain.InventoryReservation{}, repositories.NewInventoryError(repositories.InventoryErrorInvalidReservationState, fmt.Sprintf("held quantity for variant %s is inconsistent", line.VariantID), nil)
		}
		stock.stock.Reserved -= line.Quantity
		stock.stock.OnHand -= line.Quantity
		stock.stock.Available = stock.stock.OnHand - stock.stock.Reserved
		stock.stock.UpdatedAt = now
		r.store.stocks[key] = stock
	}

	rec.reservation.Status = domain.ReservationStatusConfirmed
	rec.reservation.UpdatedAt = now
	r.store.reservations[strings.TrimSpace(orderID)] = rec
	return copyReservation(rec.reservation), nil
}

func (r *InventoryRepository) Release(ctx context.Context, tenantID, orderID, reason string, now time.Time) (domain.InventoryReservation, bool, error) {
	unlock := r.store.lock(ctx)
	defer unlock()

	rec, err := r.findLocked(tenantID, orderID)
	if err != nil {
		return domain.InventoryReservation{}, false, err
	}
	if rec.reservation.Status != domain.ReservationStatusActive {
		return copyReservation(rec.reservation), false, nil
	}

	released := r.releaseLocked(strings.TrimSpace(orderID), reason, now)
	return copyReservation(released), true, nil
}

func (r *InventoryRepository) Restock(ctx context.Context, tenantID, orderID string, now time.Time) (domain.InventoryReservation, error) {
	unlock := r.store.lock(ctx)
	defer unlock()

	rec, err := r.findLocked(tenantID, orderID)
	if err != nil {
		return domain.InventoryReservation{}, err
	}
	if rec.reservation.Status != domain.ReservationStatusConfirmed {
		return domain.InventoryReservation{}, repositories.NewInventoryError(repositories.InventoryErrorInvalidReservationState, fmt.Sprintf("reservation for order %s is %s, expected CONFIRMED", orderID, rec.reservation.Status), nil)
	}

	for _, line := range rec.reservation.Lines {
		key := stockKey(rec.reservation.TenantID, line.VariantID)
		stock := r.store.stocks[key]
		stock.stock.OnHand += line.Quantity
		stock.stock.Available = stock.stock.OnHand - stock.stock.Reserved
		stock.stock.UpdatedAt = now
		r.store.stocks[key] = stock
	}

	rec.reservation.Status = domain.ReservationStatusReleased
	rec.reservation.Reason = "refund"
	rec.reservation.UpdatedAt = now
	r.store.reservations[strings.TrimSpace(orderID)] = rec
	return copyReservation(rec.reservation), nil
}

func (r *InventoryRepository) GetReservation(ctx context.Context, tenantID, orderID string) (domain.InventoryReservation, error) {
	unlock := r.store.lock(ctx)
	defer unlock()

	rec, err := r.findLocked(tenantID, orderID)
	if err != nil {
		return domain.InventoryReservation{}, err
	}
	return copyReservation(rec.reservation), nil
}

func (r *InventoryRepository) SweepExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	unlock := r.store.lock(ctx)
	defer unlock()

	if limit <= 0 {
		limit = 100
	}
	released := 0
	for id, rec := range r.store.reservations {
		if released >= limit {
			break
		}
		if rec.reservation.ExpiredAt(now) {
			r.releaseLocked(id, "expired", now)
			released++
		}
	}
	return released, nil
}

func (r *InventoryRepository) findLocked(tenantID, orderID string) (reservationRecord, error) {
	rec, ok := r.store.reservations[strings.TrimSpace(orderID)]
	if !ok || (tenantID != "" && rec.reservation.TenantID != strings.TrimSpace(tenantID)) {
		return reservationRecord{}, repositories.NewInventoryError(repositories.InventoryErrorReservationNotFound, fmt.Sprintf("reservation for order %s not found", orderID), nil)
	}
	return rec, nil
}

// releaseLocked returns an ACTIVE hold to the pool. Caller holds the lock and
// has verified the status.
func (r *InventoryRepository) releaseLocked(orderID, reason string, now time.Time) domain.InventoryReservation {
	rec := r.store.reservations[orderID]
	for _, line := range rec.reservation.Lines {
		key := stockKey(rec.reservation.TenantID, line.VariantID)
		stock := r.store.stocks[key]
		stock.stock.Reserved -= line.Quantity
		stock.stock.Available = stock.stock.OnHand - stock.stock.Reserved
		stock.stock.UpdatedAt = now
		r.store.stocks[key] = stock
	}
	rec.reservation.Status = domain.ReservationStatusReleased
	rec.reservation.Reason = reason
	rec.reservation.UpdatedAt = now
	r.store.reservations[orderID] = rec
	return rec.reservation
}

func (r *InventoryRepository) expiredHeldLocked(tenantID string, now time.Time) map[string]int {
	held := map[string]int{}
	for _, rec := range r.store.reservations {
		if rec.reservation.TenantID != tenantID || !rec.reservation.ExpiredAt(now) {
			continue
		}
		for _, line := range rec.reservation.Lines {
			held[line.VariantID] += line.Quantity
		}
	}
	return held
}

func stockKey(tenantID, variantID string) string {
	return strings.TrimSpace(tenantID) + "__" + strings.TrimSpace(variantID)
}
