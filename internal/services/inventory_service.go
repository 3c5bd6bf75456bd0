package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/agoramall/orders-api/internal/domain"
	"github.com/agoramall/orders-api/internal/repositories"
)

// InventoryServiceDeps wires the dependencies for the inventory service.
type InventoryServiceDeps struct {
	Ledger repositories.InventoryRepository
	Clock  func() time.Time
	Logger Logger
}

type inventoryService struct {
	ledger repositories.InventoryRepository
	now    func() time.Time
	logger Logger
}

// NewInventoryService fronts the reservation ledger, translating its typed
// errors into the service taxonomy.
func NewInventoryService(deps InventoryServiceDeps) (InventoryService, error) {
	if deps.Ledger == nil {
		return nil, errors.New("inventory service: ledger repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &inventoryService{
		ledger: deps.Ledger,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (s *inventoryService) CheckAvailability(ctx context.Context, tenantID string, lines []domain.ReservationLine) (repositories.AvailabilityReport, error) {
	report, err := s.ledger.CheckAvailability(ctx, tenantID, lines, s.now())
	if err != nil {
		return repositories.AvailabilityReport{}, s.mapError(err)
	}
	return report, nil
}

func (s *inventoryService) Reserve(ctx context.Context, reservation domain.InventoryReservation) error {
	if err := s.ledger.CreateReservations(ctx, reservation); err != nil {
		return s.mapError(err)
	}
	s.logger(ctx, "inventory.reserved", map[string]any{
		"orderId":  reservation.OrderID,
		"tenantId": reservation.TenantID,
		"lines":    len(reservation.Lines),
	})
	return nil
}

func (s *inventoryService) Confirm(ctx context.Context, tenantID, orderID string) (domain.InventoryReservation, error) {
	reservation, err := s.ledger.Confirm(ctx, tenantID, orderID, s.now())
	if err != nil {
		return domain.InventoryReservation{}, s.mapError(err)
	}
	s.logger(ctx, "inventory.confirmed", map[string]any{
		"orderId":  orderID,
		"tenantId": tenantID,
	})
	return reservation, nil
}

func (s *inventoryService) Release(ctx context.Context, tenantID, orderID, reason string) (domain.InventoryReservation, bool, error) {
	reservation, released, err := s.ledger.Release(ctx, tenantID, orderID, reason, s.now())
	if err != nil {
		return domain.InventoryReservation{}, false, s.mapError(err)
	}
	if released {
		s.logger(ctx, "inventory.released", map[string]any{
			"orderId":  orderID,
			"tenantId": tenantID,
			"reason":   reason,
		})
	}
	return reservation, released, nil
}

func (s *inventoryService) Restock(ctx context.Context, tenantID, orderID string) (domain.InventoryReservation, error) {
	reservation, err := s.ledger.Restock(ctx, tenantID, orderID, s.now())
	if err != nil {
		return domain.InventoryReservation{}, s.mapError(err)
	}
	s.logger(ctx, "inventory.restocked", map[string]any{
		"orderId":  orderID,
		"tenantId": tenantID,
	})
	return reservation, nil
}

func (s *inventoryService) GetReservation(ctx context.Context, tenantID, orderID string) (domain.InventoryReservation, error) {
	reservation, err := s.ledger.GetReservation(ctx, tenantID, orderID)
	if err != nil {
		return domain.InventoryReservation{}, s.mapError(err)
	}
	return reservation, nil
}

func (s *inventoryService) SweepExpired(ctx context.Context, limit int) (int, error) {
	released, err := s.ledger.SweepExpired(ctx, s.now(), limit)
	if err != nil {
		return released, s.mapError(err)
	}
	if released > 0 {
		s.logger(ctx, "inventory.sweep", map[string]any{"released": released})
	}
	return released, nil
}

func (s *inventoryService) mapError(err error) error {
	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		switch invErr.Code {
		case repositories.InventoryErrorInsufficientStock:
			return NewInsufficientStockError(invErr.Insufficient)
		case repositories.InventoryErrorStockNotFound:
			// A variant with no stock record has zero available units.
			return fmt.Errorf("%w: %s", ErrInsufficientStock, invErr.Message)
		case repositories.InventoryErrorReservationNotFound:
			return fmt.Errorf("%w: %s", ErrOrderNotFound, invErr.Message)
		case repositories.InventoryErrorInvalidReservationState:
			return fmt.Errorf("%w: %s", ErrInvalidStateTransition, invErr.Message)
		}
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
