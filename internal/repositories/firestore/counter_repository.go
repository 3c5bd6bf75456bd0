package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/agoramall/orders-api/internal/platform/firestore"
)

const countersCollection = "counters"

// CounterRepository hands out monotonic sequence values. Backs per-tenant
// order numbers and per-agent usage metering.
type CounterRepository struct {
	provider *pfirestore.Provider
}

// NewCounterRepository constructs a Firestore-backed counter store.
func NewCounterRepository(provider *pfirestore.Provider) (*CounterRepository, error) {
	if provider == nil {
		return nil, errors.New("counter repository requires firestore provider")
	}
	return &CounterRepository{provider: provider}, nil
}

// Next atomically advances the counter by step and returns the new value.
// Missing counters start at zero. Joins an enclosing transaction when one is
// on the context; otherwise runs its own.
func (r *CounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	if r == nil || r.provider == nil {
		return 0, errors.New("counter repository not initialised")
	}
	counterID = strings.TrimSpace(counterID)
	if counterID == "" {
		return 0, errors.New("counter: id is required")
	}
	if step <= 0 {
		step = 1
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return 0, pfirestore.WrapError("counter.next", err)
	}
	ref := client.Collection(countersCollection).Doc(counterID)

	advance := func(tx *firestore.Transaction) (int64, error) {
		var doc counterDocument
		snap, err := tx.Get(ref)
		switch {
		case err == nil:
			if err := snap.DataTo(&doc); err != nil {
				return 0, fmt.Errorf("decode counter %s: %w", counterID, err)
			}
		case status.Code(err) == codes.NotFound:
			// first use
		default:
			return 0, pfirestore.WrapError("counter.next", err)
		}

		doc.Value += step
		doc.UpdatedAt = time.Now().UTC()
		if err := tx.Set(ref, doc); err != nil {
			return 0, pfirestore.WrapError("counter.next", err)
		}
		return doc.Value, nil
	}

	if tx, ok := pfirestore.TxFrom(ctx); ok {
		return advance(tx)
	}

	var value int64
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		v, err := advance(tx)
		if err != nil {
			return err
		}
		value = v
		return nil
	})
	if err != nil {
		return 0, err
	}
	return value, nil
}

type counterDocument struct {
	Value     int64     `firestore:"value"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}
