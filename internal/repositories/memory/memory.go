// Package memory provides in-process implementations of the repository
// interfaces. They back unit tests and local development without a Firestore
// emulator. A single store-wide mutex stands in for store serialisability:
// every unit of work runs alone, so transactional invariants hold the same
// way they do under Firestore's optimistic transactions.
package memory

import (
	"context"
	"sync"
)

// Store is the shared backing state for all in-memory repositories. Create
// one Store and hand it to each repository constructor.
type Store struct {
	mu sync.Mutex

	orders       map[string]orderRecord
	reservations map[string]reservationRecord
	stocks       map[string]stockRecord
	sessions     map[string]sessionRecord
	refunds      map[string]refundRecord
	products     map[string]productRecord
	variants     map[string]variantRecord
	agents       map[string]agentRecord
	entitlements map[string]entitlementRecord
	counters     map[string]int64
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		orders:       map[string]orderRecord{},
		reservations: map[string]reservationRecord{},
		stocks:       map[string]stockRecord{},
		sessions:     map[string]sessionRecord{},
		refunds:      map[string]refundRecord{},
		products:     map[string]productRecord{},
		variants:     map[string]variantRecord{},
		agents:       map[string]agentRecord{},
		entitlements: map[string]entitlementRecord{},
		counters:     map[string]int64{},
	}
}

type txKey struct{}

func inTx(ctx context.Context) bool {
	held, _ := ctx.Value(txKey{}).(bool)
	return held
}

// lock acquires the store mutex unless the context already runs inside a unit
// of work holding it.
func (s *Store) lock(ctx context.Context) func() {
	if inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// UnitOfWork serialises multi-repository operations against the store.
type UnitOfWork struct {
	store *Store
}

// NewUnitOfWork constructs a unit of work over the store.
func NewUnitOfWork(store *Store) *UnitOfWork {
	return &UnitOfWork{store: store}
}

// RunInTx runs fn while holding the store mutex. Nested calls join the
// enclosing transaction. There is no rollback: callers must return an error
// before their first write when a precondition fails, mirroring the
// read-before-write discipline the Firestore implementation enforces.
func (u *UnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if inTx(ctx) {
		return fn(ctx)
	}
	u.store.mu.Lock()
	defer u.store.mu.Unlock()
	return fn(context.WithValue(ctx, txKey{}, true))
}
