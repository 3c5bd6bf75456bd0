package memory

import (
	"context"
	"errors"
	"strings"
)

// CounterRepository hands out monotonic sequence values from the store.
type CounterRepository struct {
	store *Store
}

// NewCounterRepository constructs a counter repository over the store.
func NewCounterRepository(store *Store) *CounterRepository {
	return &CounterRepository{store: store}
}

// Next advances the counter by step and returns the new value. Missing
// counters start at zero.
func (r *CounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	unlock := r.store.lock(ctx)
	defer unlock()

	counterID = strings.TrimSpace(counterID)
	if counterID == "" {
		return 0, errors.New("counter: id is required")
	}
	if step <= 0 {
		step = 1
	}
	r.store.counters[counterID] += step
	return r.store.counters[counterID], nil
}

// Value returns the current counter value. Test assertion helper.
func (r *CounterRepository) Value(counterID string) int64 {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.store.counters[counterID]
}
