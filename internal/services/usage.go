package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/agoramall/orders-api/internal/repositories"
)

const usageCounterSessionsCreated = "payments.sessions.created"

type counterUsageRecorder struct {
	counters repositories.CounterRepository
}

// NewCounterUsageRecorder meters billable session creations on the
// transactional counter collection, one counter per tenant.
func NewCounterUsageRecorder(counters repositories.CounterRepository) (UsageRecorder, error) {
	if counters == nil {
		return nil, errors.New("usage recorder: counter repository is required")
	}
	return &counterUsageRecorder{counters: counters}, nil
}

func (r *counterUsageRecorder) RecordSessionCreated(ctx context.Context, tenantID string) error {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return errors.New("usage recorder: tenant id is required")
	}
	counterID := fmt.Sprintf("usage__%s__%s", tenantID, usageCounterSessionsCreated)
	if _, err := r.counters.Next(ctx, counterID, 1); err != nil {
		return fmt.Errorf("record session usage: %w", err)
	}
	return nil
}
