package events

import (
	"context"

	"go.uber.org/zap"
)

// LogPublisher writes events to the structured log. Default sink for local
// development and environments without a broker.
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher constructs a log-backed event sink.
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogPublisher{logger: logger}
}

// Publish logs the event.
func (p *LogPublisher) Publish(ctx context.Context, event OrderEvent) error {
	p.logger.Info("order event",
		zap.String("type", event.Type),
		zap.String("orderId", event.OrderID),
		zap.String("tenantId", event.TenantID),
		zap.String("channel", event.Channel),
		zap.Int64("totalAmount", event.TotalAmount),
		zap.String("currency", event.Currency),
		zap.Time("occurredAt", event.OccurredAt),
	)
	return nil
}
