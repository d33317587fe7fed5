package messaging

import (
	"context"

	"go.uber.org/zap"

	"github.com/rl1809/cart-service/internal/core/domain"
)

// LogPublisher stands in for Kafka when no brokers are configured.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) PublishCheckout(_ context.Context, event domain.CheckoutEvent) error {
	p.logger.Info("checkout event",
		zap.String("event_id", event.EventID),
		zap.String("cart_id", event.CartID),
		zap.String("user_id", event.UserID),
		zap.Int("lines", len(event.Items)),
		zap.Stringer("total", event.TotalPrice),
	)
	return nil
}

func (p *LogPublisher) Close() error {
	return nil
}
