package messaging

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/cart-service/internal/core/domain"
	"github.com/rl1809/cart-service/internal/port"
)

const publishTimeout = 5 * time.Second

// Dispatch drains queue into the publisher until the queue is closed. A
// failed publish is logged; the checkout it describes is already durable.
func Dispatch(id int, queue <-chan domain.CheckoutEvent, publisher port.EventPublisher, logger *zap.Logger) {
	for event := range queue {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)

		if err := publisher.PublishCheckout(ctx, event); err != nil {
			logger.Error("publish checkout event failed",
				zap.Int("worker", id),
				zap.String("event_id", event.EventID),
				zap.String("user_id", event.UserID),
				zap.Error(err),
			)
		}

		cancel()
	}
}
