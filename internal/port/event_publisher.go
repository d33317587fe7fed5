package port

import (
	"context"

	"github.com/rl1809/cart-service/internal/core/domain"
)

type EventPublisher interface {
	PublishCheckout(ctx context.Context, event domain.CheckoutEvent) error
	Close() error
}
