package port

import (
	"context"

	"github.com/rl1809/cart-service/internal/core/domain"
)

type CartRepository interface {
	// FindOpenCart returns the user's OPEN cart, or nil if there is none
	FindOpenCart(ctx context.Context, userID string) (*domain.Cart, error)

	// SaveOpenCart inserts (Version == 0) or updates the cart with a version check,
	// bumping cart.Version on success. Returns domain.ErrVersionConflict on mismatch
	SaveOpenCart(ctx context.Context, cart *domain.Cart) error

	// CloseCart marks the OPEN cart as CLOSED with a version check
	CloseCart(ctx context.Context, cart *domain.Cart) error
}
