package port

import (
	"context"

	"github.com/rl1809/cart-service/internal/core/domain"
)

type ProductRepository interface {
	// FindProduct returns the product, or nil if it does not exist
	FindProduct(ctx context.Context, id string) (*domain.Product, error)

	// UpdateStock sets the absolute stock for a product
	UpdateStock(ctx context.Context, id string, newStock int) error

	CreateProduct(ctx context.Context, product *domain.Product) error
	UpdateProduct(ctx context.Context, product *domain.Product) error
	ListProducts(ctx context.Context, offset, limit int) ([]domain.Product, int, error)
}
