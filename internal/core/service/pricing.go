package service

import (
	"github.com/shopspring/decimal"

	"github.com/rl1809/cart-service/internal/core/domain"
)

// PriceCart joins cart lines with current catalog records. Prices are the
// catalog prices at call time, not the prices when items were added.
func PriceCart(cart *domain.Cart, products map[string]domain.Product) (*domain.CartView, error) {
	view := &domain.CartView{
		ID:         cart.ID,
		UserID:     cart.UserID,
		Status:     cart.Status,
		Items:      make([]domain.CartViewLine, 0, len(cart.Items)),
		TotalPrice: decimal.Zero,
	}

	for _, item := range cart.Items {
		product, ok := products[item.ProductID]
		if !ok {
			return nil, domain.NewProductError(item.ProductID, domain.ErrNotFound)
		}

		lineTotal := product.Price.Mul(decimal.NewFromInt(int64(item.Quantity)))
		view.Items = append(view.Items, domain.CartViewLine{
			ProductID:   item.ProductID,
			Name:        product.Name,
			Description: product.Description,
			Quantity:    item.Quantity,
			UnitPrice:   product.Price,
			LineTotal:   lineTotal,
		})
		view.TotalPrice = view.TotalPrice.Add(lineTotal)
	}

	return view, nil
}
