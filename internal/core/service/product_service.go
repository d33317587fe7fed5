package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/cart-service/internal/core/domain"
	"github.com/rl1809/cart-service/internal/port"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

type CreateProductInput struct {
	Name        string
	Description string
	Price       decimal.Decimal
	Stock       int
}

// ProductService is the catalog side of the service. Stock changes go
// through the same product lease as checkout.
type ProductService struct {
	products port.ProductRepository
	guard    *LeaseGuard
	leaseTTL time.Duration

	logger *zap.Logger
	tracer trace.Tracer
}

func NewProductService(products port.ProductRepository, guard *LeaseGuard, leaseTTL time.Duration, tel Telemetry) *ProductService {
	tel = tel.withDefaults()
	if leaseTTL <= 0 {
		leaseTTL = 2 * time.Second
	}
	return &ProductService{
		products: products,
		guard:    guard,
		leaseTTL: leaseTTL,
		logger:   tel.Logger,
		tracer:   tel.Tracer,
	}
}

func (s *ProductService) CreateProduct(ctx context.Context, in CreateProductInput) (product *domain.Product, err error) {
	ctx, span := s.tracer.Start(ctx, "ProductService.CreateProduct")
	defer func() { endSpan(span, err) }()

	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, domain.Validationf("name is required")
	}
	if in.Price.IsNegative() {
		return nil, domain.Validationf("price must be >= 0")
	}
	if in.Stock < 0 {
		return nil, domain.Validationf("stock must be >= 0")
	}

	now := time.Now().UTC()
	product = &domain.Product{
		ID:          uuid.NewString(),
		Name:        name,
		Description: in.Description,
		Price:       in.Price,
		Stock:       in.Stock,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.products.CreateProduct(ctx, product); err != nil {
		return nil, storageError("create product", err)
	}

	s.logger.Info("product created", zap.String("product_id", product.ID), zap.String("name", product.Name))
	return product, nil
}

func (s *ProductService) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	if err := requireID("id", id); err != nil {
		return nil, err
	}

	product, err := s.products.FindProduct(ctx, id)
	if err != nil {
		return nil, storageError("find product", err)
	}
	if product == nil {
		return nil, domain.NewProductError(id, domain.ErrNotFound)
	}
	return product, nil
}

func (s *ProductService) ListProducts(ctx context.Context, page, limit int) ([]domain.Product, domain.PageMeta, error) {
	if page == 0 {
		page = 1
	}
	if limit == 0 {
		limit = DefaultPageSize
	}
	if page < 1 {
		return nil, domain.PageMeta{}, domain.Validationf("page must be >= 1")
	}
	if limit < 1 || limit > MaxPageSize {
		return nil, domain.PageMeta{}, domain.Validationf("limit must be between 1 and %d", MaxPageSize)
	}

	products, total, err := s.products.ListProducts(ctx, (page-1)*limit, limit)
	if err != nil {
		return nil, domain.PageMeta{}, storageError("list products", err)
	}
	return products, domain.NewPageMeta(page, limit, total), nil
}

// UpdateProduct applies patch under the product's lease so a stock edit
// cannot interleave with a checkout's read-then-write.
func (s *ProductService) UpdateProduct(ctx context.Context, id string, patch domain.ProductPatch) (product *domain.Product, err error) {
	ctx, span := s.tracer.Start(ctx, "ProductService.UpdateProduct", trace.WithAttributes(
		attribute.String("product.id", id),
	))
	defer func() { endSpan(span, err) }()

	if err := requireID("id", id); err != nil {
		return nil, err
	}
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return nil, domain.Validationf("name must not be empty")
	}
	if patch.Price != nil && patch.Price.IsNegative() {
		return nil, domain.Validationf("price must be >= 0")
	}
	if patch.Stock != nil && *patch.Stock < 0 {
		return nil, domain.Validationf("stock must be >= 0")
	}

	keys := []domain.ResourceKey{domain.ProductResource(id)}
	err = s.guard.Run(ctx, keys, s.leaseTTL, func(ctx context.Context) error {
		current, err := s.products.FindProduct(ctx, id)
		if err != nil {
			return storageError("find product", err)
		}
		if current == nil {
			return domain.NewProductError(id, domain.ErrNotFound)
		}

		current.Apply(patch)
		current.UpdatedAt = time.Now().UTC()
		if err := s.products.UpdateProduct(ctx, current); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.NewProductError(id, domain.ErrNotFound)
			}
			return storageError("update product", err)
		}
		product = current
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update product %s: %w", id, err)
	}
	return product, nil
}
