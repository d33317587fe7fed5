package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rl1809/cart-service/internal/core/domain"
	"github.com/rl1809/cart-service/internal/port"
)

// stockWriteTimeout bounds a stock write that runs detached from the caller.
const stockWriteTimeout = 5 * time.Second

type ReservationConfig struct {
	LeaseTTL       time.Duration
	MaxConcurrency int
}

// ReservationEngine decrements product stock under per-product leases.
// There is no cross-product transaction: each product is locked, re-read,
// checked and written independently.
type ReservationEngine struct {
	products port.ProductRepository
	guard    *LeaseGuard
	cfg      ReservationConfig
	logger   *zap.Logger
}

func NewReservationEngine(products port.ProductRepository, guard *LeaseGuard, cfg ReservationConfig, tel Telemetry) *ReservationEngine {
	tel = tel.withDefaults()
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 2 * time.Second
	}
	return &ReservationEngine{
		products: products,
		guard:    guard,
		cfg:      cfg,
		logger:   tel.Logger,
	}
}

// Reserve decrements stock for every item concurrently. On the first failure
// the remaining items stop before writing. The returned slice holds the items
// whose decrement was committed, which is non-empty on partial failure; the
// caller decides whether to Restock them.
func (e *ReservationEngine) Reserve(ctx context.Context, items []domain.LineItem) ([]domain.LineItem, error) {
	var (
		mu        sync.Mutex
		committed = make([]domain.LineItem, 0, len(items))
	)

	g, gctx := errgroup.WithContext(ctx)
	if e.cfg.MaxConcurrency > 0 {
		g.SetLimit(e.cfg.MaxConcurrency)
	}

	for _, item := range items {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			written, err := e.reserveOne(gctx, item)
			if written {
				mu.Lock()
				committed = append(committed, item)
				mu.Unlock()
			}
			return err
		})
	}

	err := g.Wait()
	return committed, err
}

func (e *ReservationEngine) reserveOne(ctx context.Context, item domain.LineItem) (bool, error) {
	written := false
	err := e.withProductLease(ctx, item.ProductID, func(ctx context.Context) error {
		// Stock read before the lease is stale by definition.
		product, err := e.products.FindProduct(ctx, item.ProductID)
		if err != nil {
			return storageError("find product", err)
		}
		if product == nil {
			return domain.NewProductError(item.ProductID, domain.ErrNotFound)
		}
		if product.Stock < item.Quantity {
			return domain.NewProductError(item.ProductID, domain.ErrInsufficientStock)
		}

		// Another item already failed; do not start a new write.
		if err := ctx.Err(); err != nil {
			return err
		}

		// Once started, the write must finish and be counted even if ctx is
		// cancelled, or a committed decrement would escape Restock.
		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stockWriteTimeout)
		defer cancel()
		if err := e.products.UpdateStock(writeCtx, item.ProductID, product.Stock-item.Quantity); err != nil {
			return stockWriteError(item.ProductID, err)
		}
		written = true
		return nil
	})
	return written, err
}

// Restock returns quantities to stock, one lease per product. It runs on a
// context detached from ctx's cancellation so compensation is not cut short.
func (e *ReservationEngine) Restock(ctx context.Context, items []domain.LineItem) error {
	ctx = context.WithoutCancel(ctx)

	var errs []error
	for _, item := range items {
		err := e.withProductLease(ctx, item.ProductID, func(ctx context.Context) error {
			product, err := e.products.FindProduct(ctx, item.ProductID)
			if err != nil {
				return storageError("find product", err)
			}
			if product == nil {
				return domain.NewProductError(item.ProductID, domain.ErrNotFound)
			}
			if err := e.products.UpdateStock(ctx, item.ProductID, product.Stock+item.Quantity); err != nil {
				return stockWriteError(item.ProductID, err)
			}
			return nil
		})
		if err != nil {
			e.logger.Error("CRITICAL: restock failed",
				zap.String("product_id", item.ProductID),
				zap.Int("quantity", item.Quantity),
				zap.Error(err),
			)
			errs = append(errs, err)
			continue
		}
		e.logger.Info("restocked product",
			zap.String("product_id", item.ProductID),
			zap.Int("quantity", item.Quantity),
		)
	}
	return errors.Join(errs...)
}

func (e *ReservationEngine) withProductLease(ctx context.Context, productID string, fn func(ctx context.Context) error) error {
	keys := []domain.ResourceKey{domain.ProductResource(productID)}
	err := e.guard.Run(ctx, keys, e.cfg.LeaseTTL, fn)

	var perr *domain.ProductError
	if errors.Is(err, domain.ErrLockUnavailable) && !errors.As(err, &perr) {
		return domain.NewProductError(productID, err)
	}
	return err
}

// stockWriteError keeps a product that vanished under the lease a not-found
// failure rather than a storage one.
func stockWriteError(productID string, err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return domain.NewProductError(productID, domain.ErrNotFound)
	}
	return storageError("update stock", err)
}
