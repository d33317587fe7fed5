package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rl1809/cart-service/internal/core/domain"
	"github.com/rl1809/cart-service/internal/port"
)

type CartServiceConfig struct {
	MaxMutationRetries int
	PricingConcurrency int
	EventQueueSize     int
}

type CartService struct {
	store        *CartStore
	products     port.ProductRepository
	reservations *ReservationEngine
	eventQueue   chan domain.CheckoutEvent
	cfg          CartServiceConfig

	queueMu     sync.RWMutex
	queueClosed bool

	logger  *zap.Logger
	metrics *Metrics
	tracer  trace.Tracer
}

func NewCartService(store *CartStore, products port.ProductRepository, reservations *ReservationEngine, cfg CartServiceConfig, tel Telemetry) *CartService {
	tel = tel.withDefaults()
	if cfg.MaxMutationRetries <= 0 {
		cfg.MaxMutationRetries = 3
	}
	if cfg.PricingConcurrency <= 0 {
		cfg.PricingConcurrency = 10
	}
	if cfg.EventQueueSize <= 0 {
		cfg.EventQueueSize = 1000
	}

	return &CartService{
		store:        store,
		products:     products,
		reservations: reservations,
		eventQueue:   make(chan domain.CheckoutEvent, cfg.EventQueueSize),
		cfg:          cfg,
		logger:       tel.Logger,
		metrics:      tel.Metrics,
		tracer:       tel.Tracer,
	}
}

func (s *CartService) AddItem(ctx context.Context, userID, productID string, quantity int) (cart *domain.Cart, err error) {
	ctx, span := s.tracer.Start(ctx, "CartService.AddItem", trace.WithAttributes(
		attribute.String("user.id", userID),
		attribute.String("product.id", productID),
		attribute.Int("item.quantity", quantity),
	))
	defer func() { s.finish(span, "add_item", err) }()

	if err := requireID("userId", userID); err != nil {
		return nil, err
	}
	if err := requireID("productId", productID); err != nil {
		return nil, err
	}
	if quantity <= 0 {
		return nil, domain.Validationf("quantity must be at least 1")
	}

	product, err := s.products.FindProduct(ctx, productID)
	if err != nil {
		return nil, storageError("find product", err)
	}
	if product == nil {
		return nil, domain.NewProductError(productID, domain.ErrNotFound)
	}

	return s.mutate(ctx, userID, true, func(c *domain.Cart) error {
		if product.Stock < c.Quantity(productID)+quantity {
			return domain.NewProductError(productID, domain.ErrInsufficientStock)
		}
		return c.AddItem(productID, quantity)
	})
}

// RemoveItem removes quantity units of productID; zero removes the line.
func (s *CartService) RemoveItem(ctx context.Context, userID, productID string, quantity int) (cart *domain.Cart, err error) {
	ctx, span := s.tracer.Start(ctx, "CartService.RemoveItem", trace.WithAttributes(
		attribute.String("user.id", userID),
		attribute.String("product.id", productID),
	))
	defer func() { s.finish(span, "remove_item", err) }()

	if err := requireID("userId", userID); err != nil {
		return nil, err
	}
	if err := requireID("productId", productID); err != nil {
		return nil, err
	}
	if quantity < 0 {
		return nil, domain.Validationf("quantity must not be negative")
	}

	return s.mutate(ctx, userID, false, func(c *domain.Cart) error {
		return c.RemoveItem(productID, quantity)
	})
}

func (s *CartService) ViewCart(ctx context.Context, userID string) (view *domain.CartView, err error) {
	ctx, span := s.tracer.Start(ctx, "CartService.ViewCart", trace.WithAttributes(
		attribute.String("user.id", userID),
	))
	defer func() { s.finish(span, "view_cart", err) }()

	if err := requireID("userId", userID); err != nil {
		return nil, err
	}

	cart, err := s.store.ReadActiveCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	if cart == nil {
		return nil, cartNotFound(userID)
	}

	return s.price(ctx, cart)
}

// Checkout reserves stock for every line and closes the cart. If any line
// fails, stock already taken for other lines is returned and the cart stays
// OPEN.
func (s *CartService) Checkout(ctx context.Context, userID string) (view *domain.CartView, err error) {
	ctx, span := s.tracer.Start(ctx, "CartService.Checkout", trace.WithAttributes(
		attribute.String("user.id", userID),
	))
	defer func() {
		s.metrics.Checkouts.WithLabelValues(ResultLabel(err)).Inc()
		s.finish(span, "checkout", err)
	}()

	if err := requireID("userId", userID); err != nil {
		return nil, err
	}

	cart, err := s.store.ReadActiveCartFresh(ctx, userID)
	if err != nil {
		return nil, err
	}
	if cart == nil {
		return nil, cartNotFound(userID)
	}
	if len(cart.Items) == 0 {
		return nil, domain.Validationf("cart is empty")
	}
	span.SetAttributes(attribute.String("cart.id", cart.ID), attribute.Int("cart.lines", len(cart.Items)))

	view, err = s.price(ctx, cart)
	if err != nil {
		return nil, err
	}

	committed, err := s.reservations.Reserve(ctx, cart.Items)
	if err != nil {
		s.compensate(ctx, cart, committed, err)
		return nil, err
	}
	span.AddEvent("stock reserved")

	if err := s.store.Close(ctx, cart); err != nil {
		s.compensate(ctx, cart, committed, err)
		if errors.Is(err, domain.ErrVersionConflict) {
			return nil, fmt.Errorf("%w: cart %s changed during checkout", domain.ErrLockUnavailable, cart.ID)
		}
		return nil, err
	}
	view.Status = cart.Status

	s.enqueue(domain.CheckoutEvent{
		EventID:      uuid.NewString(),
		CartID:       cart.ID,
		UserID:       cart.UserID,
		Items:        cart.Items,
		TotalPrice:   view.TotalPrice,
		CheckedOutAt: time.Now().UTC(),
	})

	s.logger.Info("checkout completed",
		zap.String("user_id", userID),
		zap.String("cart_id", cart.ID),
		zap.String("total", view.TotalPrice.StringFixed(2)),
	)
	return view, nil
}

func (s *CartService) GetEventQueue() <-chan domain.CheckoutEvent {
	return s.eventQueue
}

// Close stops event delivery. Checkouts finishing after Close drop their
// event. Close is idempotent.
func (s *CartService) Close() {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()

	if !s.queueClosed {
		s.queueClosed = true
		close(s.eventQueue)
	}
}

// mutate applies fn to the user's OPEN cart and writes it through. A version
// conflict means another request won the race; the mutation is re-applied on
// the durable state.
func (s *CartService) mutate(ctx context.Context, userID string, create bool, fn func(*domain.Cart) error) (*domain.Cart, error) {
	fresh := false
	for attempt := 0; attempt <= s.cfg.MaxMutationRetries; attempt++ {
		var (
			cart *domain.Cart
			err  error
		)
		if fresh {
			cart, err = s.store.ReadActiveCartFresh(ctx, userID)
		} else {
			cart, err = s.store.ReadActiveCart(ctx, userID)
		}
		if err != nil {
			return nil, err
		}
		if cart == nil {
			if !create {
				return nil, cartNotFound(userID)
			}
			cart = domain.NewCart(userID)
		}

		if err := fn(cart); err != nil {
			return nil, err
		}

		err = s.store.WriteThrough(ctx, cart)
		if err == nil {
			return cart, nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) {
			return nil, err
		}

		s.logger.Debug("cart version conflict, retrying",
			zap.String("user_id", userID),
			zap.Int("attempt", attempt+1),
		)
		fresh = true
	}

	return nil, fmt.Errorf("%w: cart for user %s is being modified concurrently", domain.ErrLockUnavailable, userID)
}

func (s *CartService) price(ctx context.Context, cart *domain.Cart) (*domain.CartView, error) {
	var (
		mu       sync.Mutex
		products = make(map[string]domain.Product, len(cart.Items))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.PricingConcurrency)

	for _, item := range cart.Items {
		g.Go(func() error {
			product, err := s.products.FindProduct(gctx, item.ProductID)
			if err != nil {
				return storageError("find product", err)
			}
			if product == nil {
				return domain.NewProductError(item.ProductID, domain.ErrNotFound)
			}
			mu.Lock()
			products[item.ProductID] = *product
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return PriceCart(cart, products)
}

func (s *CartService) compensate(ctx context.Context, cart *domain.Cart, committed []domain.LineItem, cause error) {
	s.logger.Warn("checkout failed",
		zap.String("cart_id", cart.ID),
		zap.String("user_id", cart.UserID),
		zap.Int("committed_lines", len(committed)),
		zap.Error(cause),
	)
	if len(committed) == 0 {
		return
	}
	if err := s.reservations.Restock(ctx, committed); err != nil {
		s.logger.Error("CRITICAL: checkout compensation incomplete",
			zap.String("cart_id", cart.ID),
			zap.Error(err),
		)
	}
}

func (s *CartService) enqueue(event domain.CheckoutEvent) {
	s.queueMu.RLock()
	defer s.queueMu.RUnlock()

	if s.queueClosed {
		s.logger.Warn("checkout event queue closed, dropping event",
			zap.String("event_id", event.EventID),
			zap.String("cart_id", event.CartID),
		)
		return
	}
	select {
	case s.eventQueue <- event:
	default:
		s.logger.Warn("checkout event queue full, dropping event",
			zap.String("event_id", event.EventID),
			zap.String("cart_id", event.CartID),
		)
	}
}

func (s *CartService) finish(span trace.Span, op string, err error) {
	result := ResultLabel(err)
	s.metrics.CartOperations.WithLabelValues(op, result).Inc()
	if result == "storage" || result == "error" {
		s.logger.Error("cart operation failed", zap.String("operation", op), zap.Error(err))
	}
	endSpan(span, err)
}

func requireID(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return domain.Validationf("%s is required", field)
	}
	return nil
}

func cartNotFound(userID string) error {
	return fmt.Errorf("%w: no open cart for user %s", domain.ErrNotFound, userID)
}
