package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/cart-service/internal/core/domain"
	"github.com/rl1809/cart-service/internal/port"
)

const cartKeyPrefix = "cart:"

func CartCacheKey(userID string) string {
	return cartKeyPrefix + userID
}

// CartStore keeps the user-keyed cache subordinate to the durable store.
// Writes always reach the repository before the cache, so a cache entry never
// reflects a write that failed to persist.
type CartStore struct {
	repo    port.CartRepository
	cache   port.CacheRepository
	ttl     time.Duration
	logger  *zap.Logger
	metrics *Metrics
}

func NewCartStore(repo port.CartRepository, cache port.CacheRepository, ttl time.Duration, tel Telemetry) *CartStore {
	tel = tel.withDefaults()
	return &CartStore{
		repo:    repo,
		cache:   cache,
		ttl:     ttl,
		logger:  tel.Logger,
		metrics: tel.Metrics,
	}
}

// ReadActiveCart returns the user's OPEN cart, or nil. Cache failures fall
// back to the repository.
func (s *CartStore) ReadActiveCart(ctx context.Context, userID string) (*domain.Cart, error) {
	key := CartCacheKey(userID)

	raw, err := s.cache.Get(ctx, key)
	switch {
	case err == nil:
		var cart domain.Cart
		if jsonErr := json.Unmarshal(raw, &cart); jsonErr == nil && cart.IsOpen() && cart.UserID == userID {
			s.metrics.CacheLookups.WithLabelValues("hit").Inc()
			return &cart, nil
		}
		s.metrics.CacheLookups.WithLabelValues("invalid").Inc()
		s.logger.Warn("discarding unusable cart cache entry", zap.String("key", key))
		s.evict(ctx, key)
	case errors.Is(err, port.ErrCacheMiss):
		s.metrics.CacheLookups.WithLabelValues("miss").Inc()
	default:
		s.metrics.CacheLookups.WithLabelValues("error").Inc()
		s.logger.Warn("cart cache read failed, using durable store", zap.String("key", key), zap.Error(err))
	}

	cart, err := s.ReadActiveCartFresh(ctx, userID)
	if err != nil || cart == nil {
		return cart, err
	}

	// A writer may have cached a newer version since the durable read; only
	// fill an empty slot.
	if err := s.fill(ctx, cart); err != nil {
		s.logger.Warn("failed to populate cart cache", zap.String("key", key), zap.Error(err))
	}
	return cart, nil
}

// ReadActiveCartFresh reads the durable store and ignores the cache.
func (s *CartStore) ReadActiveCartFresh(ctx context.Context, userID string) (*domain.Cart, error) {
	cart, err := s.repo.FindOpenCart(ctx, userID)
	if err != nil {
		return nil, storageError("find open cart", err)
	}
	return cart, nil
}

// WriteThrough persists cart, then overwrites the cache entry. On a version
// conflict the entry is evicted so the retry reads the durable record.
func (s *CartStore) WriteThrough(ctx context.Context, cart *domain.Cart) error {
	key := CartCacheKey(cart.UserID)

	if err := s.repo.SaveOpenCart(ctx, cart); err != nil {
		if errors.Is(err, domain.ErrVersionConflict) {
			s.evict(ctx, key)
			return err
		}
		return storageError("save cart", err)
	}

	if err := s.put(ctx, cart); err != nil {
		s.logger.Warn("failed to refresh cart cache, evicting", zap.String("key", key), zap.Error(err))
		if delErr := s.cache.Del(ctx, key); delErr != nil {
			// The old snapshot may still be served; surface it.
			return storageError("evict stale cart cache", delErr)
		}
	}
	return nil
}

// Close moves the cart to CLOSED in the durable store and then drops the
// cache entry. A failed eviction is logged only: the durable record is
// already CLOSED and any write based on the stale entry fails its version check.
func (s *CartStore) Close(ctx context.Context, cart *domain.Cart) error {
	if err := cart.Close(); err != nil {
		return err
	}

	if err := s.repo.CloseCart(ctx, cart); err != nil {
		if errors.Is(err, domain.ErrVersionConflict) {
			s.evict(ctx, CartCacheKey(cart.UserID))
			return err
		}
		return storageError("close cart", err)
	}

	if err := s.Invalidate(ctx, cart.UserID); err != nil {
		s.logger.Error("failed to invalidate closed cart", zap.String("user_id", cart.UserID), zap.Error(err))
	}
	return nil
}

func (s *CartStore) Invalidate(ctx context.Context, userID string) error {
	return s.cache.Del(ctx, CartCacheKey(userID))
}

func (s *CartStore) put(ctx context.Context, cart *domain.Cart) error {
	raw, err := json.Marshal(cart)
	if err != nil {
		return err
	}
	return s.cache.Set(ctx, CartCacheKey(cart.UserID), raw, s.ttl)
}

func (s *CartStore) fill(ctx context.Context, cart *domain.Cart) error {
	raw, err := json.Marshal(cart)
	if err != nil {
		return err
	}
	stored, err := s.cache.SetNX(ctx, CartCacheKey(cart.UserID), raw, s.ttl)
	if err == nil && !stored {
		s.metrics.CacheLookups.WithLabelValues("fill_skipped").Inc()
	}
	return err
}

func (s *CartStore) evict(ctx context.Context, key string) {
	if err := s.cache.Del(ctx, key); err != nil {
		s.logger.Warn("failed to evict cart cache entry", zap.String("key", key), zap.Error(err))
	}
}
