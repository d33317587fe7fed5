package port

import (
	"context"
	"time"

	"github.com/rl1809/cart-service/internal/core/domain"
)

type Locker interface {
	// Acquire grants an exclusive lease over all keys or none of them,
	// retrying with jittered backoff. Returns domain.ErrLockUnavailable when retries run out
	Acquire(ctx context.Context, keys []domain.ResourceKey, ttl time.Duration) (*domain.Lease, error)

	// Release frees the lease; keys already taken over after TTL expiry are left alone
	Release(ctx context.Context, lease *domain.Lease) error
}
