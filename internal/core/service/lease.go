package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/cart-service/internal/core/domain"
	"github.com/rl1809/cart-service/internal/port"
)

const releaseTimeout = 2 * time.Second

// LeaseGuard gives scoped acquisition over a port.Locker.
type LeaseGuard struct {
	locker  port.Locker
	logger  *zap.Logger
	metrics *Metrics
}

func NewLeaseGuard(locker port.Locker, tel Telemetry) *LeaseGuard {
	tel = tel.withDefaults()
	return &LeaseGuard{locker: locker, logger: tel.Logger, metrics: tel.Metrics}
}

// Run executes fn while holding a lease over keys. The lease is released on
// every exit path, including panics and cancellation of ctx. A failed release
// is logged, not returned: the key still expires with the lease TTL.
func (g *LeaseGuard) Run(ctx context.Context, keys []domain.ResourceKey, ttl time.Duration, fn func(ctx context.Context) error) error {
	lease, err := g.locker.Acquire(ctx, keys, ttl)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrLockUnavailable):
			g.metrics.LockAcquires.WithLabelValues("unavailable").Inc()
		default:
			g.metrics.LockAcquires.WithLabelValues("error").Inc()
		}
		return err
	}
	g.metrics.LockAcquires.WithLabelValues("acquired").Inc()

	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if err := g.locker.Release(releaseCtx, lease); err != nil {
			g.logger.Error("failed to release lease",
				zap.String("token", lease.Token),
				zap.Stringers("keys", lease.Keys),
				zap.Time("expires_at", lease.ExpiresAt()),
				zap.Error(err),
			)
		}
	}()

	return fn(ctx)
}
