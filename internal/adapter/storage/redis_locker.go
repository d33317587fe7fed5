package storage

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/rl1809/cart-service/internal/core/domain"
)

// All keys are checked before any is written, so the lease is all-or-nothing.
var acquireLockScript = redis.NewScript(`
for i, key in ipairs(KEYS) do
	if redis.call('EXISTS', key) == 1 then
		return 0
	end
end

for i, key in ipairs(KEYS) do
	redis.call('SET', key, ARGV[1], 'PX', ARGV[2])
end

return 1
`)

// Only keys still holding our token are deleted.
var releaseLockScript = redis.NewScript(`
local released = 0
for i, key in ipairs(KEYS) do
	if redis.call('GET', key) == ARGV[1] then
		redis.call('DEL', key)
		released = released + 1
	end
end

return released
`)

type LockOptions struct {
	RetryCount  int
	RetryDelay  time.Duration
	RetryJitter time.Duration
}

func DefaultLockOptions() LockOptions {
	return LockOptions{
		RetryCount:  5,
		RetryDelay:  200 * time.Millisecond,
		RetryJitter: 100 * time.Millisecond,
	}
}

// RedisLocker grants leases on a single Redis node. Multi-key leases rely on
// the script running atomically, so every key must live on the same node.
type RedisLocker struct {
	client *redis.Client
	opts   LockOptions
}

func NewRedisLocker(client *redis.Client, opts LockOptions) *RedisLocker {
	return &RedisLocker{client: client, opts: opts}
}

func (l *RedisLocker) Acquire(ctx context.Context, keys []domain.ResourceKey, ttl time.Duration) (*domain.Lease, error) {
	names, err := keyNames(keys)
	if err != nil {
		return nil, err
	}
	if ttl < time.Millisecond {
		return nil, fmt.Errorf("lease ttl %v is below 1ms", ttl)
	}

	token := uuid.NewString()
	for attempt := 0; attempt <= l.opts.RetryCount; attempt++ {
		if attempt > 0 {
			if err := sleepContext(ctx, backoff(l.opts)); err != nil {
				return nil, err
			}
		}

		acquiredAt := time.Now()
		ok, err := acquireLockScript.Run(ctx, l.client, names, token, ttl.Milliseconds()).Int()
		if err != nil {
			return nil, errors.Wrap(err, "run acquire script")
		}
		if ok == 1 {
			return &domain.Lease{Token: token, Keys: keys, TTL: ttl, AcquiredAt: acquiredAt}, nil
		}
	}

	return nil, fmt.Errorf("%w: %s after %d attempts", domain.ErrLockUnavailable, strings.Join(names, ","), l.opts.RetryCount+1)
}

func (l *RedisLocker) Release(ctx context.Context, lease *domain.Lease) error {
	if lease == nil {
		return nil
	}
	names, err := keyNames(lease.Keys)
	if err != nil {
		return err
	}

	_, err = releaseLockScript.Run(ctx, l.client, names, lease.Token).Int()
	return errors.Wrap(err, "run release script")
}

func keyNames(keys []domain.ResourceKey) ([]string, error) {
	if len(keys) == 0 {
		return nil, errors.New("lease needs at least one key")
	}
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		if k.IsZero() {
			return nil, errors.New("empty resource key")
		}
		names = append(names, k.String())
	}
	return names, nil
}

func backoff(opts LockOptions) time.Duration {
	d := opts.RetryDelay
	if opts.RetryJitter > 0 {
		d += rand.N(opts.RetryJitter)
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
