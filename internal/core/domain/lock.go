package domain

import "time"

const productLockPrefix = "locks:products:"

// ResourceKey names a lockable resource. Build it with a constructor such as
// ProductResource so unrelated resources can never share a key.
type ResourceKey struct {
	name string
}

func ProductResource(productID string) ResourceKey {
	return ResourceKey{name: productLockPrefix + productID}
}

func (k ResourceKey) String() string {
	return k.name
}

func (k ResourceKey) IsZero() bool {
	return k.name == ""
}

// Lease is an exclusive, time-bounded grant over Keys. Only the holder of
// Token may release it.
type Lease struct {
	Token      string
	Keys       []ResourceKey
	TTL        time.Duration
	AcquiredAt time.Time
}

func (l *Lease) ExpiresAt() time.Time {
	return l.AcquiredAt.Add(l.TTL)
}
