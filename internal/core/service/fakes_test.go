package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"

	"github.com/rl1809/cart-service/internal/core/domain"
	"github.com/rl1809/cart-service/internal/port"
)

// Mock CartRepository with version checks
type fakeCartRepo struct {
	mu      sync.Mutex
	open    map[string]domain.Cart
	closed  []domain.Cart
	saveErr error
	saves   int
}

func newFakeCartRepo() *fakeCartRepo {
	return &fakeCartRepo{open: make(map[string]domain.Cart)}
}

func (r *fakeCartRepo) FindOpenCart(ctx context.Context, userID string) (*domain.Cart, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cart, ok := r.open[userID]
	if !ok {
		return nil, nil
	}
	return cart.Clone(), nil
}

func (r *fakeCartRepo) SaveOpenCart(ctx context.Context, cart *domain.Cart) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.saveErr != nil {
		return r.saveErr
	}

	current, ok := r.open[cart.UserID]
	if cart.Version == 0 {
		if ok {
			return domain.ErrVersionConflict
		}
	} else if !ok || current.ID != cart.ID || current.Version != cart.Version {
		return domain.ErrVersionConflict
	}

	cart.Version++
	r.open[cart.UserID] = *cart.Clone()
	r.saves++
	return nil
}

func (r *fakeCartRepo) CloseCart(ctx context.Context, cart *domain.Cart) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.open[cart.UserID]
	if !ok || current.ID != cart.ID || current.Version != cart.Version {
		return domain.ErrVersionConflict
	}

	cart.Version++
	delete(r.open, cart.UserID)
	r.closed = append(r.closed, *cart.Clone())
	return nil
}

// Mock CacheRepository
type fakeCache struct {
	mu     sync.Mutex
	data   map[string][]byte
	getErr error
	setErr error
	delErr error
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: make(map[string][]byte)}
}

func (c *fakeCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.getErr != nil {
		return nil, c.getErr
	}
	v, ok := c.data[key]
	if !ok {
		return nil, port.ErrCacheMiss
	}
	return v, nil
}

func (c *fakeCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.setErr != nil {
		return c.setErr
	}
	c.data[key] = value
	return nil
}

func (c *fakeCache) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.setErr != nil {
		return false, c.setErr
	}
	if _, ok := c.data[key]; ok {
		return false, nil
	}
	c.data[key] = value
	return true, nil
}

func (c *fakeCache) Del(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.delErr != nil {
		return c.delErr
	}
	delete(c.data, key)
	return nil
}

func (c *fakeCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[key]
	return ok
}

// Mock ProductRepository. Reads and writes are individually atomic but a
// read-then-write is not, so only the lease prevents oversell.
type fakeProducts struct {
	mu        sync.Mutex
	products  map[string]domain.Product
	updateErr map[string]error
}

func newFakeProducts(products ...domain.Product) *fakeProducts {
	f := &fakeProducts{
		products:  make(map[string]domain.Product),
		updateErr: make(map[string]error),
	}
	for _, p := range products {
		f.products[p.ID] = p
	}
	return f
}

func (f *fakeProducts) FindProduct(ctx context.Context, id string) (*domain.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, ok := f.products[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (f *fakeProducts) UpdateStock(ctx context.Context, id string, newStock int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.updateErr[id]; err != nil {
		return err
	}
	p, ok := f.products[id]
	if !ok {
		return errors.New("no rows")
	}
	if newStock < 0 {
		panic("oversell: stock driven below zero")
	}
	p.Stock = newStock
	f.products[id] = p
	return nil
}

func (f *fakeProducts) CreateProduct(ctx context.Context, product *domain.Product) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.products[product.ID] = *product
	return nil
}

func (f *fakeProducts) UpdateProduct(ctx context.Context, product *domain.Product) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.products[product.ID]; !ok {
		return errors.New("no rows")
	}
	f.products[product.ID] = *product
	return nil
}

func (f *fakeProducts) ListProducts(ctx context.Context, offset, limit int) ([]domain.Product, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ids := make([]string, 0, len(f.products))
	for id := range f.products {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := []domain.Product{}
	for i := offset; i < len(ids) && i < offset+limit; i++ {
		out = append(out, f.products[ids[i]])
	}
	return out, len(ids), nil
}

func (f *fakeProducts) stock(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.products[id].Stock
}

// Mock Locker: blocking in-process mutex per key
type fakeLocker struct {
	mu         sync.Mutex
	keys       map[string]*sync.Mutex
	acquireErr error
	releases   int
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{keys: make(map[string]*sync.Mutex)}
}

func (l *fakeLocker) mutex(name string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.keys[name]
	if !ok {
		m = &sync.Mutex{}
		l.keys[name] = m
	}
	return m
}

func (l *fakeLocker) Acquire(ctx context.Context, keys []domain.ResourceKey, ttl time.Duration) (*domain.Lease, error) {
	if l.acquireErr != nil {
		return nil, l.acquireErr
	}

	names := make([]string, 0, len(keys))
	for _, k := range keys {
		names = append(names, k.String())
	}
	sort.Strings(names)
	for _, name := range names {
		l.mutex(name).Lock()
	}

	return &domain.Lease{Token: uuid.NewString(), Keys: keys, TTL: ttl, AcquiredAt: time.Now()}, nil
}

func (l *fakeLocker) Release(ctx context.Context, lease *domain.Lease) error {
	for _, k := range lease.Keys {
		l.mutex(k.String()).Unlock()
	}
	l.mu.Lock()
	l.releases++
	l.mu.Unlock()
	return nil
}

type testEnv struct {
	repo         *fakeCartRepo
	cache        *fakeCache
	products     *fakeProducts
	locker       *fakeLocker
	store        *CartStore
	reservations *ReservationEngine
	carts        *CartService
	catalog      *ProductService
}

func newTestEnv(t *testing.T, products ...domain.Product) *testEnv {
	t.Helper()

	tel := Telemetry{Logger: zaptest.NewLogger(t)}
	env := &testEnv{
		repo:     newFakeCartRepo(),
		cache:    newFakeCache(),
		products: newFakeProducts(products...),
		locker:   newFakeLocker(),
	}

	guard := NewLeaseGuard(env.locker, tel)
	env.store = NewCartStore(env.repo, env.cache, time.Minute, tel)
	env.reservations = NewReservationEngine(env.products, guard, ReservationConfig{LeaseTTL: time.Second}, tel)
	env.carts = NewCartService(env.store, env.products, env.reservations, CartServiceConfig{EventQueueSize: 100}, tel)
	env.catalog = NewProductService(env.products, guard, time.Second, tel)
	t.Cleanup(env.carts.Close)
	return env
}

func product(id string, price string, stock int) domain.Product {
	return domain.Product{
		ID:    id,
		Name:  "name-" + id,
		Price: decimal.RequireFromString(price),
		Stock: stock,
	}
}

func (env *testEnv) mustAddItem(t *testing.T, userID, productID string, quantity int) *domain.Cart {
	t.Helper()
	cart, err := env.carts.AddItem(context.Background(), userID, productID, quantity)
	if err != nil {
		t.Fatalf("add %s x%d for %s: %v", productID, quantity, userID, err)
	}
	return cart
}

func (env *testEnv) mustRemoveItem(t *testing.T, userID, productID string, quantity int) *domain.Cart {
	t.Helper()
	cart, err := env.carts.RemoveItem(context.Background(), userID, productID, quantity)
	if err != nil {
		t.Fatalf("remove %s x%d for %s: %v", productID, quantity, userID, err)
	}
	return cart
}
