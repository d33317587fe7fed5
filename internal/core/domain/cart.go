package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type CartStatus string

const (
	CartStatusOpen   CartStatus = "OPEN"
	CartStatusClosed CartStatus = "CLOSED"
)

type LineItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// Cart is the durable cart record. Version is bumped on every durable write
// and is used for optimistic concurrency on the user's OPEN cart.
type Cart struct {
	ID        string     `json:"id"`
	UserID    string     `json:"userId"`
	Items     []LineItem `json:"items"`
	Status    CartStatus `json:"status"`
	Version   int        `json:"version"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

func NewCart(userID string) *Cart {
	now := time.Now().UTC()
	return &Cart{
		ID:        uuid.NewString(),
		UserID:    userID,
		Items:     []LineItem{},
		Status:    CartStatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (c *Cart) IsOpen() bool {
	return c.Status == CartStatusOpen
}

func (c *Cart) Quantity(productID string) int {
	for _, item := range c.Items {
		if item.ProductID == productID {
			return item.Quantity
		}
	}
	return 0
}

func (c *Cart) AddItem(productID string, quantity int) error {
	if !c.IsOpen() {
		return ErrCartClosed
	}
	if quantity <= 0 {
		return Validationf("quantity must be at least 1")
	}

	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			c.Items[i].Quantity += quantity
			c.touch()
			return nil
		}
	}
	c.Items = append(c.Items, LineItem{ProductID: productID, Quantity: quantity})
	c.touch()
	return nil
}

// RemoveItem drops quantity units of productID. A quantity of zero, or one
// that reaches the line total, removes the whole line.
func (c *Cart) RemoveItem(productID string, quantity int) error {
	if !c.IsOpen() {
		return ErrCartClosed
	}
	if quantity < 0 {
		return Validationf("quantity must not be negative")
	}

	for i := range c.Items {
		if c.Items[i].ProductID != productID {
			continue
		}
		if quantity == 0 || quantity >= c.Items[i].Quantity {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
		} else {
			c.Items[i].Quantity -= quantity
		}
		c.touch()
		return nil
	}
	return NewProductError(productID, ErrNotFound)
}

func (c *Cart) Close() error {
	if !c.IsOpen() {
		return ErrCartClosed
	}
	c.Status = CartStatusClosed
	c.touch()
	return nil
}

func (c *Cart) Clone() *Cart {
	cp := *c
	cp.Items = make([]LineItem, len(c.Items))
	copy(cp.Items, c.Items)
	return &cp
}

func (c *Cart) touch() {
	c.UpdatedAt = time.Now().UTC()
}

type CartViewLine struct {
	ProductID   string          `json:"productId"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	LineTotal   decimal.Decimal `json:"lineTotal"`
}

// CartView is the priced projection of a cart. It is never persisted.
type CartView struct {
	ID         string          `json:"id"`
	UserID     string          `json:"userId"`
	Status     CartStatus      `json:"status"`
	Items      []CartViewLine  `json:"items"`
	TotalPrice decimal.Decimal `json:"totalPrice"`
}

type CheckoutEvent struct {
	EventID      string          `json:"eventId"`
	CartID       string          `json:"cartId"`
	UserID       string          `json:"userId"`
	Items        []LineItem      `json:"items"`
	TotalPrice   decimal.Decimal `json:"totalPrice"`
	CheckedOutAt time.Time       `json:"checkedOutAt"`
}
