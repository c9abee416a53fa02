// Package order places and tracks customer orders.
package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending    Status = "Pending"
	StatusPaid       Status = "Paid"
	StatusProcessing Status = "Processing"
	StatusShipped    Status = "Shipped"
	StatusDelivered  Status = "Delivered"
	StatusCancelled  Status = "Cancelled"
)

// rank orders the forward-moving statuses. Cancelled is handled separately.
var rank = map[Status]int{
	StatusPending:    0,
	StatusPaid:       1,
	StatusProcessing: 2,
	StatusShipped:    3,
	StatusDelivered:  4,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := rank[s]
	return ok || s == StatusCancelled
}

// Terminal reports whether no further transitions are possible from s.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// CanTransition reports whether an order in status s may move to status to.
//
// Orders only move forward (skipping steps is allowed) and may be cancelled
// only while Pending.
func (s Status) CanTransition(to Status) bool {
	if !s.Valid() || !to.Valid() || s.Terminal() {
		return false
	}
	if to == StatusCancelled {
		return s == StatusPending
	}
	return rank[to] > rank[s]
}

// Item is a snapshot of one purchased product, frozen at placement time.
type Item struct {
	ProductID string
	Name      string
	UnitPrice decimal.Decimal
	Quantity  int
}

// LineTotal returns unit price times quantity.
func (i Item) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// ShippingAddress is where the order is delivered.
type ShippingAddress struct {
	Name       string
	Street     string
	City       string
	PostalCode string
	Country    string
}

// Order is a placed order. Everything except Status and UpdatedAt is
// immutable once persisted. Owner is the ID of the API key that placed it.
type Order struct {
	ID              string
	Items           []Item
	Subtotal        decimal.Decimal
	Discount        decimal.Decimal
	Shipping        decimal.Decimal
	Tax             decimal.Decimal
	Total           decimal.Decimal
	CouponCode      string
	Owner           string
	Status          Status
	ShippingAddress ShippingAddress
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Filter selects a page of orders, newest first.
type Filter struct {
	// Status restricts results when non-empty.
	Status   Status
	Page     int
	PageSize int
}

// Normalize clamps paging to sane bounds. Pages are 1-based.
func (f Filter) Normalize() Filter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = DefaultPageSize
	}
	if f.PageSize > MaxPageSize {
		f.PageSize = MaxPageSize
	}
	return f
}

// Offset returns the number of rows to skip.
func (f Filter) Offset() int {
	return (f.Page - 1) * f.PageSize
}

// Page is one page of a listing.
type Page struct {
	Orders   []Order
	Total    int
	Page     int
	PageSize int
}

// VisibleTo reports whether the API key keyID may read or cancel o.
// Administrators see every order.
func (o *Order) VisibleTo(keyID string, admin bool) bool {
	return admin || (o.Owner != "" && o.Owner == keyID)
}

// Repository defines persistence operations for orders.
type Repository interface {
	// Create persists o in a single transaction: it decrements stock for
	// every item, redeems the coupon when CouponCode is set and inserts the
	// order. It returns *InsufficientStockError or pricing.ErrCouponExhausted
	// when a concurrent order won the race.
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	List(ctx context.Context, f Filter) ([]Order, int, error)
	// UpdateStatus moves the order from one status to another. It returns
	// ErrConcurrentUpdate when the order is no longer in status from.
	UpdateStatus(ctx context.Context, id string, from, to Status) (*Order, error)
	// Cancel marks a Pending order Cancelled and restores stock in the same
	// transaction.
	Cancel(ctx context.Context, id string) (*Order, error)
}
