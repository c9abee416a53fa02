// Package pricing turns a cart and an optional coupon into a price breakdown.
//
// Every function here is pure: no I/O, no shared state, and the current time is
// always passed in. Amounts are kept unrounded internally and rounded only by
// Result.Rounded at the display/persistence boundary.
package pricing

import (
	"time"

	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountPercentage takes a percentage of the subtotal, optionally capped.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed takes a fixed amount, never more than the subtotal.
	DiscountFixed DiscountType = "fixed"
)

// Valid reports whether t is a known discount type.
func (t DiscountType) Valid() bool {
	switch t {
	case DiscountPercentage, DiscountFixed:
		return true
	default:
		return false
	}
}

// LineItem is one catalog entry with quantity in a cart.
//
// StockAvailable is informational for the calculator: quantity <= stock is
// enforced by the order placement flow, not here.
type LineItem struct {
	ProductID      string
	UnitPrice      decimal.Decimal
	Quantity       int
	StockAvailable int
}

// Coupon is a discount code with its eligibility rules, as persisted.
type Coupon struct {
	Code          string
	DiscountType  DiscountType
	DiscountValue decimal.Decimal
	MinOrderValue decimal.Decimal
	// MaxDiscount caps percentage discounts. Ignored for fixed coupons.
	MaxDiscount decimal.NullDecimal
	// ValidFrom and ValidUntil bound the validity window, both inclusive.
	// A nil bound leaves that side open.
	ValidFrom  *time.Time
	ValidUntil *time.Time
	// UsageLimit is nil for unlimited coupons.
	UsageLimit *int
	UsageCount int
	Active     bool
}

// Result is the price breakdown of a cart.
//
// Total = Subtotal - Discount + Shipping + Tax.
type Result struct {
	Subtotal decimal.Decimal
	Discount decimal.Decimal
	Shipping decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
}

// Rounded returns the breakdown rounded to two decimal places.
//
// Components are rounded individually and Total is recomputed from the
// rounded components, so the displayed figures always add up.
func (r Result) Rounded() Result {
	out := Result{
		Subtotal: r.Subtotal.Round(2),
		Discount: r.Discount.Round(2),
		Shipping: r.Shipping.Round(2),
		Tax:      r.Tax.Round(2),
	}
	out.Total = out.Subtotal.Sub(out.Discount).Add(out.Shipping).Add(out.Tax)
	return out
}

// AfterDiscount returns Subtotal - Discount.
func (r Result) AfterDiscount() decimal.Decimal {
	return r.Subtotal.Sub(r.Discount)
}
