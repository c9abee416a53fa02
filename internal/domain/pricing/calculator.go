package pricing

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Rules holds the jurisdiction constants used for shipping and tax.
type Rules struct {
	// FreeShippingThreshold is the post-discount subtotal that must be
	// strictly exceeded for free shipping.
	FreeShippingThreshold decimal.Decimal
	FlatShippingFee       decimal.Decimal
	// TaxRate is a fraction, e.g. 0.18 for 18%.
	TaxRate decimal.Decimal
}

// DefaultRules returns the storefront defaults: free shipping above 500,
// otherwise a flat 50, and 18% tax on the post-discount subtotal.
func DefaultRules() Rules {
	return Rules{
		FreeShippingThreshold: decimal.NewFromInt(500),
		FlatShippingFee:       decimal.NewFromInt(50),
		TaxRate:               decimal.RequireFromString("0.18"),
	}
}

// Validate checks that all constants are non-negative.
func (r Rules) Validate() error {
	switch {
	case r.FreeShippingThreshold.IsNegative():
		return errors.New("free shipping threshold must not be negative")
	case r.FlatShippingFee.IsNegative():
		return errors.New("flat shipping fee must not be negative")
	case r.TaxRate.IsNegative():
		return errors.New("tax rate must not be negative")
	}
	return nil
}

// Shipping returns the shipping fee for the given post-discount subtotal.
func (r Rules) Shipping(afterDiscount decimal.Decimal) decimal.Decimal {
	if afterDiscount.GreaterThan(r.FreeShippingThreshold) {
		return decimal.Zero
	}
	return r.FlatShippingFee
}

// Tax returns the unrounded tax on the given post-discount subtotal.
func (r Rules) Tax(afterDiscount decimal.Decimal) decimal.Decimal {
	return afterDiscount.Mul(r.TaxRate)
}

// Subtotal returns the sum of unit price times quantity across all items.
func Subtotal(items []LineItem) (decimal.Decimal, error) {
	sum := decimal.Zero
	for i, item := range items {
		if item.UnitPrice.IsNegative() {
			return decimal.Zero, &ValidationError{Index: i, ProductID: item.ProductID, Reason: "unit price must not be negative"}
		}
		if item.Quantity <= 0 {
			return decimal.Zero, &ValidationError{Index: i, ProductID: item.ProductID, Reason: "quantity must be greater than 0"}
		}
		sum = sum.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return sum, nil
}

// ValidateCoupon checks that c may be applied to an order of orderAmount at
// time now. Checks run in a fixed order and stop at the first failure:
// existence, validity window, minimum order value, usage limit.
//
// The coupon is returned unchanged; usage is counted only when an order is
// persisted.
func ValidateCoupon(c *Coupon, orderAmount decimal.Decimal, now time.Time) (*Coupon, error) {
	if c == nil || !c.Active {
		return nil, ErrCouponNotFound
	}
	if c.ValidFrom != nil && now.Before(*c.ValidFrom) {
		return nil, ErrCouponExpired
	}
	if c.ValidUntil != nil && now.After(*c.ValidUntil) {
		return nil, ErrCouponExpired
	}
	if orderAmount.LessThan(c.MinOrderValue) {
		return nil, &MinimumOrderError{Code: c.Code, Required: c.MinOrderValue, Actual: orderAmount}
	}
	if c.UsageLimit != nil && c.UsageCount >= *c.UsageLimit {
		return nil, ErrCouponExhausted
	}
	return c, nil
}

// Discount returns the amount coupon c takes off subtotal. The result is
// always within [0, subtotal].
func Discount(c *Coupon, subtotal decimal.Decimal) (decimal.Decimal, error) {
	var amount decimal.Decimal
	switch c.DiscountType {
	case DiscountFixed:
		amount = c.DiscountValue
	case DiscountPercentage:
		amount = subtotal.Mul(c.DiscountValue).Div(hundred)
		if c.MaxDiscount.Valid && amount.GreaterThan(c.MaxDiscount.Decimal) {
			amount = c.MaxDiscount.Decimal
		}
	default:
		return decimal.Zero, errors.Errorf("unsupported discount type: %q", c.DiscountType)
	}
	return clamp(amount, subtotal), nil
}

// Calculator prices carts under a fixed set of Rules. The zero value is not
// usable; construct with NewCalculator.
type Calculator struct {
	rules Rules
}

// NewCalculator returns a Calculator using the given rules.
func NewCalculator(rules Rules) *Calculator {
	return &Calculator{rules: rules}
}

// Rules returns the rules the calculator was built with.
func (c *Calculator) Rules() Rules {
	return c.rules
}

// Total prices items with an optional coupon at time now. The coupon is
// validated against the subtotal before any discount is taken.
func (c *Calculator) Total(items []LineItem, coupon *Coupon, now time.Time) (Result, error) {
	subtotal, err := Subtotal(items)
	if err != nil {
		return Result{}, err
	}

	discount := decimal.Zero
	if coupon != nil {
		valid, err := ValidateCoupon(coupon, subtotal, now)
		if err != nil {
			return Result{}, err
		}
		if discount, err = Discount(valid, subtotal); err != nil {
			return Result{}, err
		}
	}

	afterDiscount := subtotal.Sub(discount)
	shipping := c.rules.Shipping(afterDiscount)
	tax := c.rules.Tax(afterDiscount)

	return Result{
		Subtotal: subtotal,
		Discount: discount,
		Shipping: shipping,
		Tax:      tax,
		Total:    afterDiscount.Add(shipping).Add(tax),
	}, nil
}

// clamp bounds d to [0, upper].
func clamp(d, upper decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	if d.GreaterThan(upper) {
		return upper
	}
	return d
}
