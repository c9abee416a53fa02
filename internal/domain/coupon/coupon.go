// Package coupon manages discount codes: lookup and eligibility checks for
// shoppers, creation and activation for administrators.
package coupon

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/shop-checkout/internal/domain/pricing"
)

var (
	// ErrNotFound is returned by a Repository when no coupon has the code.
	// It aliases pricing.ErrCouponNotFound.
	ErrNotFound = pricing.ErrCouponNotFound
	// ErrDuplicateCode is returned when creating a coupon whose code is
	// already taken (case-insensitively).
	ErrDuplicateCode = errors.New("coupon code already exists")
)

// InvalidError reports a coupon definition that breaks a creation rule.
type InvalidError struct {
	Field  string
	Reason string
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("invalid coupon %s: %s", e.Field, e.Reason)
}

// NormalizeCode returns the canonical, upper-cased form of a coupon code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// NewCoupon is the input for creating a coupon.
type NewCoupon struct {
	Code          string
	DiscountType  pricing.DiscountType
	DiscountValue decimal.Decimal
	MinOrderValue decimal.Decimal
	MaxDiscount   decimal.NullDecimal
	ValidFrom     *time.Time
	ValidUntil    *time.Time
	UsageLimit    *int
	Active        bool
}

// maxAmount bounds monetary fields to what a NUMERIC(12, 2) column holds.
var maxAmount = decimal.New(1, 10)

// checkAmount reports why v cannot be stored as an amount, or "".
func checkAmount(v decimal.Decimal) string {
	switch {
	case !v.Equal(v.Truncate(2)):
		return "must have at most 2 decimal places"
	case v.Abs().GreaterThanOrEqual(maxAmount):
		return "must be less than 10000000000"
	}
	return ""
}

// Validate checks the definition against the creation rules.
func (n NewCoupon) Validate() error {
	if reason := checkAmount(n.DiscountValue); reason != "" {
		return &InvalidError{Field: "discountValue", Reason: reason}
	}
	if reason := checkAmount(n.MinOrderValue); reason != "" {
		return &InvalidError{Field: "minOrderValue", Reason: reason}
	}
	if n.MaxDiscount.Valid {
		if reason := checkAmount(n.MaxDiscount.Decimal); reason != "" {
			return &InvalidError{Field: "maxDiscount", Reason: reason}
		}
	}

	switch {
	case NormalizeCode(n.Code) == "":
		return &InvalidError{Field: "code", Reason: "must not be empty"}
	case !n.DiscountType.Valid():
		return &InvalidError{Field: "discountType", Reason: fmt.Sprintf("unknown type %q", n.DiscountType)}
	case n.DiscountValue.IsNegative():
		return &InvalidError{Field: "discountValue", Reason: "must not be negative"}
	case n.DiscountType == pricing.DiscountPercentage && n.DiscountValue.GreaterThan(decimal.NewFromInt(100)):
		return &InvalidError{Field: "discountValue", Reason: "percentage must not exceed 100"}
	case n.MinOrderValue.IsNegative():
		return &InvalidError{Field: "minOrderValue", Reason: "must not be negative"}
	case n.MaxDiscount.Valid && n.MaxDiscount.Decimal.IsNegative():
		return &InvalidError{Field: "maxDiscount", Reason: "must not be negative"}
	case n.ValidFrom != nil && n.ValidUntil != nil && n.ValidFrom.After(*n.ValidUntil):
		return &InvalidError{Field: "validUntil", Reason: "must not be before validFrom"}
	case n.UsageLimit != nil && *n.UsageLimit < 0:
		return &InvalidError{Field: "usageLimit", Reason: "must not be negative"}
	}
	return nil
}

// Coupon converts the definition into a fresh coupon with zero usage.
func (n NewCoupon) Coupon() pricing.Coupon {
	return pricing.Coupon{
		Code:          NormalizeCode(n.Code),
		DiscountType:  n.DiscountType,
		DiscountValue: n.DiscountValue,
		MinOrderValue: n.MinOrderValue,
		MaxDiscount:   n.MaxDiscount,
		ValidFrom:     n.ValidFrom,
		ValidUntil:    n.ValidUntil,
		UsageLimit:    n.UsageLimit,
		Active:        n.Active,
	}
}

// Repository provides lookup and mutation of coupons. Codes are matched
// case-insensitively.
type Repository interface {
	// FindByCode returns the coupon regardless of its active flag, or
	// ErrNotFound.
	FindByCode(ctx context.Context, code string) (*pricing.Coupon, error)
	List(ctx context.Context) ([]pricing.Coupon, error)
	// Create stores c, returning ErrDuplicateCode when the code is taken.
	Create(ctx context.Context, c *pricing.Coupon) error
	SetActive(ctx context.Context, code string, active bool) error
}
