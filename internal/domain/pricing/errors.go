package pricing

import (
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrCouponNotFound is returned when a coupon does not exist or is inactive.
	ErrCouponNotFound = errors.New("coupon not found")
	// ErrCouponExpired is returned when the current time is outside the
	// coupon's validity window.
	ErrCouponExpired = errors.New("coupon expired")
	// ErrCouponExhausted is returned when a coupon has used up its usage limit.
	ErrCouponExhausted = errors.New("coupon usage limit reached")
)

// ValidationError reports a malformed line item.
type ValidationError struct {
	Index     int
	ProductID string
	Reason    string
}

func (e *ValidationError) Error() string {
	if e.ProductID != "" {
		return fmt.Sprintf("invalid line item %d (%s): %s", e.Index, e.ProductID, e.Reason)
	}
	return fmt.Sprintf("invalid line item %d: %s", e.Index, e.Reason)
}

// MinimumOrderError is returned when the order amount is below the coupon's
// minimum order value.
type MinimumOrderError struct {
	Code     string
	Required decimal.Decimal
	Actual   decimal.Decimal
}

func (e *MinimumOrderError) Error() string {
	return fmt.Sprintf("minimum order value of %s required for coupon %s", e.Required.StringFixed(2), e.Code)
}

// IsCouponError reports whether err is one of the coupon eligibility errors.
func IsCouponError(err error) bool {
	var minErr *MinimumOrderError
	return errors.Is(err, ErrCouponNotFound) ||
		errors.Is(err, ErrCouponExpired) ||
		errors.Is(err, ErrCouponExhausted) ||
		errors.As(err, &minErr)
}
