package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/shop-checkout/internal/domain/auth"
	"github.com/xenking/shop-checkout/internal/domain/coupon"
	"github.com/xenking/shop-checkout/internal/domain/order"
	"github.com/xenking/shop-checkout/internal/domain/pricing"
	"github.com/xenking/shop-checkout/internal/domain/product"
)

// BadRequestError reports a request body or parameter that could not be
// decoded.
type BadRequestError struct {
	Reason string
}

func (e *BadRequestError) Error() string {
	return "bad request: " + e.Reason
}

func badRequest(reason string) error {
	return &BadRequestError{Reason: reason}
}

// statusFor maps a domain error to an HTTP status. Zero means the error is
// not a known client error.
func statusFor(err error) int {
	var (
		badReq     *BadRequestError
		validation *pricing.ValidationError
		minOrder   *pricing.MinimumOrderError
		invCoupon  *coupon.InvalidError
		invStatus  *order.InvalidStatusError
		noProduct  *order.ProductNotFoundError
		stock      *order.InsufficientStockError
		transition *order.InvalidTransitionError
	)
	switch {
	case errors.As(err, &badReq),
		errors.As(err, &validation),
		errors.As(err, &invCoupon),
		errors.As(err, &invStatus),
		errors.Is(err, order.ErrEmptyItems):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, product.ErrNotFound),
		errors.Is(err, pricing.ErrCouponNotFound):
		return http.StatusNotFound
	case errors.Is(err, pricing.ErrCouponExhausted),
		errors.Is(err, coupon.ErrDuplicateCode),
		errors.Is(err, order.ErrConcurrentUpdate),
		errors.As(err, &stock),
		errors.As(err, &transition):
		return http.StatusConflict
	case errors.Is(err, pricing.ErrCouponExpired),
		errors.As(err, &minOrder),
		errors.As(err, &noProduct):
		return http.StatusUnprocessableEntity
	}
	return 0
}

// mapError writes err as an API error. Unknown errors are logged and
// reported as a generic 500.
func mapError(w http.ResponseWriter, r *http.Request, err error) {
	if status := statusFor(err); status != 0 {
		writeError(w, status, err.Error())
		return
	}
	zctx.From(r.Context()).Error("Request failed",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("code")
		e.Int(status)
		e.FieldStart("message")
		e.Str(message)
		e.ObjEnd()
	})
}

func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	var e jx.Encoder
	encode(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
