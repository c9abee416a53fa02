package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/shop-checkout/internal/domain/coupon"
)

// quoteCart prices a cart without placing an order.
func (h *Handler) quoteCart(w http.ResponseWriter, r *http.Request) {
	d, err := readBody(w, r)
	if err != nil {
		mapError(w, r, err)
		return
	}
	cart, err := decodeCart(d, nil)
	if err != nil {
		mapError(w, r, err)
		return
	}

	q, err := h.orders.Quote(r.Context(), cart)
	if err != nil {
		mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeQuote(e, q) })
}

// applyCoupon checks a coupon against the cart subtotal and returns the
// discounted quote. Unlike quoteCart a coupon code is mandatory.
func (h *Handler) applyCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	d, err := readBody(w, r)
	if err != nil {
		mapError(w, r, err)
		return
	}
	cart, err := decodeCart(d, nil)
	if err != nil {
		mapError(w, r, err)
		return
	}
	code := coupon.NormalizeCode(cart.CouponCode)
	if code == "" {
		mapError(w, r, badRequest("code is required"))
		return
	}

	cart.CouponCode = ""
	base, err := h.orders.Quote(ctx, cart)
	if err != nil {
		mapError(w, r, err)
		return
	}
	if _, err := h.coupons.Check(ctx, code, base.Pricing.Subtotal); err != nil {
		mapError(w, r, err)
		return
	}

	cart.CouponCode = code
	q, err := h.orders.Quote(ctx, cart)
	if err != nil {
		mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeQuote(e, q) })
}
