package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/shop-checkout/internal/domain/coupon"
)

func (h *Handler) listCoupons(w http.ResponseWriter, r *http.Request) {
	coupons, err := h.coupons.List(r.Context())
	if err != nil {
		mapError(w, r, errors.Wrap(err, "list coupons"))
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for i := range coupons {
			encodeCoupon(e, &coupons[i])
		}
		e.ArrEnd()
	})
}

func (h *Handler) createCoupon(w http.ResponseWriter, r *http.Request) {
	d, err := readBody(w, r)
	if err != nil {
		mapError(w, r, err)
		return
	}
	n, err := decodeNewCoupon(d)
	if err != nil {
		mapError(w, r, err)
		return
	}

	c, err := h.coupons.Create(r.Context(), n)
	if err != nil {
		mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeCoupon(e, c) })
}

func (h *Handler) setCouponActive(w http.ResponseWriter, r *http.Request) {
	d, err := readBody(w, r)
	if err != nil {
		mapError(w, r, err)
		return
	}
	var (
		active bool
		seen   bool
	)
	if err := decodeObject(d, func(d *jx.Decoder, key string) error {
		if key != "active" {
			return d.Skip()
		}
		seen = true
		var err error
		active, err = d.Bool()
		return err
	}); err != nil {
		mapError(w, r, err)
		return
	}
	if !seen {
		mapError(w, r, badRequest("active is required"))
		return
	}

	c, err := h.coupons.SetActive(r.Context(), coupon.NormalizeCode(chi.URLParam(r, "code")), active)
	if err != nil {
		mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeCoupon(e, c) })
}
