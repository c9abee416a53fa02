package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/shop-checkout/internal/domain/auth"
	"github.com/xenking/shop-checkout/internal/domain/order"
)

func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request) {
	d, err := readBody(w, r)
	if err != nil {
		mapError(w, r, err)
		return
	}

	var address order.ShippingAddress
	cart, err := decodeCart(d, func(d *jx.Decoder, key string) (bool, error) {
		if key != "shippingAddress" {
			return false, nil
		}
		var err error
		address, err = decodeAddress(d)
		return true, err
	})
	if err != nil {
		mapError(w, r, err)
		return
	}

	req := order.PlaceRequest{Cart: cart, ShippingAddress: address}
	if key, ok := auth.FromContext(r.Context()); ok {
		req.Owner = key.ID
	}
	o, err := h.orders.Place(r.Context(), req)
	if err != nil {
		mapError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/orders/"+o.ID)
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeOrder(e, o) })
}

// visibleOrder loads the order named in the path. Orders the caller may not
// see are reported as missing.
func (h *Handler) visibleOrder(r *http.Request) (*order.Order, error) {
	o, err := h.orders.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return nil, err
	}
	key, ok := auth.FromContext(r.Context())
	if !ok || !o.VisibleTo(key.ID, key.HasScope(auth.ScopeAdmin)) {
		return nil, order.ErrNotFound
	}
	return o, nil
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.visibleOrder(r)
	if err != nil {
		mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f order.Filter
	if s := q.Get("status"); s != "" {
		status, err := order.ParseStatus(s)
		if err != nil {
			mapError(w, r, err)
			return
		}
		f.Status = status
	}
	var err error
	if f.Page, err = intParam(q.Get("page")); err != nil {
		mapError(w, r, badRequest("page must be an integer"))
		return
	}
	if f.PageSize, err = intParam(q.Get("pageSize")); err != nil {
		mapError(w, r, badRequest("pageSize must be an integer"))
		return
	}

	page, err := h.orders.List(r.Context(), f)
	if err != nil {
		mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("orders")
		e.ArrStart()
		for i := range page.Orders {
			encodeOrder(e, &page.Orders[i])
		}
		e.ArrEnd()
		e.FieldStart("total")
		e.Int(page.Total)
		e.FieldStart("page")
		e.Int(page.Page)
		e.FieldStart("pageSize")
		e.Int(page.PageSize)
		e.ObjEnd()
	})
}

func (h *Handler) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	d, err := readBody(w, r)
	if err != nil {
		mapError(w, r, err)
		return
	}
	var raw string
	if err := decodeObject(d, func(d *jx.Decoder, key string) error {
		if key != "status" {
			return d.Skip()
		}
		var err error
		raw, err = d.Str()
		return err
	}); err != nil {
		mapError(w, r, err)
		return
	}
	status, err := order.ParseStatus(raw)
	if err != nil {
		mapError(w, r, err)
		return
	}

	o, err := h.orders.UpdateStatus(r.Context(), chi.URLParam(r, "id"), status)
	if err != nil {
		mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	current, err := h.visibleOrder(r)
	if err != nil {
		mapError(w, r, err)
		return
	}
	o, err := h.orders.Cancel(r.Context(), current.ID)
	if err != nil {
		mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

// intParam parses an optional integer query parameter. Empty means zero.
func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}
