// Package handler exposes the checkout API over HTTP.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/shop-checkout/internal/domain/auth"
	"github.com/xenking/shop-checkout/internal/domain/coupon"
	"github.com/xenking/shop-checkout/internal/domain/order"
	"github.com/xenking/shop-checkout/internal/domain/pricing"
	"github.com/xenking/shop-checkout/internal/domain/product"
)

// OrderService is implemented by *order.Service.
type OrderService interface {
	Quote(ctx context.Context, cart order.Cart) (*order.Quote, error)
	Place(ctx context.Context, req order.PlaceRequest) (*order.Order, error)
	Get(ctx context.Context, id string) (*order.Order, error)
	List(ctx context.Context, f order.Filter) (*order.Page, error)
	UpdateStatus(ctx context.Context, id string, to order.Status) (*order.Order, error)
	Cancel(ctx context.Context, id string) (*order.Order, error)
}

// CouponService is implemented by *coupon.Service.
type CouponService interface {
	Check(ctx context.Context, code string, amount decimal.Decimal) (*pricing.Coupon, error)
	List(ctx context.Context) ([]pricing.Coupon, error)
	Create(ctx context.Context, n coupon.NewCoupon) (*pricing.Coupon, error)
	SetActive(ctx context.Context, code string, active bool) (*pricing.Coupon, error)
}

// Authenticator is implemented by *auth.Authenticator.
type Authenticator interface {
	Authenticate(ctx context.Context, key string) (*auth.APIKeyInfo, error)
}

var (
	_ OrderService  = (*order.Service)(nil)
	_ CouponService = (*coupon.Service)(nil)
	_ Authenticator = (*auth.Authenticator)(nil)
)

// Config holds non-dependency settings.
type Config struct {
	// ImageBaseURL is prepended to relative image paths in product responses.
	ImageBaseURL string
}

// Handler serves the /api routes.
type Handler struct {
	products     product.Repository
	orders       OrderService
	coupons      CouponService
	auth         Authenticator
	imageBaseURL string
}

// New returns a Handler.
func New(
	cfg Config,
	products product.Repository,
	orders OrderService,
	coupons CouponService,
	authenticator Authenticator,
) *Handler {
	return &Handler{
		products:     products,
		orders:       orders,
		coupons:      coupons,
		auth:         authenticator,
		imageBaseURL: cfg.ImageBaseURL,
	}
}

// Routes returns the API router. Paths include the /api prefix.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/products", h.listProducts)
		r.Get("/products/{id}", h.getProduct)

		r.Post("/cart/quote", h.quoteCart)

		r.Route("/orders", func(r chi.Router) {
			r.With(h.requireScope(auth.ScopeCreateOrder)).Post("/", h.placeOrder)
			r.With(h.requireScope(auth.ScopeAdmin)).Get("/", h.listOrders)
			r.With(h.requireScope(auth.ScopeCreateOrder)).Get("/{id}", h.getOrder)
			r.With(h.requireScope(auth.ScopeCreateOrder)).Post("/{id}/cancel", h.cancelOrder)
			r.With(h.requireScope(auth.ScopeAdmin)).Patch("/{id}/status", h.updateOrderStatus)
		})

		r.Route("/coupons", func(r chi.Router) {
			r.Post("/apply", h.applyCoupon)
			r.Group(func(r chi.Router) {
				r.Use(h.requireScope(auth.ScopeAdmin))
				r.Get("/", h.listCoupons)
				r.Post("/", h.createCoupon)
				r.Patch("/{code}", h.setCouponActive)
			})
		})
	})
	return r
}
