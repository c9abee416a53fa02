package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/shop-checkout/internal/domain/pricing"
	"github.com/xenking/shop-checkout/internal/domain/product"
)

// CouponLookup resolves a coupon code without checking eligibility.
type CouponLookup interface {
	Lookup(ctx context.Context, code string) (*pricing.Coupon, error)
}

// CartItem is a requested product and quantity.
type CartItem struct {
	ProductID string
	Quantity  int
}

// Cart is the input for pricing.
type Cart struct {
	Items      []CartItem
	CouponCode string
}

// QuoteLine is one priced cart line.
type QuoteLine struct {
	Product   product.Product
	Quantity  int
	LineTotal decimal.Decimal
}

// Quote is a priced cart. Pricing is rounded to two decimal places.
type Quote struct {
	Lines      []QuoteLine
	CouponCode string
	Pricing    pricing.Result
}

// PlaceRequest holds the input for placing an order. Owner is the ID of
// the placing API key.
type PlaceRequest struct {
	Cart            Cart
	ShippingAddress ShippingAddress
	Owner           string
}

// Option configures a Service.
type Option func(*Service)

// WithEvents sets the publisher used for order lifecycle events.
func WithEvents(p EventPublisher) Option {
	return func(s *Service) { s.events = p }
}

// WithMetrics sets the instruments the service records to.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// Service encapsulates order pricing, placement and lifecycle management.
type Service struct {
	products product.Repository
	coupons  CouponLookup
	orders   Repository
	calc     *pricing.Calculator
	events   EventPublisher
	metrics  *Metrics
	now      func() time.Time
	newID    func() string
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	products product.Repository,
	coupons CouponLookup,
	orders Repository,
	calc *pricing.Calculator,
	opts ...Option,
) *Service {
	s := &Service{
		products: products,
		coupons:  coupons,
		orders:   orders,
		calc:     calc,
		events:   noopPublisher{},
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = noopMetrics()
	}
	return s
}

// Quote prices a cart without side effects. Coupon usage is not consumed.
func (s *Service) Quote(ctx context.Context, cart Cart) (*Quote, error) {
	start := time.Now()
	defer func() { s.metrics.RecordQuote(ctx, time.Since(start)) }()

	q, _, err := s.price(ctx, cart)
	if err != nil {
		return nil, err
	}
	return q, nil
}

// Place validates the cart, prices it and persists the order. The stored
// totals are the rounded pricing result.
func (s *Service) Place(ctx context.Context, req PlaceRequest) (*Order, error) {
	if len(req.Cart.Items) == 0 {
		s.metrics.RecordOrder(ctx, OutcomeRejected)
		return nil, ErrEmptyItems
	}

	q, coupon, err := s.price(ctx, req.Cart)
	if err != nil {
		s.metrics.RecordOrder(ctx, outcome(err))
		return nil, err
	}

	now := s.now().UTC()
	o := &Order{
		ID:              s.newID(),
		Items:           make([]Item, len(q.Lines)),
		Subtotal:        q.Pricing.Subtotal,
		Discount:        q.Pricing.Discount,
		Shipping:        q.Pricing.Shipping,
		Tax:             q.Pricing.Tax,
		Total:           q.Pricing.Total,
		Owner:           req.Owner,
		Status:          StatusPending,
		ShippingAddress: req.ShippingAddress,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if coupon != nil {
		o.CouponCode = coupon.Code
	}
	for i, line := range q.Lines {
		o.Items[i] = Item{
			ProductID: line.Product.ID,
			Name:      line.Product.Name,
			UnitPrice: line.Product.Price,
			Quantity:  line.Quantity,
		}
	}

	if err := s.orders.Create(ctx, o); err != nil {
		if errors.Is(err, pricing.ErrCouponExhausted) {
			s.metrics.RecordCouponRejection(ctx, err)
		}
		s.metrics.RecordOrder(ctx, outcome(err))
		var stockErr *InsufficientStockError
		if errors.As(err, &stockErr) || errors.Is(err, pricing.ErrCouponExhausted) {
			return nil, err
		}
		return nil, errors.Wrap(err, "create order")
	}
	s.metrics.RecordOrder(ctx, OutcomePlaced)

	zctx.From(ctx).Info("Order placed",
		zap.String("order_id", o.ID),
		zap.String("total", o.Total.StringFixed(2)),
		zap.String("coupon", o.CouponCode),
	)
	s.publish(ctx, Event{Type: EventOrderCreated, Order: *o, OccurredAt: now})

	return o, nil
}

// Get returns the order with the given ID.
func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "get order %s", id)
	}
	return o, nil
}

// List returns a page of orders, newest first.
func (s *Service) List(ctx context.Context, f Filter) (*Page, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, &InvalidStatusError{Value: string(f.Status)}
	}
	f = f.Normalize()

	orders, total, err := s.orders.List(ctx, f)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return &Page{Orders: orders, Total: total, Page: f.Page, PageSize: f.PageSize}, nil
}

// UpdateStatus moves an order to a new status. Moving to Cancelled is the
// same as calling Cancel.
func (s *Service) UpdateStatus(ctx context.Context, id string, to Status) (*Order, error) {
	if !to.Valid() {
		return nil, &InvalidStatusError{Value: string(to)}
	}
	if to == StatusCancelled {
		return s.Cancel(ctx, id)
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.Status.CanTransition(to) {
		return nil, &InvalidTransitionError{From: current.Status, To: to}
	}

	updated, err := s.orders.UpdateStatus(ctx, id, current.Status, to)
	if err != nil {
		if errors.Is(err, ErrConcurrentUpdate) {
			return nil, ErrConcurrentUpdate
		}
		return nil, errors.Wrapf(err, "update order %s status", id)
	}

	zctx.From(ctx).Info("Order status changed",
		zap.String("order_id", id),
		zap.String("from", string(current.Status)),
		zap.String("to", string(to)),
	)
	s.publish(ctx, Event{
		Type:           EventOrderStatusChanged,
		Order:          *updated,
		PreviousStatus: current.Status,
		OccurredAt:     s.now().UTC(),
	})
	return updated, nil
}

// Cancel cancels a Pending order and returns its items to stock. Coupon
// usage is not restored.
func (s *Service) Cancel(ctx context.Context, id string) (*Order, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.Status.CanTransition(StatusCancelled) {
		return nil, &InvalidTransitionError{From: current.Status, To: StatusCancelled}
	}

	cancelled, err := s.orders.Cancel(ctx, id)
	if err != nil {
		if errors.Is(err, ErrConcurrentUpdate) {
			return nil, ErrConcurrentUpdate
		}
		return nil, errors.Wrapf(err, "cancel order %s", id)
	}

	zctx.From(ctx).Info("Order cancelled", zap.String("order_id", id))
	s.publish(ctx, Event{
		Type:           EventOrderCancelled,
		Order:          *cancelled,
		PreviousStatus: current.Status,
		OccurredAt:     s.now().UTC(),
	})
	return cancelled, nil
}

// price resolves the cart against the catalog and prices it. It returns the
// rounded quote and the coupon that was applied, if any.
func (s *Service) price(ctx context.Context, cart Cart) (*Quote, *pricing.Coupon, error) {
	items, err := mergeItems(cart.Items)
	if err != nil {
		return nil, nil, err
	}

	products, err := s.resolveProducts(ctx, items)
	if err != nil {
		return nil, nil, err
	}

	lines := make([]pricing.LineItem, len(items))
	quote := &Quote{Lines: make([]QuoteLine, len(items))}
	for i, item := range items {
		p := products[i]
		if !p.InStock(item.Quantity) {
			return nil, nil, &InsufficientStockError{
				ProductID: p.ID,
				Requested: item.Quantity,
				Available: p.Stock,
			}
		}
		lines[i] = pricing.LineItem{
			ProductID:      p.ID,
			UnitPrice:      p.Price,
			Quantity:       item.Quantity,
			StockAvailable: p.Stock,
		}
		quote.Lines[i] = QuoteLine{
			Product:   p,
			Quantity:  item.Quantity,
			LineTotal: p.Price.Mul(decimal.NewFromInt(int64(item.Quantity))),
		}
	}

	var coupon *pricing.Coupon
	if cart.CouponCode != "" {
		coupon, err = s.coupons.Lookup(ctx, cart.CouponCode)
		if err != nil {
			if pricing.IsCouponError(err) {
				s.metrics.RecordCouponRejection(ctx, err)
			}
			return nil, nil, err
		}
	}

	result, err := s.calc.Total(lines, coupon, s.now())
	if err != nil {
		if pricing.IsCouponError(err) {
			s.metrics.RecordCouponRejection(ctx, err)
		}
		return nil, nil, err
	}

	quote.Pricing = result.Rounded()
	if coupon != nil {
		quote.CouponCode = coupon.Code
	}
	return quote, coupon, nil
}

// resolveProducts fetches all products in one batch and returns them in
// item order.
func (s *Service) resolveProducts(ctx context.Context, items []CartItem) ([]product.Product, error) {
	if len(items) == 0 {
		return nil, nil
	}

	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ProductID
	}

	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}

	byID := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		byID[p.ID] = p
	}

	products := make([]product.Product, len(items))
	for i, item := range items {
		p, ok := byID[item.ProductID]
		if !ok {
			return nil, &ProductNotFoundError{ProductID: item.ProductID}
		}
		products[i] = p
	}
	return products, nil
}

func (s *Service) publish(ctx context.Context, e Event) {
	if err := s.events.Publish(ctx, e); err != nil {
		zctx.From(ctx).Warn("Publish order event",
			zap.String("event", string(e.Type)),
			zap.String("order_id", e.Order.ID),
			zap.Error(err),
		)
	}
}

// mergeItems validates quantities and folds repeated products into one line,
// keeping first-seen order.
func mergeItems(in []CartItem) ([]CartItem, error) {
	out := make([]CartItem, 0, len(in))
	index := make(map[string]int, len(in))
	for i, item := range in {
		if item.ProductID == "" {
			return nil, &pricing.ValidationError{Index: i, Reason: "product id required"}
		}
		if item.Quantity <= 0 {
			return nil, &pricing.ValidationError{Index: i, ProductID: item.ProductID, Reason: "quantity must be greater than 0"}
		}
		if j, ok := index[item.ProductID]; ok {
			out[j].Quantity += item.Quantity
			continue
		}
		index[item.ProductID] = len(out)
		out = append(out, item)
	}
	return out, nil
}

// outcome classifies a placement error for metrics.
func outcome(err error) string {
	var (
		vErr     *pricing.ValidationError
		pnfErr   *ProductNotFoundError
		stockErr *InsufficientStockError
	)
	switch {
	case pricing.IsCouponError(err),
		errors.Is(err, ErrEmptyItems),
		errors.As(err, &vErr),
		errors.As(err, &pnfErr),
		errors.As(err, &stockErr):
		return OutcomeRejected
	default:
		return OutcomeFailed
	}
}
