package order

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/shop-checkout/internal/domain/pricing"
	"github.com/xenking/shop-checkout/internal/domain/product"
)

// --- Mock implementations ---

type mockProductRepo struct {
	byID   map[string]product.Product
	getErr error
}

func (m *mockProductRepo) List(_ context.Context) ([]product.Product, error) {
	out := make([]product.Product, 0, len(m.byID))
	for _, p := range m.byID {
		out = append(out, p)
	}
	return out, nil
}

func (m *mockProductRepo) GetByID(_ context.Context, id string) (*product.Product, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	p, ok := m.byID[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

func (m *mockProductRepo) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	var out []product.Product
	for _, id := range ids {
		if p, ok := m.byID[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

type mockCoupons struct {
	byCode map[string]*pricing.Coupon
	err    error
}

func (m *mockCoupons) Lookup(_ context.Context, code string) (*pricing.Coupon, error) {
	if m.err != nil {
		return nil, m.err
	}
	c, ok := m.byCode[code]
	if !ok {
		return nil, pricing.ErrCouponNotFound
	}
	return c, nil
}

type mockOrderRepo struct {
	orders    map[string]*Order
	lastOrder *Order
	createErr error
	updateErr error
	cancelled []string
}

func newOrderRepo(orders ...Order) *mockOrderRepo {
	m := &mockOrderRepo{orders: make(map[string]*Order)}
	for i := range orders {
		m.orders[orders[i].ID] = &orders[i]
	}
	return m
}

func (m *mockOrderRepo) Create(_ context.Context, o *Order) error {
	m.lastOrder = o
	if m.createErr != nil {
		return m.createErr
	}
	m.orders[o.ID] = o
	return nil
}

func (m *mockOrderRepo) Get(_ context.Context, id string) (*Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *mockOrderRepo) List(_ context.Context, f Filter) ([]Order, int, error) {
	var out []Order
	for _, o := range m.orders {
		if f.Status == "" || o.Status == f.Status {
			out = append(out, *o)
		}
	}
	return out, len(out), nil
}

func (m *mockOrderRepo) UpdateStatus(_ context.Context, id string, from, to Status) (*Order, error) {
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	o := m.orders[id]
	if o.Status != from {
		return nil, ErrConcurrentUpdate
	}
	o.Status = to
	cp := *o
	return &cp, nil
}

func (m *mockOrderRepo) Cancel(_ context.Context, id string) (*Order, error) {
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	o := m.orders[id]
	o.Status = StatusCancelled
	m.cancelled = append(m.cancelled, id)
	cp := *o
	return &cp, nil
}

type mockPublisher struct {
	events []Event
	err    error
}

func (m *mockPublisher) Publish(_ context.Context, e Event) error {
	m.events = append(m.events, e)
	return m.err
}

// --- Helpers ---

var fixedNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func newTestProduct(id, name, price string, stock int) product.Product {
	return product.Product{
		ID:       id,
		Name:     name,
		Price:    d(price),
		Category: "test",
		Stock:    stock,
		Image: product.Image{
			Thumbnail: "thumb.jpg",
			Mobile:    "mobile.jpg",
			Tablet:    "tablet.jpg",
			Desktop:   "desktop.jpg",
		},
	}
}

func newProductRepo(products ...product.Product) *mockProductRepo {
	byID := make(map[string]product.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	return &mockProductRepo{byID: byID}
}

func newCoupons(coupons ...pricing.Coupon) *mockCoupons {
	m := &mockCoupons{byCode: make(map[string]*pricing.Coupon)}
	for i := range coupons {
		m.byCode[coupons[i].Code] = &coupons[i]
	}
	return m
}

type fixture struct {
	svc      *Service
	products *mockProductRepo
	coupons  *mockCoupons
	orders   *mockOrderRepo
	events   *mockPublisher
}

func newFixture(products *mockProductRepo, coupons *mockCoupons, orders *mockOrderRepo) *fixture {
	events := &mockPublisher{}
	svc := NewService(products, coupons, orders, pricing.NewCalculator(pricing.DefaultRules()), WithEvents(events))
	svc.now = func() time.Time { return fixedNow }
	svc.newID = func() string { return "order-1" }
	return &fixture{svc: svc, products: products, coupons: coupons, orders: orders, events: events}
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, d(want).Equal(got), "expected %s, got %s", want, got)
}

// --- Tests ---

func TestQuote(t *testing.T) {
	f := newFixture(
		newProductRepo(
			newTestProduct("p1", "Widget", "250", 10),
			newTestProduct("p2", "Gadget", "100", 10),
		),
		newCoupons(pricing.Coupon{
			Code:          "TWENTY",
			DiscountType:  pricing.DiscountPercentage,
			DiscountValue: d("20"),
			MaxDiscount:   decimal.NewNullDecimal(d("150")),
			Active:        true,
		}),
		newOrderRepo(),
	)

	q, err := f.svc.Quote(context.Background(), Cart{
		Items:      []CartItem{{ProductID: "p1", Quantity: 4}},
		CouponCode: "TWENTY",
	})
	require.NoError(t, err)

	assertDecimal(t, "1000", q.Pricing.Subtotal)
	assertDecimal(t, "150", q.Pricing.Discount)
	assertDecimal(t, "0", q.Pricing.Shipping)
	assertDecimal(t, "153", q.Pricing.Tax)
	assertDecimal(t, "1003", q.Pricing.Total)
	assert.Equal(t, "TWENTY", q.CouponCode)
	require.Len(t, q.Lines, 1)
	assertDecimal(t, "1000", q.Lines[0].LineTotal)

	assert.Nil(t, f.orders.lastOrder)
	assert.Empty(t, f.events.events)
}

func TestQuote_MergesRepeatedProducts(t *testing.T) {
	f := newFixture(newProductRepo(newTestProduct("p1", "Widget", "100", 3)), newCoupons(), newOrderRepo())

	q, err := f.svc.Quote(context.Background(), Cart{Items: []CartItem{
		{ProductID: "p1", Quantity: 1},
		{ProductID: "p1", Quantity: 2},
	}})
	require.NoError(t, err)
	require.Len(t, q.Lines, 1)
	assert.Equal(t, 3, q.Lines[0].Quantity)

	_, err = f.svc.Quote(context.Background(), Cart{Items: []CartItem{
		{ProductID: "p1", Quantity: 2},
		{ProductID: "p1", Quantity: 2},
	}})
	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 4, stockErr.Requested)
}

func TestQuote_EmptyCart(t *testing.T) {
	f := newFixture(newProductRepo(), newCoupons(), newOrderRepo())

	q, err := f.svc.Quote(context.Background(), Cart{})
	require.NoError(t, err)
	assertDecimal(t, "0", q.Pricing.Subtotal)
	assertDecimal(t, "50", q.Pricing.Shipping)
	assertDecimal(t, "50", q.Pricing.Total)
}

func TestPlace_Errors(t *testing.T) {
	expired := fixedNow.Add(-time.Hour)
	limit := 1

	products := func() *mockProductRepo {
		return newProductRepo(
			newTestProduct("p1", "Widget", "10.00", 5),
			newTestProduct("p2", "Gadget", "20.00", 1),
		)
	}
	coupons := func() *mockCoupons {
		return newCoupons(
			pricing.Coupon{Code: "OLD", DiscountType: pricing.DiscountFixed, DiscountValue: d("5"), ValidUntil: &expired, Active: true},
			pricing.Coupon{Code: "BIG", DiscountType: pricing.DiscountFixed, DiscountValue: d("5"), MinOrderValue: d("1000"), Active: true},
			pricing.Coupon{Code: "USED", DiscountType: pricing.DiscountFixed, DiscountValue: d("5"), UsageLimit: &limit, UsageCount: 1, Active: true},
		)
	}

	tests := []struct {
		name   string
		items  []CartItem
		coupon string
		check  func(t *testing.T, err error)
	}{
		{
			name:  "empty items",
			items: nil,
			check: func(t *testing.T, err error) { require.ErrorIs(t, err, ErrEmptyItems) },
		},
		{
			name:  "zero quantity",
			items: []CartItem{{ProductID: "p1", Quantity: 0}},
			check: func(t *testing.T, err error) {
				var vErr *pricing.ValidationError
				require.ErrorAs(t, err, &vErr)
				assert.Equal(t, "p1", vErr.ProductID)
			},
		},
		{
			name:  "missing product id",
			items: []CartItem{{Quantity: 1}},
			check: func(t *testing.T, err error) {
				var vErr *pricing.ValidationError
				require.ErrorAs(t, err, &vErr)
			},
		},
		{
			name:  "unknown product",
			items: []CartItem{{ProductID: "missing", Quantity: 1}},
			check: func(t *testing.T, err error) {
				var pnfErr *ProductNotFoundError
				require.ErrorAs(t, err, &pnfErr)
				assert.Equal(t, "missing", pnfErr.ProductID)
			},
		},
		{
			name:  "not enough stock",
			items: []CartItem{{ProductID: "p2", Quantity: 2}},
			check: func(t *testing.T, err error) {
				var stockErr *InsufficientStockError
				require.ErrorAs(t, err, &stockErr)
				assert.Equal(t, 1, stockErr.Available)
			},
		},
		{
			name:   "unknown coupon",
			items:  []CartItem{{ProductID: "p1", Quantity: 1}},
			coupon: "NOPE",
			check:  func(t *testing.T, err error) { require.ErrorIs(t, err, pricing.ErrCouponNotFound) },
		},
		{
			name:   "expired coupon",
			items:  []CartItem{{ProductID: "p1", Quantity: 1}},
			coupon: "OLD",
			check:  func(t *testing.T, err error) { require.ErrorIs(t, err, pricing.ErrCouponExpired) },
		},
		{
			name:   "minimum order not met",
			items:  []CartItem{{ProductID: "p1", Quantity: 1}},
			coupon: "BIG",
			check: func(t *testing.T, err error) {
				var minErr *pricing.MinimumOrderError
				require.ErrorAs(t, err, &minErr)
			},
		},
		{
			name:   "exhausted coupon",
			items:  []CartItem{{ProductID: "p1", Quantity: 1}},
			coupon: "USED",
			check:  func(t *testing.T, err error) { require.ErrorIs(t, err, pricing.ErrCouponExhausted) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(products(), coupons(), newOrderRepo())

			_, err := f.svc.Place(context.Background(), PlaceRequest{
				Cart: Cart{Items: tt.items, CouponCode: tt.coupon},
			})
			tt.check(t, err)
			assert.Nil(t, f.orders.lastOrder, "nothing must be persisted")
			assert.Empty(t, f.events.events)
		})
	}
}

func TestPlace_NoCoupon(t *testing.T) {
	f := newFixture(
		newProductRepo(
			newTestProduct("p1", "Widget", "100", 5),
			newTestProduct("p2", "Gadget", "50", 5),
		),
		newCoupons(),
		newOrderRepo(),
	)

	o, err := f.svc.Place(context.Background(), PlaceRequest{
		Cart: Cart{Items: []CartItem{
			{ProductID: "p1", Quantity: 2},
			{ProductID: "p2", Quantity: 2},
		}},
		ShippingAddress: ShippingAddress{Name: "Jo", City: "Pune", Country: "IN"},
		Owner:           "key-1",
	})
	require.NoError(t, err)

	assert.Equal(t, "order-1", o.ID)
	assert.Equal(t, "key-1", o.Owner)
	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, fixedNow, o.CreatedAt)
	assert.Empty(t, o.CouponCode)
	assertDecimal(t, "300", o.Subtotal)
	assertDecimal(t, "0", o.Discount)
	assertDecimal(t, "50", o.Shipping)
	assertDecimal(t, "54", o.Tax)
	assertDecimal(t, "404", o.Total)
	assert.Equal(t, "Pune", o.ShippingAddress.City)

	require.Len(t, o.Items, 2)
	assert.Equal(t, "Widget", o.Items[0].Name)
	assertDecimal(t, "100", o.Items[0].UnitPrice)

	assert.Same(t, f.orders.lastOrder, o)
	require.Len(t, f.events.events, 1)
	assert.Equal(t, EventOrderCreated, f.events.events[0].Type)
	assert.Equal(t, "order-1", f.events.events[0].Order.ID)
}

func TestPlace_PersistsRoundedTotals(t *testing.T) {
	f := newFixture(
		newProductRepo(newTestProduct("p1", "Widget", "9.99", 10)),
		newCoupons(pricing.Coupon{Code: "PCT15", DiscountType: pricing.DiscountPercentage, DiscountValue: d("15"), Active: true}),
		newOrderRepo(),
	)

	o, err := f.svc.Place(context.Background(), PlaceRequest{
		Cart: Cart{Items: []CartItem{{ProductID: "p1", Quantity: 3}}, CouponCode: "PCT15"},
	})
	require.NoError(t, err)

	// 29.97 - 4.4955 = 25.4745; tax 4.58541
	assertDecimal(t, "29.97", o.Subtotal)
	assertDecimal(t, "4.50", o.Discount)
	assertDecimal(t, "50", o.Shipping)
	assertDecimal(t, "4.59", o.Tax)
	assertDecimal(t, "80.06", o.Total)
	assert.Equal(t, "PCT15", o.CouponCode)
}

func TestPlace_RepositoryErrors(t *testing.T) {
	tests := []struct {
		name      string
		createErr error
		check     func(t *testing.T, err error)
	}{
		{
			name:      "stock taken by a concurrent order",
			createErr: &InsufficientStockError{ProductID: "p1", Requested: 1, Available: 0},
			check: func(t *testing.T, err error) {
				var stockErr *InsufficientStockError
				require.ErrorAs(t, err, &stockErr)
			},
		},
		{
			name:      "coupon redeemed by a concurrent order",
			createErr: pricing.ErrCouponExhausted,
			check:     func(t *testing.T, err error) { require.ErrorIs(t, err, pricing.ErrCouponExhausted) },
		},
		{
			name:      "database failure",
			createErr: errors.New("connection reset"),
			check: func(t *testing.T, err error) {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "create order")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orders := newOrderRepo()
			orders.createErr = tt.createErr
			f := newFixture(newProductRepo(newTestProduct("p1", "Widget", "10", 5)), newCoupons(), orders)

			_, err := f.svc.Place(context.Background(), PlaceRequest{
				Cart: Cart{Items: []CartItem{{ProductID: "p1", Quantity: 1}}},
			})
			tt.check(t, err)
			assert.Empty(t, f.events.events)
		})
	}
}

func TestPlace_PublishFailureDoesNotFailOrder(t *testing.T) {
	f := newFixture(newProductRepo(newTestProduct("p1", "Widget", "10", 5)), newCoupons(), newOrderRepo())
	f.events.err = errors.New("broker down")

	o, err := f.svc.Place(context.Background(), PlaceRequest{
		Cart: Cart{Items: []CartItem{{ProductID: "p1", Quantity: 1}}},
	})
	require.NoError(t, err)
	assert.Equal(t, "order-1", o.ID)
}

func TestUpdateStatus(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		to      Status
		wantErr bool
	}{
		{name: "pending to processing", from: StatusPending, to: StatusProcessing},
		{name: "pending straight to delivered", from: StatusPending, to: StatusDelivered},
		{name: "paid to shipped", from: StatusPaid, to: StatusShipped},
		{name: "shipped back to pending", from: StatusShipped, to: StatusPending, wantErr: true},
		{name: "same status", from: StatusPaid, to: StatusPaid, wantErr: true},
		{name: "delivered is terminal", from: StatusDelivered, to: StatusShipped, wantErr: true},
		{name: "cancelled is terminal", from: StatusCancelled, to: StatusProcessing, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orders := newOrderRepo(Order{ID: "o1", Status: tt.from})
			f := newFixture(newProductRepo(), newCoupons(), orders)

			o, err := f.svc.UpdateStatus(context.Background(), "o1", tt.to)
			if tt.wantErr {
				var trErr *InvalidTransitionError
				require.ErrorAs(t, err, &trErr)
				assert.Equal(t, tt.from, trErr.From)
				assert.Empty(t, f.events.events)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.to, o.Status)
			require.Len(t, f.events.events, 1)
			assert.Equal(t, EventOrderStatusChanged, f.events.events[0].Type)
			assert.Equal(t, tt.from, f.events.events[0].PreviousStatus)
		})
	}
}

func TestUpdateStatus_ToCancelledRestoresStock(t *testing.T) {
	orders := newOrderRepo(Order{ID: "o1", Status: StatusPending})
	f := newFixture(newProductRepo(), newCoupons(), orders)

	o, err := f.svc.UpdateStatus(context.Background(), "o1", StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, o.Status)
	assert.Equal(t, []string{"o1"}, orders.cancelled)
}

func TestUpdateStatus_Errors(t *testing.T) {
	f := newFixture(newProductRepo(), newCoupons(), newOrderRepo(Order{ID: "o1", Status: StatusPending}))

	_, err := f.svc.UpdateStatus(context.Background(), "missing", StatusPaid)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.UpdateStatus(context.Background(), "o1", Status("Lost"))
	var stErr *InvalidStatusError
	require.ErrorAs(t, err, &stErr)

	f.orders.updateErr = ErrConcurrentUpdate
	_, err = f.svc.UpdateStatus(context.Background(), "o1", StatusPaid)
	require.ErrorIs(t, err, ErrConcurrentUpdate)
}

func TestCancel(t *testing.T) {
	orders := newOrderRepo(
		Order{ID: "pending", Status: StatusPending},
		Order{ID: "paid", Status: StatusPaid},
	)
	f := newFixture(newProductRepo(), newCoupons(), orders)

	o, err := f.svc.Cancel(context.Background(), "pending")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, o.Status)
	require.Len(t, f.events.events, 1)
	assert.Equal(t, EventOrderCancelled, f.events.events[0].Type)

	_, err = f.svc.Cancel(context.Background(), "paid")
	var trErr *InvalidTransitionError
	require.ErrorAs(t, err, &trErr)
	assert.Equal(t, StatusPaid, trErr.From)

	_, err = f.svc.Cancel(context.Background(), "pending")
	require.ErrorAs(t, err, &trErr)
	assert.Equal(t, StatusCancelled, trErr.From)

	assert.Equal(t, []string{"pending"}, orders.cancelled)
}

func TestList(t *testing.T) {
	f := newFixture(newProductRepo(), newCoupons(), newOrderRepo(
		Order{ID: "a", Status: StatusPending},
		Order{ID: "b", Status: StatusPaid},
	))

	page, err := f.svc.List(context.Background(), Filter{Status: StatusPaid, PageSize: 1000})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, MaxPageSize, page.PageSize)

	_, err = f.svc.List(context.Background(), Filter{Status: "bogus"})
	var stErr *InvalidStatusError
	require.ErrorAs(t, err, &stErr)
}

func TestGet(t *testing.T) {
	f := newFixture(newProductRepo(), newCoupons(), newOrderRepo(Order{ID: "o1", Status: StatusPending}))

	o, err := f.svc.Get(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, "o1", o.ID)

	_, err = f.svc.Get(context.Background(), "nope")
	require.ErrorIs(t, err, ErrNotFound)
}
