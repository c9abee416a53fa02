package repository

import (
	"context"
	"encoding/json"
	"slices"
	"strings"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/shop-checkout/internal/domain/order"
	"github.com/xenking/shop-checkout/internal/domain/pricing"
)

const (
	orderColumns = `id, items, subtotal, discount, shipping, tax, total,
		coupon_code, owner_key_id, status, shipping_address, created_at, updated_at`

	insertOrderSQL = `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	listOrdersSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3`

	countOrdersSQL = `SELECT COUNT(*) FROM orders WHERE ($1 = '' OR status = $1)`

	updateOrderStatusSQL = `UPDATE orders SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING ` + orderColumns

	orderExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`

	reserveStockSQL = `UPDATE products SET stock = stock - $2 WHERE id = $1 AND stock >= $2`

	releaseStockSQL = `UPDATE products SET stock = stock + $2 WHERE id = $1`

	currentStockSQL = `SELECT stock FROM products WHERE id = $1`

	// redeemCouponSQL succeeds only while the coupon is active and has
	// uses left, so concurrent orders can never exceed usage_limit.
	redeemCouponSQL = `UPDATE coupons SET usage_count = usage_count + 1
		WHERE code = UPPER($1) AND active
			AND (usage_limit IS NULL OR usage_count < usage_limit)`

	couponActiveSQL = `SELECT active FROM coupons WHERE code = UPPER($1)`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// itemRecord is the JSONB form of an order item.
type itemRecord struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
}

type addressRecord struct {
	Name       string `json:"name,omitempty"`
	Street     string `json:"street,omitempty"`
	City       string `json:"city,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
}

// Create reserves stock, redeems the coupon and inserts the order in one
// transaction. Stock rows are locked in product ID order.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	items := make([]itemRecord, len(o.Items))
	for i, it := range o.Items {
		items[i] = itemRecord{ProductID: it.ProductID, Name: it.Name, UnitPrice: it.UnitPrice, Quantity: it.Quantity}
	}
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return errors.Wrap(err, "marshal order items")
	}
	addressJSON, err := json.Marshal(addressRecord(o.ShippingAddress))
	if err != nil {
		return errors.Wrap(err, "marshal shipping address")
	}

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		sorted := slices.Clone(o.Items)
		slices.SortFunc(sorted, func(a, b order.Item) int { return strings.Compare(a.ProductID, b.ProductID) })

		for _, it := range sorted {
			if err := reserveStock(ctx, tx, it.ProductID, it.Quantity); err != nil {
				return err
			}
		}

		if o.CouponCode != "" {
			if err := redeemCoupon(ctx, tx, o.CouponCode); err != nil {
				return err
			}
		}

		if _, err := tx.Exec(ctx, insertOrderSQL,
			o.ID, itemsJSON, o.Subtotal, o.Discount, o.Shipping, o.Tax, o.Total,
			o.CouponCode, o.Owner, string(o.Status), addressJSON, o.CreatedAt, o.UpdatedAt,
		); err != nil {
			return errors.Wrapf(err, "insert order %q", o.ID)
		}
		return nil
	})
}

func reserveStock(ctx context.Context, tx pgx.Tx, productID string, qty int) error {
	tag, err := tx.Exec(ctx, reserveStockSQL, productID, qty)
	if err != nil {
		return errors.Wrapf(err, "reserve stock for %q", productID)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var available int
	if err := tx.QueryRow(ctx, currentStockSQL, productID).Scan(&available); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &order.ProductNotFoundError{ProductID: productID}
		}
		return errors.Wrapf(err, "read stock for %q", productID)
	}
	return &order.InsufficientStockError{ProductID: productID, Requested: qty, Available: available}
}

func redeemCoupon(ctx context.Context, tx pgx.Tx, code string) error {
	tag, err := tx.Exec(ctx, redeemCouponSQL, code)
	if err != nil {
		return errors.Wrapf(err, "redeem coupon %q", code)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var active bool
	if err := tx.QueryRow(ctx, couponActiveSQL, code).Scan(&active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return pricing.ErrCouponNotFound
		}
		return errors.Wrapf(err, "read coupon %q", code)
	}
	if !active {
		return pricing.ErrCouponNotFound
	}
	return pricing.ErrCouponExhausted
}

// Get returns the order with the given ID or order.ErrNotFound.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get order %q", id)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get order %q", id)
	}
	return &o, nil
}

// List returns one page of orders, newest first, and the total number of
// orders matching the filter.
func (r *OrderRepository) List(ctx context.Context, f order.Filter) ([]order.Order, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, countOrdersSQL, string(f.Status)).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "count orders")
	}

	rows, err := r.pool.Query(ctx, listOrdersSQL, string(f.Status), f.PageSize, f.Offset())
	if err != nil {
		return nil, 0, errors.Wrap(err, "list orders")
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, 0, errors.Wrap(err, "scan orders")
	}
	return orders, total, nil
}

// UpdateStatus moves the order from one status to another.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, from, to order.Status) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, updateOrderStatusSQL, id, string(from), string(to))
	if err != nil {
		return nil, errors.Wrapf(err, "update order %q status", id)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, missingOrConflict(ctx, r.pool, id)
		}
		return nil, errors.Wrapf(err, "update order %q status", id)
	}
	return &o, nil
}

// Cancel marks a Pending order Cancelled and returns its items to stock in
// the same transaction.
func (r *OrderRepository) Cancel(ctx context.Context, id string) (*order.Order, error) {
	var cancelled order.Order
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, updateOrderStatusSQL, id, string(order.StatusPending), string(order.StatusCancelled))
		if err != nil {
			return errors.Wrapf(err, "cancel order %q", id)
		}

		o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return missingOrConflict(ctx, tx, id)
			}
			return errors.Wrapf(err, "cancel order %q", id)
		}

		sorted := slices.Clone(o.Items)
		slices.SortFunc(sorted, func(a, b order.Item) int { return strings.Compare(a.ProductID, b.ProductID) })
		for _, it := range sorted {
			if _, err := tx.Exec(ctx, releaseStockSQL, it.ProductID, it.Quantity); err != nil {
				return errors.Wrapf(err, "release stock for %q", it.ProductID)
			}
		}

		cancelled = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &cancelled, nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func missingOrConflict(ctx context.Context, q querier, id string) error {
	var exists bool
	if err := q.QueryRow(ctx, orderExistsSQL, id).Scan(&exists); err != nil {
		return errors.Wrapf(err, "check order %q", id)
	}
	if !exists {
		return order.ErrNotFound
	}
	return order.ErrConcurrentUpdate
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o           order.Order
		itemsJSON   []byte
		addressJSON []byte
		status      string
	)
	if err := row.Scan(
		&o.ID, &itemsJSON, &o.Subtotal, &o.Discount, &o.Shipping, &o.Tax, &o.Total,
		&o.CouponCode, &o.Owner, &status, &addressJSON, &o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		return o, err
	}
	o.Status = order.Status(status)

	var items []itemRecord
	if err := json.Unmarshal(itemsJSON, &items); err != nil {
		return o, errors.Wrap(err, "unmarshal order items")
	}
	o.Items = make([]order.Item, len(items))
	for i, it := range items {
		o.Items[i] = order.Item{ProductID: it.ProductID, Name: it.Name, UnitPrice: it.UnitPrice, Quantity: it.Quantity}
	}

	var addr addressRecord
	if len(addressJSON) > 0 {
		if err := json.Unmarshal(addressJSON, &addr); err != nil {
			return o, errors.Wrap(err, "unmarshal shipping address")
		}
	}
	o.ShippingAddress = order.ShippingAddress(addr)
	return o, nil
}
