package repository

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/shop-checkout/internal/domain/coupon"
	"github.com/xenking/shop-checkout/internal/domain/pricing"
)

const (
	couponColumns = `code, discount_type, discount_value, min_order_value, max_discount,
		valid_from, valid_until, usage_limit, usage_count, active`

	getCouponByCodeSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE code = UPPER($1)`

	listCouponsSQL = `SELECT ` + couponColumns + ` FROM coupons ORDER BY code`

	createCouponSQL = `INSERT INTO coupons (` + couponColumns + `)
		VALUES (UPPER($1), $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	// upsertCouponSQL keeps usage_count so a re-import never resets
	// redemptions.
	upsertCouponSQL = `INSERT INTO coupons (` + couponColumns + `)
		VALUES (UPPER($1), $2, $3, $4, $5, $6, $7, $8, 0, $9)
		ON CONFLICT (code) DO UPDATE SET
			discount_type = EXCLUDED.discount_type,
			discount_value = EXCLUDED.discount_value,
			min_order_value = EXCLUDED.min_order_value,
			max_discount = EXCLUDED.max_discount,
			valid_from = EXCLUDED.valid_from,
			valid_until = EXCLUDED.valid_until,
			usage_limit = EXCLUDED.usage_limit,
			active = EXCLUDED.active`

	setCouponActiveSQL = `UPDATE coupons SET active = $2 WHERE code = UPPER($1)`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up a coupon by its code (case-insensitive).
// Returns coupon.ErrNotFound when no coupon has the code.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*pricing.Coupon, error) {
	rows, err := r.pool.Query(ctx, getCouponByCodeSQL, code)
	if err != nil {
		return nil, errors.Wrapf(err, "find coupon %q", code)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, errors.Wrapf(err, "find coupon %q", code)
	}
	return &c, nil
}

// List returns all coupons ordered by code.
func (r *CouponRepository) List(ctx context.Context) ([]pricing.Coupon, error) {
	rows, err := r.pool.Query(ctx, listCouponsSQL)
	if err != nil {
		return nil, errors.Wrap(err, "list coupons")
	}
	return pgx.CollectRows(rows, scanCoupon)
}

// Create inserts a new coupon. Returns coupon.ErrDuplicateCode when the
// code already exists.
func (r *CouponRepository) Create(ctx context.Context, c *pricing.Coupon) error {
	_, err := r.pool.Exec(ctx, createCouponSQL,
		c.Code, string(c.DiscountType), c.DiscountValue, c.MinOrderValue, c.MaxDiscount,
		c.ValidFrom, c.ValidUntil, c.UsageLimit, c.UsageCount, c.Active,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return coupon.ErrDuplicateCode
		}
		return errors.Wrapf(err, "create coupon %q", c.Code)
	}
	return nil
}

// SetActive flips the active flag of the coupon with the given code.
func (r *CouponRepository) SetActive(ctx context.Context, code string, active bool) error {
	tag, err := r.pool.Exec(ctx, setCouponActiveSQL, code, active)
	if err != nil {
		return errors.Wrapf(err, "set coupon %q active", code)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrNotFound
	}
	return nil
}

// UpsertBatch inserts or updates coupons in a single round trip. Existing
// usage counts are preserved.
func (r *CouponRepository) UpsertBatch(ctx context.Context, coupons []pricing.Coupon) error {
	if len(coupons) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, c := range coupons {
		batch.Queue(upsertCouponSQL,
			c.Code, string(c.DiscountType), c.DiscountValue, c.MinOrderValue, c.MaxDiscount,
			c.ValidFrom, c.ValidUntil, c.UsageLimit, c.Active,
		)
	}

	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return errors.Wrap(err, "upsert coupons")
	}
	return nil
}

func scanCoupon(row pgx.CollectableRow) (pricing.Coupon, error) {
	var (
		c            pricing.Coupon
		discountType string
	)
	err := row.Scan(
		&c.Code, &discountType, &c.DiscountValue, &c.MinOrderValue, &c.MaxDiscount,
		&c.ValidFrom, &c.ValidUntil, &c.UsageLimit, &c.UsageCount, &c.Active,
	)
	c.DiscountType = pricing.DiscountType(discountType)
	return c, err
}
