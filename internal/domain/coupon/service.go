package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/shop-checkout/internal/domain/pricing"
)

// Service implements coupon lookups and administration on top of a
// Repository.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a Service backed by the given Repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Lookup returns the coupon for code without checking eligibility.
func (s *Service) Lookup(ctx context.Context, code string) (*pricing.Coupon, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, pricing.ErrCouponNotFound
	}

	c, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, pricing.ErrCouponNotFound
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}
	return c, nil
}

// Check looks the coupon up and validates it against an order of amount at
// the current time. Usage is not consumed.
func (s *Service) Check(ctx context.Context, code string, amount decimal.Decimal) (*pricing.Coupon, error) {
	c, err := s.Lookup(ctx, code)
	if err != nil {
		return nil, err
	}
	return pricing.ValidateCoupon(c, amount, s.now())
}

// List returns every coupon, active or not.
func (s *Service) List(ctx context.Context) ([]pricing.Coupon, error) {
	coupons, err := s.repo.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list coupons")
	}
	return coupons, nil
}

// Create validates n and stores it as a new coupon.
func (s *Service) Create(ctx context.Context, n NewCoupon) (*pricing.Coupon, error) {
	if err := n.Validate(); err != nil {
		return nil, err
	}

	c := n.Coupon()
	if err := s.repo.Create(ctx, &c); err != nil {
		if errors.Is(err, ErrDuplicateCode) {
			return nil, ErrDuplicateCode
		}
		return nil, errors.Wrap(err, "create coupon")
	}
	return &c, nil
}

// SetActive enables or disables the coupon with the given code.
func (s *Service) SetActive(ctx context.Context, code string, active bool) (*pricing.Coupon, error) {
	code = NormalizeCode(code)
	if err := s.repo.SetActive(ctx, code, active); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, pricing.ErrCouponNotFound
		}
		return nil, errors.Wrap(err, "set coupon active")
	}
	return s.Lookup(ctx, code)
}
