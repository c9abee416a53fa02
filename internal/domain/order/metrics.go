package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/xenking/shop-checkout/internal/domain/pricing"
)

// Status labels for orders_placed_total.
const (
	OutcomePlaced   = "placed"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// Metrics records order placement and pricing instruments.
type Metrics struct {
	ordersPlaced     metric.Int64Counter
	couponRejections metric.Int64Counter
	quoteDuration    metric.Float64Histogram
}

// NewMetrics registers the order instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}

	var err error
	m.ordersPlaced, err = meter.Int64Counter(
		"orders_placed_total",
		metric.WithDescription("Orders placed, by outcome"),
		metric.WithUnit("{order}"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create orders_placed_total counter")
	}

	m.couponRejections, err = meter.Int64Counter(
		"coupon_rejections_total",
		metric.WithDescription("Coupons rejected during pricing, by reason"),
		metric.WithUnit("{coupon}"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create coupon_rejections_total counter")
	}

	m.quoteDuration, err = meter.Float64Histogram(
		"quote_duration_seconds",
		metric.WithDescription("Duration of cart pricing"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create quote_duration_seconds histogram")
	}

	return m, nil
}

func noopMetrics() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider().Meter(""))
	return m
}

// RecordOrder counts one placement attempt with the given outcome.
func (m *Metrics) RecordOrder(ctx context.Context, outcome string) {
	m.ordersPlaced.Add(ctx, 1, metric.WithAttributes(attribute.String("status", outcome)))
}

// RecordCouponRejection counts a coupon that failed validation, labelled by
// the failed check.
func (m *Metrics) RecordCouponRejection(ctx context.Context, err error) {
	m.couponRejections.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", rejectionReason(err))))
}

// RecordQuote records how long pricing a cart took.
func (m *Metrics) RecordQuote(ctx context.Context, d time.Duration) {
	m.quoteDuration.Record(ctx, d.Seconds())
}

func rejectionReason(err error) string {
	var minErr *pricing.MinimumOrderError
	switch {
	case errors.Is(err, pricing.ErrCouponNotFound):
		return "not_found"
	case errors.Is(err, pricing.ErrCouponExpired):
		return "expired"
	case errors.Is(err, pricing.ErrCouponExhausted):
		return "exhausted"
	case errors.As(err, &minErr):
		return "minimum_order"
	default:
		return "other"
	}
}
