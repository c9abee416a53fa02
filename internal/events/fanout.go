package events

import (
	"context"

	"github.com/xenking/shop-checkout/internal/domain/order"
)

// Fanout delivers every event to each publisher in order. All publishers are
// tried; the first error is returned.
type Fanout []order.EventPublisher

var _ order.EventPublisher = Fanout(nil)

func (f Fanout) Publish(ctx context.Context, e order.Event) error {
	var first error
	for _, p := range f {
		if err := p.Publish(ctx, e); err != nil && first == nil {
			first = err
		}
	}
	return first
}
