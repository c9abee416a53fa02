package order

import (
	"context"
	"time"
)

// EventType names an order lifecycle event.
type EventType string

const (
	EventOrderCreated       EventType = "order.created"
	EventOrderStatusChanged EventType = "order.status_changed"
	EventOrderCancelled     EventType = "order.cancelled"
)

// Event is emitted after an order change has been committed.
type Event struct {
	Type           EventType
	Order          Order
	PreviousStatus Status
	OccurredAt     time.Time
}

// EventPublisher delivers order events to downstream consumers. Delivery is
// best effort: a failed publish never rolls back the order change.
type EventPublisher interface {
	Publish(ctx context.Context, e Event) error
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, Event) error { return nil }
