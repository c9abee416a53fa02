// Package events publishes order lifecycle events to Kafka.
package events

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/xenking/shop-checkout/internal/domain/order"
)

const (
	headerEventType = "event_type"
	headerEventID   = "event_id"
)

var _ order.EventPublisher = (*KafkaPublisher)(nil)

// messageWriter is the subset of *kafka.Writer used by KafkaPublisher.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes order events to a Kafka topic. Messages are keyed by
// order ID so all events of one order land on the same partition.
type KafkaPublisher struct {
	writer messageWriter
	newID  func() string
}

// NewKafkaPublisher returns a publisher writing to topic on brokers.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return newKafkaPublisher(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		WriteTimeout:           10 * time.Second,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	})
}

func newKafkaPublisher(w messageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: w, newID: uuid.NewString}
}

// Publish encodes e and writes it synchronously.
func (p *KafkaPublisher) Publish(ctx context.Context, e order.Event) error {
	id := p.newID()
	msg := kafka.Message{
		Key:   []byte(e.Order.ID),
		Value: encodeEvent(id, e),
		Headers: []kafka.Header{
			{Key: headerEventType, Value: []byte(e.Type)},
			{Key: headerEventID, Value: []byte(id)},
		},
		Time: e.OccurredAt,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return errors.Wrapf(err, "write %s event", e.Type)
	}

	zctx.From(ctx).Debug("Event published",
		zap.String("event_id", id),
		zap.String("event_type", string(e.Type)),
		zap.String("order_id", e.Order.ID),
	)
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func encodeEvent(id string, ev order.Event) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("id")
	e.Str(id)
	e.FieldStart("type")
	e.Str(string(ev.Type))
	e.FieldStart("occurred_at")
	e.Str(ev.OccurredAt.UTC().Format(time.RFC3339Nano))
	if ev.PreviousStatus != "" {
		e.FieldStart("previous_status")
		e.Str(string(ev.PreviousStatus))
	}
	e.FieldStart("order")
	encodeOrder(&e, ev.Order)
	e.ObjEnd()
	return e.Bytes()
}

func encodeOrder(e *jx.Encoder, o order.Order) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(o.ID)
	e.FieldStart("status")
	e.Str(string(o.Status))
	if o.CouponCode != "" {
		e.FieldStart("coupon_code")
		e.Str(o.CouponCode)
	}
	e.FieldStart("items")
	e.ArrStart()
	for _, it := range o.Items {
		e.ObjStart()
		e.FieldStart("product_id")
		e.Str(it.ProductID)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.FieldStart("unit_price")
		e.RawStr(it.UnitPrice.StringFixed(2))
		e.ObjEnd()
	}
	e.ArrEnd()
	e.FieldStart("subtotal")
	e.RawStr(o.Subtotal.StringFixed(2))
	e.FieldStart("discount")
	e.RawStr(o.Discount.StringFixed(2))
	e.FieldStart("shipping")
	e.RawStr(o.Shipping.StringFixed(2))
	e.FieldStart("tax")
	e.RawStr(o.Tax.StringFixed(2))
	e.FieldStart("total")
	e.RawStr(o.Total.StringFixed(2))
	e.ObjEnd()
}
