package kafka

import (
	"context"
	"strconv"

	"github.com/segmentio/kafka-go"

	"github.com/ariefcatur/storefront-orders/internal/orders"
)

// EventPublisher sends order envelopes through a Producer.
type EventPublisher struct{ P *Producer }

var _ orders.Publisher = (*EventPublisher)(nil)

func (e *EventPublisher) Publish(ctx context.Context, topic string, key []byte, ev orders.Envelope) error {
	value, err := Marshal(ev)
	if err != nil {
		return err
	}
	return e.P.Publish(ctx, kafka.Message{
		Topic: topic,
		Key:   key,
		Value: value,
		Headers: []kafka.Header{
			{Key: "x-event-type", Value: []byte(ev.EventType)},
			{Key: "x-event-version", Value: []byte(strconv.Itoa(ev.EventVersion))},
		},
	})
}
