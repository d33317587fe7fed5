package messaging

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"github.com/rl1809/cart-service/internal/core/domain"
)

const (
	CheckoutTopic     = "cart.checkout"
	checkoutEventType = "cart.checked_out"
)

type MessageProducer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes checkout events keyed by user id, so all events of a
// user land on one partition in order.
type KafkaPublisher struct {
	producer MessageProducer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	if topic == "" {
		topic = CheckoutTopic
	}
	return NewKafkaPublisherWithProducer(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	})
}

func NewKafkaPublisherWithProducer(producer MessageProducer) *KafkaPublisher {
	return &KafkaPublisher{producer: producer}
}

func (p *KafkaPublisher) PublishCheckout(ctx context.Context, event domain.CheckoutEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return errors.Wrapf(err, "encode checkout event %s", event.EventID)
	}

	msg := kafka.Message{
		Key:   []byte(event.UserID),
		Value: payload,
		Time:  event.CheckedOutAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(checkoutEventType)},
			{Key: "event_id", Value: []byte(event.EventID)},
		},
	}
	if err := p.producer.WriteMessages(ctx, msg); err != nil {
		return errors.Wrapf(err, "publish checkout event %s", event.EventID)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
