package monitoring

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	kafkago "github.com/segmentio/kafka-go"
)

// messageWriter is the subset of *kafkago.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// EventPublisher produces health events to a Kafka topic, keyed by source
// so each source's events stay ordered within a partition.
type EventPublisher struct {
	writer messageWriter
}

// NewEventPublisher creates a Kafka producer for topic.
func NewEventPublisher(brokers []string, topic string) *EventPublisher {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &EventPublisher{writer: w}
}

// Name implements Notifier.
func (p *EventPublisher) Name() string { return "kafka" }

// Notify implements Notifier.
func (p *EventPublisher) Notify(ctx context.Context, e Event) error {
	msg, err := serializeToMessage(e)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return eris.Wrap(err, "monitoring: publish event")
	}
	return nil
}

// Close flushes and closes the producer.
func (p *EventPublisher) Close() error {
	return p.writer.Close()
}

func serializeToMessage(e Event) (kafkago.Message, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return kafkago.Message{}, eris.Wrap(err, "monitoring: serialize event")
	}
	return kafkago.Message{
		Key:   []byte(e.Source),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte(e.Type)},
			{Key: "emitted_at", Value: []byte(e.Timestamp.Format(time.RFC3339))},
		},
	}, nil
}
