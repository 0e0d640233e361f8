package notify

import (
	"context"

	skafka "github.com/segmentio/kafka-go"
)

// Writer defines the subset of segmentio kafka.Writer we need. This makes the
// producer testable.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...skafka.Message) error
	Close() error
}

// Publisher is the interface used by the relay to publish drained outbox
// messages.
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
	Close() error
}

// KafkaPublisher is a thin wrapper around a kafka writer implementing Publisher.
type KafkaPublisher struct {
	writer Writer
}

// NewKafkaPublisher creates a publisher that writes to the provided broker/topic.
func NewKafkaPublisher(brokerURL, topic string) *KafkaPublisher {
	w := &skafka.Writer{
		Addr:     skafka.TCP(brokerURL),
		Topic:    topic,
		Balancer: &skafka.LeastBytes{},
	}
	return &KafkaPublisher{writer: w}
}

// NewKafkaPublisherWithWriter allows injecting a test writer.
func NewKafkaPublisherWithWriter(w Writer) *KafkaPublisher {
	return &KafkaPublisher{writer: w}
}

// Publish writes a kafka message with the given key.
func (p *KafkaPublisher) Publish(ctx context.Context, key string, value []byte) error {
	msg := skafka.Message{Key: []byte(key), Value: value}
	return p.writer.WriteMessages(ctx, msg)
}

// Close closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
