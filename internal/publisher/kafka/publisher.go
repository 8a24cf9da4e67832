// Package kafka publishes page events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Keyer lets payloads choose their partition key.
type Keyer interface {
	PartitionKey() string
}

// Config describes the target cluster.
type Config struct {
	Brokers []string
	Topic   string
	// BatchTimeout bounds how long the writer holds a partial batch (default 50ms).
	BatchTimeout time.Duration
}

// Publisher wraps a kafka-go writer.
type Publisher struct {
	writer messageWriter
	now    func() time.Time
}

// New creates a Publisher for cfg. The topic must already exist.
func New(cfg Config) (*Publisher, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, errors.New("kafka brokers and topic are required")
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 50 * time.Millisecond
	}
	return NewWithWriter(&kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: false,
	}), nil
}

// NewWithWriter builds a Publisher over a custom writer.
func NewWithWriter(writer messageWriter) *Publisher {
	return &Publisher{writer: writer, now: time.Now}
}

// Publish writes payload as JSON. Payloads implementing Keyer are keyed so
// that events of one session land on one partition. The returned ID is the
// message key.
func (p *Publisher) Publish(ctx context.Context, kind string, payload any) (string, error) {
	value, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	msg := kafka.Message{Value: value, Time: p.now().UTC()}
	if k, ok := payload.(Keyer); ok {
		msg.Key = []byte(k.PartitionKey())
	}
	if kind != "" {
		msg.Headers = []kafka.Header{{Key: "kind", Value: []byte(kind)}}
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return "", fmt.Errorf("write kafka message: %w", err)
	}
	return string(msg.Key), nil
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("close kafka writer: %w", err)
	}
	return nil
}
