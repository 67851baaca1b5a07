// Package kafka publishes correlated fills to a Kafka topic with kafka-go.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/alanyoungcy/execsync/internal/domain"
)

// messageWriter is the part of *kafka.Writer the producer uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config holds producer parameters.
type Config struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
}

// Producer implements domain.FillPublisher. Fills are keyed by exec id so
// every event for one fill lands on the same partition.
type Producer struct {
	writer messageWriter
	topic  string
}

// NewProducer creates a synchronous producer that waits for all in-sync
// replicas to acknowledge.
func NewProducer(cfg Config) *Producer {
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 10 * time.Millisecond
	}
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: batchTimeout,
		},
		topic: cfg.Topic,
	}
}

var _ domain.FillPublisher = (*Producer)(nil)

// PublishFills writes one message per fill in a single call.
func (p *Producer) PublishFills(ctx context.Context, fills []domain.FillRecord) error {
	if len(fills) == 0 {
		return nil
	}
	msgs, err := fillMessages(fills)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka: publish %d fills to %s: %w", len(fills), p.topic, err)
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}

func fillMessages(fills []domain.FillRecord) ([]kafka.Message, error) {
	msgs := make([]kafka.Message, 0, len(fills))
	for _, f := range fills {
		value, err := json.Marshal(f)
		if err != nil {
			return nil, fmt.Errorf("kafka: marshal fill %s: %w", f.ExecID, err)
		}
		msg := kafka.Message{
			Key:   []byte(f.ExecID),
			Value: value,
			Time:  f.ExecutedAt,
		}
		if f.CycleID != "" {
			msg.Headers = append(msg.Headers, kafka.Header{Key: "cycle_id", Value: []byte(f.CycleID)})
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}
