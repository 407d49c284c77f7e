// Package producer provides Kafka producer functionality for the
// notification delivery topic.
package producer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"sentinel/internal/events"
)

const (
	// writeTimeout is the maximum time to wait for a Kafka write operation.
	writeTimeout = 10 * time.Second
)

// Producer wraps a Kafka writer and provides a simple interface for
// publishing claimed notification work.
type Producer struct {
	writer *kafka.Writer
	topic  string
}

// NewProducer creates a new Kafka producer with the specified brokers and
// topic, configured for at-least-once delivery with synchronous writes.
func NewProducer(brokers, topic string) (*Producer, error) {
	if brokers == "" {
		return nil, fmt.Errorf("brokers cannot be empty")
	}
	if topic == "" {
		return nil, fmt.Errorf("topic cannot be empty")
	}

	brokerList := strings.Split(brokers, ",")
	for i := range brokerList {
		brokerList[i] = strings.TrimSpace(brokerList[i])
	}

	slog.Info("Initializing Kafka producer",
		"brokers", brokerList,
		"topic", topic,
	)

	// Hash balancer partitions by client_id for tenant locality.
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokerList...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		WriteTimeout: writeTimeout,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}

	return &Producer{
		writer: writer,
		topic:  topic,
	}, nil
}

// Publish serializes a notification-ready event to JSON and publishes it,
// keyed by client_id.
func (p *Producer) Publish(ctx context.Context, ready *events.NotificationReady) error {
	payload, err := json.Marshal(ready)
	if err != nil {
		return fmt.Errorf("failed to marshal notification ready event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(ready.ClientID),
		Value: payload,
		Headers: []kafka.Header{
			{
				Key:   "schema_version",
				Value: []byte(fmt.Sprintf("%d", ready.SchemaVersion)),
			},
			{
				Key:   "alert_id",
				Value: []byte(ready.AlertID),
			},
		},
		Time: time.Unix(ready.EventTS, 0),
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		slog.Error("Failed to write message to Kafka",
			"item_id", ready.ItemID,
			"topic", p.topic,
			"error", err,
		)
		return fmt.Errorf("failed to write message to Kafka: %w", err)
	}
	return nil
}

// Close gracefully closes the Kafka writer and releases resources.
func (p *Producer) Close() error {
	slog.Info("Closing Kafka producer", "topic", p.topic)
	if err := p.writer.Close(); err != nil {
		slog.Error("Error closing Kafka producer", "error", err)
		return err
	}
	return nil
}
