// Package consumer provides Kafka consumer functionality for the
// normalized telemetry topic.
package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"sentinel/internal/events"
)

const (
	// maxPollWait is the maximum time to wait for a Kafka read operation.
	maxPollWait = 10 * time.Second
	// commitInterval is how often to commit offsets (after processing).
	commitInterval = 1 * time.Second
)

// Consumer wraps a Kafka reader and provides a simple interface for
// consuming telemetry samples.
type Consumer struct {
	reader *kafka.Reader
	topic  string
}

// NewConsumer creates a new Kafka consumer with the specified brokers,
// topic, and group ID. The consumer is configured for at-least-once
// delivery semantics.
func NewConsumer(brokers, topic, groupID string) (*Consumer, error) {
	if brokers == "" {
		return nil, fmt.Errorf("brokers cannot be empty")
	}
	if topic == "" {
		return nil, fmt.Errorf("topic cannot be empty")
	}
	if groupID == "" {
		return nil, fmt.Errorf("groupID cannot be empty")
	}

	brokerList := parseBrokers(brokers)

	slog.Info("Initializing Kafka consumer",
		"brokers", brokerList,
		"topic", topic,
		"group_id", groupID,
	)

	// StartOffset only applies when no committed offset exists for the
	// consumer group; FirstOffset reads all messages when starting fresh.
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokerList,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        maxPollWait,
		CommitInterval: commitInterval,
		StartOffset:    kafka.FirstOffset,
	})

	return &Consumer{
		reader: reader,
		topic:  topic,
	}, nil
}

// ReadSample reads the next message from Kafka and deserializes it as a
// telemetry sample. Returns the raw message alongside so callers can
// commit after processing.
func (c *Consumer) ReadSample(ctx context.Context) (*events.TelemetrySample, *kafka.Message, error) {
	msg, err := c.reader.ReadMessage(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read message from Kafka: %w", err)
	}

	sample, err := events.DecodeTelemetrySample(msg.Value)
	if err != nil {
		return nil, &msg, err
	}
	return sample, &msg, nil
}

// CommitMessage commits the offset for the given message. This should be
// called after successfully processing a message.
func (c *Consumer) CommitMessage(ctx context.Context, msg *kafka.Message) error {
	return c.reader.CommitMessages(ctx, *msg)
}

// Close gracefully closes the Kafka reader and releases resources.
func (c *Consumer) Close() error {
	slog.Info("Closing Kafka consumer", "topic", c.topic)
	if err := c.reader.Close(); err != nil {
		slog.Error("Error closing Kafka consumer", "error", err)
		return err
	}
	return nil
}

// parseBrokers parses a comma-separated broker list and trims whitespace.
func parseBrokers(brokers string) []string {
	brokerList := strings.Split(brokers, ",")
	for i := range brokerList {
		brokerList[i] = strings.TrimSpace(brokerList[i])
	}
	return brokerList
}
