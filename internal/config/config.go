// Package config provides configuration parsing and validation for the
// sentinel binaries.
package config

import (
	"fmt"
	"time"
)

// EvaluatorConfig holds all configuration parameters for the evaluation
// service.
type EvaluatorConfig struct {
	KafkaBrokers        string
	TelemetryTopic      string
	ConsumerGroupID     string
	PostgresDSN         string
	RedisAddr           string
	EvaluationWindow    time.Duration
	SnoozeSweepInterval time.Duration
	WorkerCount         int
}

// Validate checks that all required configuration fields are set and have
// valid values. Returns an error if validation fails, nil otherwise.
func (c *EvaluatorConfig) Validate() error {
	if c.KafkaBrokers == "" {
		return fmt.Errorf("kafka-brokers cannot be empty")
	}
	if c.TelemetryTopic == "" {
		return fmt.Errorf("telemetry-topic cannot be empty")
	}
	if c.ConsumerGroupID == "" {
		return fmt.Errorf("consumer-group-id cannot be empty")
	}
	if c.PostgresDSN == "" {
		return fmt.Errorf("postgres-dsn cannot be empty")
	}
	if c.RedisAddr == "" {
		return fmt.Errorf("redis-addr cannot be empty")
	}
	if c.EvaluationWindow <= 0 {
		return fmt.Errorf("evaluation-window must be > 0")
	}
	if c.SnoozeSweepInterval <= 0 {
		return fmt.Errorf("snooze-sweep-interval must be > 0")
	}
	if c.WorkerCount <= 0 {
		return fmt.Errorf("worker-count must be > 0")
	}
	return nil
}

// DispatcherConfig holds all configuration parameters for the outbox
// delivery dispatcher.
type DispatcherConfig struct {
	KafkaBrokers  string
	DeliveryTopic string
	PostgresDSN   string
	RedisAddr     string
	PollInterval  time.Duration
	BatchSize     int
}

// Validate checks that all required configuration fields are set and have
// valid values.
func (c *DispatcherConfig) Validate() error {
	if c.KafkaBrokers == "" {
		return fmt.Errorf("kafka-brokers cannot be empty")
	}
	if c.DeliveryTopic == "" {
		return fmt.Errorf("delivery-topic cannot be empty")
	}
	if c.PostgresDSN == "" {
		return fmt.Errorf("postgres-dsn cannot be empty")
	}
	if c.RedisAddr == "" {
		return fmt.Errorf("redis-addr cannot be empty")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll-interval must be > 0")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch-size must be > 0")
	}
	return nil
}
