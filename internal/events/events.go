// Package events defines the event structures consumed from the telemetry
// topic and published to the notification delivery topic.
package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// TelemetrySample represents one normalized sample from the telemetry topic.
// The ingestion layer has already deduplicated samples by its own
// idempotency key before they reach this topic.
type TelemetrySample struct {
	DeviceID      string             `json:"device_id"`
	ClientID      string             `json:"client_id"`
	SchemaVersion int                `json:"schema_version"`
	OccurredAt    int64              `json:"occurred_at"` // Unix seconds
	Values        map[string]float64 `json:"values"`
}

// OccurredAtTime returns the sample timestamp as a time.Time in UTC.
func (s *TelemetrySample) OccurredAtTime() time.Time {
	return time.Unix(s.OccurredAt, 0).UTC()
}

// Validate checks that the sample carries the fields evaluation depends on.
func (s *TelemetrySample) Validate() error {
	if s.DeviceID == "" {
		return fmt.Errorf("device_id cannot be empty")
	}
	if s.ClientID == "" {
		return fmt.Errorf("client_id cannot be empty")
	}
	if s.OccurredAt <= 0 {
		return fmt.Errorf("occurred_at must be a positive unix timestamp")
	}
	if len(s.Values) == 0 {
		return fmt.Errorf("values cannot be empty")
	}
	return nil
}

// DecodeTelemetrySample deserializes and validates a telemetry sample message.
func DecodeTelemetrySample(data []byte) (*TelemetrySample, error) {
	var sample TelemetrySample
	if err := json.Unmarshal(data, &sample); err != nil {
		return nil, fmt.Errorf("failed to unmarshal telemetry sample: %w", err)
	}
	if err := sample.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry sample: %w", err)
	}
	return &sample, nil
}

// NotificationReady is the message published to the delivery topic for each
// claimed outbox item. The delivery worker downstream owns transmission.
type NotificationReady struct {
	ItemID        string          `json:"item_id"`
	ClientID      string          `json:"client_id"`
	AlertID       string          `json:"alert_id"`
	Channel       string          `json:"channel"`
	SchemaVersion int             `json:"schema_version"`
	EventTS       int64           `json:"event_ts"`
	Payload       json.RawMessage `json:"payload"`
}
