package database

import (
	"encoding/json"
	"time"
)

// Rule represents a threshold rule record. Rules are created and edited by
// an administrative surface elsewhere; this core only reads them.
type Rule struct {
	RuleID                string
	ClientID              string
	DeviceID              string
	Parameter             string
	Operator              string
	Threshold             float64
	RequiredBreachSeconds int
	MaxSampleGapSeconds   int
	StalenessSeconds      int
	Enabled               bool
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// TelemetrySample represents one normalized sample row.
type TelemetrySample struct {
	SampleID   string
	ClientID   string
	DeviceID   string
	OccurredAt time.Time
	Values     map[string]float64
	CreatedAt  time.Time
}

// Alert represents an alert record. Exactly one of RuleID and Parameter is
// set: rule-driven alerts carry the rule, synthetic alerts (battery) carry
// the parameter name. Alerts are never deleted.
type Alert struct {
	AlertID         string
	ClientID        string
	DeviceID        string
	RuleID          *string
	Parameter       *string
	Severity        string
	Status          string
	CurrentValue    float64
	Threshold       float64
	Context         map[string]string
	OpenedAt        time.Time
	LastTriggeredAt time.Time
	AcknowledgedAt  *time.Time
	AcknowledgedBy  *string
	SnoozedUntil    *time.Time
	ResolvedAt      *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// AlertEvent is an immutable audit record appended once per state-affecting
// operation on an alert.
type AlertEvent struct {
	EventID     string
	AlertID     string
	ClientID    string
	EventType   string
	ActorUserID *string
	Metadata    map[string]string
	CreatedAt   time.Time
}

// Outbox item statuses.
const (
	OutboxStatusPending   = "pending"
	OutboxStatusClaimed   = "claimed"
	OutboxStatusDelivered = "delivered"
	OutboxStatusFailed    = "failed"
)

// OutboxItem represents one queued notification work item. The lifecycle
// manager creates it alongside the alert event that caused it and never
// touches it again; the outbox owns it from then on.
type OutboxItem struct {
	ItemID         string
	ClientID       string
	AlertID        string
	Channel        string
	Payload        json.RawMessage
	IdempotencyKey string
	Status         string
	AttemptCount   int
	NextAttemptAt  *time.Time
	LastError      *string
	DeliveredAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
