package lifecycle

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"sentinel/internal/database"
	"sentinel/internal/evaluator"
	"sentinel/internal/metrics"
	"sentinel/internal/outbox"
)

// Alert event types, one appended per state-affecting operation.
const (
	EventTypeCreated      = "created"
	EventTypeTriggered    = "triggered"
	EventTypeUpdated      = "updated"
	EventTypeNotified     = "notified"
	EventTypeAcknowledged = "acknowledged"
	EventTypeSnoozed      = "snoozed"
	EventTypeResolved     = "resolved"
	EventTypeAutoResolved = "auto_resolved"
)

// Notification channels. Routing to transports is the delivery worker's
// concern; the lifecycle only records why a notification exists.
const (
	ChannelCreated     = "alert.created"
	ChannelRetriggered = "alert.retriggered"
	ChannelEscalated   = "alert.escalated"
)

// Manager drives the alert state machine. Every operation runs as one
// transaction so the alert mutation, its audit event, and any notification
// enqueue succeed or fail together.
type Manager struct {
	db      *database.DB
	outbox  *outbox.Outbox
	metrics metrics.Recorder
	now     func() time.Time
}

// NewManager creates a lifecycle manager.
func NewManager(db *database.DB, ob *outbox.Outbox, recorder metrics.Recorder) *Manager {
	return &Manager{
		db:      db,
		outbox:  ob,
		metrics: recorder,
		now:     time.Now,
	}
}

// TriggerInput carries one violating verdict into the state machine.
// Exactly one of RuleID and Parameter must be set.
type TriggerInput struct {
	ClientID     string
	DeviceID     string
	RuleID       *string
	Parameter    *string
	Severity     evaluator.Severity
	CurrentValue float64
	Threshold    float64
	Context      map[string]string
}

// Validate rejects malformed input before any mutation.
func (in *TriggerInput) Validate() error {
	if in.ClientID == "" {
		return fmt.Errorf("client_id cannot be empty: %w", ErrInvalidInput)
	}
	if in.DeviceID == "" {
		return fmt.Errorf("device_id cannot be empty: %w", ErrInvalidInput)
	}
	if (in.RuleID == nil) == (in.Parameter == nil) {
		return fmt.Errorf("exactly one of rule_id and parameter must be set: %w", ErrInvalidInput)
	}
	if in.Severity != evaluator.SeverityAmber && in.Severity != evaluator.SeverityRed {
		return fmt.Errorf("severity must be amber or red, got %q: %w", in.Severity, ErrInvalidInput)
	}
	return nil
}

// TriggerResult reports what Trigger did, for caller logging.
type TriggerResult struct {
	AlertID         string
	Created         bool
	SeverityChanged bool
}

// Trigger is the idempotent entry point invoked once per evaluation cycle
// per violating rule or parameter. It creates the open alert for the scope
// or updates the existing one, appending audit events and enqueueing
// notifications per the escalation rules.
func (m *Manager) Trigger(ctx context.Context, input TriggerInput) (TriggerResult, error) {
	if err := input.Validate(); err != nil {
		return TriggerResult{}, err
	}

	result, err := m.triggerOnce(ctx, input)
	if errors.Is(err, database.ErrDuplicateAlert) {
		// Lost the create race to a concurrent evaluation. The open alert
		// now exists, so a second pass takes the update branch.
		slog.Debug("Trigger lost create race, retrying as update",
			"device_id", input.DeviceID,
		)
		result, err = m.triggerOnce(ctx, input)
	}
	return result, err
}

func (m *Manager) triggerOnce(ctx context.Context, input TriggerInput) (TriggerResult, error) {
	var result TriggerResult
	err := m.db.WithTx(ctx, func(tx *sql.Tx) error {
		existing, err := m.db.FindOpenAlertForUpdate(ctx, tx, input.DeviceID, input.RuleID, input.Parameter)
		if errors.Is(err, database.ErrNotFound) {
			return m.createAlert(ctx, tx, input, &result)
		}
		if err != nil {
			return err
		}
		return m.updateAlert(ctx, tx, existing, input, &result)
	})
	return result, err
}

func (m *Manager) createAlert(ctx context.Context, tx *sql.Tx, input TriggerInput, result *TriggerResult) error {
	now := m.now().UTC()
	alert := &database.Alert{
		AlertID:         uuid.NewString(),
		ClientID:        input.ClientID,
		DeviceID:        input.DeviceID,
		RuleID:          input.RuleID,
		Parameter:       input.Parameter,
		Severity:        string(input.Severity),
		Status:          string(StatusTriggered),
		CurrentValue:    input.CurrentValue,
		Threshold:       input.Threshold,
		Context:         input.Context,
		OpenedAt:        now,
		LastTriggeredAt: now,
	}
	if err := m.db.InsertAlert(ctx, tx, alert); err != nil {
		return err
	}

	event, err := m.appendEvent(ctx, tx, alert, EventTypeCreated, nil, map[string]string{
		"severity":  alert.Severity,
		"threshold": formatFloat(alert.Threshold),
		"value":     formatFloat(alert.CurrentValue),
	})
	if err != nil {
		return err
	}

	// A notification always accompanies creation.
	if err := m.enqueueNotification(ctx, tx, alert, event, ChannelCreated); err != nil {
		return err
	}

	result.AlertID = alert.AlertID
	result.Created = true
	m.metrics.IncrementCustom(metrics.CounterAlertsOpened)
	slog.Info("Created alert",
		"alert_id", alert.AlertID,
		"device_id", alert.DeviceID,
		"severity", alert.Severity,
	)
	return nil
}

func (m *Manager) updateAlert(ctx context.Context, tx *sql.Tx, alert *database.Alert, input TriggerInput, result *TriggerResult) error {
	prevStatus := Status(alert.Status)
	prevSeverity := alert.Severity
	prevThreshold := alert.Threshold

	// The latest reading always overwrites bookkeeping fields, whether or
	// not any state transition occurs.
	alert.LastTriggeredAt = m.now().UTC()
	alert.CurrentValue = input.CurrentValue
	alert.Severity = string(input.Severity)
	alert.Threshold = input.Threshold
	alert.Context = input.Context

	// The operator stood down but the violation persists: force the alert
	// back to triggered and page again.
	reactivated := prevStatus == StatusSnoozed || prevStatus == StatusAcknowledged
	if reactivated {
		alert.Status = string(StatusTriggered)
		alert.SnoozedUntil = nil
	}

	severityChanged := prevSeverity != string(input.Severity)

	if err := m.db.UpdateAlert(ctx, tx, alert); err != nil {
		return err
	}

	if reactivated {
		event, err := m.appendEvent(ctx, tx, alert, EventTypeTriggered, nil, map[string]string{
			"reason":          "violation persists",
			"previous_status": string(prevStatus),
		})
		if err != nil {
			return err
		}
		if err := m.enqueueNotification(ctx, tx, alert, event, ChannelRetriggered); err != nil {
			return err
		}
		m.metrics.IncrementCustom(metrics.CounterAlertsRetriggered)
	}

	if severityChanged {
		event, err := m.appendEvent(ctx, tx, alert, EventTypeUpdated, nil, map[string]string{
			"old_severity":  prevSeverity,
			"new_severity":  alert.Severity,
			"old_threshold": formatFloat(prevThreshold),
			"new_threshold": formatFloat(input.Threshold),
		})
		if err != nil {
			return err
		}
		// Only an amber→red escalation re-pages; an improvement or a
		// same-severity refresh never fires a second notification.
		if prevSeverity == string(evaluator.SeverityAmber) && input.Severity == evaluator.SeverityRed {
			if err := m.enqueueNotification(ctx, tx, alert, event, ChannelEscalated); err != nil {
				return err
			}
			m.metrics.IncrementCustom(metrics.CounterAlertsEscalated)
		}
	}

	result.AlertID = alert.AlertID
	result.SeverityChanged = severityChanged
	slog.Debug("Updated alert on trigger",
		"alert_id", alert.AlertID,
		"device_id", alert.DeviceID,
		"severity", alert.Severity,
		"reactivated", reactivated,
		"severity_changed", severityChanged,
	)
	return nil
}

// Acknowledge records an operator taking ownership of an alert.
func (m *Manager) Acknowledge(ctx context.Context, alertID, userID string) error {
	return m.db.WithTx(ctx, func(tx *sql.Tx) error {
		alert, err := m.db.GetAlertForUpdate(ctx, tx, alertID)
		if err != nil {
			return err
		}
		if err := AssertTransition(Status(alert.Status), StatusAcknowledged); err != nil {
			return err
		}

		now := m.now().UTC()
		alert.Status = string(StatusAcknowledged)
		alert.AcknowledgedAt = &now
		alert.AcknowledgedBy = &userID
		if err := m.db.UpdateAlert(ctx, tx, alert); err != nil {
			return err
		}

		_, err = m.appendEvent(ctx, tx, alert, EventTypeAcknowledged, &userID, nil)
		return err
	})
}

// Snooze suppresses an acknowledged alert until the given time, which must
// be in the future.
func (m *Manager) Snooze(ctx context.Context, alertID, userID string, until time.Time) error {
	if !until.After(m.now()) {
		return fmt.Errorf("snooze time must be in the future: %w", ErrInvalidInput)
	}

	return m.db.WithTx(ctx, func(tx *sql.Tx) error {
		alert, err := m.db.GetAlertForUpdate(ctx, tx, alertID)
		if err != nil {
			return err
		}
		if err := AssertTransition(Status(alert.Status), StatusSnoozed); err != nil {
			return err
		}

		untilUTC := until.UTC()
		alert.Status = string(StatusSnoozed)
		alert.SnoozedUntil = &untilUTC
		if err := m.db.UpdateAlert(ctx, tx, alert); err != nil {
			return err
		}

		_, err = m.appendEvent(ctx, tx, alert, EventTypeSnoozed, &userID, map[string]string{
			"snoozed_until": untilUTC.Format(time.RFC3339),
		})
		return err
	})
}

// Resolve terminally closes an alert on an operator's say-so.
func (m *Manager) Resolve(ctx context.Context, alertID, userID string) error {
	return m.db.WithTx(ctx, func(tx *sql.Tx) error {
		alert, err := m.db.GetAlertForUpdate(ctx, tx, alertID)
		if err != nil {
			return err
		}
		if err := AssertTransition(Status(alert.Status), StatusResolved); err != nil {
			return err
		}

		now := m.now().UTC()
		alert.Status = string(StatusResolved)
		alert.ResolvedAt = &now
		if err := m.db.UpdateAlert(ctx, tx, alert); err != nil {
			return err
		}

		_, err = m.appendEvent(ctx, tx, alert, EventTypeResolved, &userID, nil)
		return err
	})
}

// AutoResolve terminally closes an alert when its condition stops
// breaching. Idempotent: callers invoke it speculatively on every healthy
// evaluation, so an already-terminal alert is a silent no-op with no
// duplicate event.
func (m *Manager) AutoResolve(ctx context.Context, alertID string) error {
	return m.db.WithTx(ctx, func(tx *sql.Tx) error {
		alert, err := m.db.GetAlertForUpdate(ctx, tx, alertID)
		if err != nil {
			return err
		}
		if Status(alert.Status).IsTerminal() {
			return nil
		}
		if err := AssertTransition(Status(alert.Status), StatusAutoResolved); err != nil {
			return err
		}

		now := m.now().UTC()
		alert.Status = string(StatusAutoResolved)
		alert.ResolvedAt = &now
		if err := m.db.UpdateAlert(ctx, tx, alert); err != nil {
			return err
		}

		if _, err := m.appendEvent(ctx, tx, alert, EventTypeAutoResolved, nil, nil); err != nil {
			return err
		}

		m.metrics.IncrementCustom(metrics.CounterAlertsAutoResolved)
		slog.Info("Auto-resolved alert",
			"alert_id", alert.AlertID,
			"device_id", alert.DeviceID,
		)
		return nil
	})
}

// ExpireSnoozeIfNeeded forces a snoozed alert back to triggered once its
// snooze window has elapsed. Returns false without touching the alert when
// it is not snoozed or the window is still open.
func (m *Manager) ExpireSnoozeIfNeeded(ctx context.Context, alertID string) (bool, error) {
	var expired bool
	err := m.db.WithTx(ctx, func(tx *sql.Tx) error {
		alert, err := m.db.GetAlertForUpdate(ctx, tx, alertID)
		if err != nil {
			return err
		}
		if Status(alert.Status) != StatusSnoozed {
			return nil
		}
		if alert.SnoozedUntil == nil || alert.SnoozedUntil.After(m.now()) {
			return nil
		}
		if err := AssertTransition(StatusSnoozed, StatusTriggered); err != nil {
			return err
		}

		alert.Status = string(StatusTriggered)
		alert.SnoozedUntil = nil
		if err := m.db.UpdateAlert(ctx, tx, alert); err != nil {
			return err
		}

		if _, err := m.appendEvent(ctx, tx, alert, EventTypeTriggered, nil, map[string]string{
			"reason": "snooze expired",
		}); err != nil {
			return err
		}

		expired = true
		m.metrics.IncrementCustom(metrics.CounterSnoozesExpired)
		return nil
	})
	return expired, err
}

// MarkNotified moves a triggered alert to notified after its creation
// notification is delivered. Delivery is asynchronous, so an alert that
// has already moved on is a benign no-op rather than an error.
func (m *Manager) MarkNotified(ctx context.Context, alertID string) error {
	return m.db.WithTx(ctx, func(tx *sql.Tx) error {
		alert, err := m.db.GetAlertForUpdate(ctx, tx, alertID)
		if err != nil {
			return err
		}
		if Status(alert.Status) != StatusTriggered {
			slog.Debug("Alert no longer triggered, skipping notified transition",
				"alert_id", alertID,
				"status", alert.Status,
			)
			return nil
		}
		if err := AssertTransition(StatusTriggered, StatusNotified); err != nil {
			return err
		}

		alert.Status = string(StatusNotified)
		if err := m.db.UpdateAlert(ctx, tx, alert); err != nil {
			return err
		}

		_, err = m.appendEvent(ctx, tx, alert, EventTypeNotified, nil, nil)
		return err
	})
}

// FindOpenAlert returns the open alert for the dedupe scope, or nil when
// none exists.
func (m *Manager) FindOpenAlert(ctx context.Context, deviceID string, ruleID, parameter *string) (*database.Alert, error) {
	alert, err := m.db.FindOpenAlert(ctx, deviceID, ruleID, parameter)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return alert, nil
}

// ListExpiredSnoozes exposes the store's sweep query for the periodic
// snooze-expiry pass.
func (m *Manager) ListExpiredSnoozes(ctx context.Context, limit int) ([]string, error) {
	return m.db.ListExpiredSnoozes(ctx, m.now().UTC(), limit)
}

func (m *Manager) appendEvent(ctx context.Context, tx *sql.Tx, alert *database.Alert, eventType string, actor *string, metadata map[string]string) (*database.AlertEvent, error) {
	event := &database.AlertEvent{
		EventID:     uuid.NewString(),
		AlertID:     alert.AlertID,
		ClientID:    alert.ClientID,
		EventType:   eventType,
		ActorUserID: actor,
		Metadata:    metadata,
	}
	if err := m.db.InsertAlertEvent(ctx, tx, event); err != nil {
		return nil, err
	}
	return event, nil
}

// notificationPayload is the delivery-agnostic body stored with each
// outbox item.
type notificationPayload struct {
	AlertID      string  `json:"alert_id"`
	ClientID     string  `json:"client_id"`
	DeviceID     string  `json:"device_id"`
	RuleID       *string `json:"rule_id,omitempty"`
	Parameter    *string `json:"parameter,omitempty"`
	Severity     string  `json:"severity"`
	CurrentValue float64 `json:"current_value"`
	Threshold    float64 `json:"threshold"`
	Reason       string  `json:"reason"`
	EventTS      int64   `json:"event_ts"`
}

func (m *Manager) enqueueNotification(ctx context.Context, tx *sql.Tx, alert *database.Alert, event *database.AlertEvent, channel string) error {
	payload, err := json.Marshal(notificationPayload{
		AlertID:      alert.AlertID,
		ClientID:     alert.ClientID,
		DeviceID:     alert.DeviceID,
		RuleID:       alert.RuleID,
		Parameter:    alert.Parameter,
		Severity:     alert.Severity,
		CurrentValue: alert.CurrentValue,
		Threshold:    alert.Threshold,
		Reason:       channel,
		EventTS:      m.now().UTC().Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal notification payload: %w", err)
	}

	_, err = m.outbox.Enqueue(ctx, tx, outbox.EnqueueParams{
		ClientID:       alert.ClientID,
		AlertID:        alert.AlertID,
		Channel:        channel,
		Payload:        payload,
		IdempotencyKey: alert.AlertID + ":" + event.EventID,
	})
	return err
}

func formatFloat(f float64) string {
	return fmt.Sprintf("%g", f)
}
