// Package battery is a fixed-threshold low-battery detector layered on the
// alert lifecycle. It never touches the state machine directly; it only
// calls the lifecycle's trigger and auto-resolve primitives.
package battery

import (
	"context"
	"fmt"
	"log/slog"

	"sentinel/internal/database"
	"sentinel/internal/evaluator"
	"sentinel/internal/lifecycle"
)

// Parameter is the synthetic alert scope for battery alerts (rule_id stays
// null).
const Parameter = "battery"

// Fixed thresholds, in percent.
const (
	ThresholdAmber = 25.0
	ThresholdRed   = 10.0
)

// Lifecycle is the slice of the lifecycle manager the adapter depends on.
type Lifecycle interface {
	Trigger(ctx context.Context, input lifecycle.TriggerInput) (lifecycle.TriggerResult, error)
	AutoResolve(ctx context.Context, alertID string) error
	FindOpenAlert(ctx context.Context, deviceID string, ruleID, parameter *string) (*database.Alert, error)
}

// Adapter evaluates battery readings against the fixed thresholds.
type Adapter struct {
	lifecycle Lifecycle
}

// NewAdapter creates a battery adapter on top of a lifecycle manager.
func NewAdapter(lc Lifecycle) *Adapter {
	return &Adapter{lifecycle: lc}
}

// Process handles one battery percentage reading for a device. A nil
// reading is no signal and never a breach or a resolution. Below 25% the
// device's battery alert is triggered (red below 10%), with the threshold
// recorded as the one just crossed; at or above 25% any open battery alert
// is auto-resolved.
func (a *Adapter) Process(ctx context.Context, clientID, deviceID string, pct *float64) error {
	if pct == nil {
		return nil
	}

	param := Parameter

	if *pct < ThresholdAmber {
		severity := evaluator.SeverityAmber
		threshold := ThresholdAmber
		if *pct < ThresholdRed {
			severity = evaluator.SeverityRed
			threshold = ThresholdRed
		}

		result, err := a.lifecycle.Trigger(ctx, lifecycle.TriggerInput{
			ClientID:     clientID,
			DeviceID:     deviceID,
			Parameter:    &param,
			Severity:     severity,
			CurrentValue: *pct,
			Threshold:    threshold,
			Context: map[string]string{
				"parameter": Parameter,
				"reading":   fmt.Sprintf("%g", *pct),
			},
		})
		if err != nil {
			return fmt.Errorf("failed to trigger battery alert: %w", err)
		}
		if result.Created {
			slog.Info("Opened battery alert",
				"device_id", deviceID,
				"severity", severity,
				"reading", *pct,
			)
		}
		return nil
	}

	open, err := a.lifecycle.FindOpenAlert(ctx, deviceID, nil, &param)
	if err != nil {
		return fmt.Errorf("failed to look up open battery alert: %w", err)
	}
	if open == nil {
		return nil
	}
	if err := a.lifecycle.AutoResolve(ctx, open.AlertID); err != nil {
		return fmt.Errorf("failed to auto-resolve battery alert: %w", err)
	}
	slog.Info("Battery recovered, auto-resolved alert",
		"device_id", deviceID,
		"alert_id", open.AlertID,
		"reading", *pct,
	)
	return nil
}

// PercentFromRaw converts a device-specific raw battery reading to a
// percentage via linear interpolation between the device's raw bounds,
// clamped to [0,100]. Degenerate bounds yield 0.
func PercentFromRaw(raw, rawMin, rawMax float64) float64 {
	if rawMax <= rawMin {
		return 0
	}
	pct := (raw - rawMin) / (rawMax - rawMin) * 100
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
