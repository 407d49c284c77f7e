package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrDuplicateAlert is returned by InsertAlert when another transaction won
// the race on the one-open-alert-per-scope index. Callers re-read and take
// the update branch instead of failing.
var ErrDuplicateAlert = errors.New("open alert already exists for scope")

const alertColumns = `
	alert_id, client_id, device_id, rule_id, parameter, severity, status,
	current_value, threshold, context, opened_at, last_triggered_at,
	acknowledged_at, acknowledged_by, snoozed_until, resolved_at,
	created_at, updated_at
`

// scanner abstracts *sql.Row and *sql.Rows for alert scanning.
type scanner interface {
	Scan(dest ...any) error
}

func scanAlert(row scanner) (*Alert, error) {
	var a Alert
	var contextJSON sql.NullString
	err := row.Scan(
		&a.AlertID,
		&a.ClientID,
		&a.DeviceID,
		&a.RuleID,
		&a.Parameter,
		&a.Severity,
		&a.Status,
		&a.CurrentValue,
		&a.Threshold,
		&contextJSON,
		&a.OpenedAt,
		&a.LastTriggeredAt,
		&a.AcknowledgedAt,
		&a.AcknowledgedBy,
		&a.SnoozedUntil,
		&a.ResolvedAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Context = unmarshalJSONMap(contextJSON, "alert_id", a.AlertID)
	return &a, nil
}

// openAlertScopeClause builds the WHERE fragment for the dedupe scope:
// (device_id, rule_id) for rule-driven alerts, (device_id, parameter) for
// synthetic ones.
func openAlertScopeClause(ruleID, parameter *string) (string, any) {
	if ruleID != nil {
		return "rule_id = $2", *ruleID
	}
	return "parameter = $2", *parameter
}

// FindOpenAlertForUpdate looks up the open alert for the dedupe scope and
// row-locks it for the duration of tx. Returns ErrNotFound when no open
// alert exists.
func (db *DB) FindOpenAlertForUpdate(ctx context.Context, tx *sql.Tx, deviceID string, ruleID, parameter *string) (*Alert, error) {
	scope, arg := openAlertScopeClause(ruleID, parameter)
	query := fmt.Sprintf(`
		SELECT %s
		FROM alerts
		WHERE device_id = $1 AND %s AND status NOT IN ('resolved', 'auto_resolved')
		FOR UPDATE
	`, alertColumns, scope)

	alert, err := scanAlert(tx.QueryRowContext(ctx, query, deviceID, arg))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("open alert for device %s: %w", deviceID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query open alert: %w", err)
	}
	return alert, nil
}

// FindOpenAlert is the read-only variant used outside transactions, e.g. by
// the battery adapter's resolution path.
func (db *DB) FindOpenAlert(ctx context.Context, deviceID string, ruleID, parameter *string) (*Alert, error) {
	scope, arg := openAlertScopeClause(ruleID, parameter)
	query := fmt.Sprintf(`
		SELECT %s
		FROM alerts
		WHERE device_id = $1 AND %s AND status NOT IN ('resolved', 'auto_resolved')
	`, alertColumns, scope)

	alert, err := scanAlert(db.conn.QueryRowContext(ctx, query, deviceID, arg))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("open alert for device %s: %w", deviceID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query open alert: %w", err)
	}
	return alert, nil
}

// GetAlertForUpdate loads an alert by ID and row-locks it for the duration
// of tx.
func (db *DB) GetAlertForUpdate(ctx context.Context, tx *sql.Tx, alertID string) (*Alert, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM alerts
		WHERE alert_id = $1
		FOR UPDATE
	`, alertColumns)

	alert, err := scanAlert(tx.QueryRowContext(ctx, query, alertID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("alert %s: %w", alertID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return alert, nil
}

// InsertAlert creates a new alert row inside tx. A unique violation on the
// open-alert index is reported as ErrDuplicateAlert.
func (db *DB) InsertAlert(ctx context.Context, tx *sql.Tx, alert *Alert) error {
	contextJSON, err := marshalJSONMap(alert.Context)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO alerts (
			alert_id, client_id, device_id, rule_id, parameter, severity, status,
			current_value, threshold, context, opened_at, last_triggered_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = tx.ExecContext(ctx, query,
		alert.AlertID,
		alert.ClientID,
		alert.DeviceID,
		alert.RuleID,
		alert.Parameter,
		alert.Severity,
		alert.Status,
		alert.CurrentValue,
		alert.Threshold,
		contextJSON,
		alert.OpenedAt,
		alert.LastTriggeredAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateAlert
		}
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

// UpdateAlert writes all mutable alert fields inside tx.
func (db *DB) UpdateAlert(ctx context.Context, tx *sql.Tx, alert *Alert) error {
	contextJSON, err := marshalJSONMap(alert.Context)
	if err != nil {
		return err
	}

	query := `
		UPDATE alerts
		SET severity = $2, status = $3, current_value = $4, threshold = $5,
		    context = $6, last_triggered_at = $7, acknowledged_at = $8,
		    acknowledged_by = $9, snoozed_until = $10, resolved_at = $11,
		    updated_at = NOW()
		WHERE alert_id = $1
	`
	result, err := tx.ExecContext(ctx, query,
		alert.AlertID,
		alert.Severity,
		alert.Status,
		alert.CurrentValue,
		alert.Threshold,
		contextJSON,
		alert.LastTriggeredAt,
		alert.AcknowledgedAt,
		alert.AcknowledgedBy,
		alert.SnoozedUntil,
		alert.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update alert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("alert %s: %w", alert.AlertID, ErrNotFound)
	}
	return nil
}

// ListExpiredSnoozes returns IDs of snoozed alerts whose snooze window has
// elapsed as of now, oldest window first.
func (db *DB) ListExpiredSnoozes(ctx context.Context, now time.Time, limit int) ([]string, error) {
	query := `
		SELECT alert_id
		FROM alerts
		WHERE status = 'snoozed' AND snoozed_until <= $1
		ORDER BY snoozed_until ASC
		LIMIT $2
	`
	rows, err := db.conn.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired snoozes: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan alert id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
