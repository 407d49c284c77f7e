package database

import (
	"context"
	"fmt"
)

// EnabledRulesForDevice retrieves all enabled rules scoped to the device,
// oldest first so evaluation order is stable.
func (db *DB) EnabledRulesForDevice(ctx context.Context, deviceID string) ([]*Rule, error) {
	query := `
		SELECT rule_id, client_id, device_id, parameter, operator, threshold,
		       required_breach_seconds, max_sample_gap_seconds, staleness_seconds,
		       enabled, created_at, updated_at
		FROM rules
		WHERE device_id = $1 AND enabled = TRUE
		ORDER BY created_at ASC
	`
	rows, err := db.conn.QueryContext(ctx, query, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var rules []*Rule
	for rows.Next() {
		var r Rule
		if err := rows.Scan(
			&r.RuleID,
			&r.ClientID,
			&r.DeviceID,
			&r.Parameter,
			&r.Operator,
			&r.Threshold,
			&r.RequiredBreachSeconds,
			&r.MaxSampleGapSeconds,
			&r.StalenessSeconds,
			&r.Enabled,
			&r.CreatedAt,
			&r.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, &r)
	}
	return rules, rows.Err()
}
