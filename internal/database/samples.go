package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// InsertSample persists one normalized telemetry sample.
func (db *DB) InsertSample(ctx context.Context, sample *TelemetrySample) error {
	values, err := json.Marshal(sample.Values)
	if err != nil {
		return fmt.Errorf("failed to marshal sample values: %w", err)
	}

	query := `
		INSERT INTO telemetry_samples (sample_id, client_id, device_id, occurred_at, values_json)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err = db.conn.ExecContext(ctx, query,
		sample.SampleID,
		sample.ClientID,
		sample.DeviceID,
		sample.OccurredAt,
		string(values),
	)
	if err != nil {
		if isUniqueViolation(err) {
			// The ingestion layer already dedupes; a replayed message is
			// not an error.
			return nil
		}
		return fmt.Errorf("failed to insert telemetry sample: %w", err)
	}
	return nil
}

// RecentSamples retrieves the device's samples newer than since, newest
// first, as the evaluation window.
func (db *DB) RecentSamples(ctx context.Context, deviceID string, since time.Time) ([]*TelemetrySample, error) {
	query := `
		SELECT sample_id, client_id, device_id, occurred_at, values_json, created_at
		FROM telemetry_samples
		WHERE device_id = $1 AND occurred_at > $2
		ORDER BY occurred_at DESC
	`
	rows, err := db.conn.QueryContext(ctx, query, deviceID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query telemetry samples: %w", err)
	}
	defer rows.Close()

	var samples []*TelemetrySample
	for rows.Next() {
		var s TelemetrySample
		var valuesJSON string
		if err := rows.Scan(
			&s.SampleID,
			&s.ClientID,
			&s.DeviceID,
			&s.OccurredAt,
			&valuesJSON,
			&s.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan telemetry sample: %w", err)
		}
		if err := json.Unmarshal([]byte(valuesJSON), &s.Values); err != nil {
			return nil, fmt.Errorf("failed to unmarshal sample values: %w", err)
		}
		samples = append(samples, &s)
	}
	return samples, rows.Err()
}
