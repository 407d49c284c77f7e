package database

import (
	"context"
	"database/sql"
	"fmt"
)

// InsertAlertEvent appends one immutable audit record inside tx. Events are
// never updated or deleted.
func (db *DB) InsertAlertEvent(ctx context.Context, tx *sql.Tx, event *AlertEvent) error {
	metadataJSON, err := marshalJSONMap(event.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO alert_events (event_id, alert_id, client_id, event_type, actor_user_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = tx.ExecContext(ctx, query,
		event.EventID,
		event.AlertID,
		event.ClientID,
		event.EventType,
		event.ActorUserID,
		metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert event: %w", err)
	}
	return nil
}
