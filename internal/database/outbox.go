package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const outboxColumns = `
	item_id, client_id, alert_id, channel, payload, idempotency_key, status,
	attempt_count, next_attempt_at, last_error, delivered_at, created_at, updated_at
`

func scanOutboxItem(row scanner) (*OutboxItem, error) {
	var item OutboxItem
	var payload []byte
	err := row.Scan(
		&item.ItemID,
		&item.ClientID,
		&item.AlertID,
		&item.Channel,
		&payload,
		&item.IdempotencyKey,
		&item.Status,
		&item.AttemptCount,
		&item.NextAttemptAt,
		&item.LastError,
		&item.DeliveredAt,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	item.Payload = payload
	return &item, nil
}

// InsertOutboxItem inserts a work item inside tx, insert-if-absent on the
// idempotency key. When the key already exists the stored row is returned
// unchanged, so re-running a trigger cycle is safe.
func (db *DB) InsertOutboxItem(ctx context.Context, tx *sql.Tx, item *OutboxItem) (*OutboxItem, error) {
	query := fmt.Sprintf(`
		INSERT INTO notification_outbox (
			item_id, client_id, alert_id, channel, payload, idempotency_key,
			status, attempt_count, next_attempt_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending', 0, $7)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING %s
	`, outboxColumns)

	inserted, err := scanOutboxItem(tx.QueryRowContext(ctx, query,
		item.ItemID,
		item.ClientID,
		item.AlertID,
		item.Channel,
		[]byte(item.Payload),
		item.IdempotencyKey,
		item.NextAttemptAt,
	))
	if err == nil {
		return inserted, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to insert outbox item: %w", err)
	}

	// Conflict: another enqueue with the same key already committed.
	// Return the existing row as success-by-dedupe.
	existing, err := db.getOutboxItemByKeyTx(ctx, tx, item.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	return existing, nil
}

func (db *DB) getOutboxItemByKeyTx(ctx context.Context, tx *sql.Tx, idempotencyKey string) (*OutboxItem, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM notification_outbox
		WHERE idempotency_key = $1
	`, outboxColumns)

	item, err := scanOutboxItem(tx.QueryRowContext(ctx, query, idempotencyKey))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("outbox item with key %s: %w", idempotencyKey, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get outbox item by key: %w", err)
	}
	return item, nil
}

// ClaimDueOutboxItems atomically claims up to limit pending items that are
// due as of now, oldest-due first, incrementing attempt_count on claim.
// FOR UPDATE SKIP LOCKED lets concurrent workers partition the pending set
// without double-claiming a row.
func (db *DB) ClaimDueOutboxItems(ctx context.Context, now time.Time, limit int) ([]*OutboxItem, error) {
	query := fmt.Sprintf(`
		UPDATE notification_outbox
		SET status = 'claimed', attempt_count = attempt_count + 1, updated_at = NOW()
		WHERE item_id IN (
			SELECT item_id
			FROM notification_outbox
			WHERE status = 'pending' AND next_attempt_at <= $1
			ORDER BY next_attempt_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING %s
	`, outboxColumns)

	rows, err := db.conn.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim outbox items: %w", err)
	}
	defer rows.Close()

	var items []*OutboxItem
	for rows.Next() {
		item, err := scanOutboxItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outbox item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// MarkOutboxDelivered records terminal success for a claimed item.
func (db *DB) MarkOutboxDelivered(ctx context.Context, itemID string, deliveredAt time.Time) error {
	query := `
		UPDATE notification_outbox
		SET status = 'delivered', delivered_at = $2, next_attempt_at = NULL, updated_at = NOW()
		WHERE item_id = $1
	`
	return db.execOutboxUpdate(ctx, query, itemID, deliveredAt)
}

// MarkOutboxFailedTerminal records terminal failure for a claimed item. No
// further automatic retries happen after this.
func (db *DB) MarkOutboxFailedTerminal(ctx context.Context, itemID, lastError string) error {
	query := `
		UPDATE notification_outbox
		SET status = 'failed', last_error = $2, next_attempt_at = NULL, updated_at = NOW()
		WHERE item_id = $1
	`
	return db.execOutboxUpdate(ctx, query, itemID, lastError)
}

// ReturnOutboxPending puts a claimed item back in the pending set with a
// scheduled next attempt.
func (db *DB) ReturnOutboxPending(ctx context.Context, itemID, lastError string, nextAttemptAt time.Time) error {
	query := `
		UPDATE notification_outbox
		SET status = 'pending', last_error = $2, next_attempt_at = $3, updated_at = NOW()
		WHERE item_id = $1
	`
	return db.execOutboxUpdate(ctx, query, itemID, lastError, nextAttemptAt)
}

func (db *DB) execOutboxUpdate(ctx context.Context, query, itemID string, args ...any) error {
	result, err := db.conn.ExecContext(ctx, query, append([]any{itemID}, args...)...)
	if err != nil {
		return fmt.Errorf("failed to update outbox item: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("outbox item %s: %w", itemID, ErrNotFound)
	}
	return nil
}
