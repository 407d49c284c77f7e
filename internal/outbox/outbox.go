// Package outbox implements the transactional notification outbox: intents
// to notify are committed in the same transaction as the alert change that
// caused them, then delivered out of band with retry and backoff.
package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"sentinel/internal/database"
	"sentinel/internal/metrics"
)

const (
	// MaxAttempts is the delivery attempt cap. An item that has been
	// claimed this many times without success fails permanently.
	MaxAttempts = 8

	initialBackoff = 30 * time.Second
	maxBackoff     = 30 * time.Minute
	maxJitter      = 5 * time.Second
)

// Outbox provides enqueue, claim, and completion primitives over the
// notification_outbox table. Enqueue runs inside the caller's transaction;
// everything else is owned by delivery workers.
type Outbox struct {
	db      *database.DB
	metrics metrics.Recorder
	now     func() time.Time
	jitter  func() time.Duration
}

// New creates an Outbox. recorder may be metrics.Noop{} in tests.
func New(db *database.DB, recorder metrics.Recorder) *Outbox {
	return &Outbox{
		db:      db,
		metrics: recorder,
		now:     time.Now,
		jitter: func() time.Duration {
			return time.Duration(rand.Int63n(int64(maxJitter)))
		},
	}
}

// EnqueueParams describes one notification work item.
type EnqueueParams struct {
	ClientID       string
	AlertID        string
	Channel        string
	Payload        json.RawMessage
	IdempotencyKey string
}

// Validate rejects incomplete enqueue requests before touching the store.
func (p *EnqueueParams) Validate() error {
	if p.ClientID == "" {
		return fmt.Errorf("client_id cannot be empty")
	}
	if p.AlertID == "" {
		return fmt.Errorf("alert_id cannot be empty")
	}
	if p.Channel == "" {
		return fmt.Errorf("channel cannot be empty")
	}
	if p.IdempotencyKey == "" {
		return fmt.Errorf("idempotency_key cannot be empty")
	}
	return nil
}

// Enqueue inserts a pending work item inside tx, which must be the same
// transaction as the alert/event mutation that caused it. When the
// idempotency key already exists the stored row is returned unchanged, so
// re-running a trigger cycle never duplicates a notification.
func (o *Outbox) Enqueue(ctx context.Context, tx *sql.Tx, params EnqueueParams) (*database.OutboxItem, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid enqueue params: %w", err)
	}

	now := o.now().UTC()
	item := &database.OutboxItem{
		ItemID:         uuid.NewString(),
		ClientID:       params.ClientID,
		AlertID:        params.AlertID,
		Channel:        params.Channel,
		Payload:        params.Payload,
		IdempotencyKey: params.IdempotencyKey,
		Status:         database.OutboxStatusPending,
		NextAttemptAt:  &now,
	}

	stored, err := o.db.InsertOutboxItem(ctx, tx, item)
	if err != nil {
		return nil, err
	}

	if stored.ItemID == item.ItemID {
		o.metrics.IncrementCustom(metrics.CounterOutboxEnqueued)
		slog.Debug("Enqueued notification",
			"item_id", stored.ItemID,
			"alert_id", stored.AlertID,
			"channel", stored.Channel,
		)
	} else {
		slog.Debug("Notification already enqueued, deduplicated",
			"item_id", stored.ItemID,
			"idempotency_key", stored.IdempotencyKey,
		)
	}
	return stored, nil
}

// ClaimNextBatch atomically claims up to limit due pending items for the
// calling worker, oldest-due first. The attempt count increments on claim,
// not on completion, so a worker crash mid-delivery still advances backoff.
func (o *Outbox) ClaimNextBatch(ctx context.Context, limit int) ([]*database.OutboxItem, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}
	return o.db.ClaimDueOutboxItems(ctx, o.now().UTC(), limit)
}

// MarkDelivered records terminal success for a claimed item.
func (o *Outbox) MarkDelivered(ctx context.Context, itemID string) error {
	if err := o.db.MarkOutboxDelivered(ctx, itemID, o.now().UTC()); err != nil {
		return err
	}
	o.metrics.IncrementCustom(metrics.CounterOutboxDelivered)
	return nil
}

// MarkFailed records a delivery failure. At or past the attempt cap the
// item fails permanently, which is an operational incident in its own
// right and is surfaced through metrics and the error log. Below the cap
// the item returns to pending with exponential backoff plus jitter.
func (o *Outbox) MarkFailed(ctx context.Context, itemID string, deliveryErr error, attemptCount int) error {
	message := "delivery failed"
	if deliveryErr != nil {
		message = deliveryErr.Error()
	}

	if attemptCount >= MaxAttempts {
		if err := o.db.MarkOutboxFailedTerminal(ctx, itemID, message); err != nil {
			return err
		}
		o.metrics.IncrementCustom(metrics.CounterOutboxFailedForever)
		slog.Error("Notification failed permanently, no further retries",
			"item_id", itemID,
			"attempts", attemptCount,
			"error", message,
		)
		return nil
	}

	next := o.NextAttemptAt(attemptCount)
	if err := o.db.ReturnOutboxPending(ctx, itemID, message, next); err != nil {
		return err
	}
	o.metrics.IncrementCustom(metrics.CounterOutboxRetried)
	slog.Warn("Notification delivery failed, scheduled retry",
		"item_id", itemID,
		"attempts", attemptCount,
		"next_attempt_at", next,
		"error", message,
	)
	return nil
}

// NextAttemptAt computes the retry schedule after attemptCount failed
// attempts: now + min(30s * 2^(n-1), 30min) plus up to 5s of jitter. The
// jitter keeps a burst of simultaneously-failing items from retrying in
// lockstep.
func (o *Outbox) NextAttemptAt(attemptCount int) time.Time {
	if attemptCount < 1 {
		attemptCount = 1
	}

	backoff := initialBackoff
	for i := 1; i < attemptCount; i++ {
		backoff *= 2
		if backoff >= maxBackoff {
			backoff = maxBackoff
			break
		}
	}

	return o.now().UTC().Add(backoff + o.jitter())
}
