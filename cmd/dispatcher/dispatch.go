package main

import (
	"context"
	"log/slog"
	"time"

	"sentinel/internal/config"
	"sentinel/internal/database"
	"sentinel/internal/events"
	"sentinel/internal/lifecycle"
	"sentinel/internal/metrics"
	"sentinel/internal/outbox"
	"sentinel/internal/producer"
)

// dispatchOutbox polls the outbox for due work, publishes each claimed item
// to the delivery topic, and acks or reschedules it. Publishing to the
// topic is this worker's delivery act; downstream transports consume from
// there, which is an accepted at-least-once handoff.
func dispatchOutbox(ctx context.Context, cfg *config.DispatcherConfig, ob *outbox.Outbox, manager *lifecycle.Manager, kafkaProducer *producer.Producer, m metrics.Recorder) error {
	slog.Info("Starting outbox dispatch loop")

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Outbox dispatch loop stopped")
			return nil
		case <-ticker.C:
			if err := dispatchBatch(ctx, cfg.BatchSize, ob, manager, kafkaProducer, m); err != nil {
				slog.Error("Failed to dispatch outbox batch", "error", err)
				m.RecordError()
			}
		}
	}
}

// dispatchBatch claims and processes one batch of due items.
func dispatchBatch(ctx context.Context, batchSize int, ob *outbox.Outbox, manager *lifecycle.Manager, kafkaProducer *producer.Producer, m metrics.Recorder) error {
	items, err := ob.ClaimNextBatch(ctx, batchSize)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	slog.Debug("Claimed outbox batch", "count", len(items))

	for _, item := range items {
		dispatchOne(ctx, item, ob, manager, kafkaProducer, m)
	}
	return nil
}

// dispatchOne publishes a single claimed item and records the outcome.
func dispatchOne(ctx context.Context, item *database.OutboxItem, ob *outbox.Outbox, manager *lifecycle.Manager, kafkaProducer *producer.Producer, m metrics.Recorder) {
	startTime := time.Now()
	m.RecordReceived()

	ready := &events.NotificationReady{
		ItemID:        item.ItemID,
		ClientID:      item.ClientID,
		AlertID:       item.AlertID,
		Channel:       item.Channel,
		SchemaVersion: 1,
		EventTS:       item.CreatedAt.Unix(),
		Payload:       item.Payload,
	}

	if err := kafkaProducer.Publish(ctx, ready); err != nil {
		if markErr := ob.MarkFailed(ctx, item.ItemID, err, item.AttemptCount); markErr != nil {
			slog.Error("Failed to record delivery failure",
				"item_id", item.ItemID,
				"error", markErr,
			)
		}
		m.RecordError()
		return
	}

	if err := ob.MarkDelivered(ctx, item.ItemID); err != nil {
		// The publish succeeded but the ack did not; the item will be
		// re-claimed and re-sent. Accepted at-least-once tradeoff.
		slog.Error("Failed to mark outbox item delivered",
			"item_id", item.ItemID,
			"error", err,
		)
		m.RecordError()
		return
	}

	// First successful delivery of a creation notification moves the
	// alert to notified.
	if item.Channel == lifecycle.ChannelCreated {
		if err := manager.MarkNotified(ctx, item.AlertID); err != nil {
			slog.Warn("Failed to mark alert notified",
				"alert_id", item.AlertID,
				"error", err,
			)
		}
	}

	m.RecordProcessed(time.Since(startTime))
	m.RecordPublished()
	slog.Info("Dispatched notification",
		"item_id", item.ItemID,
		"alert_id", item.AlertID,
		"channel", item.Channel,
		"attempt", item.AttemptCount,
	)
}
