package main

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"sentinel/internal/battery"
	"sentinel/internal/config"
	"sentinel/internal/consumer"
	"sentinel/internal/database"
	"sentinel/internal/evaluator"
	"sentinel/internal/events"
	"sentinel/internal/lifecycle"
	"sentinel/internal/metrics"
)

// work represents a unit of work for the worker pool.
type work struct {
	sample *events.TelemetrySample
	msg    *kafka.Message
}

// processorDeps holds all dependencies needed for sample processing.
type processorDeps struct {
	consumer *consumer.Consumer
	db       *database.DB
	manager  *lifecycle.Manager
	battery  *battery.Adapter
	metrics  metrics.Recorder
	window   time.Duration
}

// processSamples reads telemetry samples from Kafka and evaluates them
// concurrently. Devices partition the topic, so samples for one device stay
// in order within a partition while distinct devices evaluate in parallel.
func processSamples(ctx context.Context, cfg *config.EvaluatorConfig, kafkaConsumer *consumer.Consumer, db *database.DB, manager *lifecycle.Manager, batteryAdapter *battery.Adapter, m metrics.Recorder) error {
	slog.Info("Starting sample processing loop", "workers", cfg.WorkerCount)

	deps := &processorDeps{
		consumer: kafkaConsumer,
		db:       db,
		manager:  manager,
		battery:  batteryAdapter,
		metrics:  m,
		window:   cfg.EvaluationWindow,
	}

	jobs := make(chan work, cfg.WorkerCount*2)
	var wg sync.WaitGroup

	// Start worker goroutines
	for i := 0; i < cfg.WorkerCount; i++ {
		wg.Add(1)
		go runWorker(ctx, deps, jobs, &wg)
	}

	// Read messages and dispatch to workers
	dispatchMessages(ctx, deps, jobs)

	close(jobs)
	wg.Wait()
	slog.Info("Sample processing loop stopped")
	return nil
}

// runWorker processes jobs from the channel until it's closed.
func runWorker(ctx context.Context, deps *processorDeps, jobs <-chan work, wg *sync.WaitGroup) {
	defer wg.Done()
	for job := range jobs {
		processOne(ctx, deps, job.sample, job.msg)
	}
}

// dispatchMessages reads messages from Kafka and dispatches them to workers.
func dispatchMessages(ctx context.Context, deps *processorDeps, jobs chan<- work) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			sample, msg, err := deps.consumer.ReadSample(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Error("Failed to read telemetry sample", "error", err)
				// A poison message is committed, not replayed forever.
				if msg != nil {
					commitOffset(ctx, deps.consumer, msg)
				}
				deps.metrics.RecordError()
				continue
			}
			deps.metrics.RecordReceived()
			jobs <- work{sample: sample, msg: msg}
		}
	}
}

// processOne handles a single sample: persist, evaluate every rule for the
// device, drive the lifecycle, run the battery adapter, commit.
func processOne(ctx context.Context, deps *processorDeps, sample *events.TelemetrySample, msg *kafka.Message) {
	startTime := time.Now()

	// Deterministic sample ID: a redelivered message lands on the primary
	// key instead of duplicating the row.
	sampleID := uuid.NewSHA1(uuid.NameSpaceOID,
		[]byte(sample.DeviceID+"/"+strconv.FormatInt(sample.OccurredAt, 10)))

	if err := deps.db.InsertSample(ctx, &database.TelemetrySample{
		SampleID:   sampleID.String(),
		ClientID:   sample.ClientID,
		DeviceID:   sample.DeviceID,
		OccurredAt: sample.OccurredAtTime(),
		Values:     sample.Values,
	}); err != nil {
		logAndRecordError(deps.metrics, "Failed to persist telemetry sample",
			"device_id", sample.DeviceID, "error", err)
		// Not committed: the sample will be redelivered.
		return
	}

	if err := evaluateDevice(ctx, deps, sample); err != nil {
		logAndRecordError(deps.metrics, "Failed to evaluate device",
			"device_id", sample.DeviceID, "error", err)
		return
	}

	if reading, ok := sample.Values[battery.Parameter]; ok {
		if err := deps.battery.Process(ctx, sample.ClientID, sample.DeviceID, &reading); err != nil {
			logAndRecordError(deps.metrics, "Failed to process battery reading",
				"device_id", sample.DeviceID, "error", err)
			return
		}
	}

	deps.metrics.RecordProcessed(time.Since(startTime))
	commitOffset(ctx, deps.consumer, msg)
}

// evaluateDevice runs every enabled rule for the device against its recent
// sample window, triggering on violations and speculatively auto-resolving
// on healthy verdicts.
func evaluateDevice(ctx context.Context, deps *processorDeps, sample *events.TelemetrySample) error {
	rules, err := deps.db.EnabledRulesForDevice(ctx, sample.DeviceID)
	if err != nil {
		return err
	}
	if len(rules) == 0 {
		return nil
	}

	now := time.Now().UTC()
	stored, err := deps.db.RecentSamples(ctx, sample.DeviceID, now.Add(-deps.window))
	if err != nil {
		return err
	}
	series := toEvalSamples(stored)

	for _, rule := range rules {
		verdict := evaluator.Evaluate(toEvalRule(rule), series, now)
		if verdict.Severity == evaluator.SeverityGreen {
			ruleID := rule.RuleID
			open, err := deps.manager.FindOpenAlert(ctx, sample.DeviceID, &ruleID, nil)
			if err != nil {
				return err
			}
			if open != nil {
				if err := deps.manager.AutoResolve(ctx, open.AlertID); err != nil {
					return err
				}
			}
			continue
		}

		ruleID := rule.RuleID
		result, err := deps.manager.Trigger(ctx, lifecycle.TriggerInput{
			ClientID:     rule.ClientID,
			DeviceID:     sample.DeviceID,
			RuleID:       &ruleID,
			Severity:     verdict.Severity,
			CurrentValue: verdict.LatestValue,
			Threshold:    rule.Threshold,
			Context: map[string]string{
				"parameter":               rule.Parameter,
				"operator":                rule.Operator,
				"breach_duration_seconds": formatSeconds(verdict.BreachDuration),
				"since":                   verdict.Since.Format(time.RFC3339),
			},
		})
		if err != nil {
			return err
		}
		if result.Created || result.SeverityChanged {
			slog.Info("Rule violation recorded",
				"device_id", sample.DeviceID,
				"rule_id", rule.RuleID,
				"severity", verdict.Severity,
				"created", result.Created,
				"severity_changed", result.SeverityChanged,
			)
		}
	}
	return nil
}

func toEvalRule(rule *database.Rule) evaluator.Rule {
	return evaluator.Rule{
		Parameter:      rule.Parameter,
		Operator:       evaluator.Operator(rule.Operator),
		Threshold:      rule.Threshold,
		RequiredBreach: time.Duration(rule.RequiredBreachSeconds) * time.Second,
		MaxSampleGap:   time.Duration(rule.MaxSampleGapSeconds) * time.Second,
		Staleness:      time.Duration(rule.StalenessSeconds) * time.Second,
	}
}

func toEvalSamples(stored []*database.TelemetrySample) []evaluator.Sample {
	series := make([]evaluator.Sample, 0, len(stored))
	for _, s := range stored {
		series = append(series, evaluator.Sample{
			OccurredAt: s.OccurredAt,
			Values:     s.Values,
		})
	}
	return series
}

func formatSeconds(d time.Duration) string {
	return strconv.Itoa(int(d.Seconds()))
}

// commitOffset commits the Kafka offset for the given message.
func commitOffset(ctx context.Context, c *consumer.Consumer, msg *kafka.Message) {
	if err := c.CommitMessage(ctx, msg); err != nil {
		slog.Error("Failed to commit offset", "error", err)
	}
}

// logAndRecordError logs an error and records it in metrics.
func logAndRecordError(m metrics.Recorder, msg string, args ...any) {
	slog.Error(msg, args...)
	m.RecordError()
}
