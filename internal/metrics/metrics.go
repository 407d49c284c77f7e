// Package metrics provides service metrics collection and reporting.
// Counters are written to Redis periodically for centralized access.
package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// MetricsKeyPrefix is the Redis key prefix for service metrics.
	MetricsKeyPrefix = "metrics:"
	// MetricsTTL is how long metrics stay in Redis if not refreshed.
	MetricsTTL = 2 * time.Minute
	// DefaultReportInterval is the default interval for writing metrics to Redis.
	DefaultReportInterval = 30 * time.Second
)

// Custom counter names recorded by the alerting core.
const (
	CounterAlertsOpened        = "alerts_opened"
	CounterAlertsRetriggered   = "alerts_retriggered"
	CounterAlertsEscalated     = "alerts_escalated"
	CounterAlertsAutoResolved  = "alerts_auto_resolved"
	CounterSnoozesExpired      = "snoozes_expired"
	CounterOutboxEnqueued      = "outbox_enqueued"
	CounterOutboxDelivered     = "outbox_delivered"
	CounterOutboxRetried       = "outbox_retried"
	CounterOutboxFailedForever = "outbox_failed_forever"
)

// Recorder is the injectable metrics interface components depend on, so
// the core stays testable without Redis.
type Recorder interface {
	RecordReceived()
	RecordProcessed(latency time.Duration)
	RecordPublished()
	RecordError()
	IncrementCustom(name string)
}

// Noop is a Recorder that discards everything. Used in tests.
type Noop struct{}

func (Noop) RecordReceived()               {}
func (Noop) RecordProcessed(time.Duration) {}
func (Noop) RecordPublished()              {}
func (Noop) RecordError()                  {}
func (Noop) IncrementCustom(string)        {}

// ServiceMetrics holds metrics for a single service.
type ServiceMetrics struct {
	ServiceName string    `json:"service_name"`
	StartedAt   time.Time `json:"started_at"`
	LastUpdated time.Time `json:"last_updated"`
	Status      string    `json:"status"` // "healthy" or "unhealthy"

	// Counters (monotonically increasing since start)
	MessagesReceived  uint64 `json:"messages_received"`
	MessagesProcessed uint64 `json:"messages_processed"`
	MessagesPublished uint64 `json:"messages_published"`
	ProcessingErrors  uint64 `json:"processing_errors"`

	// Rates (per report interval)
	MessagesPerSecond float64 `json:"messages_per_second"`

	// Latencies (averages in nanoseconds)
	AvgProcessingLatencyNs float64 `json:"avg_processing_latency_ns"`

	// Service-specific counters (flexible map)
	CustomCounters map[string]uint64 `json:"custom_counters,omitempty"`
}

// Collector collects and reports metrics for a service.
type Collector struct {
	serviceName    string
	redis          *redis.Client
	startedAt      time.Time
	reportInterval time.Duration

	// Atomic counters
	messagesReceived  atomic.Uint64
	messagesProcessed atomic.Uint64
	messagesPublished atomic.Uint64
	processingErrors  atomic.Uint64

	// For rate calculation
	lastReportTime     time.Time
	lastProcessedCount uint64

	// Latency tracking
	totalLatencyNs atomic.Uint64
	latencyCount   atomic.Uint64

	// Custom counters
	customMu       sync.RWMutex
	customCounters map[string]*atomic.Uint64

	// Stop channel
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewCollector creates a new metrics collector for a service.
func NewCollector(serviceName string, redisClient *redis.Client) *Collector {
	return &Collector{
		serviceName:    serviceName,
		redis:          redisClient,
		startedAt:      time.Now().UTC(),
		reportInterval: DefaultReportInterval,
		lastReportTime: time.Now().UTC(),
		customCounters: make(map[string]*atomic.Uint64),
		stopCh:         make(chan struct{}),
	}
}

// SetReportInterval sets the interval for writing metrics to Redis.
func (c *Collector) SetReportInterval(interval time.Duration) {
	c.reportInterval = interval
}

// Start begins the periodic metrics reporting to Redis.
func (c *Collector) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.reportInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				c.writeMetrics(context.Background()) // Final write
				return
			case <-c.stopCh:
				c.writeMetrics(context.Background()) // Final write
				return
			case <-ticker.C:
				c.writeMetrics(ctx)
			}
		}
	}()
}

// Stop stops the metrics reporting.
func (c *Collector) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

// RecordReceived increments the messages received counter.
func (c *Collector) RecordReceived() {
	c.messagesReceived.Add(1)
}

// RecordProcessed increments the messages processed counter with latency.
func (c *Collector) RecordProcessed(latency time.Duration) {
	c.messagesProcessed.Add(1)
	c.totalLatencyNs.Add(uint64(latency.Nanoseconds()))
	c.latencyCount.Add(1)
}

// RecordPublished increments the messages published counter.
func (c *Collector) RecordPublished() {
	c.messagesPublished.Add(1)
}

// RecordError increments the processing errors counter.
func (c *Collector) RecordError() {
	c.processingErrors.Add(1)
}

// IncrementCustom increments a custom counter by name.
func (c *Collector) IncrementCustom(name string) {
	c.customMu.RLock()
	counter, exists := c.customCounters[name]
	c.customMu.RUnlock()

	if !exists {
		c.customMu.Lock()
		// Double-check after acquiring write lock
		if counter, exists = c.customCounters[name]; !exists {
			counter = &atomic.Uint64{}
			c.customCounters[name] = counter
		}
		c.customMu.Unlock()
	}
	counter.Add(1)
}

// GetSnapshot returns current metrics without writing to Redis.
func (c *Collector) GetSnapshot() *ServiceMetrics {
	now := time.Now().UTC()
	processed := c.messagesProcessed.Load()

	// Calculate rate
	elapsed := now.Sub(c.lastReportTime).Seconds()
	var rate float64
	if elapsed > 0 {
		rate = float64(processed-c.lastProcessedCount) / elapsed
	}

	// Calculate average latency in nanoseconds
	var avgLatencyNs float64
	latencyCount := c.latencyCount.Load()
	if latencyCount > 0 {
		avgLatencyNs = float64(c.totalLatencyNs.Load()) / float64(latencyCount)
	}

	// Build custom counters map
	c.customMu.RLock()
	customCounters := make(map[string]uint64, len(c.customCounters))
	for name, counter := range c.customCounters {
		customCounters[name] = counter.Load()
	}
	c.customMu.RUnlock()

	return &ServiceMetrics{
		ServiceName:            c.serviceName,
		StartedAt:              c.startedAt,
		LastUpdated:            now,
		Status:                 "healthy",
		MessagesReceived:       c.messagesReceived.Load(),
		MessagesProcessed:      processed,
		MessagesPublished:      c.messagesPublished.Load(),
		ProcessingErrors:       c.processingErrors.Load(),
		MessagesPerSecond:      rate,
		AvgProcessingLatencyNs: avgLatencyNs,
		CustomCounters:         customCounters,
	}
}

// writeMetrics writes current metrics to Redis.
func (c *Collector) writeMetrics(ctx context.Context) {
	if c.redis == nil {
		return
	}

	snapshot := c.GetSnapshot()

	// Update rate calculation state
	c.lastReportTime = snapshot.LastUpdated
	c.lastProcessedCount = snapshot.MessagesProcessed

	data, err := json.Marshal(snapshot)
	if err != nil {
		slog.Error("Failed to marshal metrics", "service", c.serviceName, "error", err)
		return
	}

	key := MetricsKeyPrefix + c.serviceName
	if err := c.redis.Set(ctx, key, data, MetricsTTL).Err(); err != nil {
		slog.Error("Failed to write metrics to Redis", "service", c.serviceName, "error", err)
		return
	}

	slog.Debug("Metrics written to Redis", "service", c.serviceName, "key", key)
}

// GetEnvOrDefault returns the environment variable value or a default if not set.
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// MaskDSN masks sensitive information in a DSN for logging.
func MaskDSN(dsn string) string {
	if len(dsn) > 50 {
		return dsn[:20] + "***" + dsn[len(dsn)-20:]
	}
	return "***"
}

// ConnectRedis creates and validates a Redis connection.
func ConnectRedis(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	return client, nil
}
