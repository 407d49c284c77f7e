package config

import (
	"strings"
	"testing"
	"time"
)

func validEvaluatorConfig() EvaluatorConfig {
	return EvaluatorConfig{
		KafkaBrokers:        "localhost:9092",
		TelemetryTopic:      "telemetry.samples",
		ConsumerGroupID:     "sentinel-group",
		PostgresDSN:         "postgres://localhost/sentinel",
		RedisAddr:           "localhost:6379",
		EvaluationWindow:    2 * time.Hour,
		SnoozeSweepInterval: time.Minute,
		WorkerCount:         10,
	}
}

func TestEvaluatorConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*EvaluatorConfig)
		wantErr string
	}{
		{name: "valid", mutate: func(c *EvaluatorConfig) {}},
		{
			name:    "missing brokers",
			mutate:  func(c *EvaluatorConfig) { c.KafkaBrokers = "" },
			wantErr: "kafka-brokers",
		},
		{
			name:    "missing topic",
			mutate:  func(c *EvaluatorConfig) { c.TelemetryTopic = "" },
			wantErr: "telemetry-topic",
		},
		{
			name:    "missing group",
			mutate:  func(c *EvaluatorConfig) { c.ConsumerGroupID = "" },
			wantErr: "consumer-group-id",
		},
		{
			name:    "missing dsn",
			mutate:  func(c *EvaluatorConfig) { c.PostgresDSN = "" },
			wantErr: "postgres-dsn",
		},
		{
			name:    "missing redis",
			mutate:  func(c *EvaluatorConfig) { c.RedisAddr = "" },
			wantErr: "redis-addr",
		},
		{
			name:    "zero window",
			mutate:  func(c *EvaluatorConfig) { c.EvaluationWindow = 0 },
			wantErr: "evaluation-window",
		},
		{
			name:    "negative sweep interval",
			mutate:  func(c *EvaluatorConfig) { c.SnoozeSweepInterval = -time.Second },
			wantErr: "snooze-sweep-interval",
		},
		{
			name:    "zero workers",
			mutate:  func(c *EvaluatorConfig) { c.WorkerCount = 0 },
			wantErr: "worker-count",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validEvaluatorConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func validDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		KafkaBrokers:  "localhost:9092",
		DeliveryTopic: "notifications.ready",
		PostgresDSN:   "postgres://localhost/sentinel",
		RedisAddr:     "localhost:6379",
		PollInterval:  5 * time.Second,
		BatchSize:     50,
	}
}

func TestDispatcherConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*DispatcherConfig)
		wantErr string
	}{
		{name: "valid", mutate: func(c *DispatcherConfig) {}},
		{
			name:    "missing brokers",
			mutate:  func(c *DispatcherConfig) { c.KafkaBrokers = "" },
			wantErr: "kafka-brokers",
		},
		{
			name:    "missing topic",
			mutate:  func(c *DispatcherConfig) { c.DeliveryTopic = "" },
			wantErr: "delivery-topic",
		},
		{
			name:    "missing dsn",
			mutate:  func(c *DispatcherConfig) { c.PostgresDSN = "" },
			wantErr: "postgres-dsn",
		},
		{
			name:    "missing redis",
			mutate:  func(c *DispatcherConfig) { c.RedisAddr = "" },
			wantErr: "redis-addr",
		},
		{
			name:    "zero poll interval",
			mutate:  func(c *DispatcherConfig) { c.PollInterval = 0 },
			wantErr: "poll-interval",
		},
		{
			name:    "zero batch size",
			mutate:  func(c *DispatcherConfig) { c.BatchSize = 0 },
			wantErr: "batch-size",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validDispatcherConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}
