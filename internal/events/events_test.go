package events

import (
	"encoding/json"
	"testing"
	"time"
)

func TestDecodeTelemetrySample(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr bool
	}{
		{
			name: "valid sample",
			data: `{"device_id":"dev-1","client_id":"client-1","schema_version":1,"occurred_at":1700000000,"values":{"temperature":21.5}}`,
		},
		{
			name:    "invalid json",
			data:    `{not json`,
			wantErr: true,
		},
		{
			name:    "missing device_id",
			data:    `{"client_id":"client-1","occurred_at":1700000000,"values":{"temperature":21.5}}`,
			wantErr: true,
		},
		{
			name:    "missing client_id",
			data:    `{"device_id":"dev-1","occurred_at":1700000000,"values":{"temperature":21.5}}`,
			wantErr: true,
		},
		{
			name:    "zero occurred_at",
			data:    `{"device_id":"dev-1","client_id":"client-1","occurred_at":0,"values":{"temperature":21.5}}`,
			wantErr: true,
		},
		{
			name:    "empty values",
			data:    `{"device_id":"dev-1","client_id":"client-1","occurred_at":1700000000,"values":{}}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sample, err := DecodeTelemetrySample([]byte(tt.data))
			if (err != nil) != tt.wantErr {
				t.Errorf("DecodeTelemetrySample() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && sample == nil {
				t.Error("DecodeTelemetrySample() returned nil sample without error")
			}
		})
	}
}

func TestTelemetrySample_OccurredAtTime(t *testing.T) {
	sample := &TelemetrySample{OccurredAt: 1700000000}
	got := sample.OccurredAtTime()
	want := time.Unix(1700000000, 0).UTC()
	if !got.Equal(want) {
		t.Errorf("OccurredAtTime() = %v, want %v", got, want)
	}
	if got.Location() != time.UTC {
		t.Errorf("OccurredAtTime() location = %v, want UTC", got.Location())
	}
}

func TestNotificationReady_RoundTrip(t *testing.T) {
	ready := &NotificationReady{
		ItemID:        "item-1",
		ClientID:      "client-1",
		AlertID:       "alert-1",
		Channel:       "created",
		SchemaVersion: 1,
		EventTS:       1700000000,
		Payload:       json.RawMessage(`{"severity":"red"}`),
	}
	data, err := json.Marshal(ready)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var decoded NotificationReady
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if decoded.ItemID != ready.ItemID || decoded.Channel != ready.Channel {
		t.Errorf("round trip mismatch: got %+v, want %+v", decoded, ready)
	}
}
