package evaluator

import (
	"testing"
	"time"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func sampleAt(offset time.Duration, values map[string]float64) Sample {
	return Sample{OccurredAt: t0.Add(offset), Values: values}
}

func TestSatisfies(t *testing.T) {
	tests := []struct {
		name      string
		op        Operator
		value     float64
		threshold float64
		want      bool
	}{
		{"gt above", OperatorGT, 10.1, 10, true},
		{"gt equal", OperatorGT, 10, 10, false},
		{"gte equal", OperatorGTE, 10, 10, true},
		{"gte below", OperatorGTE, 9.9, 10, false},
		{"lt below", OperatorLT, 9.9, 10, true},
		{"lt equal", OperatorLT, 10, 10, false},
		{"lte equal", OperatorLTE, 10, 10, true},
		{"lte above", OperatorLTE, 10.1, 10, false},
		{"unknown operator", Operator("eq"), 10, 10, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Satisfies(tt.op, tt.value, tt.threshold); got != tt.want {
				t.Errorf("Satisfies(%q, %v, %v) = %v, want %v", tt.op, tt.value, tt.threshold, got, tt.want)
			}
		})
	}
}

func TestEvaluate_ContinuousBreachRun(t *testing.T) {
	rule := Rule{
		Parameter:      "temperature",
		Operator:       OperatorGT,
		Threshold:      30,
		RequiredBreach: 90 * time.Second,
		MaxSampleGap:   900 * time.Second,
		Staleness:      time.Hour,
	}
	// Breaching samples at t=0, 60, 120, 180; supplied out of order on purpose.
	samples := []Sample{
		sampleAt(120*time.Second, map[string]float64{"temperature": 33}),
		sampleAt(0, map[string]float64{"temperature": 31}),
		sampleAt(180*time.Second, map[string]float64{"temperature": 34}),
		sampleAt(60*time.Second, map[string]float64{"temperature": 32}),
	}

	v := Evaluate(rule, samples, t0.Add(180*time.Second))
	if v.Severity != SeverityRed {
		t.Errorf("Severity = %v, want red", v.Severity)
	}
	if v.BreachDuration != 180*time.Second {
		t.Errorf("BreachDuration = %v, want 180s", v.BreachDuration)
	}
	if v.LatestValue != 34 {
		t.Errorf("LatestValue = %v, want 34", v.LatestValue)
	}
	if !v.Since.Equal(t0) {
		t.Errorf("Since = %v, want %v", v.Since, t0)
	}
}

func TestEvaluate_GapBreaksContinuity(t *testing.T) {
	rule := Rule{
		Parameter:      "temperature",
		Operator:       OperatorGT,
		Threshold:      30,
		RequiredBreach: 90 * time.Second,
		MaxSampleGap:   90 * time.Second,
		Staleness:      time.Hour,
	}
	// The t=60 sample is missing, so the 120s gap between t=120 and t=0
	// exceeds the allowed 90s and the run stops at t=120.
	samples := []Sample{
		sampleAt(0, map[string]float64{"temperature": 31}),
		sampleAt(120*time.Second, map[string]float64{"temperature": 33}),
		sampleAt(180*time.Second, map[string]float64{"temperature": 34}),
	}

	v := Evaluate(rule, samples, t0.Add(180*time.Second))
	if v.Severity != SeverityAmber {
		t.Errorf("Severity = %v, want amber", v.Severity)
	}
	if v.BreachDuration != 60*time.Second {
		t.Errorf("BreachDuration = %v, want 60s", v.BreachDuration)
	}
}

func TestEvaluate_HealthyReadingBreaksRun(t *testing.T) {
	rule := Rule{
		Parameter:      "temperature",
		Operator:       OperatorGT,
		Threshold:      30,
		RequiredBreach: 90 * time.Second,
		MaxSampleGap:   900 * time.Second,
		Staleness:      time.Hour,
	}
	samples := []Sample{
		sampleAt(0, map[string]float64{"temperature": 35}),
		sampleAt(60*time.Second, map[string]float64{"temperature": 25}), // healthy
		sampleAt(120*time.Second, map[string]float64{"temperature": 33}),
		sampleAt(180*time.Second, map[string]float64{"temperature": 34}),
	}

	v := Evaluate(rule, samples, t0.Add(180*time.Second))
	if v.BreachDuration != 60*time.Second {
		t.Errorf("BreachDuration = %v, want 60s (run should stop at the healthy t=60 reading)", v.BreachDuration)
	}
	if !v.Since.Equal(t0.Add(120 * time.Second)) {
		t.Errorf("Since = %v, want t=120", v.Since)
	}
}

func TestEvaluate_SparseMetricTolerance(t *testing.T) {
	rule := Rule{
		Parameter:      "temperature",
		Operator:       OperatorGT,
		Threshold:      30,
		RequiredBreach: 90 * time.Second,
		MaxSampleGap:   900 * time.Second,
		Staleness:      time.Hour,
	}
	// The t=90 sample carries only humidity; it must not shorten the run.
	samples := []Sample{
		sampleAt(0, map[string]float64{"temperature": 31}),
		sampleAt(90*time.Second, map[string]float64{"humidity": 55}),
		sampleAt(120*time.Second, map[string]float64{"temperature": 33}),
		sampleAt(180*time.Second, map[string]float64{"temperature": 34}),
	}

	v := Evaluate(rule, samples, t0.Add(180*time.Second))
	if v.Severity != SeverityRed {
		t.Errorf("Severity = %v, want red", v.Severity)
	}
	if v.BreachDuration != 180*time.Second {
		t.Errorf("BreachDuration = %v, want 180s", v.BreachDuration)
	}
}

func TestEvaluate_Green(t *testing.T) {
	rule := Rule{
		Parameter:      "temperature",
		Operator:       OperatorGT,
		Threshold:      30,
		RequiredBreach: 90 * time.Second,
		MaxSampleGap:   900 * time.Second,
		Staleness:      600 * time.Second,
	}

	tests := []struct {
		name    string
		samples []Sample
		now     time.Time
	}{
		{
			name:    "no samples",
			samples: nil,
			now:     t0,
		},
		{
			name: "parameter never present",
			samples: []Sample{
				sampleAt(0, map[string]float64{"humidity": 60}),
			},
			now: t0,
		},
		{
			name: "latest sample stale",
			samples: []Sample{
				sampleAt(0, map[string]float64{"temperature": 40}),
			},
			now: t0.Add(601 * time.Second),
		},
		{
			name: "latest value healthy",
			samples: []Sample{
				sampleAt(0, map[string]float64{"temperature": 40}),
				sampleAt(60*time.Second, map[string]float64{"temperature": 20}),
			},
			now: t0.Add(60 * time.Second),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Evaluate(rule, tt.samples, tt.now)
			if v.Severity != SeverityGreen {
				t.Errorf("Severity = %v, want green", v.Severity)
			}
			if v.BreachDuration != 0 {
				t.Errorf("BreachDuration = %v, want 0", v.BreachDuration)
			}
		})
	}
}

func TestEvaluate_SingleBreachingSampleIsAmber(t *testing.T) {
	rule := Rule{
		Parameter:      "temperature",
		Operator:       OperatorGTE,
		Threshold:      30,
		RequiredBreach: 90 * time.Second,
		MaxSampleGap:   900 * time.Second,
		Staleness:      time.Hour,
	}
	samples := []Sample{
		sampleAt(0, map[string]float64{"temperature": 30}),
	}

	v := Evaluate(rule, samples, t0)
	if v.Severity != SeverityAmber {
		t.Errorf("Severity = %v, want amber for a zero-duration breach", v.Severity)
	}
	if !v.Since.Equal(t0) {
		t.Errorf("Since = %v, want %v", v.Since, t0)
	}
}

func TestEvaluateBinary(t *testing.T) {
	rule := Rule{
		Parameter:    "voltage",
		Operator:     OperatorLT,
		Threshold:    11,
		MaxSampleGap: 900 * time.Second,
		Staleness:    time.Hour,
	}

	violating := []Sample{sampleAt(0, map[string]float64{"voltage": 10.2})}
	healthy := []Sample{sampleAt(0, map[string]float64{"voltage": 12.4})}

	if !EvaluateBinary(rule, violating, t0) {
		t.Error("EvaluateBinary() = false for a violating series, want true")
	}
	if EvaluateBinary(rule, healthy, t0) {
		t.Error("EvaluateBinary() = true for a healthy series, want false")
	}
}

func TestWorstSeverity(t *testing.T) {
	tests := []struct {
		name     string
		verdicts []Verdict
		want     Severity
	}{
		{"empty", nil, SeverityGreen},
		{"all green", []Verdict{{Severity: SeverityGreen}, {Severity: SeverityGreen}}, SeverityGreen},
		{"amber beats green", []Verdict{{Severity: SeverityGreen}, {Severity: SeverityAmber}}, SeverityAmber},
		{"red beats amber regardless of order", []Verdict{{Severity: SeverityAmber}, {Severity: SeverityRed}, {Severity: SeverityGreen}}, SeverityRed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := WorstSeverity(tt.verdicts); got != tt.want {
				t.Errorf("WorstSeverity() = %v, want %v", got, tt.want)
			}
		})
	}
}
