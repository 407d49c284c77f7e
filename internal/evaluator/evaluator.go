// Package evaluator turns an ordered telemetry series and a threshold rule
// into a severity verdict with breach duration. It is pure and stateless;
// persistence and lifecycle decisions belong to callers.
package evaluator

import (
	"sort"
	"time"
)

// Operator is a threshold comparison operator.
type Operator string

const (
	OperatorGT  Operator = "gt"
	OperatorGTE Operator = "gte"
	OperatorLT  Operator = "lt"
	OperatorLTE Operator = "lte"
)

// Severity is the verdict of a rule evaluation.
type Severity string

const (
	SeverityGreen Severity = "green"
	SeverityAmber Severity = "amber"
	SeverityRed   Severity = "red"
)

// Rank returns the ordering of a severity for aggregation (red > amber > green).
func (s Severity) Rank() int {
	switch s {
	case SeverityRed:
		return 2
	case SeverityAmber:
		return 1
	default:
		return 0
	}
}

// Rule is the threshold definition a series is evaluated against.
// Immutable per evaluation call.
type Rule struct {
	Parameter      string
	Operator       Operator
	Threshold      float64
	RequiredBreach time.Duration
	MaxSampleGap   time.Duration
	Staleness      time.Duration
}

// Sample is one normalized telemetry reading. Values may carry any subset
// of a device's parameters; sparse series are expected.
type Sample struct {
	OccurredAt time.Time
	Values     map[string]float64
}

// Verdict is the result of evaluating one rule against a series.
type Verdict struct {
	Severity       Severity
	BreachDuration time.Duration
	LatestValue    float64
	Since          time.Time
}

// Satisfies reports whether value breaches the threshold under op.
func Satisfies(op Operator, value, threshold float64) bool {
	switch op {
	case OperatorGT:
		return value > threshold
	case OperatorGTE:
		return value >= threshold
	case OperatorLT:
		return value < threshold
	case OperatorLTE:
		return value <= threshold
	default:
		return false
	}
}

// Evaluate computes the severity verdict for rule over samples as of now.
// Samples may arrive in any order; they are sorted newest-first internally.
//
// The verdict is green when the parameter has no sample at all, when the
// newest sample is older than the rule's staleness window (stale data is
// "no signal", not a breach), or when the newest value is healthy.
// Otherwise the walk back accumulates the most recent continuous breach
// run: a time gap above MaxSampleGap or a healthy reading terminates the
// run, while samples lacking the parameter are skipped without breaking
// continuity so that sparse multi-metric series do not falsely cut a run
// short.
func Evaluate(rule Rule, samples []Sample, now time.Time) Verdict {
	run, latestValue, ok := breachRun(rule, samples, now)
	if !ok {
		return Verdict{Severity: SeverityGreen}
	}

	duration := run.latest.Sub(run.oldest)
	severity := SeverityAmber
	if duration >= rule.RequiredBreach {
		severity = SeverityRed
	}

	return Verdict{
		Severity:       severity,
		BreachDuration: duration,
		LatestValue:    latestValue,
		Since:          run.oldest,
	}
}

// EvaluateBinary is the coarse variant used for simple alarm rules: it runs
// the same continuity walk but only reports whether the rule is currently
// violated by the newest usable sample.
func EvaluateBinary(rule Rule, samples []Sample, now time.Time) bool {
	_, _, ok := breachRun(rule, samples, now)
	return ok
}

// WorstSeverity aggregates verdicts for one device: red beats amber beats
// green, by severity rank rather than rule order.
func WorstSeverity(verdicts []Verdict) Severity {
	worst := SeverityGreen
	for _, v := range verdicts {
		if v.Severity.Rank() > worst.Rank() {
			worst = v.Severity
		}
	}
	return worst
}

type span struct {
	latest time.Time
	oldest time.Time
}

// breachRun finds the most recent continuous breach run ending at the
// newest sample carrying the rule's parameter. ok is false when the series
// yields no current breach.
func breachRun(rule Rule, samples []Sample, now time.Time) (span, float64, bool) {
	sorted := make([]Sample, 0, len(samples))
	for _, s := range samples {
		sorted = append(sorted, s)
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].OccurredAt.After(sorted[j].OccurredAt)
	})

	// Locate the newest sample that carries the parameter.
	latestIdx := -1
	for i, s := range sorted {
		if _, present := s.Values[rule.Parameter]; present {
			latestIdx = i
			break
		}
	}
	if latestIdx == -1 {
		return span{}, 0, false
	}

	latest := sorted[latestIdx]
	latestValue := latest.Values[rule.Parameter]

	if rule.Staleness > 0 && now.Sub(latest.OccurredAt) > rule.Staleness {
		return span{}, 0, false
	}
	if !Satisfies(rule.Operator, latestValue, rule.Threshold) {
		return span{}, 0, false
	}

	run := span{latest: latest.OccurredAt, oldest: latest.OccurredAt}
	prev := latest.OccurredAt
	for _, s := range sorted[latestIdx+1:] {
		if rule.MaxSampleGap > 0 && prev.Sub(s.OccurredAt) > rule.MaxSampleGap {
			break
		}
		value, present := s.Values[rule.Parameter]
		if !present {
			// Sparse series: keep walking without terminating the run.
			prev = s.OccurredAt
			continue
		}
		if !Satisfies(rule.Operator, value, rule.Threshold) {
			break
		}
		run.oldest = s.OccurredAt
		prev = s.OccurredAt
	}

	return run, latestValue, true
}
