// Package lifecycle owns the alert state machine: creation, re-triggering,
// manual actions, and closure, each as one atomic transaction with its
// audit event and any notification enqueue.
package lifecycle

import "fmt"

// Status is an alert's lifecycle state. The set is closed; transitions are
// only legal when listed in the transition table.
type Status string

const (
	StatusTriggered    Status = "triggered"
	StatusNotified     Status = "notified"
	StatusAcknowledged Status = "acknowledged"
	StatusSnoozed      Status = "snoozed"
	StatusResolved     Status = "resolved"
	StatusAutoResolved Status = "auto_resolved"
)

// transitions maps each status to the statuses it may legally move to.
// Terminal statuses have no outgoing edges.
var transitions = map[Status][]Status{
	StatusTriggered:    {StatusNotified, StatusAcknowledged, StatusResolved, StatusAutoResolved},
	StatusNotified:     {StatusAcknowledged, StatusResolved, StatusAutoResolved},
	StatusAcknowledged: {StatusSnoozed, StatusResolved, StatusAutoResolved},
	StatusSnoozed:      {StatusTriggered, StatusResolved, StatusAutoResolved},
	StatusResolved:     {},
	StatusAutoResolved: {},
}

// IsTerminal reports whether s permanently closes an alert.
func (s Status) IsTerminal() bool {
	return s == StatusResolved || s == StatusAutoResolved
}

// IllegalTransitionError reports an attempted state change not permitted
// from the current status.
type IllegalTransitionError struct {
	From Status
	To   Status
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal transition from %q to %q", e.From, e.To)
}

// AssertTransition returns an IllegalTransitionError unless from → to is in
// the transition table. It is a hard contract checked before any mutation;
// callers must not guess around it.
func AssertTransition(from, to Status) error {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return nil
		}
	}
	return &IllegalTransitionError{From: from, To: to}
}
