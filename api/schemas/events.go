package schemas

import "time"

// -- Event Schemas --

// EventKind names the notifications a run publishes.
type EventKind string

const (
	EventProgress EventKind = "progress"
	EventHealing  EventKind = "healing"
	EventStatus   EventKind = "status"
)

// HealingMethodFingerprint is the only healing strategy implemented today.
const HealingMethodFingerprint = "fingerprint"

// ProgressEvent is published after every executed step.
type ProgressEvent struct {
	Current int      `json:"current"`
	Total   int      `json:"total"`
	Type    StepKind `json:"type"`
}

// HealingEvent is published whenever a step completes on a substituted element.
type HealingEvent struct {
	Method string     `json:"method"`
	Score  float64    `json:"score"`
	Info   string     `json:"info"`
	Status StepStatus `json:"status"`
}

// StatusEvent announces a run state transition.
type StatusEvent struct {
	Status RunState `json:"status"`
	Error  string   `json:"error,omitempty"`
}

// Event is the envelope delivered to sinks. Exactly one of the payload
// pointers is set, matching Kind. Seq increases by one per event within a run.
type Event struct {
	ID         string         `json:"id"`
	RunID      string         `json:"run_id"`
	ScenarioID string         `json:"scenario_id"`
	Seq        uint64         `json:"seq"`
	Kind       EventKind      `json:"kind"`
	Timestamp  time.Time      `json:"timestamp"`
	Progress   *ProgressEvent `json:"progress,omitempty"`
	Healing    *HealingEvent  `json:"healing,omitempty"`
	Status     *StatusEvent   `json:"status,omitempty"`
}

// IsTerminal reports whether the event is the final status of a run.
func (e Event) IsTerminal() bool {
	return e.Kind == EventStatus && e.Status != nil && e.Status.Status.IsTerminal()
}
