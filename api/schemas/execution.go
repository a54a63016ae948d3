package schemas

import "time"

// -- Execution Schemas --

// StepStatus is the outcome of a single step.
type StepStatus string

const (
	StepOK     StepStatus = "OK"
	StepHealed StepStatus = "HEALED"
	StepFailed StepStatus = "FAILED"
	StepError  StepStatus = "ERROR"
)

// Continues reports whether the scenario may proceed past a step with this
// status.
func (s StepStatus) Continues() bool {
	return s == StepOK || s == StepHealed
}

// RunState is the state of a scenario run.
type RunState string

const (
	RunPending RunState = "PENDING"
	RunRunning RunState = "RUNNING"
	RunSuccess RunState = "SUCCESS"
	RunFailed  RunState = "FAILED"
	RunError   RunState = "ERROR"
)

// IsTerminal reports whether no further transition is possible.
func (s RunState) IsTerminal() bool {
	return s == RunSuccess || s == RunFailed || s == RunError
}

// StepLog records how one step went.
type StepLog struct {
	Index      int        `json:"index"`
	Step       string     `json:"step"`
	Type       StepKind   `json:"type"`
	Status     StepStatus `json:"status"`
	DurationMS int64      `json:"duration_ms"`
	Error      string     `json:"error,omitempty"`
	Info       string     `json:"info,omitempty"`
	// Score is the match score of the substituted element, set when Status is HEALED.
	Score float64 `json:"score,omitempty"`
}

// Duration returns the step's elapsed time.
func (l StepLog) Duration() time.Duration {
	return time.Duration(l.DurationMS) * time.Millisecond
}

// WebExecution is the immutable record of one scenario run.
type WebExecution struct {
	ID            string    `json:"id"`
	ScenarioID    string    `json:"scenario_id"`
	Status        RunState  `json:"status"`
	DurationMS    int64     `json:"duration_ms"`
	Logs          []StepLog `json:"logs"`
	Error         string    `json:"error,omitempty"`
	Screenshot    []byte    `json:"screenshot,omitempty"`
	ScreenshotURI string    `json:"screenshot_uri,omitempty"`
	// ScreenshotError explains a missing screenshot. It never affects Status.
	ScreenshotError string    `json:"screenshot_error,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
	CreatedAt       time.Time `json:"created_at"`
}

// Succeeded reports whether the run reached SUCCESS.
func (e *WebExecution) Succeeded() bool { return e.Status == RunSuccess }
