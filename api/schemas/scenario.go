package schemas

import (
	"fmt"
	"time"
)

// -- Scenario Schemas --

// StepKind identifies the browser action or assertion a step performs.
type StepKind string

const (
	StepGoto          StepKind = "GOTO"
	StepClick         StepKind = "CLICK"
	StepType          StepKind = "TYPE"
	StepAssertVisible StepKind = "ASSERT_VISIBLE"
	StepAssertText    StepKind = "ASSERT_TEXT"
	StepAssertURL     StepKind = "ASSERT_URL"
	StepWait          StepKind = "WAIT"
)

// KnownStepKinds lists every kind the executor can dispatch.
var KnownStepKinds = []StepKind{
	StepGoto, StepClick, StepType, StepAssertVisible, StepAssertText, StepAssertURL, StepWait,
}

// IsKnown reports whether the kind has an executor.
func (k StepKind) IsKnown() bool {
	for _, known := range KnownStepKinds {
		if k == known {
			return true
		}
	}
	return false
}

// TargetsElement reports whether the step must resolve a DOM element first.
func (k StepKind) TargetsElement() bool {
	switch k {
	case StepClick, StepType, StepAssertVisible, StepAssertText:
		return true
	default:
		return false
	}
}

// Step is one instruction of a scenario. Value carries the URL for GOTO, the
// text for TYPE, the expected text for ASSERT_TEXT, the expected URL fragment
// for ASSERT_URL and the pause in milliseconds for WAIT.
type Step struct {
	Type     StepKind `json:"type" yaml:"type"`
	Selector string   `json:"selector,omitempty" yaml:"selector,omitempty"`
	Value    string   `json:"value,omitempty" yaml:"value,omitempty"`
	// Fingerprint is the snapshot captured when the step was recorded.
	Fingerprint *ElementFingerprint `json:"fingerprint,omitempty" yaml:"fingerprint,omitempty"`
}

// String renders the step the way it appears in a timeline.
func (s Step) String() string {
	switch {
	case s.Type == StepGoto, s.Type == StepWait, s.Type == StepAssertURL:
		return fmt.Sprintf("%s %s", s.Type, s.Value)
	case s.Type == StepType:
		return fmt.Sprintf("%s %s <- %q", s.Type, s.Selector, s.Value)
	case s.Type == StepAssertText:
		return fmt.Sprintf("%s %s == %q", s.Type, s.Selector, s.Value)
	case s.Selector != "":
		return fmt.Sprintf("%s %s", s.Type, s.Selector)
	default:
		return string(s.Type)
	}
}

// WebScenario is an ordered list of steps forming one end-to-end browser test.
// The orchestrator treats it as read-only for the duration of a run.
type WebScenario struct {
	ID          string    `json:"id" yaml:"id"`
	ProjectID   string    `json:"project_id,omitempty" yaml:"project_id,omitempty"`
	Name        string    `json:"name" yaml:"name"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Steps       []Step    `json:"steps" yaml:"steps"`
	CreatedAt   time.Time `json:"created_at" yaml:"-"`
	UpdatedAt   time.Time `json:"updated_at" yaml:"-"`
}
