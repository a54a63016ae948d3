package scenario

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/xkilldash9x/mender/api/schemas"
)

// MaxSelectorLength bounds the selectors handed to the browser.
const MaxSelectorLength = 1000

var injectionPatterns = []string{"javascript:", "<script", "onerror=", "onload="}

// Validate reports every problem found in sc as a single error wrapping
// ErrInvalid.
func Validate(sc *schemas.WebScenario) error {
	var problems []string
	if sc.ID == "" {
		problems = append(problems, "id is empty")
	}
	if len(sc.Steps) == 0 {
		problems = append(problems, "scenario has no steps")
	}
	for i, step := range sc.Steps {
		if err := ValidateStep(step); err != nil {
			problems = append(problems, fmt.Sprintf("step %d (%s): %v", i+1, step.Type, err))
		}
	}
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
}

// ValidateStep checks the fields a step kind needs.
func ValidateStep(step schemas.Step) error {
	if !step.Type.IsKnown() {
		return fmt.Errorf("unsupported step type %q", step.Type)
	}
	if step.Type.TargetsElement() {
		if err := ValidateSelector(step.Selector); err != nil {
			return err
		}
	}
	if step.Fingerprint != nil {
		if err := step.Fingerprint.Validate(); err != nil {
			return err
		}
	}

	switch step.Type {
	case schemas.StepGoto:
		u, err := url.Parse(step.Value)
		if err != nil || u.Scheme == "" {
			return fmt.Errorf("GOTO needs an absolute URL, got %q", step.Value)
		}
	case schemas.StepWait:
		ms, err := strconv.Atoi(strings.TrimSpace(step.Value))
		if err != nil || ms < 0 {
			return fmt.Errorf("WAIT needs a non-negative number of milliseconds, got %q", step.Value)
		}
	case schemas.StepAssertURL:
		if step.Value == "" {
			return fmt.Errorf("ASSERT_URL needs an expected URL fragment")
		}
	}
	return nil
}

// ValidateSelector rejects selectors that are empty, oversized, carry script
// injection patterns or cannot start a CSS selector.
func ValidateSelector(selector string) error {
	if selector == "" {
		return fmt.Errorf("selector is empty")
	}
	if len(selector) > MaxSelectorLength {
		return fmt.Errorf("selector exceeds %d characters", MaxSelectorLength)
	}

	lower := strings.ToLower(selector)
	for _, pattern := range injectionPatterns {
		if strings.Contains(lower, pattern) {
			return fmt.Errorf("selector contains dangerous pattern %q", pattern)
		}
	}

	// Valid selectors start with a letter, #, ., [, * or :.
	switch c := selector[0]; {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
	case c == '#', c == '.', c == '[', c == '*', c == ':':
	default:
		return fmt.Errorf("selector %q does not start with a valid character", selector)
	}
	return nil
}
