package orchestrator

import (
	"fmt"
	"time"

	"github.com/xkilldash9x/mender/api/schemas"
)

var transitions = map[schemas.RunState][]schemas.RunState{
	schemas.RunPending: {schemas.RunRunning, schemas.RunError},
	schemas.RunRunning: {schemas.RunSuccess, schemas.RunFailed, schemas.RunError},
}

// run holds the mutable state of one scenario execution. It is owned by the
// goroutine driving the run and is never shared.
type run struct {
	id         string
	scenario   *schemas.WebScenario
	state      schemas.RunState
	logs       []schemas.StepLog
	cause      string
	startedAt  time.Time
	finishedAt time.Time
}

func newRun(id string, scenario *schemas.WebScenario) *run {
	return &run{
		id:       id,
		scenario: scenario,
		state:    schemas.RunPending,
		logs:     make([]schemas.StepLog, 0, len(scenario.Steps)),
	}
}

// transition moves the run to the next state, stamping the start and end
// times on the way.
func (r *run) transition(to schemas.RunState, at time.Time) error {
	allowed := false
	for _, next := range transitions[r.state] {
		if next == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("illegal run transition %s -> %s", r.state, to)
	}

	r.state = to
	switch {
	case to == schemas.RunRunning:
		r.startedAt = at
	case to.IsTerminal():
		if r.startedAt.IsZero() {
			r.startedAt = at
		}
		r.finishedAt = at
	}
	return nil
}

// terminalFor maps a stopping step status to the run's terminal state.
func terminalFor(status schemas.StepStatus) schemas.RunState {
	if status == schemas.StepFailed {
		return schemas.RunFailed
	}
	return schemas.RunError
}
