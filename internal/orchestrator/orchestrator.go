// File: internal/orchestrator/orchestrator.go
// Description: Drives one scenario through its steps, owns the run state
// machine, publishes lifecycle events and always produces an execution record.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mender/api/schemas"
	"github.com/xkilldash9x/mender/internal/results"
)

const (
	DefaultScenarioTimeout = 5 * time.Minute
	defaultCleanupTimeout  = 15 * time.Second
)

// StepRunner executes a single step and reports on it.
type StepRunner interface {
	Execute(ctx context.Context, drv schemas.Driver, scenarioID string, index int, step schemas.Step) schemas.StepLog
}

// Options tunes a run.
type Options struct {
	ScenarioTimeout time.Duration
	// CleanupTimeout bounds the final screenshot and the save of the record,
	// both of which run even after the run context is gone.
	CleanupTimeout time.Duration
}

// Orchestrator runs scenarios. It keeps no per-run state and may be used by
// concurrent runs, each with its own driver.
type Orchestrator struct {
	steps     StepRunner
	sink      schemas.EventSink
	assembler *results.Assembler
	store     schemas.ExecutionStore
	opts      Options
	logger    *zap.Logger
}

// New wires an orchestrator. sink and store are optional.
func New(
	steps StepRunner,
	assembler *results.Assembler,
	sink schemas.EventSink,
	store schemas.ExecutionStore,
	opts Options,
	logger *zap.Logger,
) (*Orchestrator, error) {
	if steps == nil || assembler == nil || logger == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil dependencies")
	}
	if opts.ScenarioTimeout <= 0 {
		opts.ScenarioTimeout = DefaultScenarioTimeout
	}
	if opts.CleanupTimeout <= 0 {
		opts.CleanupTimeout = defaultCleanupTimeout
	}
	return &Orchestrator{
		steps:     steps,
		sink:      sink,
		assembler: assembler,
		store:     store,
		opts:      opts,
		logger:    logger.Named("orchestrator"),
	}, nil
}

// Run executes scenario under a fresh run id.
func (o *Orchestrator) Run(ctx context.Context, drv schemas.Driver, scenario *schemas.WebScenario) *schemas.WebExecution {
	return o.RunWithID(ctx, uuid.NewString(), drv, scenario)
}

// RunWithID executes scenario and returns its record. It never returns nil:
// every failure, including cancellation of ctx, ends in a terminal state and
// an assembled record.
func (o *Orchestrator) RunWithID(ctx context.Context, runID string, drv schemas.Driver, scenario *schemas.WebScenario) *schemas.WebExecution {
	r := newRun(runID, scenario)
	logger := o.logger.With(zap.String("run_id", runID), zap.String("scenario_id", scenario.ID))
	// Cleanup work and event delivery must outlive cancellation of the
	// caller's context.
	detached := context.WithoutCancel(ctx)
	ev := &emitter{
		ctx:        detached,
		timeout:    o.opts.CleanupTimeout,
		sink:       o.sink,
		runID:      runID,
		scenarioID: scenario.ID,
		logger:     logger,
	}

	// 1. PENDING -> RUNNING.
	o.mustTransition(r, schemas.RunRunning, logger)
	ev.status(schemas.RunRunning, "")
	logger.Info("Scenario run started.", zap.Int("steps", len(scenario.Steps)))

	// 2. Steps, strictly in order, stopping at the first FAILED or ERROR.
	terminal := o.execute(ctx, drv, r, ev, logger)
	o.mustTransition(r, terminal, logger)

	// 3. Best-effort screenshot of the last observed page.
	shot, shotErr := o.screenshot(detached, drv)
	if shotErr != nil {
		logger.Warn("Final screenshot unavailable.", zap.Error(shotErr))
	}

	// 4. Assemble and persist before announcing the outcome, so observers
	// reacting to the terminal status can already read the record.
	exec := o.assembler.Assemble(results.Outcome{
		RunID:         r.id,
		ScenarioID:    scenario.ID,
		State:         r.state,
		Logs:          r.logs,
		Cause:         r.cause,
		StartedAt:     r.startedAt,
		FinishedAt:    r.finishedAt,
		Screenshot:    shot,
		ScreenshotErr: shotErr,
	})
	o.persist(detached, exec, logger)

	// 5. The terminal status is always the last event of the run.
	ev.status(r.state, r.cause)

	logger.Info("Scenario run finished.",
		zap.String("status", string(exec.Status)),
		zap.Int("steps_run", len(exec.Logs)),
		zap.Int64("duration_ms", exec.DurationMS))
	return exec
}

func (o *Orchestrator) execute(ctx context.Context, drv schemas.Driver, r *run, ev *emitter, logger *zap.Logger) schemas.RunState {
	runCtx, cancel := context.WithTimeout(ctx, o.opts.ScenarioTimeout)
	defer cancel()

	total := len(r.scenario.Steps)
	for i, step := range r.scenario.Steps {
		if err := runCtx.Err(); err != nil {
			r.cause = o.abortReason(ctx, err)
			logger.Warn("Scenario aborted before step.", zap.Int("index", i), zap.String("reason", r.cause))
			return schemas.RunError
		}

		entry := o.steps.Execute(runCtx, drv, r.scenario.ID, i, step)
		r.logs = append(r.logs, entry)

		if entry.Status == schemas.StepHealed {
			ev.healing(entry)
		}
		ev.progress(i+1, total, step.Type)

		if entry.Status.Continues() {
			continue
		}

		// A step cut short by the run deadline or a stop request reports the
		// run-level reason.
		if err := runCtx.Err(); err != nil {
			r.cause = o.abortReason(ctx, err)
			return schemas.RunError
		}
		r.cause = fmt.Sprintf("step %d (%s) %s: %s", i+1, entry.Step, entry.Status, entry.Error)
		return terminalFor(entry.Status)
	}
	return schemas.RunSuccess
}

func (o *Orchestrator) abortReason(parent context.Context, err error) string {
	if parent.Err() != nil {
		return fmt.Sprintf("run canceled: %v", context.Cause(parent))
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("scenario timed out after %s", o.opts.ScenarioTimeout)
	}
	return err.Error()
}

func (o *Orchestrator) mustTransition(r *run, to schemas.RunState, logger *zap.Logger) {
	if err := r.transition(to, time.Now()); err != nil {
		// Only reachable through a programming error; force a terminal state.
		logger.Error("Run state machine violated.", zap.Error(err))
		r.state = schemas.RunError
		if r.finishedAt.IsZero() {
			r.finishedAt = time.Now()
		}
	}
}

func (o *Orchestrator) screenshot(ctx context.Context, drv schemas.Driver) ([]byte, error) {
	shotCtx, cancel := context.WithTimeout(ctx, o.opts.CleanupTimeout)
	defer cancel()
	buf, err := drv.Screenshot(shotCtx)
	if err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	return buf, nil
}

func (o *Orchestrator) persist(ctx context.Context, exec *schemas.WebExecution, logger *zap.Logger) {
	if o.store == nil {
		return
	}
	saveCtx, cancel := context.WithTimeout(ctx, o.opts.CleanupTimeout)
	defer cancel()
	if err := o.store.SaveExecution(saveCtx, exec); err != nil {
		logger.Error("Failed to persist execution record.", zap.Error(err))
	}
}
