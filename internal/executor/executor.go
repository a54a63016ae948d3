// Package executor performs a single scenario step against a browser driver
// and turns whatever happens into a StepLog.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/mender/api/schemas"
	"github.com/xkilldash9x/mender/internal/resolver"
)

var (
	// ErrAssertion marks a legitimate test failure.
	ErrAssertion = errors.New("assertion failed")
	// ErrInvalidStep marks a step that cannot be executed as written.
	ErrInvalidStep = errors.New("invalid step")
)

// DefaultStepTimeout bounds a step when no timeout is configured.
const DefaultStepTimeout = 30 * time.Second

// Options tunes step execution.
type Options struct {
	StepTimeout time.Duration
	// CaseSensitiveText controls ASSERT_TEXT comparison.
	CaseSensitiveText bool
}

// DefaultOptions returns a 30s step timeout with case sensitive text checks.
func DefaultOptions() Options {
	return Options{StepTimeout: DefaultStepTimeout, CaseSensitiveText: true}
}

// Executor runs steps. It holds no per-run state and can be shared by
// concurrent runs.
type Executor struct {
	resolver *resolver.Resolver
	recorder schemas.FingerprintStore
	opts     Options
	logger   *zap.Logger
}

// New creates an executor. When recorder is non-nil the fingerprint of every
// element a step acts on successfully is saved as last known good.
func New(res *resolver.Resolver, recorder schemas.FingerprintStore, opts Options, logger *zap.Logger) *Executor {
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = DefaultStepTimeout
	}
	return &Executor{
		resolver: res,
		recorder: recorder,
		opts:     opts,
		logger:   logger.Named("executor"),
	}
}

// Execute runs step and returns exactly one log entry for it. It never panics
// and never returns an error; every failure is folded into the log.
func (e *Executor) Execute(ctx context.Context, drv schemas.Driver, scenarioID string, index int, step schemas.Step) (entry schemas.StepLog) {
	start := time.Now()
	entry = schemas.StepLog{Index: index, Step: step.String(), Type: step.Type}

	stepCtx, cancel := context.WithTimeout(ctx, e.opts.StepTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Step panicked.", zap.Int("index", index), zap.String("step", entry.Step), zap.Any("panic", r))
			entry.Status = schemas.StepError
			entry.Error = fmt.Sprintf("step panicked: %v", r)
			entry.DurationMS = time.Since(start).Milliseconds()
		}
	}()

	res, err := e.dispatch(stepCtx, drv, scenarioID, step)
	entry.DurationMS = time.Since(start).Milliseconds()
	entry.Info = res.Info

	if err != nil {
		entry.Status = e.classify(stepCtx, err)
		entry.Error = e.describe(stepCtx, err)
		level := zap.WarnLevel
		if entry.Status == schemas.StepError {
			level = zap.ErrorLevel
		}
		e.logger.Check(level, "Step did not pass.").Write(
			zap.Int("index", index),
			zap.String("step", entry.Step),
			zap.String("status", string(entry.Status)),
			zap.Error(err))
		return entry
	}

	entry.Status = schemas.StepOK
	if res.Healed {
		entry.Status = schemas.StepHealed
		entry.Score = res.Score
	}
	return entry
}

// classify separates test outcomes from infrastructure faults. Timeouts and
// cancellation win over everything else.
func (e *Executor) classify(stepCtx context.Context, err error) schemas.StepStatus {
	switch {
	case stepCtx.Err() != nil, errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return schemas.StepError
	case errors.Is(err, resolver.ErrElementNotFound), errors.Is(err, ErrAssertion):
		return schemas.StepFailed
	default:
		return schemas.StepError
	}
}

func (e *Executor) describe(stepCtx context.Context, err error) string {
	switch {
	case errors.Is(stepCtx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("step timed out after %s: %v", e.opts.StepTimeout, err)
	case stepCtx.Err() != nil, errors.Is(err, context.Canceled):
		return fmt.Sprintf("step canceled: %v", err)
	default:
		return err.Error()
	}
}

func (e *Executor) dispatch(ctx context.Context, drv schemas.Driver, scenarioID string, step schemas.Step) (resolver.Resolution, error) {
	switch step.Type {
	case schemas.StepGoto:
		if step.Value == "" {
			return resolver.Resolution{}, fmt.Errorf("%w: GOTO requires a URL", ErrInvalidStep)
		}
		if err := drv.Navigate(ctx, step.Value); err != nil {
			return resolver.Resolution{}, fmt.Errorf("navigation to %s failed: %w", step.Value, err)
		}
		return resolver.Resolution{}, nil

	case schemas.StepWait:
		return resolver.Resolution{}, wait(ctx, step.Value)

	case schemas.StepAssertURL:
		current, err := drv.CurrentURL(ctx)
		if err != nil {
			return resolver.Resolution{}, fmt.Errorf("failed to read current URL: %w", err)
		}
		if !strings.Contains(current, step.Value) {
			return resolver.Resolution{}, fmt.Errorf("%w: URL %q does not contain %q", ErrAssertion, current, step.Value)
		}
		return resolver.Resolution{}, nil

	case schemas.StepClick, schemas.StepType, schemas.StepAssertVisible, schemas.StepAssertText:
		res, err := e.resolver.Resolve(ctx, drv, scenarioID, step)
		if err != nil {
			return res, err
		}
		fp, captured := e.capture(ctx, drv, res.Handle)
		if err := e.act(ctx, drv, step, res.Handle); err != nil {
			return res, err
		}
		if captured {
			e.remember(ctx, scenarioID, step.Selector, fp)
		}
		return res, nil

	default:
		return resolver.Resolution{}, fmt.Errorf("%w: unsupported step type %q", ErrInvalidStep, step.Type)
	}
}

func (e *Executor) act(ctx context.Context, drv schemas.Driver, step schemas.Step, h schemas.ElementHandle) error {
	switch step.Type {
	case schemas.StepClick:
		if err := drv.Click(ctx, h); err != nil {
			return fmt.Errorf("click on %q failed: %w", step.Selector, err)
		}
	case schemas.StepType:
		if err := drv.Type(ctx, h, step.Value); err != nil {
			return fmt.Errorf("typing into %q failed: %w", step.Selector, err)
		}
	case schemas.StepAssertVisible:
		visible, err := drv.IsVisible(ctx, h)
		if err != nil {
			return fmt.Errorf("visibility check on %q failed: %w", step.Selector, err)
		}
		if !visible {
			return fmt.Errorf("%w: %q is not visible", ErrAssertion, step.Selector)
		}
	case schemas.StepAssertText:
		text, err := drv.GetText(ctx, h)
		if err != nil {
			return fmt.Errorf("reading text of %q failed: %w", step.Selector, err)
		}
		if !e.textMatches(text, step.Value) {
			return fmt.Errorf("%w: %q has text %q, expected %q", ErrAssertion, step.Selector, strings.TrimSpace(text), step.Value)
		}
	}
	return nil
}

func (e *Executor) textMatches(actual, expected string) bool {
	actual = strings.TrimSpace(actual)
	if e.opts.CaseSensitiveText {
		return actual == expected
	}
	return strings.EqualFold(actual, expected)
}

// capture snapshots the element before the action can navigate it away.
func (e *Executor) capture(ctx context.Context, drv schemas.Driver, h schemas.ElementHandle) (schemas.ElementFingerprint, bool) {
	if e.recorder == nil {
		return schemas.ElementFingerprint{}, false
	}
	fp, err := drv.GetFingerprint(ctx, h)
	if err != nil {
		e.logger.Debug("Could not capture element fingerprint.", zap.Error(err))
		return schemas.ElementFingerprint{}, false
	}
	return fp, fp.Validate() == nil
}

func (e *Executor) remember(ctx context.Context, scenarioID, selector string, fp schemas.ElementFingerprint) {
	if err := e.recorder.SaveFingerprint(ctx, scenarioID, selector, fp); err != nil {
		e.logger.Warn("Failed to record last known good fingerprint.", zap.String("selector", selector), zap.Error(err))
	}
}

func wait(ctx context.Context, value string) error {
	ms, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || ms < 0 {
		return fmt.Errorf("%w: WAIT needs a non-negative number of milliseconds, got %q", ErrInvalidStep, value)
	}
	timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
