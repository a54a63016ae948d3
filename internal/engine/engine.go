// File: internal/engine/engine.go
// Description: Runs batches of scenarios concurrently, each on its own
// isolated browser context.

package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/mender/api/schemas"
)

// -- Interfaces for Dependency Inversion --

// Runner executes one scenario on a driver and always returns its record.
type Runner interface {
	RunWithID(ctx context.Context, runID string, drv schemas.Driver, scenario *schemas.WebScenario) *schemas.WebExecution
}

// Options bounds a batch.
type Options struct {
	// Concurrency is the maximum number of runs in flight.
	Concurrency int
	// LaunchRate limits browser context creation per second. Zero or less
	// disables the limit.
	LaunchRate float64
}

// Engine distributes scenarios over a bounded pool of runs.
type Engine struct {
	runner  Runner
	factory schemas.DriverFactory
	opts    Options
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New creates an Engine.
func New(runner Runner, factory schemas.DriverFactory, opts Options, logger *zap.Logger) (*Engine, error) {
	if runner == nil || factory == nil || logger == nil {
		return nil, fmt.Errorf("cannot initialize engine with nil dependencies")
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4 // A sensible default.
	}

	limit := rate.Inf
	if opts.LaunchRate > 0 {
		limit = rate.Limit(opts.LaunchRate)
	}
	return &Engine{
		runner:  runner,
		factory: factory,
		opts:    opts,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.Named("engine"),
	}, nil
}

// Run executes a single scenario under a fresh run id.
func (e *Engine) Run(ctx context.Context, scenario *schemas.WebScenario) *schemas.WebExecution {
	return e.run(ctx, uuid.NewString(), scenario)
}

// RunAll executes every scenario and returns the records in input order. Runs
// never share a browser context. A run whose browser context cannot be
// created still produces an ERROR record.
func (e *Engine) RunAll(ctx context.Context, scenarios []*schemas.WebScenario) []*schemas.WebExecution {
	out := make([]*schemas.WebExecution, len(scenarios))
	start := time.Now()
	e.logger.Info("Starting batch.", zap.Int("scenarios", len(scenarios)), zap.Int("concurrency", e.opts.Concurrency))

	var g errgroup.Group
	g.SetLimit(e.opts.Concurrency)
	for i, sc := range scenarios {
		g.Go(func() error {
			out[i] = e.run(ctx, uuid.NewString(), sc)
			return nil
		})
	}
	// Runs report through their records; the group never carries an error.
	_ = g.Wait()

	e.logger.Info("Batch finished.", zap.Int("scenarios", len(scenarios)), zap.Duration("elapsed", time.Since(start)))
	return out
}

func (e *Engine) run(ctx context.Context, runID string, scenario *schemas.WebScenario) *schemas.WebExecution {
	logger := e.logger.With(zap.String("run_id", runID), zap.String("scenario_id", scenario.ID))

	drv, release, err := e.acquire(ctx)
	if err != nil {
		logger.Error("Browser context unavailable.", zap.Error(err))
		drv = unavailable{err: err}
	} else {
		defer release()
	}
	return e.runner.RunWithID(ctx, runID, drv, scenario)
}

func (e *Engine) acquire(ctx context.Context) (schemas.Driver, func(), error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, nil, fmt.Errorf("waiting for launch slot: %w", err)
	}
	drv, release, err := e.factory.NewDriver(ctx)
	if err != nil {
		return nil, nil, err
	}
	if release == nil {
		release = func() {}
	}
	return drv, release, nil
}
