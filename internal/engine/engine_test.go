// internal/engine/engine_test.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/mender/api/schemas"
	"github.com/xkilldash9x/mender/internal/mocks"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// -- Mock Implementations --

// fakeRunner navigates once per run and tracks how many runs overlap.
type fakeRunner struct {
	delay time.Duration

	mu          sync.Mutex
	inFlight    int
	maxInFlight int
	runIDs      map[string]bool
}

func newFakeRunner(delay time.Duration) *fakeRunner {
	return &fakeRunner{delay: delay, runIDs: make(map[string]bool)}
}

func (f *fakeRunner) RunWithID(ctx context.Context, runID string, drv schemas.Driver, sc *schemas.WebScenario) *schemas.WebExecution {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.runIDs[runID] = true
	f.mu.Unlock()

	time.Sleep(f.delay)
	exec := &schemas.WebExecution{ID: runID, ScenarioID: sc.ID, Status: schemas.RunSuccess}
	if err := drv.Navigate(ctx, "about:blank"); err != nil {
		exec.Status = schemas.RunError
		exec.Error = err.Error()
	}

	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()
	return exec
}

func scenarios(n int) []*schemas.WebScenario {
	out := make([]*schemas.WebScenario, n)
	for i := range out {
		out[i] = &schemas.WebScenario{ID: fmt.Sprintf("sc-%d", i), Steps: []schemas.Step{{Type: schemas.StepGoto, Value: "about:blank"}}}
	}
	return out
}

// -- Test Suite --

func TestNew_NilDependencies(t *testing.T) {
	_, err := New(nil, &mocks.MockDriverFactory{}, Options{}, zap.NewNop())
	assert.Error(t, err)

	e, err := New(newFakeRunner(0), &mocks.MockDriverFactory{}, Options{}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 4, e.opts.Concurrency)
}

func TestRunAll_BoundedAndOrdered(t *testing.T) {
	drv := new(mocks.MockDriver)
	drv.On("Navigate", mock.Anything, "about:blank").Return(nil)

	var released atomic.Int32
	factory := new(mocks.MockDriverFactory)
	factory.On("NewDriver", mock.Anything).Return(drv, func() { released.Add(1) }, nil)

	runner := newFakeRunner(20 * time.Millisecond)
	e, err := New(runner, factory, Options{Concurrency: 2}, zaptest.NewLogger(t))
	require.NoError(t, err)

	input := scenarios(6)
	out := e.RunAll(context.Background(), input)

	require.Len(t, out, len(input))
	for i, exec := range out {
		require.NotNil(t, exec)
		assert.Equal(t, input[i].ID, exec.ScenarioID, "records follow input order")
		assert.Equal(t, schemas.RunSuccess, exec.Status)
	}
	assert.LessOrEqual(t, runner.maxInFlight, 2)
	assert.Len(t, runner.runIDs, 6, "every run gets its own id")
	assert.Equal(t, int32(6), released.Load(), "every browser context is released")
	factory.AssertNumberOfCalls(t, "NewDriver", 6)
}

func TestRunAll_FactoryFailureStillYieldsRecord(t *testing.T) {
	drv := new(mocks.MockDriver)
	drv.On("Navigate", mock.Anything, "about:blank").Return(nil)

	factory := new(mocks.MockDriverFactory)
	factory.On("NewDriver", mock.Anything).Return(nil, nil, errors.New("chrome crashed")).Once()
	factory.On("NewDriver", mock.Anything).Return(drv, nil, nil)

	e, err := New(newFakeRunner(0), factory, Options{Concurrency: 1}, zaptest.NewLogger(t))
	require.NoError(t, err)

	out := e.RunAll(context.Background(), scenarios(2))

	require.Len(t, out, 2)
	assert.Equal(t, schemas.RunError, out[0].Status)
	assert.Contains(t, out[0].Error, "browser context unavailable: chrome crashed")
	assert.Equal(t, schemas.RunSuccess, out[1].Status, "one failed launch does not affect the next run")
}

func TestRunAll_CanceledBeforeLaunch(t *testing.T) {
	factory := new(mocks.MockDriverFactory)
	e, err := New(newFakeRunner(0), factory, Options{Concurrency: 2, LaunchRate: 1}, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := e.RunAll(ctx, scenarios(3))

	for _, exec := range out {
		assert.Equal(t, schemas.RunError, exec.Status)
		assert.Contains(t, exec.Error, "waiting for launch slot")
	}
	factory.AssertNotCalled(t, "NewDriver", mock.Anything)
}

func TestRunAll_LaunchRateSpacesContexts(t *testing.T) {
	drv := new(mocks.MockDriver)
	drv.On("Navigate", mock.Anything, "about:blank").Return(nil)

	var mu sync.Mutex
	var launches []time.Time
	factory := new(mocks.MockDriverFactory)
	factory.On("NewDriver", mock.Anything).Run(func(mock.Arguments) {
		mu.Lock()
		launches = append(launches, time.Now())
		mu.Unlock()
	}).Return(drv, nil, nil)

	e, err := New(newFakeRunner(0), factory, Options{Concurrency: 3, LaunchRate: 20}, zaptest.NewLogger(t))
	require.NoError(t, err)

	e.RunAll(context.Background(), scenarios(3))

	require.Len(t, launches, 3)
	first, last := launches[0], launches[0]
	for _, l := range launches {
		if l.Before(first) {
			first = l
		}
		if l.After(last) {
			last = l
		}
	}
	// A burst of one at 20/s puts the third launch at least ~100ms after the first.
	assert.GreaterOrEqual(t, last.Sub(first), 80*time.Millisecond)
}

func TestRun_Single(t *testing.T) {
	drv := new(mocks.MockDriver)
	drv.On("Navigate", mock.Anything, "about:blank").Return(nil)
	factory := new(mocks.MockDriverFactory)
	factory.On("NewDriver", mock.Anything).Return(drv, nil, nil)

	e, err := New(newFakeRunner(0), factory, Options{}, zaptest.NewLogger(t))
	require.NoError(t, err)

	exec := e.Run(context.Background(), scenarios(1)[0])
	assert.Equal(t, schemas.RunSuccess, exec.Status)
	assert.NotEmpty(t, exec.ID)
}
