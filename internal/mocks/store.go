// File: internal/mocks/store.go
package mocks

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"
	"github.com/xkilldash9x/mender/api/schemas"
)

// -- Persistence Mocks --

// MockFingerprintStore mocks schemas.FingerprintStore.
type MockFingerprintStore struct {
	mock.Mock
}

func (m *MockFingerprintStore) LoadFingerprint(ctx context.Context, scenarioID, selector string) (*schemas.ElementFingerprint, error) {
	args := m.Called(ctx, scenarioID, selector)
	var fp *schemas.ElementFingerprint
	if v := args.Get(0); v != nil {
		fp = v.(*schemas.ElementFingerprint)
	}
	return fp, args.Error(1)
}

func (m *MockFingerprintStore) SaveFingerprint(ctx context.Context, scenarioID, selector string, fp schemas.ElementFingerprint) error {
	args := m.Called(ctx, scenarioID, selector, fp)
	return args.Error(0)
}

// MockExecutionStore mocks schemas.ExecutionStore.
type MockExecutionStore struct {
	mock.Mock
}

func (m *MockExecutionStore) SaveExecution(ctx context.Context, exec *schemas.WebExecution) error {
	args := m.Called(ctx, exec)
	return args.Error(0)
}

func (m *MockExecutionStore) GetExecution(ctx context.Context, id string) (*schemas.WebExecution, error) {
	args := m.Called(ctx, id)
	var exec *schemas.WebExecution
	if v := args.Get(0); v != nil {
		exec = v.(*schemas.WebExecution)
	}
	return exec, args.Error(1)
}

func (m *MockExecutionStore) ListExecutions(ctx context.Context, scenarioID string, limit int) ([]schemas.WebExecution, error) {
	args := m.Called(ctx, scenarioID, limit)
	var execs []schemas.WebExecution
	if v := args.Get(0); v != nil {
		execs = v.([]schemas.WebExecution)
	}
	return execs, args.Error(1)
}

// MockScenarioStore mocks schemas.ScenarioStore.
type MockScenarioStore struct {
	mock.Mock
}

func (m *MockScenarioStore) GetScenario(ctx context.Context, id string) (*schemas.WebScenario, error) {
	args := m.Called(ctx, id)
	var sc *schemas.WebScenario
	if v := args.Get(0); v != nil {
		sc = v.(*schemas.WebScenario)
	}
	return sc, args.Error(1)
}

func (m *MockScenarioStore) ListScenarios(ctx context.Context, projectID string) ([]schemas.WebScenario, error) {
	args := m.Called(ctx, projectID)
	var list []schemas.WebScenario
	if v := args.Get(0); v != nil {
		list = v.([]schemas.WebScenario)
	}
	return list, args.Error(1)
}

func (m *MockScenarioStore) SaveScenario(ctx context.Context, scenario *schemas.WebScenario) error {
	args := m.Called(ctx, scenario)
	return args.Error(0)
}

// -- Event Sink Fakes --

// MockEventSink mocks schemas.EventSink.
type MockEventSink struct {
	mock.Mock
}

func (m *MockEventSink) Publish(ctx context.Context, event schemas.Event) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// RecordingSink collects published events in order.
type RecordingSink struct {
	mu     sync.Mutex
	events []schemas.Event
}

func (r *RecordingSink) Publish(_ context.Context, event schemas.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events returns a copy of everything published so far.
func (r *RecordingSink) Events() []schemas.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]schemas.Event, len(r.events))
	copy(out, r.events)
	return out
}

// ForRun returns the events for one run id.
func (r *RecordingSink) ForRun(runID string) []schemas.Event {
	var out []schemas.Event
	for _, e := range r.Events() {
		if e.RunID == runID {
			out = append(out, e)
		}
	}
	return out
}
