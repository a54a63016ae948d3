// internal/reporting/sarif_reporter_test.go
package reporting_test

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/mender/api/schemas"
	"github.com/xkilldash9x/mender/internal/reporting"
	"github.com/xkilldash9x/mender/internal/reporting/sarif"
)

func setupSARIFTest(t *testing.T) (*reporting.SARIFReporter, *MockWriteCloser) {
	mockWriter := newMockWriter()
	reporter := reporting.NewSARIFReporter(mockWriter, "v1.2.3-test", zaptest.NewLogger(t))
	return reporter, mockWriter
}

func decodeSARIF(t *testing.T, w *MockWriteCloser) *sarif.Log {
	t.Helper()
	var log sarif.Log
	require.NoError(t, json.Unmarshal(w.Buffer.Bytes(), &log))
	require.Len(t, log.Runs, 1)
	return &log
}

// TestSARIFReporter_Initialization verifies the structure of an empty report.
func TestSARIFReporter_Initialization(t *testing.T) {
	reporter, writer := setupSARIFTest(t)
	require.NoError(t, reporter.Close())

	log := decodeSARIF(t, writer)
	assert.Equal(t, reporting.SARIFVersion, log.Version)
	assert.Equal(t, reporting.SARIFSchema, log.Schema)
	driver := log.Runs[0].Tool.Driver
	assert.Equal(t, reporting.ToolName, driver.Name)
	assert.Equal(t, "v1.2.3-test", *driver.Version)
	assert.Empty(t, log.Runs[0].Results)
	assert.True(t, log.Runs[0].Invocations[0].ExecutionSuccessful)
	assert.True(t, writer.Closed)
}

func TestSARIFReporter_FailedRunWithHealedStep(t *testing.T) {
	reporter, writer := setupSARIFTest(t)
	require.NoError(t, reporter.Write(failedEntry()))
	require.NoError(t, reporter.Write(successEntry()))
	require.NoError(t, reporter.Close())

	log := decodeSARIF(t, writer)
	run := log.Runs[0]
	require.Len(t, run.Results, 2)

	drift := run.Results[0]
	assert.Equal(t, reporting.RuleSelectorDrift, drift.RuleID)
	assert.Equal(t, sarif.LevelWarning, drift.Level)
	assert.Contains(t, *drift.Message.Text, "Step 2 (CLICK #buy) healed with score 0.82")
	require.Len(t, drift.Locations, 1)
	logical := drift.Locations[0].LogicalLocations
	require.Len(t, logical, 2)
	assert.Equal(t, "scenario/checkout/step/2", *logical[1].FullyQualifiedName)
	assert.Equal(t, "/tmp/shots/run-1.png", *drift.Locations[0].PhysicalLocation.ArtifactLocation.URI)

	failure := run.Results[1]
	assert.Equal(t, reporting.RuleRunFailed, failure.RuleID)
	assert.Equal(t, sarif.LevelError, failure.Level)
	assert.Equal(t, "scenario/checkout/step/3", *failure.Locations[0].LogicalLocations[1].FullyQualifiedName)

	assert.False(t, run.Invocations[0].ExecutionSuccessful)
	require.Len(t, run.Tool.Driver.Rules, 2, "rules are registered once, on first use")
}

func TestSARIFReporter_ErrorRunWithoutSteps(t *testing.T) {
	reporter, writer := setupSARIFTest(t)
	require.NoError(t, reporter.Write(reporting.Entry{Execution: &schemas.WebExecution{
		ID: "run-3", ScenarioID: "search", Status: schemas.RunError, Error: "run canceled: context canceled",
	}}))
	require.NoError(t, reporter.Close())

	run := decodeSARIF(t, writer).Runs[0]
	require.Len(t, run.Results, 1)
	assert.Equal(t, reporting.RuleRunError, run.Results[0].RuleID)
	assert.Len(t, run.Results[0].Locations[0].LogicalLocations, 1)
	assert.Nil(t, run.Results[0].Locations[0].PhysicalLocation)
}

func TestSARIFReporter_ConcurrentWrites(t *testing.T) {
	reporter, writer := setupSARIFTest(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = reporter.Write(failedEntry())
		}()
	}
	wg.Wait()
	require.NoError(t, reporter.Close())

	run := decodeSARIF(t, writer).Runs[0]
	assert.Len(t, run.Results, 40)
	assert.Len(t, run.Tool.Driver.Rules, 2)
}

func TestSARIFReporter_WriteFailure(t *testing.T) {
	reporter, writer := setupSARIFTest(t)
	writer.FailWrite = true

	err := reporter.Close()
	assert.ErrorContains(t, err, "failed to encode SARIF output")
	assert.True(t, writer.Closed)
}
