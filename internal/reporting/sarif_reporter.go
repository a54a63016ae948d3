// internal/reporting/sarif_reporter.go
package reporting

import (
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/mender/api/schemas"
	"github.com/xkilldash9x/mender/internal/reporting/sarif"
)

// Constants for tool identification in the SARIF report.
const (
	ToolName     = "mender"
	ToolInfoURI  = "https://github.com/xkilldash9x/mender"
	SARIFVersion = "2.1.0"
	SARIFSchema  = "https://schemastore.azurewebsites.net/schemas/json/sarif-2.1.0-rtm.5.json"
)

// Rule ids reported by the SARIF reporter.
const (
	RuleRunFailed     = "MENDER-RUN-FAILED"
	RuleRunError      = "MENDER-RUN-ERROR"
	RuleSelectorDrift = "MENDER-SELECTOR-DRIFT"
)

type ruleDef struct {
	name  string
	short string
	full  string
	level sarif.Level
}

var ruleCatalog = map[string]ruleDef{
	RuleRunFailed: {
		name:  "ScenarioFailed",
		short: "Scenario run failed",
		full:  "An expected element was absent or an assertion did not hold. The run stopped at the failing step.",
		level: sarif.LevelError,
	},
	RuleRunError: {
		name:  "ScenarioError",
		short: "Scenario run errored",
		full:  "The browser, the network or a timeout interrupted the run before its outcome was known.",
		level: sarif.LevelError,
	},
	RuleSelectorDrift: {
		name:  "SelectorDrift",
		short: "Recorded selector no longer matches",
		full:  "The step's selector found nothing and a substitute element was chosen by fingerprint similarity. Update the selector.",
		level: sarif.LevelWarning,
	},
}

// SARIFReporter implements the Reporter interface for the SARIF 2.1.0 format.
// Failed and errored runs become errors, healed steps become warnings. It is
// thread safe.
type SARIFReporter struct {
	writer io.WriteCloser
	logger *zap.Logger
	log    *sarif.Log
	// mu protects the log structure and the rule set.
	mu    sync.Mutex
	rules map[string]bool
}

// NewSARIFReporter creates a new reporter that writes SARIF output.
func NewSARIFReporter(writer io.WriteCloser, toolVersion string, logger *zap.Logger) *SARIFReporter {
	log := &sarif.Log{
		Version: SARIFVersion,
		Schema:  SARIFSchema,
		Runs: []*sarif.Run{
			{
				Tool: &sarif.Tool{
					Driver: &sarif.ToolComponent{
						Name:           ToolName,
						Version:        pString(toolVersion),
						InformationURI: pString(ToolInfoURI),
						// Initialize empty slices (not nil) for proper JSON marshalling
						Rules: []*sarif.ReportingDescriptor{},
					},
				},
				Invocations: []*sarif.Invocation{{ExecutionSuccessful: true}},
				Results:     []*sarif.Result{},
			},
		},
	}

	return &SARIFReporter{
		writer: writer,
		logger: logger.Named("sarif_reporter"),
		log:    log,
		rules:  make(map[string]bool),
	}
}

// Write converts a finished run into zero or more SARIF results.
func (r *SARIFReporter) Write(entry Entry) error {
	startTime := time.Now()
	exec := entry.Execution

	r.mu.Lock()
	defer r.mu.Unlock()

	run := r.log.Runs[0]
	before := len(run.Results)

	for _, l := range exec.Logs {
		if l.Status != schemas.StepHealed {
			continue
		}
		run.Results = append(run.Results, &sarif.Result{
			RuleID:    r.ensureRule(RuleSelectorDrift),
			Message:   &sarif.Message{Text: pString(fmt.Sprintf("Step %d (%s) healed with score %.2f: %s", l.Index+1, l.Step, l.Score, l.Info))},
			Level:     sarif.LevelWarning,
			Locations: r.createLocations(exec, &l),
			Properties: &sarif.PropertyBag{
				"run_id": exec.ID,
				"score":  l.Score,
			},
		})
	}

	if !exec.Succeeded() {
		ruleID := RuleRunFailed
		if exec.Status != schemas.RunFailed {
			ruleID = RuleRunError
		}
		var last *schemas.StepLog
		if n := len(exec.Logs); n > 0 {
			last = &exec.Logs[n-1]
		}
		run.Results = append(run.Results, &sarif.Result{
			RuleID:    r.ensureRule(ruleID),
			Message:   &sarif.Message{Text: pString(fmt.Sprintf("Scenario %s ended %s: %s", exec.ScenarioID, exec.Status, exec.Error))},
			Level:     sarif.LevelError,
			Locations: r.createLocations(exec, last),
			Properties: &sarif.PropertyBag{
				"run_id":      exec.ID,
				"duration_ms": exec.DurationMS,
			},
		})
		run.Invocations[0].ExecutionSuccessful = false
	}

	if added := len(run.Results) - before; added > 0 {
		r.logger.Debug("Wrote results to SARIF buffer",
			zap.Int("results_count", added),
			zap.Duration("duration_ms", time.Since(startTime)),
		)
	}
	return nil
}

// Close finalizes the SARIF log and writes it to the output writer.
func (r *SARIFReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logger.Info("Finalizing SARIF report",
		zap.Int("total_results", len(r.log.Runs[0].Results)),
		zap.Int("total_rules", len(r.log.Runs[0].Tool.Driver.Rules)),
	)

	data, encodeErr := json.MarshalIndent(r.log, "", "  ")
	if encodeErr == nil {
		_, encodeErr = r.writer.Write(append(data, '\n'))
	}
	// Always attempt to close the writer, regardless of encoding success.
	closeErr := r.writer.Close()

	if encodeErr != nil {
		r.logger.Error("Failed to encode SARIF log to JSON", zap.Error(encodeErr))
		// Prioritize the encoding error as it indicates corrupted/incomplete output.
		return fmt.Errorf("failed to encode SARIF output: %w", encodeErr)
	}
	if closeErr != nil {
		r.logger.Error("Failed to close output writer", zap.Error(closeErr))
		return fmt.Errorf("failed to close output writer: %w", closeErr)
	}
	return nil
}

// ensureRule registers the rule definition on first use and returns its ID.
// NOTE: Must be called while holding the mutex.
func (r *SARIFReporter) ensureRule(id string) string {
	if r.rules[id] {
		return id
	}
	def := ruleCatalog[id]
	driver := r.log.Runs[0].Tool.Driver
	driver.Rules = append(driver.Rules, &sarif.ReportingDescriptor{
		ID:                   id,
		Name:                 pString(def.name),
		ShortDescription:     &sarif.MultiformatMessageString{Text: pString(def.short)},
		FullDescription:      &sarif.MultiformatMessageString{Text: pString(def.full)},
		DefaultConfiguration: &sarif.Configuration{Level: def.level},
		Properties:           &sarif.PropertyBag{"tags": []string{"e2e", "mender"}},
	})
	r.rules[id] = true
	return id
}

// createLocations points at the scenario, the step when known, and the final
// screenshot when one was written.
func (r *SARIFReporter) createLocations(exec *schemas.WebExecution, step *schemas.StepLog) []*sarif.Location {
	logical := []*sarif.LogicalLocation{{
		Name:               pString(exec.ScenarioID),
		FullyQualifiedName: pString("scenario/" + exec.ScenarioID),
		Kind:               pString("module"),
	}}
	if step != nil {
		logical = append(logical, &sarif.LogicalLocation{
			Name:               pString(step.Step),
			FullyQualifiedName: pString(fmt.Sprintf("scenario/%s/step/%d", exec.ScenarioID, step.Index+1)),
			Kind:               pString("function"),
		})
	}

	location := &sarif.Location{LogicalLocations: logical}
	if exec.ScreenshotURI != "" {
		location.PhysicalLocation = &sarif.PhysicalLocation{
			ArtifactLocation: &sarif.ArtifactLocation{URI: pString(exec.ScreenshotURI)},
		}
	}
	return []*sarif.Location{location}
}

// pString returns a pointer to the given string value. Helper for optional SARIF fields.
func pString(s string) *string {
	return &s
}
