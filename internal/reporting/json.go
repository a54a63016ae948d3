package reporting

import (
	"fmt"
	"io"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mender/api/schemas"
	"github.com/xkilldash9x/mender/internal/results"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// JSONRun is one run in a JSON report. Screenshot bytes are left out; the
// artifact URI is kept.
type JSONRun struct {
	Execution *schemas.WebExecution `json:"execution"`
	Summary   results.Summary       `json:"summary"`
}

// JSONReport is the document written on Close.
type JSONReport struct {
	Runs    []JSONRun `json:"runs"`
	Success bool      `json:"success"`
}

// JSONReporter buffers runs and writes them as one document.
type JSONReporter struct {
	writer io.WriteCloser
	logger *zap.Logger

	mu     sync.Mutex
	report JSONReport
}

// NewJSONReporter creates a reporter writing to writer.
func NewJSONReporter(writer io.WriteCloser, logger *zap.Logger) *JSONReporter {
	return &JSONReporter{
		writer: writer,
		logger: logger.Named("json_reporter"),
		report: JSONReport{Runs: []JSONRun{}, Success: true},
	}
}

func (r *JSONReporter) Write(entry Entry) error {
	exec := *entry.Execution
	exec.Screenshot = nil

	r.mu.Lock()
	defer r.mu.Unlock()
	r.report.Runs = append(r.report.Runs, JSONRun{
		Execution: &exec,
		Summary:   results.Summarize(&exec, entry.declaredSteps()),
	})
	if !exec.Succeeded() {
		r.report.Success = false
	}
	return nil
}

func (r *JSONReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, encodeErr := json.MarshalIndent(r.report, "", "  ")
	if encodeErr == nil {
		_, encodeErr = r.writer.Write(append(data, '\n'))
	}
	// Always attempt to close the writer, regardless of encoding success.
	closeErr := r.writer.Close()

	if encodeErr != nil {
		r.logger.Error("Failed to write JSON report", zap.Error(encodeErr))
		return fmt.Errorf("failed to write JSON report: %w", encodeErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close output writer: %w", closeErr)
	}
	r.logger.Debug("Wrote JSON report.", zap.Int("runs", len(r.report.Runs)))
	return nil
}
