// Package reporting renders finished runs for people and tools.
package reporting

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/xkilldash9x/mender/api/schemas"
)

// Entry is one finished run. Scenario is optional; when present the report
// counts the steps that never ran.
type Entry struct {
	Scenario  *schemas.WebScenario
	Execution *schemas.WebExecution
}

func (e Entry) declaredSteps() int {
	if e.Scenario == nil {
		return 0
	}
	return len(e.Scenario.Steps)
}

// Reporter defines the interface for writing run results to an output.
type Reporter interface {
	// Write processes a single finished run.
	Write(entry Entry) error
	// Close finalizes the report and closes any underlying resources (e.g., file handles).
	Close() error
}

// nopWriteCloser wraps an io.Writer and provides a no-op Close method.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error {
	return nil
}

// Formats lists the accepted output formats.
var Formats = []string{"text", "json", "sarif"}

// New creates a new reporter based on the specified format and output path.
func New(format, outputPath, toolVersion string, logger *zap.Logger) (Reporter, error) {
	switch format {
	case "text", "json", "sarif":
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}

	var writer io.WriteCloser
	if outputPath == "" || outputPath == "stdout" {
		// Wrap Stdout so Close() is a no-op.
		writer = &nopWriteCloser{os.Stdout}
	} else {
		f, err := os.Create(outputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file %s: %w", outputPath, err)
		}
		writer = f
	}

	// Each reporter takes ownership of the writer.
	switch format {
	case "json":
		return NewJSONReporter(writer, logger), nil
	case "sarif":
		return NewSARIFReporter(writer, toolVersion, logger), nil
	default:
		return NewTextReporter(writer), nil
	}
}
