// File: internal/results/assembler.go
package results

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/mender/api/schemas"
)

// Outcome is what the orchestrator hands over once a run is terminal.
type Outcome struct {
	RunID      string
	ScenarioID string
	State      schemas.RunState
	Logs       []schemas.StepLog
	// Cause explains an ERROR or FAILED terminal state.
	Cause         string
	StartedAt     time.Time
	FinishedAt    time.Time
	Screenshot    []byte
	ScreenshotErr error
}

// Assembler folds run outcomes into WebExecution records.
type Assembler struct {
	artifactDir string
	logger      *zap.Logger
	now         func() time.Time
}

// NewAssembler creates an assembler. When artifactDir is non-empty, final
// screenshots are also written there as <run id>.png (or .jpg).
func NewAssembler(artifactDir string, logger *zap.Logger) *Assembler {
	return &Assembler{
		artifactDir: artifactDir,
		logger:      logger.Named("results_assembler"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Assemble builds the record for a finished run. Status is SUCCESS only when
// the run ended in SUCCESS; otherwise the terminal state is carried through.
// Duration is the wall clock span between the RUNNING and terminal
// transitions. The logs are copied so later mutation of the outcome cannot
// alter the record.
func (a *Assembler) Assemble(o Outcome) *schemas.WebExecution {
	status := o.State
	if !status.IsTerminal() {
		// A run that never got to a terminal state did not complete.
		a.logger.Error("Assembling a non-terminal run.", zap.String("run_id", o.RunID), zap.String("state", string(status)))
		status = schemas.RunError
	}

	logs := make([]schemas.StepLog, len(o.Logs))
	copy(logs, o.Logs)

	exec := &schemas.WebExecution{
		ID:         o.RunID,
		ScenarioID: o.ScenarioID,
		Status:     status,
		DurationMS: wallClock(o.StartedAt, o.FinishedAt).Milliseconds(),
		Logs:       logs,
		Error:      o.Cause,
		StartedAt:  o.StartedAt.UTC(),
		FinishedAt: o.FinishedAt.UTC(),
		CreatedAt:  a.now(),
	}

	switch {
	case o.ScreenshotErr != nil:
		exec.ScreenshotError = o.ScreenshotErr.Error()
	case len(o.Screenshot) == 0:
		exec.ScreenshotError = "no screenshot captured"
	default:
		exec.Screenshot = append([]byte(nil), o.Screenshot...)
		if uri, err := a.writeArtifact(o.RunID, o.Screenshot); err != nil {
			a.logger.Warn("Failed to write screenshot artifact.", zap.String("run_id", o.RunID), zap.Error(err))
		} else {
			exec.ScreenshotURI = uri
		}
	}

	return exec
}

func (a *Assembler) writeArtifact(runID string, img []byte) (string, error) {
	if a.artifactDir == "" {
		return "", nil
	}
	if err := os.MkdirAll(a.artifactDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create artifact directory: %w", err)
	}
	path := filepath.Join(a.artifactDir, runID+imageExt(img))
	if err := os.WriteFile(path, img, 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}

var jpegMagic = []byte{0xFF, 0xD8, 0xFF}

func imageExt(img []byte) string {
	if bytes.HasPrefix(img, jpegMagic) {
		return ".jpg"
	}
	return ".png"
}

func wallClock(start, end time.Time) time.Duration {
	if start.IsZero() || end.Before(start) {
		return 0
	}
	return end.Sub(start)
}

// Summary counts step outcomes of an execution.
type Summary struct {
	Total   int `json:"total"`
	OK      int `json:"ok"`
	Healed  int `json:"healed"`
	Failed  int `json:"failed"`
	Errored int `json:"errored"`
	// NotRun is the number of declared steps that produced no log.
	NotRun int `json:"not_run"`
}

// Summarize counts outcomes. declared is the scenario's step count, or 0 when
// unknown.
func Summarize(exec *schemas.WebExecution, declared int) Summary {
	s := Summary{Total: len(exec.Logs)}
	for _, l := range exec.Logs {
		switch l.Status {
		case schemas.StepOK:
			s.OK++
		case schemas.StepHealed:
			s.Healed++
		case schemas.StepFailed:
			s.Failed++
		case schemas.StepError:
			s.Errored++
		}
	}
	if declared > len(exec.Logs) {
		s.NotRun = declared - len(exec.Logs)
		s.Total = declared
	}
	return s
}
