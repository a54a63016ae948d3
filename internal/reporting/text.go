package reporting

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/xkilldash9x/mender/api/schemas"
	"github.com/xkilldash9x/mender/internal/results"
)

// TextReporter prints a step timeline per run as soon as it is written, and
// batch totals on Close. Colors are used only when the writer is a terminal.
type TextReporter struct {
	writer io.WriteCloser
	styles map[string]lipgloss.Style
	dim    lipgloss.Style

	mu     sync.Mutex
	counts map[schemas.RunState]int
}

// NewTextReporter creates a reporter writing to writer.
func NewTextReporter(writer io.WriteCloser) *TextReporter {
	r := lipgloss.NewRenderer(writer)
	color := func(c string) lipgloss.Style { return r.NewStyle().Foreground(lipgloss.Color(c)).Bold(true) }
	return &TextReporter{
		writer: writer,
		styles: map[string]lipgloss.Style{
			string(schemas.RunSuccess): color("2"),
			string(schemas.StepOK):     color("2"),
			string(schemas.StepHealed): color("3"),
			string(schemas.StepFailed): color("1"),
			string(schemas.StepError):  color("5"),
			string(schemas.RunRunning): color("6"),
			string(schemas.RunPending): color("6"),
			notRunLabel:                r.NewStyle().Faint(true),
		},
		dim:    r.NewStyle().Faint(true),
		counts: make(map[schemas.RunState]int),
	}
}

const notRunLabel = "NOT RUN"

func (t *TextReporter) label(status string, width int) string {
	padded := fmt.Sprintf("%-*s", width, status)
	if style, ok := t.styles[status]; ok {
		return style.Render(padded)
	}
	return padded
}

func (t *TextReporter) Write(entry Entry) error {
	exec := entry.Execution
	var b strings.Builder

	name := exec.ScenarioID
	if entry.Scenario != nil && entry.Scenario.Name != "" && entry.Scenario.Name != exec.ScenarioID {
		name = fmt.Sprintf("%s (%s)", entry.Scenario.Name, exec.ScenarioID)
	}
	fmt.Fprintf(&b, "%s  %s  %s\n", name, t.label(string(exec.Status), 0),
		t.dim.Render(fmt.Sprintf("run %s, %s", exec.ID, time.Duration(exec.DurationMS)*time.Millisecond)))

	for _, l := range exec.Logs {
		line := fmt.Sprintf("  %3d  %s  %7s  %s", l.Index+1, t.label(string(l.Status), 7), l.Duration(), l.Step)
		switch {
		case l.Status == schemas.StepHealed:
			line += fmt.Sprintf("  [score %.2f] %s", l.Score, l.Info)
		case l.Error != "":
			line += "  " + l.Error
		case l.Info != "":
			line += "  " + l.Info
		}
		b.WriteString(line + "\n")
	}

	summary := results.Summarize(exec, entry.declaredSteps())
	if summary.NotRun > 0 {
		fmt.Fprintf(&b, "    -  %s  %d step(s)\n", t.label(notRunLabel, 7), summary.NotRun)
	}
	fmt.Fprintf(&b, "  %d ok, %d healed, %d failed, %d errored, %d not run\n",
		summary.OK, summary.Healed, summary.Failed, summary.Errored, summary.NotRun)

	if exec.Error != "" {
		fmt.Fprintf(&b, "  error: %s\n", exec.Error)
	}
	switch {
	case exec.ScreenshotURI != "":
		fmt.Fprintf(&b, "  screenshot: %s (%s)\n", exec.ScreenshotURI, humanize.Bytes(uint64(len(exec.Screenshot))))
	case exec.ScreenshotError != "":
		fmt.Fprintf(&b, "  screenshot: unavailable (%s)\n", exec.ScreenshotError)
	}
	b.WriteString("\n")

	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts[exec.Status]++
	if _, err := io.WriteString(t.writer, b.String()); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// Close prints batch totals and closes the writer.
func (t *TextReporter) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	total := 0
	for _, n := range t.counts {
		total += n
	}
	_, writeErr := fmt.Fprintf(t.writer, "%d run(s): %d succeeded, %d failed, %d errored\n", total,
		t.counts[schemas.RunSuccess], t.counts[schemas.RunFailed], t.counts[schemas.RunError])
	closeErr := t.writer.Close()
	if writeErr != nil {
		return fmt.Errorf("failed to write report: %w", writeErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close output writer: %w", closeErr)
	}
	return nil
}
