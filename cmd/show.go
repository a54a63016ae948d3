// -- cmd/show.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mender/api/schemas"
	"github.com/xkilldash9x/mender/internal/observability"
	"github.com/xkilldash9x/mender/internal/reporting"
	"github.com/xkilldash9x/mender/internal/store"
)

func newShowCmd() *cobra.Command {
	var (
		format     string
		output     string
		scenarioID string
		limit      int
	)

	showCmd := &cobra.Command{
		Use:   "show [execution-id]",
		Short: "Show a stored run, or list the recent runs of a scenario",
		Example: `  mender show 3f2a9c1e-...            # full timeline of one run
  mender show --scenario checkout -n 10 # the last ten runs of a scenario`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && scenarioID == "" {
				return fmt.Errorf("either an execution id or --scenario is required")
			}
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()
			ctx := cmd.Context()

			st, err := store.Open(ctx, cfg.Database, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			if len(args) == 1 {
				return showExecution(ctx, st, args[0], format, output, logger)
			}
			return listExecutions(ctx, st, scenarioID, limit, cmd.OutOrStdout())
		},
	}

	flags := showCmd.Flags()
	flags.StringVarP(&format, "format", "f", "text", fmt.Sprintf("Report format %v.", reporting.Formats))
	flags.StringVarP(&output, "output", "o", "", "Output file for the report (default is stdout).")
	flags.StringVar(&scenarioID, "scenario", "", "List the runs of this scenario.")
	flags.IntVarP(&limit, "limit", "n", store.DefaultListLimit, "Maximum runs to list.")
	return showCmd
}

func showExecution(ctx context.Context, st schemas.Store, id, format, output string, logger *zap.Logger) (err error) {
	exec, err := st.GetExecution(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no execution with id %s", id)
		}
		return err
	}

	// The scenario may have been removed since; the report then omits the
	// count of steps that never ran.
	sc, err := st.GetScenario(ctx, exec.ScenarioID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	reporter, err := reporting.New(format, output, Version, logger)
	if err != nil {
		return err
	}
	if err := reporter.Write(reporting.Entry{Scenario: sc, Execution: exec}); err != nil {
		reporter.Close()
		return err
	}
	return reporter.Close()
}

func listExecutions(ctx context.Context, st schemas.ExecutionStore, scenarioID string, limit int, out io.Writer) error {
	execs, err := st.ListExecutions(ctx, scenarioID, limit)
	if err != nil {
		return err
	}
	if len(execs) == 0 {
		fmt.Fprintf(out, "no runs recorded for %s\n", scenarioID)
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTATUS\tSTEPS\tDURATION\tSTARTED")
	for _, e := range execs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", e.ID, e.Status, len(e.Logs),
			time.Duration(e.DurationMS)*time.Millisecond, humanize.Time(e.StartedAt))
	}
	return tw.Flush()
}
