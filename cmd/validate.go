// -- cmd/validate.go --
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/mender/internal/scenario"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <scenario-file>...",
		Short: "Check scenario files without running them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			failed := 0
			for _, path := range args {
				sc, err := scenario.Load(path)
				if err != nil {
					fmt.Fprintf(out, "FAIL %v\n", err)
					failed++
					continue
				}
				fmt.Fprintf(out, "ok   %s (%s, %d steps)\n", path, sc.ID, len(sc.Steps))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d scenario file(s) are invalid", failed, len(args))
			}
			return nil
		},
	}
}
