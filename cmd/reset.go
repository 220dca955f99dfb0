package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/openparl/records-pipeline/internal/catalog"
)

// newResetCmd creates the 'reset' subcommand: the operator bulk reset that
// sends stuck records back to discovered.
func newResetCmd() *cobra.Command {
	var statuses []string

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Reset errored records back to discovered",
		Long: `Moves every record in the given statuses back to discovered, clearing
error bookkeeping so the pipeline picks them up again. Only settled error
statuses are resettable; in-flight records are never touched.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			var from []catalog.Status
			for _, s := range statuses {
				st, ok := catalog.ParseStatus(s)
				if !ok {
					return fmt.Errorf("unknown status %q", s)
				}
				from = append(from, st)
			}

			n, err := a.Store().ResetStatuses(cmd.Context(), from)
			if err != nil {
				return fmt.Errorf("reset: %w", err)
			}

			a.Logger.Info("reset finished",
				zap.Strings("statuses", statuses), zap.Int64("records", n))
			fmt.Fprintf(cmd.OutOrStdout(), "reset %d records to discovered\n", n)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&statuses, "status",
		[]string{string(catalog.StatusImportError), string(catalog.StatusRecrawl)},
		"statuses to reset")
	return cmd
}
