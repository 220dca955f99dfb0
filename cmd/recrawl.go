package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/openparl/records-pipeline/internal/catalog"
)

// newRecrawlCmd creates the 'recrawl' subcommand, which repairs records
// whose tokenized URLs have expired by re-resolving them from their source
// pages.
func newRecrawlCmd() *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "recrawl",
		Short: "Repair expired file URLs from their source pages",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			st, ok := catalog.ParseStatus(status)
			if !ok {
				return fmt.Errorf("unknown status %q", status)
			}

			repaired, err := a.Recrawler().Recrawl(cmd.Context(), st)
			if err != nil {
				return fmt.Errorf("recrawl: %w", err)
			}

			a.Logger.Info("recrawl finished", zap.Int("repaired", repaired))
			fmt.Fprintf(cmd.OutOrStdout(), "repaired %d record URLs\n", repaired)
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", string(catalog.StatusRecrawl), "status to repair")
	return cmd
}
