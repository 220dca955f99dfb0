package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/openparl/records-pipeline/internal/discovery"
)

// newDiscoverCmd creates the 'discover' subcommand: a one-shot navigation
// walk that catalogs every terminal file it finds.
func newDiscoverCmd() *cobra.Command {
	var (
		legislatures []string
		categories   []string
	)

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Walk the source site and catalog record files",
		Long: `Walks the configured site's navigation tree and upserts one catalog
record per file link found. Already-cataloged files are refreshed in place;
a metadata change re-queues them for download.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			filters := discovery.Filters{
				Categories:   categories,
				Legislatures: legislatures,
			}
			found, err := a.Crawler().DiscoverAll(cmd.Context(), filters)
			if err != nil {
				return fmt.Errorf("discovery: %w", err)
			}

			a.Logger.Info("discovery finished", zap.Int("files_cataloged", found))
			fmt.Fprintf(cmd.OutOrStdout(), "cataloged %d files\n", found)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&legislatures, "legislature", nil, "restrict to these legislatures")
	cmd.Flags().StringSliceVar(&categories, "category", nil, "restrict to these section names")
	return cmd
}
