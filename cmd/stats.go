package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/openparl/records-pipeline/internal/catalog"
)

// newStatsCmd creates the 'stats' subcommand: a one-shot snapshot of the
// catalog computed from read-only queries.
func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print a snapshot of catalog progress",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			stats, err := a.Store().Stats(cmd.Context())
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}

			out := cmd.OutOrStdout()
			statuses := make([]string, 0, len(stats.ByStatus))
			for st := range stats.ByStatus {
				statuses = append(statuses, string(st))
			}
			sort.Strings(statuses)
			for _, st := range statuses {
				fmt.Fprintf(out, "%-18s %d\n", st, stats.ByStatus[catalog.Status(st)])
			}
			fmt.Fprintf(out, "%-18s %d\n", "total", stats.Total)
			fmt.Fprintf(out, "%-18s %d\n", "records_imported", stats.RecordsImported)
			fmt.Fprintf(out, "%-18s %d\n", "bytes_downloaded", stats.BytesDownloaded)
			return nil
		},
	}
}
