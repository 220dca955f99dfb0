package cmd

import (
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/openparl/records-pipeline/internal/api"
	"github.com/openparl/records-pipeline/internal/discovery"
	"github.com/openparl/records-pipeline/internal/importer"
	"github.com/openparl/records-pipeline/internal/pipeline"
)

// newRunCmd creates the 'run' subcommand: the long-lived orchestrator with
// its three polling loops and the status server.
func newRunCmd() *cobra.Command {
	var (
		downloadOnly bool
		importOnly   bool
		stopOnError  bool
		concurrency  int
		minDelayMs   int
		workers      int
		legislatures []string
		categories   []string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the crawl-download-import pipeline",
		Long: `Runs discovery once, then polls the catalog continuously: eligible
records are claimed for download and import in bounded batches until the
process is signalled to stop. In-flight work drains before exit.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if downloadOnly && importOnly {
				return errors.New("--download-only and --import-only are mutually exclusive")
			}

			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			// Flag overrides beat the config file for this invocation.
			if concurrency > 0 {
				a.Config.Download.Concurrency = concurrency
			}
			if minDelayMs > 0 {
				a.Config.Download.MinDelayMs = minDelayMs
			}
			if workers > 0 {
				a.Config.Import.Workers = workers
			}

			mode := pipeline.ModeFull
			switch {
			case downloadOnly:
				mode = pipeline.ModeDownloadOnly
			case importOnly:
				mode = pipeline.ModeImportOnly
			}

			filters := discovery.Filters{
				Categories:   categories,
				Legislatures: legislatures,
			}
			orch := a.Orchestrator(mode, stopOnError, filters, importer.Default())

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return orch.Run(ctx)
			})
			if port := a.Config.Server.Port; port > 0 {
				srv := api.NewServer(orch, a.Logger)
				g.Go(func() error {
					return srv.Run(ctx, port)
				})
			}

			err = g.Wait()
			if err != nil {
				a.Logger.Error("pipeline exited with error", zap.Error(err))
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&downloadOnly, "download-only", false, "skip the import stage")
	cmd.Flags().BoolVar(&importOnly, "import-only", false, "skip discovery and download")
	cmd.Flags().BoolVar(&stopOnError, "stop-on-error", false, "halt claiming after the first failure")
	cmd.Flags().IntVar(&concurrency, "download-concurrency", 0, "override download concurrency")
	cmd.Flags().IntVar(&minDelayMs, "min-delay-ms", 0, "override minimum delay between downloads")
	cmd.Flags().IntVar(&workers, "import-workers", 0, "override import worker count")
	cmd.Flags().StringSliceVar(&legislatures, "legislature", nil, "restrict discovery to these legislatures")
	cmd.Flags().StringSliceVar(&categories, "category", nil, "restrict discovery to these section names")
	return cmd
}
