// Package pipeline drives discovery, download, and import as independently
// paced polling loops over the shared catalog.
package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openparl/records-pipeline/internal/catalog"
	"github.com/openparl/records-pipeline/internal/download"
	"github.com/openparl/records-pipeline/internal/importer"
)

// Mode restricts which stages the orchestrator runs.
type Mode string

const (
	ModeFull         Mode = "full"
	ModeDownloadOnly Mode = "download-only"
	ModeImportOnly   Mode = "import-only"
)

// Discoverer is the discovery stage as the orchestrator sees it.
type Discoverer interface {
	DiscoverAll(ctx context.Context) error
}

// Downloader is the download stage as the orchestrator sees it.
type Downloader interface {
	DownloadBatch(ctx context.Context, recs []catalog.Record) []download.Result
}

// ImportRunner is the import stage as the orchestrator sees it.
type ImportRunner interface {
	ProcessBatch(ctx context.Context, ids []int64) []importer.FileResult
}

// Config tunes the orchestrator loops.
type Config struct {
	Mode              Mode
	DiscoveryPoll     time.Duration
	DownloadPoll      time.Duration
	ImportPoll        time.Duration
	StatsInterval     time.Duration
	DownloadBatchSize int
	ImportBatchSize   int
	// DownloadRetryDelay sets retry_at for transiently failed downloads.
	DownloadRetryDelay time.Duration
	// StopOnError halts claiming after the first failure until an operator
	// clears it; in-flight work still drains.
	StopOnError bool
}

// Orchestrator owns the polling loops and the claim discipline: rows enter
// a stage only through the store's atomic claim queries.
type Orchestrator struct {
	cfg        Config
	store      catalog.Store
	discoverer Discoverer
	downloader Downloader
	importer   ImportRunner
	logger     *zap.Logger
	runID      string
	stats      *statsTracker
	halted     atomic.Bool
}

// New builds an orchestrator. discoverer may be nil in restricted modes.
func New(cfg Config, store catalog.Store, discoverer Discoverer, downloader Downloader, imp ImportRunner, logger *zap.Logger) *Orchestrator {
	if cfg.Mode == "" {
		cfg.Mode = ModeFull
	}
	if cfg.DiscoveryPoll <= 0 {
		cfg.DiscoveryPoll = 30 * time.Minute
	}
	if cfg.DownloadPoll <= 0 {
		cfg.DownloadPoll = 5 * time.Second
	}
	if cfg.ImportPoll <= 0 {
		cfg.ImportPoll = 5 * time.Second
	}
	if cfg.DownloadBatchSize <= 0 {
		cfg.DownloadBatchSize = 20
	}
	if cfg.ImportBatchSize <= 0 {
		cfg.ImportBatchSize = 20
	}
	if cfg.DownloadRetryDelay <= 0 {
		cfg.DownloadRetryDelay = 30 * time.Minute
	}
	runID := uuid.NewString()
	return &Orchestrator{
		cfg:        cfg,
		store:      store,
		discoverer: discoverer,
		downloader: downloader,
		importer:   imp,
		logger:     logger.With(zap.String("run_id", runID)),
		runID:      runID,
		stats:      newStatsTracker(store, logger, cfg.StatsInterval, runID),
	}
}

// RunID identifies this orchestrator run.
func (o *Orchestrator) RunID() string { return o.runID }

// Snapshot returns the latest stats view.
func (o *Orchestrator) Snapshot() Snapshot { return o.stats.Snapshot() }

// Halted reports whether the stop-on-error latch has tripped.
func (o *Orchestrator) Halted() bool { return o.halted.Load() }

// ClearHalt re-arms claiming after an operator resolved the condition.
func (o *Orchestrator) ClearHalt() { o.halted.Store(false) }

// Run blocks until ctx is cancelled, then waits for in-flight batches to
// drain. Partial work is already safe: downloads rename atomically and each
// import owns a single transaction.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("pipeline starting", zap.String("mode", string(o.cfg.Mode)))

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		o.stats.run(ctx, o.halted.Load)
	}()

	if o.cfg.Mode == ModeFull && o.discoverer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.pollLoop(ctx, o.cfg.DiscoveryPoll, o.discoveryTick)
		}()
	}

	if o.cfg.Mode != ModeImportOnly {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.pollLoop(ctx, o.cfg.DownloadPoll, o.downloadTick)
		}()
	}

	if o.cfg.Mode != ModeDownloadOnly {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.pollLoop(ctx, o.cfg.ImportPoll, o.importTick)
		}()
	}

	<-ctx.Done()
	o.logger.Info("pipeline shutting down, draining in-flight work")
	wg.Wait()
	o.stats.refresh(context.WithoutCancel(ctx), o.halted.Load())
	o.logger.Info("pipeline stopped")
	return nil
}

// pollLoop ticks until ctx is cancelled. Each tick runs to completion even
// during shutdown; only new claims stop.
func (o *Orchestrator) pollLoop(ctx context.Context, interval time.Duration, tick func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick(ctx)
		}
	}
}

// discoveryTick re-walks the source site so files published (or re-tokenized)
// since the last pass keep flowing into the catalog. The store's upsert makes
// repeated passes idempotent.
func (o *Orchestrator) discoveryTick(ctx context.Context) {
	if o.halted.Load() || ctx.Err() != nil {
		return
	}
	if err := o.discoverer.DiscoverAll(ctx); err != nil && ctx.Err() == nil {
		o.logger.Error("discovery failed", zap.Error(err))
		o.trip("discovery", err)
	}
}

func (o *Orchestrator) downloadTick(ctx context.Context) {
	if o.halted.Load() || ctx.Err() != nil {
		return
	}
	recs, err := o.store.ClaimForDownload(ctx, o.cfg.DownloadBatchSize)
	if err != nil {
		if ctx.Err() == nil {
			o.logger.Error("download claim failed", zap.Error(err))
			o.trip("download-claim", err)
		}
		return
	}
	if len(recs) == 0 {
		return
	}
	o.logger.Debug("claimed download batch", zap.Int("count", len(recs)))

	// Claimed rows are finished even if shutdown starts mid-batch: the batch
	// runs on an uncancellable context so in-flight transfers complete
	// naturally instead of being aborted and booked as failures, and the
	// write-backs land. Leaving rows in downloading would strand them until
	// an operator reset.
	drainCtx := context.WithoutCancel(ctx)
	results := o.downloader.DownloadBatch(drainCtx, recs)
	for _, res := range results {
		o.applyDownloadResult(drainCtx, res)
	}
}

func (o *Orchestrator) applyDownloadResult(ctx context.Context, res download.Result) {
	if res.Success {
		if err := o.store.MarkDownloaded(ctx, res.RecordID, res.Path, res.Hash, res.Size); err != nil {
			o.logger.Error("failed to persist download result",
				zap.Int64("id", res.RecordID), zap.Error(err))
		}
		return
	}

	msg := "download failed"
	if res.Err != nil {
		msg = res.Err.Error()
	}
	retryAt := time.Now().Add(o.cfg.DownloadRetryDelay)
	if err := o.store.MarkDownloadFailed(ctx, res.RecordID, msg, res.NotFound, retryAt); err != nil {
		o.logger.Error("failed to persist download failure",
			zap.Int64("id", res.RecordID), zap.Error(err))
	}
	o.trip("download", res.Err)
}

func (o *Orchestrator) importTick(ctx context.Context) {
	if o.halted.Load() || ctx.Err() != nil {
		return
	}
	ids, err := o.store.ClaimForImport(ctx, o.cfg.ImportBatchSize)
	if err != nil {
		if ctx.Err() == nil {
			o.logger.Error("import claim failed", zap.Error(err))
			o.trip("import-claim", err)
		}
		return
	}
	if len(ids) == 0 {
		return
	}
	o.logger.Debug("claimed import batch", zap.Int("count", len(ids)))

	// The processor persists outcomes itself; the orchestrator only watches
	// for failures feeding the stop-on-error latch.
	for _, res := range o.importer.ProcessBatch(context.WithoutCancel(ctx), ids) {
		if res.Err != nil {
			o.trip("import", res.Err)
		}
	}
}

// trip arms the stop-on-error latch. A halted pipeline stops claiming new
// work until ClearHalt.
func (o *Orchestrator) trip(stage string, err error) {
	if !o.cfg.StopOnError {
		return
	}
	if o.halted.CompareAndSwap(false, true) {
		o.logger.Warn("stop-on-error tripped, claiming halted",
			zap.String("stage", stage), zap.Error(err))
	}
}
