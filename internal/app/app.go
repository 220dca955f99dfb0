// Package app initializes and holds the long-lived services shared by every
// command: configuration, logging, the catalog store, and the HTTP client.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/openparl/records-pipeline/internal/catalog"
	"github.com/openparl/records-pipeline/internal/catalog/postgres"
	"github.com/openparl/records-pipeline/internal/config"
	"github.com/openparl/records-pipeline/internal/discovery"
	"github.com/openparl/records-pipeline/internal/download"
	"github.com/openparl/records-pipeline/internal/httpx"
	"github.com/openparl/records-pipeline/internal/importer"
	"github.com/openparl/records-pipeline/internal/logging"
	"github.com/openparl/records-pipeline/internal/metrics"
	"github.com/openparl/records-pipeline/internal/pipeline"
)

// App wires configuration to concrete services. It is built once per
// command invocation and closed on exit.
type App struct {
	Config config.Config
	Logger *zap.Logger

	pool   *pgxpool.Pool
	store  *postgres.Store
	client *httpx.Client
}

// New loads config, connects the catalog database, and prepares shared
// services. It fails fast: a command with a broken environment should not
// get as far as claiming work.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	metrics.Init()

	poolCfg, err := pgxpool.ParseConfig(cfg.DB.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse db.dsn: %w", err)
	}
	if cfg.DB.MaxConns > 0 {
		poolCfg.MaxConns = cfg.DB.MaxConns
	}
	if cfg.DB.MinConns > 0 {
		poolCfg.MinConns = cfg.DB.MinConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect catalog database: %w", err)
	}

	store, err := postgres.NewWithPool(pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	client := httpx.NewClient(httpx.Config{
		Timeout:        cfg.HTTPClientTimeout(),
		MaxRetries:     cfg.HTTP.MaxRetries,
		BackoffInitial: time.Duration(cfg.HTTP.BackoffInitialMs) * time.Millisecond,
		BackoffFactor:  cfg.HTTP.BackoffFactor,
		BackoffMax:     time.Duration(cfg.HTTP.BackoffMaxMs) * time.Millisecond,
		UserAgent:      cfg.HTTP.UserAgent,
	}, logging.Component(logger, "httpx"))

	logger.Info("application services ready",
		zap.String("base_url", cfg.Crawler.BaseURL),
		zap.Int32("db_max_conns", cfg.DB.MaxConns))

	return &App{
		Config: cfg,
		Logger: logger,
		pool:   pool,
		store:  store,
		client: client,
	}, nil
}

// Close releases the database pool and flushes logs.
func (a *App) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
	if a.Logger != nil {
		_ = a.Logger.Sync()
	}
}

// Store returns the catalog store.
func (a *App) Store() catalog.Store { return a.store }

// Client returns the shared retrying HTTP client.
func (a *App) Client() *httpx.Client { return a.client }

// Crawler builds the discovery crawler from config.
func (a *App) Crawler() *discovery.Crawler {
	c := a.Config
	return discovery.NewCrawler(discovery.Config{
		BaseURL:        c.Crawler.BaseURL,
		IndexPath:      c.Crawler.IndexPath,
		MaxDepth:       c.Crawler.MaxDepth,
		PageDelay:      time.Duration(c.Crawler.PageDelayMs) * time.Millisecond,
		HeavySections:  c.Crawler.HeavySections,
		UserAgent:      c.HTTP.UserAgent,
		MaxRetries:     c.HTTP.MaxRetries,
		BackoffInitial: time.Duration(c.HTTP.BackoffInitialMs) * time.Millisecond,
		BackoffFactor:  c.HTTP.BackoffFactor,
		BackoffMax:     time.Duration(c.HTTP.BackoffMaxMs) * time.Millisecond,
	}, a.store, a.client, logging.Component(a.Logger, "discovery"))
}

// Recrawler builds the URL repair component.
func (a *App) Recrawler() *discovery.Recrawler {
	return discovery.NewRecrawler(a.store, a.client, logging.Component(a.Logger, "recrawl"))
}

// Downloader builds the download manager from config.
func (a *App) Downloader() *download.Manager {
	c := a.Config.Download
	return download.NewManager(download.Config{
		Root:        c.Root,
		Concurrency: c.Concurrency,
		MinDelay:    time.Duration(c.MinDelayMs) * time.Millisecond,
	}, a.client, logging.Component(a.Logger, "download"))
}

// Importer builds the parallel import processor over the given mapper
// registry.
func (a *App) Importer(registry *importer.Registry) *importer.Processor {
	c := a.Config.Import
	return importer.NewProcessor(importer.Config{
		Workers: c.Workers,
		Strict:  c.Strict,
	}, a.store, a.pool, registry, logging.Component(a.Logger, "import"))
}

// Orchestrator assembles the full pipeline in the given mode.
func (a *App) Orchestrator(mode pipeline.Mode, stopOnError bool, filters discovery.Filters, registry *importer.Registry) *pipeline.Orchestrator {
	c := a.Config
	crawler := a.Crawler()
	var disc pipeline.Discoverer = discovererFunc(func(ctx context.Context) error {
		_, err := crawler.DiscoverAll(ctx, filters)
		return err
	})
	return pipeline.New(pipeline.Config{
		Mode:               mode,
		DiscoveryPoll:      time.Duration(c.Pipeline.DiscoveryPollMinutes) * time.Minute,
		DownloadPoll:       time.Duration(c.Pipeline.DownloadPollSeconds) * time.Second,
		ImportPoll:         time.Duration(c.Pipeline.ImportPollSeconds) * time.Second,
		StatsInterval:      time.Duration(c.Pipeline.StatsSeconds) * time.Second,
		DownloadBatchSize:  c.Download.BatchSize,
		ImportBatchSize:    c.Import.BatchSize,
		DownloadRetryDelay: time.Duration(c.Download.RetryDelayMinute) * time.Minute,
		StopOnError:        stopOnError || c.Pipeline.StopOnError,
	}, a.store, disc, a.Downloader(), a.Importer(registry), logging.Component(a.Logger, "pipeline"))
}

type discovererFunc func(ctx context.Context) error

func (f discovererFunc) DiscoverAll(ctx context.Context) error { return f(ctx) }
