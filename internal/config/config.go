// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all pipeline configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	DB       DBConfig       `mapstructure:"db"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	Download DownloadConfig `mapstructure:"download"`
	Import   ImportConfig   `mapstructure:"import"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
}

// ServerConfig controls the status/metrics HTTP endpoint. Port 0 disables it.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// DBConfig controls access to the catalog database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// HTTPConfig configures the retryable HTTP client.
type HTTPConfig struct {
	TimeoutSeconds   int     `mapstructure:"timeout_seconds"`
	MaxRetries       int     `mapstructure:"max_retries"`
	BackoffInitialMs int     `mapstructure:"backoff_initial_ms"`
	BackoffFactor    float64 `mapstructure:"backoff_factor"`
	BackoffMaxMs     int     `mapstructure:"backoff_max_ms"`
	UserAgent        string  `mapstructure:"user_agent"`
}

// CrawlerConfig governs the discovery walk.
type CrawlerConfig struct {
	BaseURL       string   `mapstructure:"base_url"`
	IndexPath     string   `mapstructure:"index_path"`
	MaxDepth      int      `mapstructure:"max_depth"`
	PageDelayMs   int      `mapstructure:"page_delay_ms"`
	HeavySections []string `mapstructure:"heavy_sections"`
}

// DownloadConfig governs the download stage.
type DownloadConfig struct {
	Root             string `mapstructure:"root"`
	Concurrency      int    `mapstructure:"concurrency"`
	MinDelayMs       int    `mapstructure:"min_delay_ms"`
	BatchSize        int    `mapstructure:"batch_size"`
	RetryDelayMinute int    `mapstructure:"retry_delay_minutes"`
}

// ImportConfig governs the parallel import stage.
type ImportConfig struct {
	Workers   int  `mapstructure:"workers"`
	BatchSize int  `mapstructure:"batch_size"`
	Strict    bool `mapstructure:"strict"`
}

// PipelineConfig governs the orchestrator loops.
type PipelineConfig struct {
	DiscoveryPollMinutes int  `mapstructure:"discovery_poll_minutes"`
	DownloadPollSeconds  int  `mapstructure:"download_poll_seconds"`
	ImportPollSeconds    int  `mapstructure:"import_poll_seconds"`
	StatsSeconds         int  `mapstructure:"stats_seconds"`
	StopOnError          bool `mapstructure:"stop_on_error"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PARLDOCS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", false)
	v.SetDefault("db.max_conns", 16)
	v.SetDefault("db.min_conns", 2)
	v.SetDefault("http.timeout_seconds", 60)
	v.SetDefault("http.max_retries", 5)
	v.SetDefault("http.backoff_initial_ms", 1000)
	v.SetDefault("http.backoff_factor", 2.0)
	v.SetDefault("http.backoff_max_ms", 60000)
	v.SetDefault("http.user_agent", "records-pipeline/0.1")
	v.SetDefault("crawler.max_depth", 6)
	v.SetDefault("crawler.page_delay_ms", 1500)
	v.SetDefault("download.root", "data/files")
	v.SetDefault("download.concurrency", 4)
	v.SetDefault("download.min_delay_ms", 500)
	v.SetDefault("download.batch_size", 20)
	v.SetDefault("download.retry_delay_minutes", 30)
	v.SetDefault("import.workers", 4)
	v.SetDefault("import.batch_size", 20)
	v.SetDefault("import.strict", true)
	v.SetDefault("pipeline.discovery_poll_minutes", 30)
	v.SetDefault("pipeline.download_poll_seconds", 5)
	v.SetDefault("pipeline.import_poll_seconds", 5)
	v.SetDefault("pipeline.stats_seconds", 10)
	v.SetDefault("pipeline.stop_on_error", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port < 0 {
		return fmt.Errorf("server.port must be >= 0")
	}
	if c.Crawler.BaseURL == "" {
		return fmt.Errorf("crawler.base_url is required")
	}
	if c.Crawler.MaxDepth <= 0 {
		return fmt.Errorf("crawler.max_depth must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.BackoffFactor < 1 {
		return fmt.Errorf("http.backoff_factor must be >= 1")
	}
	if c.Download.Concurrency <= 0 {
		return fmt.Errorf("download.concurrency must be > 0")
	}
	if c.Import.Workers <= 0 {
		return fmt.Errorf("import.workers must be > 0")
	}
	// Each import worker holds its own transaction; leave connections for
	// the orchestrator and the stats queries.
	if int32(c.Import.Workers) >= c.DB.MaxConns {
		return fmt.Errorf("import.workers (%d) must be below db.max_conns (%d)",
			c.Import.Workers, c.DB.MaxConns)
	}
	return nil
}

// HTTPClientTimeout converts the configured timeout to a duration.
func (c Config) HTTPClientTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}
