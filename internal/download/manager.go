// Package download fetches catalog files to local disk with bounded
// concurrency and a shared politeness delay.
package download

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/openparl/records-pipeline/internal/catalog"
	"github.com/openparl/records-pipeline/internal/hash/sha256"
	"github.com/openparl/records-pipeline/internal/httpx"
	"github.com/openparl/records-pipeline/internal/metrics"
)

// Config tunes the download stage.
type Config struct {
	// Root is the directory artifacts are stored under.
	Root string
	// Concurrency bounds the number of in-flight fetches.
	Concurrency int
	// MinDelay is the minimum spacing between request starts, shared
	// across all workers.
	MinDelay time.Duration
}

// Result reports the outcome of one file download.
type Result struct {
	RecordID int64
	Success  bool
	// NotFound marks a permanent 404/410, which callers route to recrawl
	// rather than retry.
	NotFound bool
	// Cached means the file already existed on disk and no request was made.
	Cached bool
	Path   string
	Hash   string
	Size   int64
	Err    error
}

// Manager downloads claimed catalog records. It never writes to the
// catalog store; callers persist the results.
type Manager struct {
	client  *httpx.Client
	logger  *zap.Logger
	root    string
	sem     *semaphore.Weighted
	limiter *rate.Limiter
}

// NewManager builds a download manager. Concurrency and MinDelay fall back
// to safe defaults when unset.
func NewManager(cfg Config, client *httpx.Client, logger *zap.Logger) *Manager {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.MinDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.MinDelay), 1)
	}
	return &Manager{
		client:  client,
		logger:  logger,
		root:    cfg.Root,
		sem:     semaphore.NewWeighted(int64(cfg.Concurrency)),
		limiter: limiter,
	}
}

// DownloadBatch fetches every record and returns one result per record, in
// input order. Individual failures do not abort the batch; a cancelled
// context stops launching new fetches.
func (m *Manager) DownloadBatch(ctx context.Context, recs []catalog.Record) []Result {
	results := make([]Result, len(recs))
	var wg sync.WaitGroup
	for i := range recs {
		if err := m.sem.Acquire(ctx, 1); err != nil {
			for j := i; j < len(recs); j++ {
				results[j] = Result{RecordID: recs[j].ID, Err: err}
			}
			break
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer m.sem.Release(1)
			results[i] = m.downloadOne(ctx, recs[i])
		}(i)
	}
	wg.Wait()
	return results
}

func (m *Manager) downloadOne(ctx context.Context, rec catalog.Record) Result {
	res := Result{RecordID: rec.ID}

	path, err := m.PathFor(rec)
	if err != nil {
		res.Err = err
		return res
	}
	res.Path = path

	// A non-empty file at the target path is a finished earlier attempt:
	// hash it and skip the network entirely.
	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		hash, err := sha256.File(path)
		if err != nil {
			res.Err = fmt.Errorf("hash cached file: %w", err)
			return res
		}
		res.Success = true
		res.Cached = true
		res.Hash = hash
		res.Size = info.Size()
		m.logger.Debug("download satisfied from disk",
			zap.Int64("id", rec.ID),
			zap.String("path", path))
		metrics.ObserveDownload("cached", info.Size())
		return res
	}

	waitStart := time.Now()
	if err := m.limiter.Wait(ctx); err != nil {
		res.Err = err
		return res
	}
	if waited := time.Since(waitStart); waited > 0 {
		metrics.ObserveRateLimitDelay(waited)
	}

	body, _, err := m.client.Get(ctx, rec.FileURL)
	if err != nil {
		res.Err = err
		res.NotFound = httpx.IsNotFound(err)
		outcome := "error"
		if res.NotFound {
			outcome = "not_found"
		}
		metrics.ObserveDownload(outcome, 0)
		m.logger.Warn("download failed",
			zap.Int64("id", rec.ID),
			zap.String("url", rec.FileURL),
			zap.Bool("not_found", res.NotFound),
			zap.Error(err))
		return res
	}
	if len(body) == 0 {
		res.Err = fmt.Errorf("empty body from %s", rec.FileURL)
		metrics.ObserveDownload("error", 0)
		return res
	}

	if err := writeAtomic(path, body); err != nil {
		res.Err = err
		metrics.ObserveDownload("error", 0)
		return res
	}

	res.Success = true
	res.Hash = sha256.Sum(body)
	res.Size = int64(len(body))
	metrics.ObserveDownload("success", res.Size)
	m.logger.Info("downloaded file",
		zap.Int64("id", rec.ID),
		zap.String("path", path),
		zap.Int64("bytes", res.Size))
	return res
}

// PathFor returns the deterministic local path for a record:
// root/category/legislature/file_name, each component sanitized. The same
// record always maps to the same path so retries overwrite in place.
func (m *Manager) PathFor(rec catalog.Record) (string, error) {
	name := sanitizeComponent(rec.FileName)
	if name == "" {
		return "", fmt.Errorf("record %d has no usable file name", rec.ID)
	}
	category := sanitizeComponent(rec.Category)
	if category == "" {
		category = "uncategorized"
	}
	legislature := sanitizeComponent(rec.Legislature)
	if legislature == "" {
		legislature = "unknown"
	}
	return filepath.Join(m.root, category, legislature, name), nil
}

// writeAtomic writes data next to the target and renames it into place so
// readers never observe a partial file.
func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", path, err)
	}
	tmp := path + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp) //nolint:errcheck
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

var unsafePathChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

func sanitizeComponent(s string) string {
	s = strings.TrimSpace(s)
	s = unsafePathChars.ReplaceAllString(s, "_")
	s = strings.Trim(s, "._")
	// Reject traversal left over after replacement.
	if s == "." || s == ".." {
		return ""
	}
	return s
}
