// Package httpx wraps net/http with bounded, jittered retry behavior shared
// by the discovery and download stages.
package httpx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// Config controls timeout and retry behavior.
type Config struct {
	Timeout        time.Duration
	MaxRetries     int
	BackoffInitial time.Duration
	BackoffFactor  float64
	BackoffMax     time.Duration
	UserAgent      string
}

// Metadata is the result of a lightweight HEAD probe, used for change
// detection.
type Metadata struct {
	LastModified  *time.Time
	ContentLength int64
	ETag          string
}

// Client issues GET and HEAD requests with retry on transient failures.
// 4xx responses are never retried.
type Client struct {
	httpClient *http.Client
	cfg        Config
	backoff    *backoff
	logger     *zap.Logger
}

// NewClient builds a Client; a nil logger is replaced with a no-op.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
		backoff:    newBackoff(cfg.BackoffInitial, cfg.BackoffFactor, cfg.BackoffMax),
		logger:     logger,
	}
}

// Get fetches url, retrying timeouts, connection failures, and 5xx responses
// with jittered exponential backoff. It returns the body and response
// headers on success.
func (c *Client) Get(ctx context.Context, url string) ([]byte, http.Header, error) {
	var lastErr error
	attempts := c.cfg.MaxRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := pause(ctx, c.backoff.Next()); err != nil {
				return nil, nil, err
			}
		}
		body, headers, err := c.doGet(ctx, url)
		if err == nil {
			c.backoff.Reset()
			return body, headers, nil
		}
		var perm *PermanentError
		if errors.As(err, &perm) {
			return nil, nil, err
		}
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		lastErr = err
		c.logger.Debug("transient fetch failure",
			zap.String("url", url),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	return nil, nil, &TransientError{URL: url, Attempts: attempts, Err: lastErr}
}

func (c *Client) doGet(ctx context.Context, url string) ([]byte, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, &PermanentError{URL: url, StatusCode: 0}
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("get %s: %w", url, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resp.StatusCode >= 500:
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return nil, nil, fmt.Errorf("get %s: status %d", url, resp.StatusCode)
	case resp.StatusCode >= 400:
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return nil, nil, &PermanentError{URL: url, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read body of %s: %w", url, err)
	}
	return body, resp.Header, nil
}

// HeadMetadata probes url for change-detection metadata. Probe failures are
// non-fatal: a zero Metadata is returned instead of an error.
func (c *Client) HeadMetadata(ctx context.Context, url string) Metadata {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return Metadata{}
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("metadata probe failed", zap.String("url", url), zap.Error(err))
		return Metadata{}
	}
	defer resp.Body.Close() //nolint:errcheck
	io.Copy(io.Discard, resp.Body) //nolint:errcheck

	if resp.StatusCode >= 400 {
		return Metadata{}
	}

	meta := Metadata{ETag: resp.Header.Get("Etag")}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			meta.LastModified = &t
		}
	}
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
			meta.ContentLength = n
		}
	}
	return meta
}

// Probe reports whether url currently resolves (2xx/3xx on HEAD). Used by
// the recrawl repair path before rewriting a record's URL.
func (c *Client) Probe(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close() //nolint:errcheck
	io.Copy(io.Discard, resp.Body) //nolint:errcheck
	return resp.StatusCode < 400
}

// pause waits for delay or until the context finishes.
func pause(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
