package discovery

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/openparl/records-pipeline/internal/catalog"
	"github.com/openparl/records-pipeline/internal/httpx"
	"github.com/openparl/records-pipeline/internal/metrics"
)

// Config controls the discovery walk.
type Config struct {
	BaseURL        string
	IndexPath      string
	MaxDepth       int
	PageDelay      time.Duration
	HeavySections  []string
	UserAgent      string
	MaxRetries     int
	BackoffInitial time.Duration
	BackoffFactor  float64
	BackoffMax     time.Duration
}

// Filters restricts a discovery run to particular sections or legislatures.
// Empty slices match everything.
type Filters struct {
	Categories   []string
	Legislatures []string
}

// Crawler walks the navigation tree and upserts one catalog record per
// terminal file found. Each upsert commits independently, so a failure
// partway through a crawl never rolls back earlier discoveries.
type Crawler struct {
	cfg    Config
	store  catalog.Store
	client *httpx.Client
	logger *zap.Logger
}

// NewCrawler constructs a Crawler.
func NewCrawler(cfg Config, store catalog.Store, client *httpx.Client, logger *zap.Logger) *Crawler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 6
	}
	return &Crawler{cfg: cfg, store: store, client: client, logger: logger}
}

// visitTracker dedups terminal file URLs within a single crawl so one page
// linking a file twice produces one upsert.
type visitTracker struct {
	seen sync.Map
}

func (t *visitTracker) MarkIfNew(url string) bool {
	if url == "" {
		return false
	}
	_, loaded := t.seen.LoadOrStore(url, struct{}{})
	return !loaded
}

// sectionLink is one top-level navigation entry on the index page.
type sectionLink struct {
	Label string
	URL   string
}

const (
	ctxTrail = "trail"
	ctxDepth = "depth"
)

// DiscoverAll fetches the index, orders its sections so known-heavy archives
// run last, and walks each section to the configured depth. It returns the
// number of files cataloged.
func (c *Crawler) DiscoverAll(ctx context.Context, filters Filters) (int, error) {
	indexURL, err := url.JoinPath(c.cfg.BaseURL, c.cfg.IndexPath)
	if err != nil {
		return 0, fmt.Errorf("build index url: %w", err)
	}

	sections, err := c.fetchSections(ctx, indexURL)
	if err != nil {
		return 0, err
	}
	sections = filterSections(sections, filters.Categories)
	sections = orderHeavyLast(sections, c.cfg.HeavySections)

	collector, state := c.newCollector(ctx, filters)
	for _, sec := range sections {
		reqCtx := colly.NewContext()
		reqCtx.Put(ctxTrail, []string{sec.Label})
		reqCtx.Put(ctxDepth, 1)
		if err := collector.Request("GET", sec.URL, nil, reqCtx, nil); err != nil {
			c.logger.Warn("section walk failed",
				zap.String("section", sec.Label),
				zap.String("url", sec.URL),
				zap.Error(err),
			)
		}
		if ctx.Err() != nil {
			return state.count, ctx.Err()
		}
	}
	collector.Wait()

	c.logger.Info("discovery finished",
		zap.Int("sections", len(sections)),
		zap.Int("files", state.count),
	)
	return state.count, nil
}

// fetchSections pulls the fixed top-level index and extracts its section
// links in document order.
func (c *Crawler) fetchSections(ctx context.Context, indexURL string) ([]sectionLink, error) {
	body, _, err := c.client.Get(ctx, indexURL)
	if err != nil {
		return nil, fmt.Errorf("fetch index: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse index: %w", err)
	}

	base, err := url.Parse(indexURL)
	if err != nil {
		return nil, fmt.Errorf("parse index url: %w", err)
	}

	var sections []sectionLink
	seen := map[string]bool{}
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		label := strings.TrimSpace(sel.Text())
		abs := resolveURL(base, href)
		if label == "" || abs == "" || seen[abs] {
			return
		}
		if !sameHost(base, abs) || IsTerminalFile(abs) {
			return
		}
		seen[abs] = true
		sections = append(sections, sectionLink{Label: label, URL: abs})
	})
	return sections, nil
}

// walkState carries the per-run mutable pieces shared by collector
// callbacks. The collector runs synchronously, so plain fields suffice for
// the counter.
type walkState struct {
	count int
	files visitTracker
}

func (c *Crawler) newCollector(ctx context.Context, filters Filters) (*colly.Collector, *walkState) {
	state := &walkState{}

	collector := colly.NewCollector(
		colly.UserAgent(c.cfg.UserAgent),
		colly.MaxDepth(0), // depth is tracked in the request context
	)
	collector.WithTransport(&httpx.RetryingTransport{
		MaxRetries:     c.cfg.MaxRetries,
		BackoffInitial: c.cfg.BackoffInitial,
		BackoffFactor:  c.cfg.BackoffFactor,
		BackoffMax:     c.cfg.BackoffMax,
	})
	if err := collector.Limit(&colly.LimitRule{
		DomainGlob: "*",
		Delay:      c.cfg.PageDelay,
	}); err != nil {
		c.logger.Warn("set collector limit", zap.Error(err))
	}

	collector.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
		}
	})

	collector.OnError(func(r *colly.Response, err error) {
		c.logger.Warn("page fetch failed",
			zap.String("url", r.Request.URL.String()),
			zap.Int("status", r.StatusCode),
			zap.Error(err),
		)
	})

	collector.OnHTML("a[href]", func(e *colly.HTMLElement) {
		trail, _ := e.Request.Ctx.GetAny(ctxTrail).([]string)
		depth, _ := e.Request.Ctx.GetAny(ctxDepth).(int)

		label := strings.TrimSpace(e.Text)
		abs := e.Request.AbsoluteURL(e.Attr("href"))
		if abs == "" || label == "" {
			return
		}
		pageURL := e.Request.URL
		if !sameHostStr(pageURL.Hostname(), abs) {
			return
		}

		if IsTerminalFile(abs) {
			if !state.files.MarkIfNew(abs) {
				return
			}
			if c.catalogFile(ctx, trail, label, abs, pageURL.String(), filters) {
				state.count++
			}
			return
		}

		if depth >= c.cfg.MaxDepth {
			return
		}
		childCtx := colly.NewContext()
		childCtx.Put(ctxTrail, appendTrail(trail, label))
		childCtx.Put(ctxDepth, depth+1)
		if err := collector.Request("GET", abs, nil, childCtx, nil); err != nil {
			c.logger.Debug("descend failed", zap.String("url", abs), zap.Error(err))
		}
	})

	return collector, state
}

// catalogFile builds and immediately commits one catalog record. Upsert
// errors are logged and absorbed so the walk keeps going.
func (c *Crawler) catalogFile(ctx context.Context, trail []string, anchorText, fileURL, pageURL string, filters Filters) bool {
	fileName := FileNameFromURL(fileURL)
	// The link's own label is the deepest navigation level (it often carries
	// the record number), so extraction sees it appended to the trail.
	fullTrail := appendTrail(trail, anchorText)
	meta, ok := ExtractSeries(fullTrail)
	if !ok {
		meta = Extract(Input{Trail: fullTrail, URL: fileURL, FileName: fileName})
	}
	if !matchesLegislature(meta.Legislature, filters.Legislatures) {
		return false
	}

	probe := c.client.HeadMetadata(ctx, fileURL)

	rec := catalog.Record{
		FileURL:           fileURL,
		FileName:          fileName,
		FileType:          FileTypeOf(fileName),
		Category:          meta.Category,
		Legislature:       meta.Legislature,
		SubSeries:         meta.SubSeries,
		Session:           meta.Session,
		Number:            meta.Number,
		NavigationContext: strings.Join(trail, " > "),
		LastModified:      probe.LastModified,
		ContentLength:     probe.ContentLength,
		ETag:              probe.ETag,
		SourcePageURL:     pageURL,
		AnchorText:        anchorText,
	}

	outcome, err := c.store.UpsertDiscovered(ctx, rec)
	if err != nil {
		c.logger.Error("catalog upsert failed",
			zap.String("file_url", fileURL),
			zap.Error(err),
		)
		return false
	}
	metrics.ObserveDiscovery(string(outcome))
	c.logger.Debug("file cataloged",
		zap.String("file", fileName),
		zap.String("outcome", string(outcome)),
		zap.String("trail", rec.NavigationContext),
	)
	return true
}

func appendTrail(trail []string, label string) []string {
	out := make([]string, 0, len(trail)+1)
	out = append(out, trail...)
	return append(out, label)
}

// orderHeavyLast keeps document order but moves known-heavy archival
// sections to the end so small sections feed downstream stages first.
func orderHeavyLast(sections []sectionLink, heavy []string) []sectionLink {
	if len(heavy) == 0 {
		return sections
	}
	var light, tail []sectionLink
	for _, sec := range sections {
		if isHeavy(sec.Label, heavy) {
			tail = append(tail, sec)
		} else {
			light = append(light, sec)
		}
	}
	return append(light, tail...)
}

func isHeavy(label string, heavy []string) bool {
	l := strings.ToLower(label)
	for _, h := range heavy {
		if h != "" && strings.Contains(l, strings.ToLower(h)) {
			return true
		}
	}
	return false
}

func filterSections(sections []sectionLink, categories []string) []sectionLink {
	if len(categories) == 0 {
		return sections
	}
	var out []sectionLink
	for _, sec := range sections {
		for _, cat := range categories {
			if strings.EqualFold(strings.TrimSpace(cat), sec.Label) ||
				strings.Contains(strings.ToLower(sec.Label), strings.ToLower(cat)) {
				out = append(out, sec)
				break
			}
		}
	}
	return out
}

func matchesLegislature(leg string, wanted []string) bool {
	if len(wanted) == 0 {
		return true
	}
	for _, w := range wanted {
		if strings.EqualFold(strings.TrimSpace(w), leg) {
			return true
		}
	}
	return false
}

func resolveURL(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") ||
		strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "javascript:") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

func sameHost(base *url.URL, rawURL string) bool {
	return sameHostStr(base.Hostname(), rawURL)
}

func sameHostStr(host, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Hostname(), host)
}
