package discovery

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/openparl/records-pipeline/internal/catalog"
	"github.com/openparl/records-pipeline/internal/httpx"
	"github.com/openparl/records-pipeline/internal/metrics"
)

// Recrawler repairs records whose tokenized URL expired. It re-fetches the
// page the link was originally found on, matches the stored anchor text
// exactly, and only rewrites the record's URL after the replacement probes
// successfully. It never invents a URL.
type Recrawler struct {
	store  catalog.Store
	client *httpx.Client
	logger *zap.Logger
	batch  int
}

// NewRecrawler constructs a Recrawler.
func NewRecrawler(store catalog.Store, client *httpx.Client, logger *zap.Logger) *Recrawler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recrawler{store: store, client: client, logger: logger, batch: 100}
}

// Recrawl repairs every record currently in the given status (normally
// recrawl). It returns the number of records whose URL was rewritten.
func (r *Recrawler) Recrawl(ctx context.Context, status catalog.Status) (int, error) {
	repaired := 0
	for {
		records, err := r.store.ListByStatus(ctx, status, r.batch)
		if err != nil {
			return repaired, fmt.Errorf("list %s records: %w", status, err)
		}
		if len(records) == 0 {
			return repaired, nil
		}

		progressed := false
		for _, rec := range records {
			if ctx.Err() != nil {
				return repaired, ctx.Err()
			}
			outcome := r.repairOne(ctx, rec)
			if outcome != recrawlDeferred {
				progressed = true
			}
			if outcome == recrawlRepaired {
				repaired++
			}
		}
		// A page-level outage can leave a whole batch deferred; bail out
		// rather than spinning on the same rows.
		if !progressed {
			return repaired, nil
		}
	}
}

type recrawlOutcome int

const (
	recrawlRepaired recrawlOutcome = iota
	recrawlFailed
	recrawlDeferred // left in place for a later run
)

func (r *Recrawler) repairOne(ctx context.Context, rec catalog.Record) recrawlOutcome {
	log := r.logger.With(zap.Int64("id", rec.ID), zap.String("file", rec.FileName))

	if rec.SourcePageURL == "" || rec.AnchorText == "" {
		r.markFailed(ctx, rec.ID, "recrawl impossible: missing source page or anchor text")
		metrics.ObserveRecrawl("failed")
		return recrawlFailed
	}

	body, _, err := r.client.Get(ctx, rec.SourcePageURL)
	if err != nil {
		// The source page itself is unreachable; the record stays put for
		// the next run.
		log.Warn("source page fetch failed", zap.Error(err))
		metrics.ObserveRecrawl("deferred")
		return recrawlDeferred
	}

	newURL, found := findAnchor(body, rec.SourcePageURL, rec.AnchorText)
	if !found {
		r.markFailed(ctx, rec.ID, fmt.Sprintf("anchor %q not found on source page", rec.AnchorText))
		metrics.ObserveRecrawl("unmatched")
		return recrawlFailed
	}

	if !r.client.Probe(ctx, newURL) {
		log.Warn("replacement url failed probe", zap.String("url", newURL))
		metrics.ObserveRecrawl("deferred")
		return recrawlDeferred
	}

	if err := r.store.RewriteURL(ctx, rec.ID, newURL); err != nil {
		log.Error("url rewrite failed", zap.Error(err))
		metrics.ObserveRecrawl("failed")
		return recrawlFailed
	}
	log.Info("record url repaired", zap.String("url", newURL))
	metrics.ObserveRecrawl("repaired")
	return recrawlRepaired
}

func (r *Recrawler) markFailed(ctx context.Context, id int64, msg string) {
	if err := r.store.MarkRecrawlFailed(ctx, id, msg); err != nil {
		r.logger.Error("mark recrawl failed", zap.Int64("id", id), zap.Error(err))
	}
}

// findAnchor searches an HTML page for a link whose visible text equals
// anchorText exactly (after trimming) and returns its absolute URL.
func findAnchor(page []byte, pageURL, anchorText string) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return "", false
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return "", false
	}

	want := strings.TrimSpace(anchorText)
	var match string
	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if strings.TrimSpace(sel.Text()) != want {
			return true
		}
		href, _ := sel.Attr("href")
		if abs := resolveURL(base, href); abs != "" {
			match = abs
			return false
		}
		return true
	})
	return match, match != ""
}
