package discovery

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openparl/records-pipeline/internal/catalog"
	"github.com/openparl/records-pipeline/internal/catalog/catalogtest"
	"github.com/openparl/records-pipeline/internal/httpx"
)

// testSite serves a small navigation tree:
//
//	/index            -> sections "Committee Minutes" and "Plenary Records"
//	/minutes          -> one file link
//	/plenary          -> "Series I" -> "Legislature XV" -> "Session 2" -> files
type testSite struct {
	mu    sync.Mutex
	hits  []string
	pages map[string]string
}

func newTestSite(t *testing.T) (*testSite, *httptest.Server) {
	t.Helper()
	site := &testSite{pages: map[string]string{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		site.mu.Lock()
		site.hits = append(site.hits, r.URL.Path)
		page, ok := site.pages[r.URL.Path]
		site.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, page) //nolint:errcheck
	}))
	t.Cleanup(srv.Close)
	return site, srv
}

func (s *testSite) set(path, html string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[path] = html
}

func (s *testSite) pathsHit() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.hits...)
}

func testCrawler(t *testing.T, baseURL string, store catalog.Store, heavy []string) *Crawler {
	t.Helper()
	client := httpx.NewClient(httpx.Config{
		Timeout:        5 * time.Second,
		MaxRetries:     1,
		BackoffInitial: time.Millisecond,
		BackoffFactor:  2,
		BackoffMax:     5 * time.Millisecond,
	}, nil)
	return NewCrawler(Config{
		BaseURL:        baseURL,
		IndexPath:      "/index",
		MaxDepth:       5,
		UserAgent:      "records-pipeline-test/0.1",
		HeavySections:  heavy,
		MaxRetries:     1,
		BackoffInitial: time.Millisecond,
		BackoffFactor:  2,
		BackoffMax:     5 * time.Millisecond,
	}, store, client, nil)
}

func buildSite(site *testSite) {
	site.set("/index", `
		<a href="/minutes">Committee Minutes</a>
		<a href="/plenary">Plenary Records</a>`)
	site.set("/minutes", `
		<a href="/get?tok=aaa&fich=minutes_007.xml">minutes 7</a>`)
	site.set("/plenary", `<a href="/plenary/s1">Series I</a>`)
	site.set("/plenary/s1", `<a href="/plenary/s1/l15">Legislature XV</a>`)
	site.set("/plenary/s1/l15", `<a href="/plenary/s1/l15/sl2">Session 2</a>`)
	site.set("/plenary/s1/l15/sl2", `
		<a href="/get?tok=bbb&fich=dar_034.xml">Number 34</a>`)
}

func TestDiscoverAllCatalogsTerminalFiles(t *testing.T) {
	site, srv := newTestSite(t)
	buildSite(site)
	store := catalogtest.NewFakeStore()

	crawler := testCrawler(t, srv.URL, store, nil)
	count, err := crawler.DiscoverAll(context.Background(), Filters{})
	require.NoError(t, err)
	require.Equal(t, 2, count)

	minutes, err := store.ListByStatus(context.Background(), catalog.StatusDiscovered, 10)
	require.NoError(t, err)
	require.Len(t, minutes, 2)

	byName := map[string]catalog.Record{}
	for _, rec := range minutes {
		byName[rec.FileName] = rec
	}

	flat := byName["minutes_007.xml"]
	require.Equal(t, "Committee Minutes", flat.Category)
	require.Equal(t, "7", flat.Number, "filename fallback fills the number")
	require.Equal(t, "minutes 7", flat.AnchorText)
	require.Contains(t, flat.SourcePageURL, "/minutes")
	require.Equal(t, "xml", flat.FileType)

	series := byName["dar_034.xml"]
	require.Equal(t, "Plenary Records", series.Category)
	require.Equal(t, "I", series.SubSeries)
	require.Equal(t, "XV", series.Legislature)
	require.Equal(t, "2", series.Session)
	require.Equal(t, "34", series.Number)
	require.Equal(t, "Plenary Records > Series I > Legislature XV > Session 2",
		series.NavigationContext)
}

func TestDiscoverAllIsIdempotent(t *testing.T) {
	site, srv := newTestSite(t)
	buildSite(site)
	store := catalogtest.NewFakeStore()
	crawler := testCrawler(t, srv.URL, store, nil)

	_, err := crawler.DiscoverAll(context.Background(), Filters{})
	require.NoError(t, err)
	_, err = crawler.DiscoverAll(context.Background(), Filters{})
	require.NoError(t, err)

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 2, stats.Total, "re-crawl of an unchanged site must not duplicate records")
	require.EqualValues(t, 2, stats.ByStatus[catalog.StatusDiscovered],
		"unchanged records keep their status")
}

func TestDiscoverAllCrawlsHeavySectionsLast(t *testing.T) {
	site, srv := newTestSite(t)
	buildSite(site)
	store := catalogtest.NewFakeStore()

	crawler := testCrawler(t, srv.URL, store, []string{"plenary records"})
	_, err := crawler.DiscoverAll(context.Background(), Filters{})
	require.NoError(t, err)

	var minutesIdx, plenaryIdx int
	for i, path := range site.pathsHit() {
		switch path {
		case "/minutes":
			minutesIdx = i
		case "/plenary":
			plenaryIdx = i
		}
	}
	require.Less(t, minutesIdx, plenaryIdx, "heavy section must be visited after the light one")
}

func TestDiscoverAllCategoryFilter(t *testing.T) {
	site, srv := newTestSite(t)
	buildSite(site)
	store := catalogtest.NewFakeStore()

	crawler := testCrawler(t, srv.URL, store, nil)
	count, err := crawler.DiscoverAll(context.Background(), Filters{Categories: []string{"committee"}})
	require.NoError(t, err)
	require.Equal(t, 1, count)

	recs, err := store.ListByStatus(context.Background(), catalog.StatusDiscovered, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "minutes_007.xml", recs[0].FileName)
}

func TestDiscoverAllLegislatureFilter(t *testing.T) {
	site, srv := newTestSite(t)
	buildSite(site)
	store := catalogtest.NewFakeStore()

	crawler := testCrawler(t, srv.URL, store, nil)
	count, err := crawler.DiscoverAll(context.Background(), Filters{Legislatures: []string{"XV"}})
	require.NoError(t, err)
	require.Equal(t, 1, count)

	recs, err := store.ListByStatus(context.Background(), catalog.StatusDiscovered, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "XV", recs[0].Legislature)
}

func TestDiscoverAllSurvivesBrokenBranch(t *testing.T) {
	site, srv := newTestSite(t)
	buildSite(site)
	// A section that 404s must not abort the rest of the crawl.
	site.set("/index", `
		<a href="/missing">Broken Section</a>
		<a href="/minutes">Committee Minutes</a>`)
	store := catalogtest.NewFakeStore()

	crawler := testCrawler(t, srv.URL, store, nil)
	count, err := crawler.DiscoverAll(context.Background(), Filters{})
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestOrderHeavyLastKeepsDocumentOrder(t *testing.T) {
	sections := []sectionLink{
		{Label: "Historical Archive"},
		{Label: "Minutes"},
		{Label: "Reports"},
	}
	got := orderHeavyLast(sections, []string{"historical"})
	require.Equal(t, []string{"Minutes", "Reports", "Historical Archive"},
		[]string{got[0].Label, got[1].Label, got[2].Label})
}
