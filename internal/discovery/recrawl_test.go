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

type tokenHost struct {
	mu       sync.Mutex
	validTok string
	page1    string
}

func newTokenHost(t *testing.T) (*tokenHost, *httptest.Server) {
	t.Helper()
	host := &tokenHost{validTok: "def"}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host.mu.Lock()
		defer host.mu.Unlock()
		switch r.URL.Path {
		case "/page1":
			fmt.Fprint(w, host.page1) //nolint:errcheck
		case "/doc":
			if r.URL.Query().Get("tok") != host.validTok {
				http.NotFound(w, r)
				return
			}
			fmt.Fprint(w, "<doc/>") //nolint:errcheck
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return host, srv
}

func testRecrawler(store catalog.Store) *Recrawler {
	client := httpx.NewClient(httpx.Config{
		Timeout:        5 * time.Second,
		MaxRetries:     0,
		BackoffInitial: time.Millisecond,
		BackoffFactor:  2,
		BackoffMax:     5 * time.Millisecond,
	}, nil)
	return NewRecrawler(store, client, nil)
}

func TestRecrawlRepairsExpiredToken(t *testing.T) {
	host, srv := newTokenHost(t)
	host.page1 = fmt.Sprintf(`<a href="%s/doc?tok=def&fich=X.xml">X</a>`, srv.URL)

	store := catalogtest.NewFakeStore()
	id := store.Seed(catalog.Record{
		FileURL:       srv.URL + "/doc?tok=abc&fich=X.xml",
		FileName:      "X.xml",
		AnchorText:    "X",
		SourcePageURL: srv.URL + "/page1",
		Status:        catalog.StatusRecrawl,
	})

	repaired, err := testRecrawler(store).Recrawl(context.Background(), catalog.StatusRecrawl)
	require.NoError(t, err)
	require.Equal(t, 1, repaired)

	rec := store.Record(id)
	require.Equal(t, catalog.StatusDiscovered, rec.Status)
	require.Equal(t, srv.URL+"/doc?tok=def&fich=X.xml", rec.FileURL)
	require.Equal(t, 1, rec.RecrawlCount)
}

func TestRecrawlLeavesURLWhenAnchorMissing(t *testing.T) {
	host, srv := newTokenHost(t)
	host.page1 = `<a href="/doc?tok=def&fich=Y.xml">Y</a>`

	store := catalogtest.NewFakeStore()
	oldURL := srv.URL + "/doc?tok=abc&fich=X.xml"
	id := store.Seed(catalog.Record{
		FileURL:       oldURL,
		FileName:      "X.xml",
		AnchorText:    "X",
		SourcePageURL: srv.URL + "/page1",
		Status:        catalog.StatusRecrawl,
	})

	repaired, err := testRecrawler(store).Recrawl(context.Background(), catalog.StatusRecrawl)
	require.NoError(t, err)
	require.Equal(t, 0, repaired)

	rec := store.Record(id)
	require.Equal(t, oldURL, rec.FileURL, "file_url must never be invented")
	require.NotEqual(t, catalog.StatusDiscovered, rec.Status,
		"an unrepaired record must not be marked discovered")
	require.Equal(t, catalog.StatusFailed, rec.Status)
	require.Contains(t, rec.ErrorMessage, "anchor")
}

func TestRecrawlRequiresProvenance(t *testing.T) {
	_, srv := newTokenHost(t)

	store := catalogtest.NewFakeStore()
	id := store.Seed(catalog.Record{
		FileURL: srv.URL + "/doc?tok=abc&fich=X.xml",
		Status:  catalog.StatusRecrawl,
	})

	repaired, err := testRecrawler(store).Recrawl(context.Background(), catalog.StatusRecrawl)
	require.NoError(t, err)
	require.Equal(t, 0, repaired)

	rec := store.Record(id)
	require.Equal(t, catalog.StatusFailed, rec.Status)
	require.Contains(t, rec.ErrorMessage, "missing source page")
}

func TestRecrawlDefersWhenReplacementFailsProbe(t *testing.T) {
	host, srv := newTokenHost(t)
	// The page still lists the anchor, but the linked token is also stale.
	host.page1 = fmt.Sprintf(`<a href="%s/doc?tok=stale&fich=X.xml">X</a>`, srv.URL)

	store := catalogtest.NewFakeStore()
	oldURL := srv.URL + "/doc?tok=abc&fich=X.xml"
	id := store.Seed(catalog.Record{
		FileURL:       oldURL,
		FileName:      "X.xml",
		AnchorText:    "X",
		SourcePageURL: srv.URL + "/page1",
		Status:        catalog.StatusRecrawl,
	})

	repaired, err := testRecrawler(store).Recrawl(context.Background(), catalog.StatusRecrawl)
	require.NoError(t, err)
	require.Equal(t, 0, repaired)

	rec := store.Record(id)
	require.Equal(t, catalog.StatusRecrawl, rec.Status, "record stays queued for a later repair run")
	require.Equal(t, oldURL, rec.FileURL)
}

func TestFindAnchorMatchesExactText(t *testing.T) {
	page := []byte(`
		<a href="/doc?fich=XX.xml">XX</a>
		<a href="/doc?fich=X.xml"> X </a>`)
	url, ok := findAnchor(page, "https://host/page1", "X")
	require.True(t, ok)
	require.Equal(t, "https://host/doc?fich=X.xml", url)

	_, ok = findAnchor(page, "https://host/page1", "Z")
	require.False(t, ok)
}
