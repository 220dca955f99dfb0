package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openparl/records-pipeline/internal/catalog"
	"github.com/openparl/records-pipeline/internal/metrics"
	"github.com/openparl/records-pipeline/internal/pipeline"
)

type staticSource struct {
	snap pipeline.Snapshot
}

func (s staticSource) Snapshot() pipeline.Snapshot { return s.snap }

func testServer() *Server {
	metrics.Init()
	return NewServer(staticSource{snap: pipeline.Snapshot{
		RunID: "run-123",
		Stats: catalog.Stats{
			ByStatus: map[catalog.Status]int64{
				catalog.StatusCompleted: 7,
				catalog.StatusPending:   2,
			},
			Total:           9,
			RecordsImported: 1234,
		},
		Halted:    true,
		UpdatedAt: time.Now(),
	}}, zap.NewNop())
}

func TestHealthz(t *testing.T) {
	srv := httptest.NewServer(testServer().Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestStatsReturnsSnapshot(t *testing.T) {
	srv := httptest.NewServer(testServer().Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap pipeline.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	require.Equal(t, "run-123", snap.RunID)
	require.True(t, snap.Halted)
	require.Equal(t, int64(9), snap.Stats.Total)
	require.Equal(t, int64(7), snap.Stats.ByStatus[catalog.StatusCompleted])
}

func TestMetricsEndpoint(t *testing.T) {
	srv := httptest.NewServer(testServer().Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
