package pipeline

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openparl/records-pipeline/internal/catalog"
	"github.com/openparl/records-pipeline/internal/metrics"
)

// Snapshot is a point-in-time view of pipeline progress. It is computed
// entirely from read-only catalog queries; workers never mutate counters.
type Snapshot struct {
	RunID     string        `json:"run_id"`
	Stats     catalog.Stats `json:"stats"`
	Halted    bool          `json:"halted"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// statsTracker refreshes a shared Snapshot on a timer.
type statsTracker struct {
	store    catalog.Store
	logger   *zap.Logger
	interval time.Duration
	runID    string

	mu       sync.RWMutex
	snapshot Snapshot
}

func newStatsTracker(store catalog.Store, logger *zap.Logger, interval time.Duration, runID string) *statsTracker {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &statsTracker{
		store:    store,
		logger:   logger,
		interval: interval,
		runID:    runID,
		snapshot: Snapshot{RunID: runID},
	}
}

// run refreshes until ctx is cancelled. halted is sampled on each refresh.
func (s *statsTracker) run(ctx context.Context, halted func() bool) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.refresh(ctx, halted())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refresh(ctx, halted())
		}
	}
}

func (s *statsTracker) refresh(ctx context.Context, halted bool) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("stats refresh failed", zap.Error(err))
		}
		return
	}
	for _, status := range catalog.AllStatuses() {
		metrics.SetQueueDepth(string(status), stats.ByStatus[status])
	}

	s.mu.Lock()
	s.snapshot = Snapshot{
		RunID:     s.runID,
		Stats:     stats,
		Halted:    halted,
		UpdatedAt: time.Now(),
	}
	s.mu.Unlock()
}

// Snapshot returns the latest stats view.
func (s *statsTracker) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}
