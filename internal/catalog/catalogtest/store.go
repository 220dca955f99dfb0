// Package catalogtest provides an in-memory catalog.Store double shared by
// component tests.
package catalogtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/openparl/records-pipeline/internal/catalog"
)

// FakeStore is an in-memory catalog.Store with the same claim and
// transition guards as the Postgres implementation.
type FakeStore struct {
	mu      sync.Mutex
	nextID  int64
	records map[int64]catalog.Record
	byURL   map[string]int64
}

var _ catalog.Store = (*FakeStore)(nil)

func NewFakeStore() *FakeStore {
	return &FakeStore{
		nextID:  1,
		records: make(map[int64]catalog.Record),
		byURL:   make(map[string]int64),
	}
}

// Seed inserts a record as-is and returns its id.
func (s *FakeStore) Seed(rec catalog.Record) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.ID = s.nextID
	s.nextID++
	s.records[rec.ID] = rec
	s.byURL[rec.FileURL] = rec.ID
	return rec.ID
}

// Record returns the current state of a record.
func (s *FakeStore) Record(id int64) catalog.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[id]
}

func (s *FakeStore) UpsertDiscovered(_ context.Context, rec catalog.Record) (catalog.UpsertOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byURL[rec.FileURL]; ok {
		existing := s.records[id]
		changed := !timesEqual(existing.LastModified, rec.LastModified) ||
			existing.ContentLength != rec.ContentLength ||
			existing.ETag != rec.ETag
		if !changed {
			return catalog.UpsertUnchanged, nil
		}
		rec.ID = id
		rec.Status = catalog.StatusDownloadPending
		s.records[id] = rec
		return catalog.UpsertRefreshed, nil
	}
	rec.ID = s.nextID
	s.nextID++
	rec.Status = catalog.StatusDiscovered
	s.records[rec.ID] = rec
	s.byURL[rec.FileURL] = rec.ID
	return catalog.UpsertInserted, nil
}

func (s *FakeStore) Get(_ context.Context, id int64) (catalog.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return catalog.Record{}, fmt.Errorf("record %d not found", id)
	}
	return rec, nil
}

func (s *FakeStore) ListByStatus(_ context.Context, status catalog.Status, limit int) ([]catalog.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []catalog.Record
	for id := int64(1); id < s.nextID && len(out) < limit; id++ {
		if rec, ok := s.records[id]; ok && rec.Status == status {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *FakeStore) ClaimForDownload(_ context.Context, limit int) ([]catalog.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []catalog.Record
	for id := int64(1); id < s.nextID && len(out) < limit; id++ {
		rec, ok := s.records[id]
		if !ok {
			continue
		}
		if rec.Status == catalog.StatusDiscovered || rec.Status == catalog.StatusDownloadPending ||
			(rec.Status == catalog.StatusFailed && (rec.RetryAt == nil || !rec.RetryAt.After(time.Now()))) {
			rec.Status = catalog.StatusDownloading
			s.records[id] = rec
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *FakeStore) ClaimForImport(_ context.Context, limit int) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int64
	for id := int64(1); id < s.nextID && len(out) < limit; id++ {
		rec, ok := s.records[id]
		if !ok {
			continue
		}
		if rec.Status == catalog.StatusPending ||
			(rec.Status == catalog.StatusImportError && rec.RetryAt != nil && !rec.RetryAt.After(time.Now())) {
			rec.Status = catalog.StatusProcessing
			s.records[id] = rec
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *FakeStore) MarkDownloaded(_ context.Context, id int64, path, hash string, size int64) error {
	return s.update(id, catalog.StatusDownloading, func(rec *catalog.Record) {
		rec.Status = catalog.StatusPending
		rec.FilePath = path
		rec.FileHash = hash
		rec.FileSize = size
		rec.ErrorMessage = ""
	})
}

func (s *FakeStore) MarkDownloadFailed(_ context.Context, id int64, msg string, notFound bool, retryAt time.Time) error {
	return s.update(id, catalog.StatusDownloading, func(rec *catalog.Record) {
		if notFound {
			rec.Status = catalog.StatusRecrawl
		} else {
			rec.Status = catalog.StatusFailed
			at := retryAt
			rec.RetryAt = &at
		}
		rec.ErrorMessage = msg
		rec.ErrorCount++
	})
}

func (s *FakeStore) MarkImportOutcome(_ context.Context, id int64, status catalog.Status, recordsImported int, errMsg string) error {
	if !catalog.CanTransition(catalog.StatusProcessing, status) {
		return fmt.Errorf("illegal import outcome %q", status)
	}
	return s.update(id, catalog.StatusProcessing, func(rec *catalog.Record) {
		rec.Status = status
		rec.RecordsImported = recordsImported
		rec.ErrorMessage = errMsg
		rec.RetryAt = nil
		if status == catalog.StatusImportError {
			at := time.Now().Add(30 * time.Minute)
			rec.RetryAt = &at
		}
		if status != catalog.StatusCompleted && status != catalog.StatusSkipped {
			rec.ErrorCount++
		}
	})
}

func (s *FakeStore) RewriteURL(_ context.Context, id int64, newURL string) error {
	return s.update(id, catalog.StatusRecrawl, func(rec *catalog.Record) {
		delete(s.byURL, rec.FileURL)
		rec.FileURL = newURL
		s.byURL[newURL] = rec.ID
		rec.Status = catalog.StatusDiscovered
		rec.RecrawlCount++
		rec.ErrorMessage = ""
	})
}

func (s *FakeStore) MarkRecrawlFailed(_ context.Context, id int64, msg string) error {
	return s.update(id, catalog.StatusRecrawl, func(rec *catalog.Record) {
		rec.Status = catalog.StatusFailed
		rec.ErrorMessage = msg
		rec.ErrorCount++
	})
}

func (s *FakeStore) ResetStatuses(_ context.Context, from []catalog.Status) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, rec := range s.records {
		for _, st := range from {
			if rec.Status == st {
				rec.Status = catalog.StatusDiscovered
				rec.ErrorMessage = ""
				rec.ErrorCount = 0
				rec.RetryAt = nil
				s.records[id] = rec
				n++
				break
			}
		}
	}
	return n, nil
}

func (s *FakeStore) Stats(_ context.Context) (catalog.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := catalog.Stats{ByStatus: make(map[catalog.Status]int64)}
	for _, rec := range s.records {
		stats.ByStatus[rec.Status]++
		stats.Total++
		stats.RecordsImported += int64(rec.RecordsImported)
		stats.BytesDownloaded += rec.FileSize
	}
	return stats, nil
}

func (s *FakeStore) update(id int64, want catalog.Status, fn func(*catalog.Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("record %d not found", id)
	}
	if rec.Status != want {
		return fmt.Errorf("record %d not in %s state", id, want)
	}
	fn(&rec)
	s.records[id] = rec
	return nil
}

func timesEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
