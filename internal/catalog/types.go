// Package catalog defines the durable work-queue model shared by the
// discovery, download, and import stages.
package catalog

import (
	"context"
	"time"
)

// Status is the lifecycle state of a catalog record.
type Status string

// Record status values persisted in the catalog store.
const (
	StatusDiscovered      Status = "discovered"
	StatusDownloadPending Status = "download_pending"
	StatusDownloading     Status = "downloading"
	StatusPending         Status = "pending"
	StatusRecrawl         Status = "recrawl"
	StatusFailed          Status = "failed"
	StatusProcessing      Status = "processing"
	StatusCompleted       Status = "completed"
	StatusImportError     Status = "import_error"
	StatusSchemaMismatch  Status = "schema_mismatch"
	StatusSkipped         Status = "skipped"
)

// Record describes one remote file and its position in the pipeline.
// file_url is the natural dedup key; classification fields are best-effort
// and may be empty.
type Record struct {
	ID       int64  `json:"id"`
	FileURL  string `json:"file_url"`
	FileName string `json:"file_name"`
	FileType string `json:"file_type"`

	Category          string `json:"category,omitempty"`
	Legislature       string `json:"legislature,omitempty"`
	SubSeries         string `json:"sub_series,omitempty"`
	Session           string `json:"session,omitempty"`
	Number            string `json:"number,omitempty"`
	NavigationContext string `json:"navigation_context,omitempty"`

	LastModified  *time.Time `json:"last_modified,omitempty"`
	ContentLength int64      `json:"content_length,omitempty"`
	ETag          string     `json:"etag,omitempty"`

	SourcePageURL string `json:"source_page_url,omitempty"`
	AnchorText    string `json:"anchor_text,omitempty"`

	FilePath string `json:"file_path,omitempty"`
	FileHash string `json:"file_hash,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`

	Status          Status     `json:"status"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	ErrorCount      int        `json:"error_count"`
	RecrawlCount    int        `json:"recrawl_count"`
	RetryAt         *time.Time `json:"retry_at,omitempty"`
	RecordsImported int        `json:"records_imported"`

	DiscoveredAt          *time.Time `json:"discovered_at,omitempty"`
	ProcessingStartedAt   *time.Time `json:"processing_started_at,omitempty"`
	ProcessingCompletedAt *time.Time `json:"processing_completed_at,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// UpsertOutcome reports what an upsert did to an existing or new row.
type UpsertOutcome string

// Possible upsert outcomes.
const (
	UpsertInserted  UpsertOutcome = "inserted"
	UpsertRefreshed UpsertOutcome = "refreshed"
	UpsertUnchanged UpsertOutcome = "unchanged"
)

// Stats is a point-in-time aggregate view of the catalog, computed by
// read-only queries rather than in-process counters.
type Stats struct {
	ByStatus        map[Status]int64 `json:"by_status"`
	Total           int64            `json:"total"`
	RecordsImported int64            `json:"records_imported"`
	BytesDownloaded int64            `json:"bytes_downloaded"`
}

// Store is the persistence contract for catalog records. Claim methods are
// atomic: concurrent callers never receive the same row.
type Store interface {
	// UpsertDiscovered inserts a newly discovered file or refreshes an
	// existing row keyed by file_url. A metadata change on an existing row
	// moves it to download_pending.
	UpsertDiscovered(ctx context.Context, rec Record) (UpsertOutcome, error)

	// Get re-reads a single record by id.
	Get(ctx context.Context, id int64) (Record, error)

	// ListByStatus returns up to limit records in the given status, oldest
	// first.
	ListByStatus(ctx context.Context, status Status, limit int) ([]Record, error)

	// ClaimForDownload atomically moves up to limit eligible rows
	// (discovered, download_pending, or failed past retry_at) to downloading
	// and returns them.
	ClaimForDownload(ctx context.Context, limit int) ([]Record, error)

	// ClaimForImport atomically moves up to limit pending rows (or retryable
	// import_error rows past retry_at) to processing and returns their ids.
	ClaimForImport(ctx context.Context, limit int) ([]int64, error)

	// MarkDownloaded records a successful download and moves the row to
	// pending.
	MarkDownloaded(ctx context.Context, id int64, path, hash string, size int64) error

	// MarkDownloadFailed routes a failed download to recrawl (notFound) or
	// failed with a retry_at backstop.
	MarkDownloadFailed(ctx context.Context, id int64, msg string, notFound bool, retryAt time.Time) error

	// MarkImportOutcome finalizes one import attempt. An import_error
	// outcome schedules retry_at so the row is eventually re-claimed.
	MarkImportOutcome(ctx context.Context, id int64, status Status, recordsImported int, errMsg string) error

	// RewriteURL repoints a recrawl row at a freshly resolved URL and resets
	// it to discovered.
	RewriteURL(ctx context.Context, id int64, newURL string) error

	// MarkRecrawlFailed leaves a recrawl row in failed with a reason.
	MarkRecrawlFailed(ctx context.Context, id int64, msg string) error

	// ResetStatuses is the operator bulk reset: rows in any of the given
	// statuses return to discovered with error bookkeeping cleared.
	ResetStatuses(ctx context.Context, from []Status) (int64, error)

	// Stats computes the aggregate snapshot.
	Stats(ctx context.Context) (Stats, error)
}
