// Package postgres provides the Postgres-backed catalog store.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openparl/records-pipeline/internal/catalog"
)

// Config controls the Postgres connection pool behind the store.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// dbPool is the subset of pgxpool.Pool the store depends on; pgxmock
// satisfies it in tests.
type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements catalog.Store on Postgres.
type Store struct {
	pool dbPool
}

var _ catalog.Store = (*Store)(nil)

// New connects a pool and returns a Store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool constructs a Store from an existing pool (primarily for
// testing).
func NewWithPool(pool dbPool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// EnsureSchema applies the catalog DDL. Safe to run repeatedly.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply catalog schema: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const recordColumns = `id, file_url, file_name, file_type, category, legislature,
	sub_series, session, number, navigation_context, last_modified,
	content_length, etag, source_page_url, anchor_text, file_path, file_hash,
	file_size, status, error_message, error_count, recrawl_count, retry_at,
	records_imported, discovered_at, processing_started_at,
	processing_completed_at, created_at, updated_at`

func scanRecord(row pgx.Row) (catalog.Record, error) {
	var rec catalog.Record
	err := row.Scan(
		&rec.ID, &rec.FileURL, &rec.FileName, &rec.FileType, &rec.Category,
		&rec.Legislature, &rec.SubSeries, &rec.Session, &rec.Number,
		&rec.NavigationContext, &rec.LastModified, &rec.ContentLength,
		&rec.ETag, &rec.SourcePageURL, &rec.AnchorText, &rec.FilePath,
		&rec.FileHash, &rec.FileSize, &rec.Status, &rec.ErrorMessage,
		&rec.ErrorCount, &rec.RecrawlCount, &rec.RetryAt,
		&rec.RecordsImported, &rec.DiscoveredAt, &rec.ProcessingStartedAt,
		&rec.ProcessingCompletedAt, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return catalog.Record{}, err
	}
	return rec, nil
}

func collectRecords(rows pgx.Rows) ([]catalog.Record, error) {
	defer rows.Close()
	var out []catalog.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

// upsertQuery refreshes classification and probe metadata on conflict, but
// only when the probe metadata actually differs, so an unchanged remote file
// leaves the row untouched. A metadata change on a settled row re-queues it
// as download_pending; rows already in flight keep their status.
const upsertQuery = `
INSERT INTO catalog_records (
	file_url, file_name, file_type, category, legislature, sub_series,
	session, number, navigation_context, last_modified, content_length, etag,
	source_page_url, anchor_text, status, discovered_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,'discovered',NOW())
ON CONFLICT (file_url) DO UPDATE SET
	file_name = EXCLUDED.file_name,
	file_type = EXCLUDED.file_type,
	category = EXCLUDED.category,
	legislature = EXCLUDED.legislature,
	sub_series = EXCLUDED.sub_series,
	session = EXCLUDED.session,
	number = EXCLUDED.number,
	navigation_context = EXCLUDED.navigation_context,
	last_modified = EXCLUDED.last_modified,
	content_length = EXCLUDED.content_length,
	etag = EXCLUDED.etag,
	source_page_url = EXCLUDED.source_page_url,
	anchor_text = EXCLUDED.anchor_text,
	status = CASE
		WHEN catalog_records.status IN
			('completed','skipped','failed','import_error','schema_mismatch','discovered','pending')
		THEN 'download_pending'
		ELSE catalog_records.status
	END,
	updated_at = NOW()
WHERE catalog_records.last_modified IS DISTINCT FROM EXCLUDED.last_modified
   OR catalog_records.content_length IS DISTINCT FROM EXCLUDED.content_length
   OR catalog_records.etag IS DISTINCT FROM EXCLUDED.etag
RETURNING (xmax = 0) AS inserted`

// UpsertDiscovered implements catalog.Store.
func (s *Store) UpsertDiscovered(ctx context.Context, rec catalog.Record) (catalog.UpsertOutcome, error) {
	if rec.FileURL == "" {
		return "", fmt.Errorf("file_url is required")
	}
	var inserted bool
	err := s.pool.QueryRow(ctx, upsertQuery,
		rec.FileURL, rec.FileName, rec.FileType, rec.Category,
		rec.Legislature, rec.SubSeries, rec.Session, rec.Number,
		rec.NavigationContext, rec.LastModified, rec.ContentLength, rec.ETag,
		rec.SourcePageURL, rec.AnchorText,
	).Scan(&inserted)
	if err == pgx.ErrNoRows {
		// Conflict row exists and probe metadata is unchanged.
		return catalog.UpsertUnchanged, nil
	}
	if err != nil {
		return "", fmt.Errorf("upsert catalog record: %w", err)
	}
	if inserted {
		return catalog.UpsertInserted, nil
	}
	return catalog.UpsertRefreshed, nil
}

// Get implements catalog.Store.
func (s *Store) Get(ctx context.Context, id int64) (catalog.Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM catalog_records WHERE id = $1`, recordColumns)
	rec, err := scanRecord(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		return catalog.Record{}, fmt.Errorf("get catalog record %d: %w", id, err)
	}
	return rec, nil
}

// ListByStatus implements catalog.Store.
func (s *Store) ListByStatus(ctx context.Context, status catalog.Status, limit int) ([]catalog.Record, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM catalog_records WHERE status = $1 ORDER BY id LIMIT $2`,
		recordColumns,
	)
	rows, err := s.pool.Query(ctx, query, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list by status: %w", err)
	}
	return collectRecords(rows)
}

// claimDownloadQuery uses FOR UPDATE SKIP LOCKED so concurrent claimers
// never acquire the same row.
var claimDownloadQuery = fmt.Sprintf(`
UPDATE catalog_records SET status = 'downloading', updated_at = NOW()
WHERE id IN (
	SELECT id FROM catalog_records
	WHERE status IN ('discovered','download_pending')
	   OR (status = 'failed' AND (retry_at IS NULL OR retry_at <= NOW()))
	ORDER BY id
	LIMIT $1
	FOR UPDATE SKIP LOCKED
)
RETURNING %s`, recordColumns)

// ClaimForDownload implements catalog.Store.
func (s *Store) ClaimForDownload(ctx context.Context, limit int) ([]catalog.Record, error) {
	rows, err := s.pool.Query(ctx, claimDownloadQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("claim for download: %w", err)
	}
	return collectRecords(rows)
}

// claimImportQuery also picks up import_error rows whose retry_at has
// elapsed, so transient import failures heal without an operator reset.
const claimImportQuery = `
UPDATE catalog_records
SET status = 'processing', processing_started_at = NOW(), updated_at = NOW()
WHERE id IN (
	SELECT id FROM catalog_records
	WHERE status = 'pending'
	   OR (status = 'import_error' AND retry_at IS NOT NULL AND retry_at <= NOW())
	ORDER BY id
	LIMIT $1
	FOR UPDATE SKIP LOCKED
)
RETURNING id`

// ClaimForImport implements catalog.Store. Only ids cross the claim
// boundary; workers re-read the row themselves.
func (s *Store) ClaimForImport(ctx context.Context, limit int) ([]int64, error) {
	rows, err := s.pool.Query(ctx, claimImportQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("claim for import: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan claimed id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claimed ids: %w", err)
	}
	return ids, nil
}

// MarkDownloaded implements catalog.Store.
func (s *Store) MarkDownloaded(ctx context.Context, id int64, path, hash string, size int64) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE catalog_records
SET status = 'pending', file_path = $2, file_hash = $3, file_size = $4,
    error_message = '', retry_at = NULL, updated_at = NOW()
WHERE id = $1 AND status = 'downloading'`, id, path, hash, size)
	if err != nil {
		return fmt.Errorf("mark downloaded: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("record %d not in downloading state", id)
	}
	return nil
}

// MarkDownloadFailed implements catalog.Store. A not-found failure routes to
// recrawl (the URL token likely expired); anything else stays retryable in
// failed with a retry_at backstop.
func (s *Store) MarkDownloadFailed(ctx context.Context, id int64, msg string, notFound bool, retryAt time.Time) error {
	status := catalog.StatusFailed
	if notFound {
		status = catalog.StatusRecrawl
	}
	var retry *time.Time
	if !notFound && !retryAt.IsZero() {
		retry = &retryAt
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE catalog_records
SET status = $2, error_message = $3, error_count = error_count + 1,
    retry_at = $4, updated_at = NOW()
WHERE id = $1 AND status = 'downloading'`, id, string(status), msg, retry)
	if err != nil {
		return fmt.Errorf("mark download failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("record %d not in downloading state", id)
	}
	return nil
}

// importRetryDelay schedules the next claim attempt for rows that land in
// import_error. Terminal outcomes clear retry_at.
const importRetryDelay = 30 * time.Minute

// MarkImportOutcome implements catalog.Store.
func (s *Store) MarkImportOutcome(ctx context.Context, id int64, status catalog.Status, recordsImported int, errMsg string) error {
	if !catalog.CanTransition(catalog.StatusProcessing, status) {
		return fmt.Errorf("illegal import outcome %q", status)
	}
	errIncrement := 1
	if status == catalog.StatusCompleted || status == catalog.StatusSkipped {
		errIncrement = 0
	}
	var retry *time.Time
	if status == catalog.StatusImportError {
		at := time.Now().Add(importRetryDelay)
		retry = &at
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE catalog_records
SET status = $2, records_imported = $3, error_message = $4,
    error_count = error_count + $5, retry_at = $6,
    processing_completed_at = NOW(), updated_at = NOW()
WHERE id = $1 AND status = 'processing'`, id, string(status), recordsImported, errMsg, errIncrement, retry)
	if err != nil {
		return fmt.Errorf("mark import outcome: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("record %d not in processing state", id)
	}
	return nil
}

// RewriteURL implements catalog.Store.
func (s *Store) RewriteURL(ctx context.Context, id int64, newURL string) error {
	if newURL == "" {
		return fmt.Errorf("new url is required")
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE catalog_records
SET file_url = $2, status = 'discovered', recrawl_count = recrawl_count + 1,
    error_message = '', retry_at = NULL, updated_at = NOW()
WHERE id = $1 AND status = 'recrawl'`, id, newURL)
	if err != nil {
		return fmt.Errorf("rewrite url: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("record %d not in recrawl state", id)
	}
	return nil
}

// MarkRecrawlFailed implements catalog.Store.
func (s *Store) MarkRecrawlFailed(ctx context.Context, id int64, msg string) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE catalog_records
SET status = 'failed', error_message = $2, error_count = error_count + 1,
    updated_at = NOW()
WHERE id = $1 AND status = 'recrawl'`, id, msg)
	if err != nil {
		return fmt.Errorf("mark recrawl failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("record %d not in recrawl state", id)
	}
	return nil
}

// ResetStatuses implements catalog.Store.
func (s *Store) ResetStatuses(ctx context.Context, from []catalog.Status) (int64, error) {
	if len(from) == 0 {
		return 0, nil
	}
	statuses := make([]string, 0, len(from))
	for _, st := range from {
		if !catalog.IsResettable(st) {
			return 0, fmt.Errorf("status %q cannot be reset", st)
		}
		statuses = append(statuses, string(st))
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE catalog_records
SET status = 'discovered', error_message = '', error_count = 0,
    retry_at = NULL, updated_at = NOW()
WHERE status = ANY($1)`, statuses)
	if err != nil {
		return 0, fmt.Errorf("reset statuses: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Stats implements catalog.Store with read-only aggregate queries.
func (s *Store) Stats(ctx context.Context) (catalog.Stats, error) {
	stats := catalog.Stats{ByStatus: make(map[catalog.Status]int64)}

	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM catalog_records GROUP BY status`)
	if err != nil {
		return catalog.Stats{}, fmt.Errorf("stats by status: %w", err)
	}
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return catalog.Stats{}, fmt.Errorf("scan status count: %w", err)
		}
		stats.ByStatus[catalog.Status(status)] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return catalog.Stats{}, fmt.Errorf("iterate status counts: %w", err)
	}
	rows.Close()

	err = s.pool.QueryRow(ctx, `
SELECT COALESCE(SUM(records_imported), 0), COALESCE(SUM(file_size), 0)
FROM catalog_records`).Scan(&stats.RecordsImported, &stats.BytesDownloaded)
	if err != nil {
		return catalog.Stats{}, fmt.Errorf("stats totals: %w", err)
	}
	return stats, nil
}
