package postgres

// Schema is the catalog table DDL, applied idempotently at startup via
// Store.EnsureSchema. Kept here so the column contract lives next to the
// queries.
const Schema = `
CREATE TABLE IF NOT EXISTS catalog_records (
    id                      BIGSERIAL PRIMARY KEY,
    file_url                TEXT NOT NULL UNIQUE,
    file_name               TEXT NOT NULL,
    file_type               TEXT NOT NULL DEFAULT '',
    category                TEXT NOT NULL DEFAULT '',
    legislature             TEXT NOT NULL DEFAULT '',
    sub_series              TEXT NOT NULL DEFAULT '',
    session                 TEXT NOT NULL DEFAULT '',
    number                  TEXT NOT NULL DEFAULT '',
    navigation_context      TEXT NOT NULL DEFAULT '',
    last_modified           TIMESTAMPTZ,
    content_length          BIGINT NOT NULL DEFAULT 0,
    etag                    TEXT NOT NULL DEFAULT '',
    source_page_url         TEXT NOT NULL DEFAULT '',
    anchor_text             TEXT NOT NULL DEFAULT '',
    file_path               TEXT NOT NULL DEFAULT '',
    file_hash               TEXT NOT NULL DEFAULT '',
    file_size               BIGINT NOT NULL DEFAULT 0,
    status                  TEXT NOT NULL DEFAULT 'discovered',
    error_message           TEXT NOT NULL DEFAULT '',
    error_count             INT NOT NULL DEFAULT 0,
    recrawl_count           INT NOT NULL DEFAULT 0,
    retry_at                TIMESTAMPTZ,
    records_imported        INT NOT NULL DEFAULT 0,
    discovered_at           TIMESTAMPTZ,
    processing_started_at   TIMESTAMPTZ,
    processing_completed_at TIMESTAMPTZ,
    created_at              TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at              TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_catalog_records_status ON catalog_records (status);
CREATE INDEX IF NOT EXISTS idx_catalog_records_status_retry ON catalog_records (status, retry_at);
CREATE INDEX IF NOT EXISTS idx_catalog_records_file_hash ON catalog_records (file_hash) WHERE file_hash <> '';
`
