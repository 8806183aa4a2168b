package repo

import (
	"context"
	"fmt"
)

// schema is applied idempotently at startup. Types stay in the subset both
// backends accept; timestamps are bound as parameters, never computed by
// the server.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS processed_files (
		remote_file_id TEXT PRIMARY KEY,
		channel_id     BIGINT NOT NULL,
		channel_title  TEXT NOT NULL,
		filename       TEXT NOT NULL,
		size_bytes     BIGINT NOT NULL,
		file_hash      TEXT NOT NULL,
		storage_path   TEXT NOT NULL,
		first_seen_at  TIMESTAMP NOT NULL,
		last_seen_at   TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_processed_files_hash
		ON processed_files (file_hash)`,
	`CREATE TABLE IF NOT EXISTS processing_jobs (
		job_id         TEXT PRIMARY KEY,
		remote_file_id TEXT NOT NULL,
		status         TEXT NOT NULL,
		error          TEXT,
		file_hash      TEXT,
		created_at     TIMESTAMP NOT NULL,
		updated_at     TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS extracted_indicators (
		kind                 TEXT NOT NULL,
		value                TEXT NOT NULL,
		source_fingerprint   TEXT NOT NULL,
		source_relative_path TEXT NOT NULL,
		source_line          BIGINT NOT NULL,
		channel_id           BIGINT NOT NULL,
		first_seen_at        TIMESTAMP NOT NULL,
		last_seen_at         TIMESTAMP NOT NULL,
		PRIMARY KEY (kind, value, source_fingerprint, source_line)
	)`,
}

// Bootstrap creates the tables and indexes if they do not exist.
func (r *Repository) Bootstrap(ctx context.Context) error {
	if r.db == nil {
		return ErrNotConnected
	}
	for _, stmt := range schema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
