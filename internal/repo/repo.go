// Package repo persists processed files, processing jobs, and extracted
// indicators to a relational store with idempotent upsert semantics. It
// speaks database/sql and supports PostgreSQL (pgx) and SQLite (modernc)
// backends selected by the DSN scheme.
package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ppiankov/leakwatch/internal/model"
)

// ErrNotConnected is returned when operations run before Connect.
var ErrNotConnected = errors.New("database not connected")

// Pool bounds shared by both backends.
const (
	maxOpenConns = 10
	maxIdleConns = 1
)

// Store is the persistence contract the pipeline consumes. Production
// wires *Repository; tests wire fakes.
type Store interface {
	ExistsByRemoteID(ctx context.Context, remoteID string) (bool, error)
	ExistsByFingerprint(ctx context.Context, fingerprint string) (bool, error)
	RecordProcessedFile(ctx context.Context, file model.FileRef, fingerprint, storagePath string) error
	TouchProcessedFile(ctx context.Context, remoteID string) error
	LogJob(ctx context.Context, job *model.Job) error
	UpdateJob(ctx context.Context, jobID string, status model.JobStatus, errMsg, fingerprint *string) error
	UpsertIndicator(ctx context.Context, ind model.Indicator) (bool, error)
	CountIndicatorsByKind(ctx context.Context) (map[model.IndicatorKind]int64, error)
}

// Repository implements Store over database/sql.
type Repository struct {
	dsn    string
	driver string
	db     *sql.DB
}

// New creates a repository for the given DSN. The driver is chosen from
// the scheme: postgres:// and postgresql:// use pgx, sqlite:// and file:
// use the embedded sqlite driver.
func New(dsn string) (*Repository, error) {
	driver, normalized, err := driverFor(dsn)
	if err != nil {
		return nil, err
	}
	return &Repository{dsn: normalized, driver: driver}, nil
}

func driverFor(dsn string) (driver, normalized string, err error) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return "pgx", dsn, nil
	case strings.HasPrefix(dsn, "sqlite://"):
		return "sqlite", strings.TrimPrefix(dsn, "sqlite://"), nil
	case strings.HasPrefix(dsn, "file:"):
		return "sqlite", dsn, nil
	default:
		return "", "", fmt.Errorf("unsupported database URL %q", dsn)
	}
}

// Connect opens the pool and verifies connectivity.
func (r *Repository) Connect(ctx context.Context) error {
	db, err := sql.Open(r.driver, r.dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("ping database: %w", err)
	}
	r.db = db
	return nil
}

// Close releases the pool. Safe to call when not connected.
func (r *Repository) Close() error {
	if r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	return err
}

// withTx runs fn inside a transaction: acquire, then commit on success or
// roll back on error.
func (r *Repository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if r.db == nil {
		return ErrNotConnected
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// rebind rewrites ? placeholders to $1..$n for the postgres driver.
// Queries are written with ? and never reuse a placeholder, so both
// drivers bind the arguments ordinally.
func (r *Repository) rebind(query string) string {
	if r.driver != "pgx" {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

func (r *Repository) existsWhere(ctx context.Context, column, value string) (bool, error) {
	if r.db == nil {
		return false, ErrNotConnected
	}
	query := r.rebind(`SELECT 1 FROM processed_files WHERE ` + column + ` = ? LIMIT 1`)
	var one int
	err := r.db.QueryRowContext(ctx, query, value).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("existence probe on %s: %w", column, err)
	}
	return true, nil
}

// ExistsByRemoteID probes processed_files by remote identity.
func (r *Repository) ExistsByRemoteID(ctx context.Context, remoteID string) (bool, error) {
	return r.existsWhere(ctx, "remote_file_id", remoteID)
}

// ExistsByFingerprint probes processed_files by content fingerprint.
func (r *Repository) ExistsByFingerprint(ctx context.Context, fingerprint string) (bool, error) {
	return r.existsWhere(ctx, "file_hash", fingerprint)
}

// RecordProcessedFile inserts the processed-file row, or touches last_seen
// when the remote identity already exists.
func (r *Repository) RecordProcessedFile(ctx context.Context, file model.FileRef, fingerprint, storagePath string) error {
	now := time.Now().UTC()
	return r.withTx(ctx, func(tx *sql.Tx) error {
		query := r.rebind(`
			INSERT INTO processed_files (
				remote_file_id, channel_id, channel_title, filename,
				size_bytes, file_hash, storage_path, first_seen_at, last_seen_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (remote_file_id) DO UPDATE SET last_seen_at = excluded.last_seen_at`)
		_, err := tx.ExecContext(ctx, query,
			file.RemoteID, file.ChannelID, file.ChannelTitle, file.Filename,
			file.SizeBytes, fingerprint, storagePath, now, now)
		if err != nil {
			return fmt.Errorf("record processed file: %w", err)
		}
		return nil
	})
}

// TouchProcessedFile updates last_seen on an already recorded remote
// identity. A missing row is a no-op.
func (r *Repository) TouchProcessedFile(ctx context.Context, remoteID string) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		query := r.rebind(`UPDATE processed_files SET last_seen_at = ? WHERE remote_file_id = ?`)
		if _, err := tx.ExecContext(ctx, query, time.Now().UTC(), remoteID); err != nil {
			return fmt.Errorf("touch processed file: %w", err)
		}
		return nil
	})
}

// LogJob inserts the job row. Re-inserting the same job ID is a no-op.
func (r *Repository) LogJob(ctx context.Context, job *model.Job) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		query := r.rebind(`
			INSERT INTO processing_jobs (
				job_id, remote_file_id, status, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (job_id) DO NOTHING`)
		_, err := tx.ExecContext(ctx, query,
			job.ID, job.File.RemoteID, string(job.Status), job.CreatedAt, job.CreatedAt)
		if err != nil {
			return fmt.Errorf("log job: %w", err)
		}
		return nil
	})
}

// UpdateJob sets status and error, coalesces the fingerprint (a previously
// recorded fingerprint is never overwritten with NULL), and touches
// updated_at.
func (r *Repository) UpdateJob(ctx context.Context, jobID string, status model.JobStatus, errMsg, fingerprint *string) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		query := r.rebind(`
			UPDATE processing_jobs
			SET status = ?, error = ?, file_hash = COALESCE(?, file_hash), updated_at = ?
			WHERE job_id = ?`)
		_, err := tx.ExecContext(ctx, query,
			string(status), errMsg, fingerprint, time.Now().UTC(), jobID)
		if err != nil {
			return fmt.Errorf("update job %s: %w", jobID, err)
		}
		return nil
	})
}

// UpsertIndicator inserts the indicator, or touches last_seen when the
// identity tuple (kind, value, fingerprint, line) already exists. Returns
// true when the indicator is new.
func (r *Repository) UpsertIndicator(ctx context.Context, ind model.Indicator) (bool, error) {
	now := time.Now().UTC()
	var inserted bool
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		insert := r.rebind(`
			INSERT INTO extracted_indicators (
				kind, value, source_fingerprint, source_relative_path,
				source_line, channel_id, first_seen_at, last_seen_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (kind, value, source_fingerprint, source_line) DO NOTHING`)
		res, err := tx.ExecContext(ctx, insert,
			string(ind.Kind), ind.Value, ind.SourceFingerprint, ind.RelativePath,
			ind.SourceLine, ind.ChannelID, now, now)
		if err != nil {
			return fmt.Errorf("insert indicator: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("insert indicator result: %w", err)
		}
		if n > 0 {
			inserted = true
			return nil
		}
		touch := r.rebind(`
			UPDATE extracted_indicators SET last_seen_at = ?
			WHERE kind = ? AND value = ? AND source_fingerprint = ? AND source_line = ?`)
		if _, err := tx.ExecContext(ctx, touch,
			now, string(ind.Kind), ind.Value, ind.SourceFingerprint, ind.SourceLine); err != nil {
			return fmt.Errorf("touch indicator: %w", err)
		}
		return nil
	})
	return inserted, err
}

// CountIndicatorsByKind returns per-kind totals. Reporting only.
func (r *Repository) CountIndicatorsByKind(ctx context.Context) (map[model.IndicatorKind]int64, error) {
	if r.db == nil {
		return nil, ErrNotConnected
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT kind, COUNT(*) FROM extracted_indicators GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("count indicators: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.IndicatorKind]int64)
	for rows.Next() {
		var kind string
		var n int64
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan indicator count: %w", err)
		}
		counts[model.IndicatorKind(kind)] = n
	}
	return counts, rows.Err()
}
