// Package sqlitestore is the failedqueue.Store backend for the Lite
// deployment profile: an embedded, file-backed SQLite database requiring no
// external dependencies. Grounded on the teacher's
// internal/storage/sqlite/sqlite_storage.go — same WAL/foreign-key pragmas,
// 0600 file permissions, and directory-traversal guard, adapted from
// single-table alert storage to the failed-record queue's schema.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	// Pure Go SQLite driver (no CGO, easier cross-compilation).
	_ "modernc.org/sqlite"

	"github.com/iius-rcox/safetyamp-sync/internal/domain"
	"github.com/iius-rcox/safetyamp-sync/internal/errs"
	"github.com/iius-rcox/safetyamp-sync/internal/failedqueue"
)

const schema = `
CREATE TABLE IF NOT EXISTS failed_records (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    entity_type TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    first_failed_at INTEGER NOT NULL,
    last_failed_at INTEGER NOT NULL,
    attempt_count INTEGER NOT NULL DEFAULT 1,
    http_status INTEGER,
    last_error_message TEXT NOT NULL,
    failed_fields TEXT,
    state TEXT NOT NULL CHECK(state IN ('queued', 'dismissed'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_failed_records_queued
    ON failed_records(entity_type, entity_id) WHERE state = 'queued';
CREATE INDEX IF NOT EXISTS idx_failed_records_state ON failed_records(state);
CREATE INDEX IF NOT EXISTS idx_failed_records_entity_type ON failed_records(entity_type);
`

// Store implements failedqueue.Store over a SQLite file.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	path   string
}

// New opens (creating if necessary) a SQLite database at path and
// initializes its schema. path must be absolute or relative to the working
// directory; ".." components and system-directory prefixes are rejected.
func New(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		return nil, fmt.Errorf("sqlitestore: path cannot be empty")
	}
	if strings.Contains(path, "..") {
		return nil, fmt.Errorf("sqlitestore: invalid path contains '..': %s", path)
	}
	for _, prefix := range []string{"/etc", "/sys", "/proc", "/dev"} {
		if strings.HasPrefix(path, prefix) {
			return nil, fmt.Errorf("sqlitestore: forbidden path prefix %s: %s", prefix, path)
		}
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("sqlitestore: create directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: enable foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: init schema: %w", err)
	}
	if err := os.Chmod(path, 0600); err != nil {
		logger.Warn("sqlitestore: failed to set file permissions to 0600", "path", path, "error", err)
	}

	logger.Info("failed-record queue sqlite store initialized", "path", path)
	return &Store{db: db, logger: logger, path: path}, nil
}

// Upsert implements failedqueue.Store.
func (s *Store) Upsert(ctx context.Context, rec domain.FailedRecord) (domain.FailedRecord, error) {
	fieldsJSON, err := marshalFields(rec.FailedFields)
	if err != nil {
		return domain.FailedRecord{}, errs.Wrap(errs.Internal, "sqlitestore: marshal failed_fields", err)
	}

	if rec.ID == 0 {
		res, err := s.db.ExecContext(ctx, `
INSERT INTO failed_records
    (entity_type, entity_id, first_failed_at, last_failed_at, attempt_count, http_status, last_error_message, failed_fields, state)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			string(rec.EntityType), rec.EntityID,
			rec.FirstFailedAt.UnixMilli(), rec.LastFailedAt.UnixMilli(),
			rec.AttemptCount, nullableInt(rec.HTTPStatus), rec.LastErrorMsg, fieldsJSON, string(rec.State))
		if err != nil {
			return domain.FailedRecord{}, errs.Wrap(errs.Internal, "sqlitestore: insert", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return domain.FailedRecord{}, errs.Wrap(errs.Internal, "sqlitestore: last insert id", err)
		}
		rec.ID = id
		return rec, nil
	}

	_, err = s.db.ExecContext(ctx, `
UPDATE failed_records SET
    last_failed_at = ?, attempt_count = ?, http_status = ?, last_error_message = ?, failed_fields = ?, state = ?
WHERE id = ?`,
		rec.LastFailedAt.UnixMilli(), rec.AttemptCount, nullableInt(rec.HTTPStatus), rec.LastErrorMsg, fieldsJSON, string(rec.State), rec.ID)
	if err != nil {
		return domain.FailedRecord{}, errs.Wrap(errs.Internal, "sqlitestore: update", err)
	}
	return rec, nil
}

// Get implements failedqueue.Store.
func (s *Store) Get(ctx context.Context, id int64) (domain.FailedRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+" WHERE id = ?", id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return domain.FailedRecord{}, false, nil
	}
	if err != nil {
		return domain.FailedRecord{}, false, errs.Wrap(errs.Internal, "sqlitestore: get", err)
	}
	return rec, true, nil
}

// FindQueued implements failedqueue.Store.
func (s *Store) FindQueued(ctx context.Context, entityType domain.EntityType, entityID string) (domain.FailedRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+" WHERE entity_type = ? AND entity_id = ? AND state = 'queued'", string(entityType), entityID)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return domain.FailedRecord{}, false, nil
	}
	if err != nil {
		return domain.FailedRecord{}, false, errs.Wrap(errs.Internal, "sqlitestore: find queued", err)
	}
	return rec, true, nil
}

// List implements failedqueue.Store.
func (s *Store) List(ctx context.Context, f failedqueue.Filter) ([]domain.FailedRecord, error) {
	query := selectColumns + " WHERE state = ?"
	args := []any{string(f.State)}
	if f.EntityType != nil {
		query += " AND entity_type = ?"
		args = append(args, string(*f.EntityType))
	}
	query += " ORDER BY last_failed_at DESC"
	if f.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "sqlitestore: list", err)
	}
	defer rows.Close()

	var out []domain.FailedRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, errs.Wrap(errs.Internal, "sqlitestore: scan list row", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// UpdateState implements failedqueue.Store.
func (s *Store) UpdateState(ctx context.Context, id int64, state domain.FailedRecordState) error {
	res, err := s.db.ExecContext(ctx, "UPDATE failed_records SET state = ? WHERE id = ?", string(state), id)
	if err != nil {
		return errs.Wrap(errs.Internal, "sqlitestore: update state", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errs.New(errs.DataMissing, fmt.Sprintf("sqlitestore: record %d not found", id))
	}
	return nil
}

// Delete implements failedqueue.Store.
func (s *Store) Delete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM failed_records WHERE id = ?", id)
	if err != nil {
		return errs.Wrap(errs.Internal, "sqlitestore: delete", err)
	}
	return nil
}

// Close implements failedqueue.Store.
func (s *Store) Close() error {
	return s.db.Close()
}

const selectColumns = `
SELECT id, entity_type, entity_id, first_failed_at, last_failed_at, attempt_count, http_status, last_error_message, failed_fields, state
FROM failed_records`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (domain.FailedRecord, error) {
	var rec domain.FailedRecord
	var entityType, fieldsJSON string
	var firstFailedAt, lastFailedAt int64
	var httpStatus sql.NullInt64

	if err := row.Scan(&rec.ID, &entityType, &rec.EntityID, &firstFailedAt, &lastFailedAt,
		&rec.AttemptCount, &httpStatus, &rec.LastErrorMsg, &fieldsJSON, &rec.State); err != nil {
		return domain.FailedRecord{}, err
	}

	rec.EntityType = domain.EntityType(entityType)
	rec.FirstFailedAt = time.UnixMilli(firstFailedAt)
	rec.LastFailedAt = time.UnixMilli(lastFailedAt)
	if httpStatus.Valid {
		rec.HTTPStatus = int(httpStatus.Int64)
	}
	if fieldsJSON != "" {
		if err := json.Unmarshal([]byte(fieldsJSON), &rec.FailedFields); err != nil {
			return domain.FailedRecord{}, fmt.Errorf("unmarshal failed_fields: %w", err)
		}
	}
	return rec, nil
}

func marshalFields(fields map[string]domain.FailedField) (string, error) {
	if len(fields) == 0 {
		return "", nil
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func nullableInt(v int) sql.NullInt64 {
	if v == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(v), Valid: true}
}

var _ failedqueue.Store = (*Store)(nil)
