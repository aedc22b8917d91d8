// Package sqlitestore is the audit.Store backend for the Lite deployment
// profile: an embedded, file-backed SQLite database. Grounded on
// internal/failedqueue/sqlitestore — same WAL/foreign-key pragmas, 0600 file
// permissions, and directory-traversal guard, adapted to an append-only
// schema with no queued/dismissed state to track.
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/iius-rcox/safetyamp-sync/internal/audit"
	"github.com/iius-rcox/safetyamp-sync/internal/domain"
	"github.com/iius-rcox/safetyamp-sync/internal/errs"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_entries (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp INTEGER NOT NULL,
    user TEXT NOT NULL,
    ip_address TEXT,
    action TEXT NOT NULL,
    resource TEXT NOT NULL,
    details TEXT
);

CREATE INDEX IF NOT EXISTS idx_audit_entries_timestamp ON audit_entries(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_audit_entries_action ON audit_entries(action);
`

// Store implements audit.Store over a SQLite file.
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

	logger.Info("audit log sqlite store initialized", "path", path)
	return &Store{db: db, logger: logger, path: path}, nil
}

// Insert implements audit.Store.
func (s *Store) Insert(ctx context.Context, entry domain.AuditEntry) (domain.AuditEntry, error) {
	res, err := s.db.ExecContext(ctx, `
INSERT INTO audit_entries (timestamp, user, ip_address, action, resource, details)
VALUES (?, ?, ?, ?, ?, ?)`,
		entry.Timestamp.UnixMilli(), entry.User, entry.IPAddress, string(entry.Action), entry.Resource, entry.Details)
	if err != nil {
		return domain.AuditEntry{}, errs.Wrap(errs.Internal, "sqlitestore: insert", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.AuditEntry{}, errs.Wrap(errs.Internal, "sqlitestore: last insert id", err)
	}
	entry.ID = id
	return entry, nil
}

// List implements audit.Store.
func (s *Store) List(ctx context.Context, f audit.Filter) ([]domain.AuditEntry, error) {
	query := selectColumns + " WHERE 1=1"
	var args []any
	if f.Action != nil {
		query += " AND action = ?"
		args = append(args, string(*f.Action))
	}
	if !f.Since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, f.Since.UnixMilli())
	}
	query += " ORDER BY timestamp DESC"
	if f.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "sqlitestore: list", err)
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, errs.Wrap(errs.Internal, "sqlitestore: scan list row", err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// Close implements audit.Store.
func (s *Store) Close() error {
	return s.db.Close()
}

const selectColumns = `SELECT id, timestamp, user, ip_address, action, resource, details FROM audit_entries`

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (domain.AuditEntry, error) {
	var entry domain.AuditEntry
	var action string
	var timestamp int64
	var ipAddress, details sql.NullString

	if err := row.Scan(&entry.ID, &timestamp, &entry.User, &ipAddress, &action, &entry.Resource, &details); err != nil {
		return domain.AuditEntry{}, err
	}

	entry.Timestamp = time.UnixMilli(timestamp)
	entry.Action = domain.AuditAction(action)
	entry.IPAddress = ipAddress.String
	entry.Details = details.String
	return entry, nil
}

var _ audit.Store = (*Store)(nil)
