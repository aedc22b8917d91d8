// Package pgstore is the audit.Store backend for the Standard deployment
// profile: Postgres via the same internal/database/postgres pool wrapper
// internal/failedqueue/pgstore uses, adapted to an append-only schema.
package pgstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/iius-rcox/safetyamp-sync/internal/audit"
	"github.com/iius-rcox/safetyamp-sync/internal/config"
	"github.com/iius-rcox/safetyamp-sync/internal/database/postgres"
	"github.com/iius-rcox/safetyamp-sync/internal/domain"
	"github.com/iius-rcox/safetyamp-sync/internal/errs"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_entries (
    id BIGSERIAL PRIMARY KEY,
    timestamp TIMESTAMPTZ NOT NULL,
    "user" TEXT NOT NULL,
    ip_address TEXT,
    action TEXT NOT NULL,
    resource TEXT NOT NULL,
    details TEXT
);

CREATE INDEX IF NOT EXISTS idx_audit_entries_timestamp ON audit_entries(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_audit_entries_action ON audit_entries(action);
`

// Store implements audit.Store over Postgres.
type Store struct {
	pool  *postgres.PostgresPool
	retry *postgres.RetryExecutor
	log   *slog.Logger
}

// New connects to Postgres and initializes the audit_entries schema. Callers
// must call Close on shutdown.
func New(ctx context.Context, cfg config.DatabaseConfig, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}

	pgCfg := &postgres.PostgresConfig{
		Host:              cfg.Host,
		Port:              cfg.Port,
		Database:          cfg.Database,
		User:              cfg.Username,
		Password:          cfg.Password,
		SSLMode:           cfg.SSLMode,
		MaxConns:          cfg.MaxConnections,
		MinConns:          cfg.MinConnections,
		MaxConnLifetime:   cfg.MaxConnLifetime,
		MaxConnIdleTime:   cfg.MaxConnIdleTime,
		HealthCheckPeriod: 30 * time.Second,
		ConnectTimeout:    cfg.ConnectTimeout,
	}

	pool := postgres.NewPostgresPool(pgCfg, log)
	if err := pool.Connect(ctx); err != nil {
		return nil, errs.Wrap(errs.DependencyUnavailable, "pgstore: connect", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, errs.Wrap(errs.Internal, "pgstore: init schema", err)
	}

	return &Store{
		pool:  pool,
		retry: postgres.NewRetryExecutor(postgres.DefaultRetryConfig(), log),
		log:   log,
	}, nil
}

// Insert implements audit.Store.
func (s *Store) Insert(ctx context.Context, entry domain.AuditEntry) (domain.AuditEntry, error) {
	result, err := s.retry.ExecuteWithResult(ctx, func() (interface{}, error) {
		var id int64
		row := s.pool.QueryRow(ctx, `
INSERT INTO audit_entries (timestamp, "user", ip_address, action, resource, details)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id`,
			entry.Timestamp, entry.User, entry.IPAddress, string(entry.Action), entry.Resource, entry.Details)
		if err := row.Scan(&id); err != nil {
			return nil, err
		}
		return id, nil
	})
	if err != nil {
		return domain.AuditEntry{}, classify(err)
	}
	entry.ID = result.(int64)
	return entry, nil
}

// List implements audit.Store.
func (s *Store) List(ctx context.Context, f audit.Filter) ([]domain.AuditEntry, error) {
	query := selectColumns + " WHERE TRUE"
	var args []any
	if f.Action != nil {
		args = append(args, string(*f.Action))
		query += fmt.Sprintf(" AND action = $%d", len(args))
	}
	if !f.Since.IsZero() {
		args = append(args, f.Since)
		query += fmt.Sprintf(" AND timestamp >= $%d", len(args))
	}
	query += " ORDER BY timestamp DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		entry, err := scanRow(rows)
		if err != nil {
			return nil, errs.Wrap(errs.Internal, "pgstore: scan list row", err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// Close implements audit.Store.
func (s *Store) Close() error {
	return s.pool.Close()
}

const selectColumns = `SELECT id, timestamp, "user", ip_address, action, resource, details FROM audit_entries`

func scanRow(rows pgx.Rows) (domain.AuditEntry, error) {
	var entry domain.AuditEntry
	var action string
	var ipAddress, details *string

	if err := rows.Scan(&entry.ID, &entry.Timestamp, &entry.User, &ipAddress, &action, &entry.Resource, &details); err != nil {
		return domain.AuditEntry{}, err
	}

	entry.Action = domain.AuditAction(action)
	if ipAddress != nil {
		entry.IPAddress = *ipAddress
	}
	if details != nil {
		entry.Details = *details
	}
	return entry, nil
}

func classify(err error) error {
	if postgres.IsConnectionError(err) {
		return errs.Wrap(errs.DependencyUnavailable, "pgstore: connection error", err)
	}
	if postgres.IsTimeout(err) {
		return errs.Wrap(errs.Transport, "pgstore: query timeout", err)
	}
	if postgres.IsRetryable(err) {
		return errs.Wrap(errs.DependencyUnavailable, "pgstore: retryable database error", err)
	}
	return errs.Wrap(errs.Internal, "pgstore: query failed", err)
}

var _ audit.Store = (*Store)(nil)
