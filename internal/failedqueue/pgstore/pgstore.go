// Package pgstore is the failedqueue.Store backend for the Standard
// deployment profile: Postgres via the same internal/database/postgres pool
// wrapper the ERP adapter uses (internal/adapters/erp), so both the
// read-only source and this read-write queue share one connection-pooling
// and retry implementation.
package pgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/iius-rcox/safetyamp-sync/internal/config"
	"github.com/iius-rcox/safetyamp-sync/internal/database/postgres"
	"github.com/iius-rcox/safetyamp-sync/internal/domain"
	"github.com/iius-rcox/safetyamp-sync/internal/errs"
	"github.com/iius-rcox/safetyamp-sync/internal/failedqueue"
)

const schema = `
CREATE TABLE IF NOT EXISTS failed_records (
    id BIGSERIAL PRIMARY KEY,
    entity_type TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    first_failed_at TIMESTAMPTZ NOT NULL,
    last_failed_at TIMESTAMPTZ NOT NULL,
    attempt_count INT NOT NULL DEFAULT 1,
    http_status INT,
    last_error_message TEXT NOT NULL,
    failed_fields JSONB,
    state TEXT NOT NULL CHECK (state IN ('queued', 'dismissed'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_failed_records_queued
    ON failed_records(entity_type, entity_id) WHERE state = 'queued';
CREATE INDEX IF NOT EXISTS idx_failed_records_state ON failed_records(state);
CREATE INDEX IF NOT EXISTS idx_failed_records_entity_type ON failed_records(entity_type);
`

// Store implements failedqueue.Store over Postgres.
type Store struct {
	pool  *postgres.PostgresPool
	retry *postgres.RetryExecutor
	log   *slog.Logger
}

// New connects to Postgres and initializes the failed_records schema.
// Callers must call Close on shutdown.
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

// Upsert implements failedqueue.Store.
func (s *Store) Upsert(ctx context.Context, rec domain.FailedRecord) (domain.FailedRecord, error) {
	fieldsJSON, err := marshalFields(rec.FailedFields)
	if err != nil {
		return domain.FailedRecord{}, errs.Wrap(errs.Internal, "pgstore: marshal failed_fields", err)
	}

	if rec.ID == 0 {
		result, err := s.retry.ExecuteWithResult(ctx, func() (interface{}, error) {
			var id int64
			row := s.pool.QueryRow(ctx, `
INSERT INTO failed_records
    (entity_type, entity_id, first_failed_at, last_failed_at, attempt_count, http_status, last_error_message, failed_fields, state)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING id`,
				string(rec.EntityType), rec.EntityID, rec.FirstFailedAt, rec.LastFailedAt,
				rec.AttemptCount, nullableInt(rec.HTTPStatus), rec.LastErrorMsg, fieldsJSON, string(rec.State))
			if err := row.Scan(&id); err != nil {
				return nil, err
			}
			return id, nil
		})
		if err != nil {
			return domain.FailedRecord{}, classify(err)
		}
		rec.ID = result.(int64)
		return rec, nil
	}

	_, err = s.retry.ExecuteWithResult(ctx, func() (interface{}, error) {
		return s.pool.Exec(ctx, `
UPDATE failed_records SET
    last_failed_at = $1, attempt_count = $2, http_status = $3, last_error_message = $4, failed_fields = $5, state = $6
WHERE id = $7`,
			rec.LastFailedAt, rec.AttemptCount, nullableInt(rec.HTTPStatus), rec.LastErrorMsg, fieldsJSON, string(rec.State), rec.ID)
	})
	if err != nil {
		return domain.FailedRecord{}, classify(err)
	}
	return rec, nil
}

// Get implements failedqueue.Store.
func (s *Store) Get(ctx context.Context, id int64) (domain.FailedRecord, bool, error) {
	rows, err := s.pool.Query(ctx, selectColumns+" WHERE id = $1", id)
	if err != nil {
		return domain.FailedRecord{}, false, classify(err)
	}
	defer rows.Close()
	return scanOne(rows)
}

// FindQueued implements failedqueue.Store.
func (s *Store) FindQueued(ctx context.Context, entityType domain.EntityType, entityID string) (domain.FailedRecord, bool, error) {
	rows, err := s.pool.Query(ctx, selectColumns+" WHERE entity_type = $1 AND entity_id = $2 AND state = 'queued'", string(entityType), entityID)
	if err != nil {
		return domain.FailedRecord{}, false, classify(err)
	}
	defer rows.Close()
	return scanOne(rows)
}

// List implements failedqueue.Store.
func (s *Store) List(ctx context.Context, f failedqueue.Filter) ([]domain.FailedRecord, error) {
	query := selectColumns + " WHERE state = $1"
	args := []any{string(f.State)}
	if f.EntityType != nil {
		args = append(args, string(*f.EntityType))
		query += fmt.Sprintf(" AND entity_type = $%d", len(args))
	}
	query += " ORDER BY last_failed_at DESC"
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

	var out []domain.FailedRecord
	for rows.Next() {
		rec, err := scanRow(rows)
		if err != nil {
			return nil, errs.Wrap(errs.Internal, "pgstore: scan list row", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// UpdateState implements failedqueue.Store.
func (s *Store) UpdateState(ctx context.Context, id int64, state domain.FailedRecordState) error {
	tag, err := s.pool.Exec(ctx, "UPDATE failed_records SET state = $1 WHERE id = $2", string(state), id)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return errs.New(errs.DataMissing, fmt.Sprintf("pgstore: record %d not found", id))
	}
	return nil
}

// Delete implements failedqueue.Store.
func (s *Store) Delete(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM failed_records WHERE id = $1", id)
	if err != nil {
		return classify(err)
	}
	return nil
}

// Close implements failedqueue.Store.
func (s *Store) Close() error {
	return s.pool.Close()
}

const selectColumns = `
SELECT id, entity_type, entity_id, first_failed_at, last_failed_at, attempt_count, http_status, last_error_message, failed_fields, state
FROM failed_records`

func scanOne(rows pgx.Rows) (domain.FailedRecord, bool, error) {
	if !rows.Next() {
		return domain.FailedRecord{}, false, rows.Err()
	}
	rec, err := scanRow(rows)
	if err != nil {
		return domain.FailedRecord{}, false, errs.Wrap(errs.Internal, "pgstore: scan", err)
	}
	return rec, true, nil
}

func scanRow(rows pgx.Rows) (domain.FailedRecord, error) {
	var rec domain.FailedRecord
	var entityType string
	var httpStatus *int
	var fieldsJSON []byte

	if err := rows.Scan(&rec.ID, &entityType, &rec.EntityID, &rec.FirstFailedAt, &rec.LastFailedAt,
		&rec.AttemptCount, &httpStatus, &rec.LastErrorMsg, &fieldsJSON, &rec.State); err != nil {
		return domain.FailedRecord{}, err
	}

	rec.EntityType = domain.EntityType(entityType)
	if httpStatus != nil {
		rec.HTTPStatus = *httpStatus
	}
	if len(fieldsJSON) > 0 {
		if err := json.Unmarshal(fieldsJSON, &rec.FailedFields); err != nil {
			return domain.FailedRecord{}, fmt.Errorf("unmarshal failed_fields: %w", err)
		}
	}
	return rec, nil
}

func marshalFields(fields map[string]domain.FailedField) ([]byte, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	return json.Marshal(fields)
}

func nullableInt(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
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

var _ failedqueue.Store = (*Store)(nil)
