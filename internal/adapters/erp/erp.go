// Package erp adapts the ERP-like employee/job database — a read-only
// Postgres source — onto the adapters.Source contract. Connection pooling,
// health checking, and retry-with-backoff are grounded on
// internal/database/postgres's pgxpool wrapper; this package repurposes
// that pool for the sync engine's read-only query surface instead of
// alert-history's write-heavy workload.
package erp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/iius-rcox/safetyamp-sync/internal/adapters"
	"github.com/iius-rcox/safetyamp-sync/internal/config"
	"github.com/iius-rcox/safetyamp-sync/internal/database/postgres"
	"github.com/iius-rcox/safetyamp-sync/internal/domain"
	"github.com/iius-rcox/safetyamp-sync/internal/errs"
)

// tableFor maps entity types onto the ERP schema's tables. Column names are
// normalized on read so downstream validation sees the same field set
// regardless of source.
var tableFor = map[domain.EntityType]string{
	domain.EntitySite:       "sites",
	domain.EntityDepartment: "departments",
	domain.EntityTitle:      "job_titles",
	domain.EntityRole:       "roles",
	domain.EntityAssetType:  "asset_types",
	domain.EntityEmployee:   "employees",
	domain.EntityJob:        "jobs",
}

// idColumnFor names each table's business-key column, used both for
// cursor-ordered pagination and point lookups.
var idColumnFor = map[domain.EntityType]string{
	domain.EntitySite:       "site_id",
	domain.EntityDepartment: "department_id",
	domain.EntityTitle:      "title_id",
	domain.EntityRole:       "role_id",
	domain.EntityAssetType:  "asset_type_id",
	domain.EntityEmployee:   "employee_id",
	domain.EntityJob:        "job_id",
}

const pageSize = 500

// Adapter is a read-only Postgres source over the ERP database.
type Adapter struct {
	pool         *postgres.PostgresPool
	retry        *postgres.RetryExecutor
	queryTimeout time.Duration
	log          *slog.Logger
}

// New builds an Adapter and connects its pool. Callers must call Close on
// shutdown.
func New(ctx context.Context, cfg config.DatabaseConfig, log *slog.Logger) (*Adapter, error) {
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
		return nil, errs.Wrap(errs.DependencyUnavailable, "erp: connect to postgres", err)
	}

	return &Adapter{
		pool:         pool,
		retry:        postgres.NewRetryExecutor(postgres.DefaultRetryConfig(), log),
		queryTimeout: cfg.QueryTimeout,
		log:          log,
	}, nil
}

// Close releases the underlying connection pool.
func (a *Adapter) Close() error {
	return a.pool.Close()
}

// Health reports whether the pool can currently reach Postgres.
func (a *Adapter) Health(ctx context.Context) error {
	return a.pool.Health(ctx)
}

func (a *Adapter) table(entityType domain.EntityType) (table, idCol string, err error) {
	table, ok := tableFor[entityType]
	if !ok {
		return "", "", errs.New(errs.Internal, fmt.Sprintf("erp: unsupported entity type %q", entityType))
	}
	return table, idColumnFor[entityType], nil
}

// ListAll returns one page of entityType rows ordered by id, starting after
// cursor (the last id seen), so a restarted sync resumes without skipping
// or repeating rows.
func (a *Adapter) ListAll(ctx context.Context, entityType domain.EntityType, cursor string) (adapters.Page, error) {
	table, idCol, err := a.table(entityType)
	if err != nil {
		return adapters.Page{}, err
	}

	qctx, cancel := context.WithTimeout(ctx, a.queryTimeout)
	defer cancel()

	var q strings.Builder
	fmt.Fprintf(&q, "SELECT * FROM %s", table)
	args := []any{}
	if cursor != "" {
		fmt.Fprintf(&q, " WHERE %s > $1", idCol)
		args = append(args, cursor)
	}
	fmt.Fprintf(&q, " ORDER BY %s ASC LIMIT %d", idCol, pageSize)

	result, err := a.retry.ExecuteWithResult(qctx, func() (interface{}, error) {
		return a.pool.Query(qctx, q.String(), args...)
	})
	if err != nil {
		return adapters.Page{}, classify(err)
	}
	rows := result.(pgx.Rows)
	defer rows.Close()

	items, lastID, err := scanAll(rows, idCol)
	if err != nil {
		return adapters.Page{}, errs.Wrap(errs.Internal, "erp: scan rows", err)
	}

	return adapters.Page{
		Items:      items,
		NextCursor: lastID,
		HasMore:    len(items) == pageSize,
	}, nil
}

// GetByID fetches a single row by its business key, reporting
// (nil, false, nil) when no row matches.
func (a *Adapter) GetByID(ctx context.Context, entityType domain.EntityType, id string) (map[string]any, bool, error) {
	table, idCol, err := a.table(entityType)
	if err != nil {
		return nil, false, err
	}

	qctx, cancel := context.WithTimeout(ctx, a.queryTimeout)
	defer cancel()

	q := fmt.Sprintf("SELECT * FROM %s WHERE %s = $1 LIMIT 1", table, idCol)
	result, err := a.retry.ExecuteWithResult(qctx, func() (interface{}, error) {
		return a.pool.Query(qctx, q, id)
	})
	if err != nil {
		return nil, false, classify(err)
	}
	rows := result.(pgx.Rows)
	defer rows.Close()

	items, _, err := scanAll(rows, idCol)
	if err != nil {
		return nil, false, errs.Wrap(errs.Internal, "erp: scan row", err)
	}
	if len(items) == 0 {
		return nil, false, nil
	}
	return items[0], true, nil
}

func scanAll(rows pgx.Rows, idCol string) ([]map[string]any, string, error) {
	var items []map[string]any
	var lastID string

	fields := rows.FieldDescriptions()
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, "", err
		}
		row := make(map[string]any, len(fields))
		for i, f := range fields {
			row[string(f.Name)] = vals[i]
		}
		if v, ok := row[idCol]; ok {
			lastID = fmt.Sprintf("%v", v)
		}
		items = append(items, row)
	}
	return items, lastID, rows.Err()
}

func classify(err error) error {
	if postgres.IsConnectionError(err) {
		return errs.Wrap(errs.DependencyUnavailable, "erp: connection error", err)
	}
	if postgres.IsTimeout(err) {
		return errs.Wrap(errs.Transport, "erp: query timeout", err)
	}
	if postgres.IsRetryable(err) {
		return errs.Wrap(errs.DependencyUnavailable, "erp: retryable database error", err)
	}
	return errs.Wrap(errs.Internal, "erp: query failed", err)
}

var _ adapters.Source = (*Adapter)(nil)
