// Package migrations manages the Postgres schema the Standard deployment
// profile's failed-record queue and audit log depend on
// (internal/failedqueue/pgstore, internal/audit/pgstore). The SQLite
// backend used by the Lite profile creates its own schema inline and never
// touches this package. Grounded on the teacher's
// internal/infrastructure/migrations package, trimmed to the single
// dialect and driver this service actually runs against.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// Config configures the migration runner. DSN is required; everything
// else has a sane default.
type Config struct {
	DSN string
	// Dir is the directory goose reads *.sql migration files from.
	Dir        string
	MaxRetries int
	RetryDelay time.Duration
	Logger     *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.Dir == "" {
		c.Dir = "internal/infrastructure/migrations/sql"
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager applies and inspects the service's Postgres schema via goose.
type Manager struct {
	cfg Config
	db  *sql.DB
	rtr *retrier
}

// New opens a connection pool against cfg.DSN and sets up goose against the
// postgres dialect.
func New(cfg Config) (*Manager, error) {
	cfg.applyDefaults()

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("migrations: open: %w", err)
	}

	if err := goose.SetDialect("postgres"); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrations: set dialect: %w", err)
	}

	return &Manager{
		cfg: cfg,
		db:  db,
		rtr: newRetrier(cfg.Logger, cfg.MaxRetries, cfg.RetryDelay),
	}, nil
}

// Close releases the underlying connection pool.
func (m *Manager) Close() error {
	return m.db.Close()
}

// Ping verifies the database is reachable before a migration run.
func (m *Manager) Ping(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("migrations: ping: %w", err)
	}
	return nil
}

// Up applies every pending migration.
func (m *Manager) Up(ctx context.Context) error {
	start := time.Now()
	err := m.rtr.run(ctx, func() error {
		return goose.Up(m.db, m.cfg.Dir)
	})
	if err != nil {
		return fmt.Errorf("migrations: up: %w", err)
	}
	m.cfg.Logger.Info("migrations applied", "elapsed", time.Since(start))
	return nil
}

// UpTo applies pending migrations up to and including version.
func (m *Manager) UpTo(ctx context.Context, version int64) error {
	if err := goose.UpTo(m.db, m.cfg.Dir, version); err != nil {
		return fmt.Errorf("migrations: up to %d: %w", version, err)
	}
	return nil
}

// Down rolls back the most recently applied migration.
func (m *Manager) Down(ctx context.Context) error {
	if err := goose.Down(m.db, m.cfg.Dir); err != nil {
		return fmt.Errorf("migrations: down: %w", err)
	}
	return nil
}

// DownTo rolls back every migration newer than version.
func (m *Manager) DownTo(ctx context.Context, version int64) error {
	if err := goose.DownTo(m.db, m.cfg.Dir, version); err != nil {
		return fmt.Errorf("migrations: down to %d: %w", version, err)
	}
	return nil
}

// Status writes the applied/pending state of every migration to stdout via
// goose's own reporting.
func (m *Manager) Status(ctx context.Context) error {
	if err := goose.Status(m.db, m.cfg.Dir); err != nil {
		return fmt.Errorf("migrations: status: %w", err)
	}
	return nil
}

// Version returns the highest applied migration version.
func (m *Manager) Version(ctx context.Context) (int64, error) {
	version, err := goose.GetDBVersion(m.db)
	if err != nil {
		return 0, fmt.Errorf("migrations: version: %w", err)
	}
	return version, nil
}
