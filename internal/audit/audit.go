// Package audit is the append-only Audit Log (spec §4.8): every
// operator-initiated action taken through the control plane (cache
// invalidation, a manual retry or dismiss, a forced sync trigger, an export,
// pause/resume) is durably recorded for later review. Unlike the
// failed-record queue, entries are never updated or deleted once written.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/iius-rcox/safetyamp-sync/internal/domain"
)

// Filter selects which entries List returns.
type Filter struct {
	Action *domain.AuditAction
	Since  time.Time
	Limit  int
	Offset int
}

// Store is the durable backend a Log is built on. Implementations live in
// sqlitestore (Lite profile) and pgstore (Standard profile), selected by
// config.StorageConfig.Backend — mirroring internal/failedqueue's split.
type Store interface {
	Insert(ctx context.Context, entry domain.AuditEntry) (domain.AuditEntry, error)
	List(ctx context.Context, f Filter) ([]domain.AuditEntry, error)
	Close() error
}

// Log is the audit log's business logic, independent of backend.
type Log struct {
	store Store
	log   *slog.Logger
}

// New builds a Log over store.
func New(store Store, logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{store: store, log: logger}
}

// Record appends one entry. Timestamp is set server-side so operator clocks
// can never skew the audit trail; callers only supply who/what/where.
func (l *Log) Record(ctx context.Context, user, ipAddress string, action domain.AuditAction, resource, details string) error {
	entry := domain.AuditEntry{
		Timestamp: time.Now(),
		User:      user,
		IPAddress: ipAddress,
		Action:    action,
		Resource:  resource,
		Details:   details,
	}
	if _, err := l.store.Insert(ctx, entry); err != nil {
		return err
	}
	l.log.Info("audit entry recorded", "user", user, "action", action, "resource", resource)
	return nil
}

// List returns entries matching f, most recent first.
func (l *Log) List(ctx context.Context, f Filter) ([]domain.AuditEntry, error) {
	return l.store.List(ctx, f)
}

// Close releases the underlying store's resources.
func (l *Log) Close() error {
	return l.store.Close()
}
