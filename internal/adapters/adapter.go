// Package adapters defines the typed read/write boundary between the sync
// engine and each external system (spec §4.3): Target, Fleet, Directory
// (all three HTTP, riding internal/httpclient), and ERP (read-only
// Postgres, via internal/adapters/erp).
package adapters

import (
	"context"

	"github.com/iius-rcox/safetyamp-sync/internal/domain"
)

// Kind is the closed sum type of external systems this service talks to
// (spec §9 Open Question: adapters are modeled as a sum type, not an open
// plugin interface, since the set of external systems is fixed for this
// integration).
type Kind string

const (
	KindTarget    Kind = "target"
	KindFleet     Kind = "fleet"
	KindDirectory Kind = "directory"
	KindERP       Kind = "erp"
)

// UpsertResult reports whether an upsert created or updated the record.
type UpsertResult struct {
	Created bool
	ID      string
}

// Page is one restartable page of list_all results, ordered by ascending
// business id.
type Page struct {
	Items      []map[string]any
	NextCursor string
	HasMore    bool
}

// Source is a read-only external adapter (ERP, Fleet, Directory) exposing
// paginated, restartable reads.
type Source interface {
	ListAll(ctx context.Context, entityType domain.EntityType, cursor string) (Page, error)
	GetByID(ctx context.Context, entityType domain.EntityType, id string) (map[string]any, bool, error)
}

// Target is the authoritative write destination (the safety-management
// SaaS). Writes are idempotent on fingerprint.
type Target interface {
	Source
	Upsert(ctx context.Context, entityType domain.EntityType, id, idempotencyKey string, payload map[string]any) (UpsertResult, error)
	Delete(ctx context.Context, entityType domain.EntityType, id string) (found bool, err error)
}
