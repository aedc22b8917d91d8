// Package failedqueue is the Failed-Record Queue (spec §4.6): entities that
// failed validation or upsert are durably queued for operator review, with
// at most one queued entry per (entity_type, entity_id), and can be
// individually or bulk-retried or dismissed without deleting the record.
package failedqueue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/iius-rcox/safetyamp-sync/internal/domain"
	"github.com/iius-rcox/safetyamp-sync/internal/errs"
)

// Failure describes why one entity could not be synced.
type Failure struct {
	HTTPStatus int
	Message    string
	Fields     map[string]domain.FailedField
}

// Filter selects which failed records List returns.
type Filter struct {
	EntityType *domain.EntityType
	State      domain.FailedRecordState // zero value means "queued" (the default view)
	Limit      int
	Offset     int
}

// Store is the durable backend a Queue is built on. Implementations live in
// sqlitestore (Lite profile) and pgstore (Standard profile), selected by
// config.StorageConfig.Backend.
type Store interface {
	// Upsert inserts rec when rec.ID is zero, otherwise updates the existing
	// row in place. Returns the stored record with its ID populated.
	Upsert(ctx context.Context, rec domain.FailedRecord) (domain.FailedRecord, error)
	Get(ctx context.Context, id int64) (domain.FailedRecord, bool, error)
	// FindQueued looks up the (at most one) queued record for entity.
	FindQueued(ctx context.Context, entityType domain.EntityType, entityID string) (domain.FailedRecord, bool, error)
	List(ctx context.Context, f Filter) ([]domain.FailedRecord, error)
	UpdateState(ctx context.Context, id int64, state domain.FailedRecordState) error
	Delete(ctx context.Context, id int64) error
	Close() error
}

// Retrier re-attempts the sync of one entity. The sync engine implements
// this; failedqueue depends only on the interface to avoid an import cycle.
type Retrier interface {
	Retry(ctx context.Context, entityType domain.EntityType, entityID string) error
}

// Queue is the Failed-Record Queue's business logic, independent of backend.
type Queue struct {
	store   Store
	retrier Retrier
	log     *slog.Logger
}

// New builds a Queue over store. retrier may be nil until the sync engine is
// wired in; Retry returns an internal error in that case instead of
// panicking, and RetryAll counts every record it attempts as failed.
func New(store Store, retrier Retrier, log *slog.Logger) *Queue {
	if log == nil {
		log = slog.Default()
	}
	return &Queue{store: store, retrier: retrier, log: log}
}

// SetRetrier wires the sync engine in after construction, breaking the
// New(store, retrier, log) / engine.New(..., queue, ...) construction cycle
// between Queue and Engine: cmd/syncsvc builds the queue first with a nil
// retrier, builds the engine from it, then calls SetRetrier(engine).
func (q *Queue) SetRetrier(retrier Retrier) {
	q.retrier = retrier
}

// Enqueue records a failure for (entityType, entityID). If a queued record
// already exists for that entity, it is updated in place (attempt_count
// incremented, last_failed_at/message/fields replaced) rather than
// duplicated — spec §4.6's uniqueness invariant.
func (q *Queue) Enqueue(ctx context.Context, entityType domain.EntityType, entityID string, f Failure) (domain.FailedRecord, error) {
	now := time.Now()

	existing, found, err := q.store.FindQueued(ctx, entityType, entityID)
	if err != nil {
		return domain.FailedRecord{}, err
	}

	rec := domain.FailedRecord{
		EntityType:   entityType,
		EntityID:     entityID,
		LastFailedAt: now,
		HTTPStatus:   f.HTTPStatus,
		LastErrorMsg: f.Message,
		FailedFields: f.Fields,
		State:        domain.FailedRecordQueued,
	}

	if found {
		rec.ID = existing.ID
		rec.FirstFailedAt = existing.FirstFailedAt
		rec.AttemptCount = existing.AttemptCount + 1
	} else {
		rec.FirstFailedAt = now
		rec.AttemptCount = 1
	}

	stored, err := q.store.Upsert(ctx, rec)
	if err != nil {
		return domain.FailedRecord{}, err
	}

	q.log.Warn("entity queued for manual review",
		"entity_type", entityType, "entity_id", entityID,
		"attempt_count", stored.AttemptCount, "message", f.Message)

	return stored, nil
}

// List returns failed records matching f. An empty f.State defaults to
// "queued" so default listings hide dismissed records, per spec §4.6.
func (q *Queue) List(ctx context.Context, f Filter) ([]domain.FailedRecord, error) {
	if f.State == "" {
		f.State = domain.FailedRecordQueued
	}
	return q.store.List(ctx, f)
}

// Retry re-attempts the sync of one queued record. On success the record is
// removed from the queue entirely; on failure it remains queued with its
// attempt_count and last_failed_at bumped.
func (q *Queue) Retry(ctx context.Context, id int64) error {
	if q.retrier == nil {
		return errs.New(errs.Internal, "failedqueue: no retrier configured")
	}

	rec, found, err := q.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return errs.New(errs.DataMissing, fmt.Sprintf("failedqueue: record %d not found", id))
	}
	if rec.State != domain.FailedRecordQueued {
		return errs.New(errs.Conflict, fmt.Sprintf("failedqueue: record %d is not queued", id))
	}

	retryErr := q.retrier.Retry(ctx, rec.EntityType, rec.EntityID)
	if retryErr == nil {
		return q.store.Delete(ctx, id)
	}

	rec.AttemptCount++
	rec.LastFailedAt = time.Now()
	rec.LastErrorMsg = retryErr.Error()
	if _, err := q.store.Upsert(ctx, rec); err != nil {
		return err
	}
	return retryErr
}

// RetryAllResult summarizes a RetryAll pass.
type RetryAllResult struct {
	Succeeded int
	Failed    int
}

// RetryAll retries every queued record, optionally restricted to one entity
// type. A failure on one record never stops the rest from being attempted.
func (q *Queue) RetryAll(ctx context.Context, entityType *domain.EntityType) (RetryAllResult, error) {
	recs, err := q.store.List(ctx, Filter{EntityType: entityType, State: domain.FailedRecordQueued})
	if err != nil {
		return RetryAllResult{}, err
	}

	var result RetryAllResult
	for _, rec := range recs {
		if err := q.Retry(ctx, rec.ID); err != nil {
			result.Failed++
			continue
		}
		result.Succeeded++
	}
	return result, nil
}

// Dismiss hides a record from the default listing without deleting it.
func (q *Queue) Dismiss(ctx context.Context, id int64) error {
	return q.store.UpdateState(ctx, id, domain.FailedRecordDismissed)
}

// Close releases the underlying store's resources.
func (q *Queue) Close() error {
	return q.store.Close()
}
