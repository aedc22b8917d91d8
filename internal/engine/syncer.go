package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/iius-rcox/safetyamp-sync/internal/adapters"
	"github.com/iius-rcox/safetyamp-sync/internal/domain"
	"github.com/iius-rcox/safetyamp-sync/internal/errs"
	"github.com/iius-rcox/safetyamp-sync/internal/failedqueue"
	"github.com/iius-rcox/safetyamp-sync/internal/tracker"
	"github.com/iius-rcox/safetyamp-sync/internal/validator"
)

// businessIDField is the column-naming convention the ERP adapter's
// idColumnFor already follows (internal/adapters/erp): "<entity_type>_id".
// HTTP sources (target, fleet, directory) that don't follow it fall back to
// a plain "id", the Microsoft Graph / typical REST convention.
func businessIDField(entityType domain.EntityType) string {
	return string(entityType) + "_id"
}

func extractID(entityType domain.EntityType, item map[string]any) (string, bool) {
	for _, field := range [2]string{businessIDField(entityType), "id"} {
		if v, ok := item[field]; ok && v != nil {
			return fmt.Sprintf("%v", v), true
		}
	}
	return "", false
}

func indexByID(entityType domain.EntityType, items []map[string]any) map[string]map[string]any {
	out := make(map[string]map[string]any, len(items))
	for _, item := range items {
		id, ok := extractID(entityType, item)
		if !ok {
			continue
		}
		out[id] = item
	}
	return out
}

// paginateAll walks source's cursor pagination to completion.
func paginateAll(ctx context.Context, source adapters.Source, entityType domain.EntityType) ([]map[string]any, error) {
	var all []map[string]any
	cursor := ""
	for {
		page, err := source.ListAll(ctx, entityType, cursor)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Items...)
		if !page.HasMore || page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	return all, nil
}

// listAllCached wraps paginateAll with the Cache & Freshness Manager so a
// session's later entity types, or a soon-after retrigger, can reuse a
// still-fresh listing instead of re-querying the source (spec §4.2, §4.7).
func (e *Engine) listAllCached(ctx context.Context, side string, entityType domain.EntityType, source adapters.Source) ([]map[string]any, error) {
	if e.cache == nil {
		return paginateAll(ctx, source, entityType)
	}

	key := fmt.Sprintf("%s:%s:all", side, entityType)
	raw, err := e.cache.GetOrLoad(ctx, key, func(ctx context.Context) (any, error) {
		return paginateAll(ctx, source, entityType)
	})
	if err != nil {
		return nil, err
	}
	var items []map[string]any
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, errs.Wrap(errs.Internal, "engine: decode cached list", err)
	}
	return items, nil
}

// plan is the four-way diff spec §4.7 describes between one entity type's
// source and target listings.
type plan struct {
	create []string
	update []string
	skip   []string
	delete []string
}

// buildPlan classifies every id seen on either side. Comparison is against
// each id's validated (trimmed, repaired) source payload, restricted to the
// fields the source controls — target-only fields (timestamps, internal
// ids) never trigger a spurious update.
func buildPlan(sourceIndex, targetIndex map[string]map[string]any, validated map[string]validator.Result) plan {
	var p plan
	for id := range sourceIndex {
		tgt, exists := targetIndex[id]
		if !exists {
			p.create = append(p.create, id)
			continue
		}
		if payloadChanged(validated[id].Payload, tgt) {
			p.update = append(p.update, id)
		} else {
			p.skip = append(p.skip, id)
		}
	}
	for id := range targetIndex {
		if _, exists := sourceIndex[id]; !exists {
			p.delete = append(p.delete, id)
		}
	}
	sort.Strings(p.create)
	sort.Strings(p.update)
	sort.Strings(p.skip)
	sort.Strings(p.delete)
	return p
}

func payloadChanged(validatedPayload, target map[string]any) bool {
	comparableTarget := make(map[string]any, len(validatedPayload))
	for k := range validatedPayload {
		comparableTarget[k] = target[k]
	}
	return domain.ComputeFingerprint(validatedPayload) != domain.ComputeFingerprint(comparableTarget)
}

// syncEntityType runs one entity type's observe -> plan -> execute -> record
// cycle (spec §4.7). A non-nil return is always an abort-worthy error
// (auth_failed or internal); transient per-entity failures are queued and
// recorded but never propagate here.
func (e *Engine) syncEntityType(ctx context.Context, sessionID string, entityType domain.EntityType) error {
	source, ok := e.sources[entityType]
	if !ok {
		return errs.New(errs.Internal, fmt.Sprintf("engine: no source configured for %s", entityType))
	}

	sourceItems, err := e.listAllCached(ctx, "source", entityType, source)
	if err != nil {
		return err
	}
	targetItems, err := e.listAllCached(ctx, "target", entityType, e.target)
	if err != nil {
		return err
	}

	sourceIndex := indexByID(entityType, sourceItems)
	targetIndex := indexByID(entityType, targetItems)

	validated := make(map[string]validator.Result, len(sourceIndex))
	for id, item := range sourceIndex {
		validated[id] = e.validator.Validate(entityType, item)
	}

	p := buildPlan(sourceIndex, targetIndex, validated)

	for _, id := range p.skip {
		e.tracker.Record(ctx, tracker.Result{SessionID: sessionID, EntityType: entityType, EntityID: id, Operation: domain.OpSkipped, Reason: "unchanged"})
	}

	if !e.cfg.DeletesEnabled {
		for _, id := range p.delete {
			e.tracker.Record(ctx, tracker.Result{SessionID: sessionID, EntityType: entityType, EntityID: id, Operation: domain.OpSkipped, Reason: "source_absent_deletes_disabled"})
		}
		p.delete = nil
	}

	return e.execute(ctx, sessionID, entityType, p, validated, targetIndex)
}

// execute fans the plan's create/update/delete work out over a pool of
// entity_concurrency workers (spec §5). Individual entity failures are
// queued and recorded, never aborting the fan-out; only an auth_failed or
// internal error does, and that propagates back to the caller.
func (e *Engine) execute(
	ctx context.Context,
	sessionID string,
	entityType domain.EntityType,
	p plan,
	validated map[string]validator.Result,
	targetIndex map[string]map[string]any,
) error {
	type job struct {
		id     string
		create bool
		delete bool
	}

	work := make([]job, 0, len(p.create)+len(p.update)+len(p.delete))
	for _, id := range p.create {
		work = append(work, job{id: id, create: true})
	}
	for _, id := range p.update {
		work = append(work, job{id: id})
	}
	for _, id := range p.delete {
		work = append(work, job{id: id, delete: true})
	}
	if len(work) == 0 {
		return nil
	}

	concurrency := maxInt(e.cfg.EntityConcurrency, 1)
	sem := make(chan struct{}, concurrency)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		abortErr error
	)

	for _, j := range work {
		mu.Lock()
		stop := abortErr != nil
		mu.Unlock()
		if stop {
			break
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(j job) {
			defer wg.Done()
			defer func() { <-sem }()

			var err error
			switch {
			case j.delete:
				err = e.deleteOne(ctx, sessionID, entityType, j.id)
			case j.create:
				err = e.upsertOne(ctx, sessionID, entityType, j.id, validated[j.id], nil)
			default:
				err = e.upsertOne(ctx, sessionID, entityType, j.id, validated[j.id], targetIndex[j.id])
			}

			if err != nil && errs.Aborts(err) {
				mu.Lock()
				if abortErr == nil {
					abortErr = err
				}
				mu.Unlock()
			}
		}(j)
	}
	wg.Wait()
	return abortErr
}

// upsertOne validates, then idempotently writes, one entity. A validation
// failure or a non-aborting upsert error is queued for manual review
// (spec §4.6) and recorded as domain.OpError; it is never returned as an
// error from here, since it must not abort the entity type's fan-out.
func (e *Engine) upsertOne(ctx context.Context, sessionID string, entityType domain.EntityType, id string, result validator.Result, target map[string]any) error {
	if !result.Valid {
		fields := make(map[string]domain.FailedField, len(result.Errors))
		for _, fe := range result.Errors {
			fields[fe.Field] = domain.FailedField{Error: fe.Message}
		}
		verr := errs.New(errs.ValidationFailed, fmt.Sprintf("validation failed for %s/%s", entityType, id))
		e.enqueueFailure(ctx, entityType, id, failedqueue.Failure{Message: verr.Error(), Fields: fields})
		e.tracker.Record(ctx, tracker.Result{SessionID: sessionID, EntityType: entityType, EntityID: id, Operation: domain.OpError, Reason: "validation_failed", Err: verr})
		return nil
	}

	fingerprint := domain.ComputeFingerprint(result.Payload)
	idemKey := domain.IdempotencyKey(entityType, id, fingerprint)

	upsertResult, err := e.target.Upsert(ctx, entityType, id, idemKey, result.Payload)
	if err != nil {
		e.recordFailure(ctx, sessionID, entityType, id, err)
		if errs.Aborts(err) {
			return err
		}
		return nil
	}

	op := domain.OpUpdated
	if upsertResult.Created {
		op = domain.OpCreated
	}
	e.tracker.Record(ctx, tracker.Result{
		SessionID: sessionID, EntityType: entityType, EntityID: id,
		Operation: op, Changes: buildChanges(result.Payload, target),
	})
	return nil
}

func (e *Engine) deleteOne(ctx context.Context, sessionID string, entityType domain.EntityType, id string) error {
	_, err := e.target.Delete(ctx, entityType, id)
	if err != nil {
		e.recordFailure(ctx, sessionID, entityType, id, err)
		if errs.Aborts(err) {
			return err
		}
		return nil
	}
	e.tracker.Record(ctx, tracker.Result{SessionID: sessionID, EntityType: entityType, EntityID: id, Operation: domain.OpDeleted})
	return nil
}

func (e *Engine) recordFailure(ctx context.Context, sessionID string, entityType domain.EntityType, id string, err error) {
	e.enqueueFailure(ctx, entityType, id, failedqueue.Failure{Message: err.Error()})
	e.tracker.Record(ctx, tracker.Result{SessionID: sessionID, EntityType: entityType, EntityID: id, Operation: domain.OpError, Err: err})
}

func (e *Engine) enqueueFailure(ctx context.Context, entityType domain.EntityType, id string, f failedqueue.Failure) {
	if e.queue == nil {
		return
	}
	if _, err := e.queue.Enqueue(ctx, entityType, id, f); err != nil {
		e.log.Error("engine: failed to enqueue failure", "entity_type", entityType, "entity_id", id, "error", err)
	}
}

// buildChanges reports the fields result differs on from target (nil for a
// create), for the ChangeEvent's Changes map.
func buildChanges(source, target map[string]any) map[string]domain.FieldChange {
	if len(source) == 0 {
		return nil
	}
	changes := make(map[string]domain.FieldChange)
	for k, v := range source {
		var before any
		if target != nil {
			before = target[k]
		}
		if fmt.Sprintf("%v", before) != fmt.Sprintf("%v", v) {
			changes[k] = domain.FieldChange{Before: before, After: v}
		}
	}
	if len(changes) == 0 {
		return nil
	}
	return changes
}
