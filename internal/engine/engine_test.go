package engine

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iius-rcox/safetyamp-sync/internal/adapters"
	"github.com/iius-rcox/safetyamp-sync/internal/config"
	"github.com/iius-rcox/safetyamp-sync/internal/domain"
	"github.com/iius-rcox/safetyamp-sync/internal/errs"
	"github.com/iius-rcox/safetyamp-sync/internal/failedqueue"
	"github.com/iius-rcox/safetyamp-sync/internal/metrics"
	"github.com/iius-rcox/safetyamp-sync/internal/tracker"
	"github.com/iius-rcox/safetyamp-sync/internal/validator"
)

// fakeSource is an in-memory adapters.Source keyed by employee_id, used to
// exercise the syncer's diff/upsert logic without a live ERP or HTTP
// backend, the same way target_test.go exercises the target adapter
// against an httptest server rather than the real SaaS.
type fakeSource struct {
	mu    sync.Mutex
	items map[string]map[string]any
}

func newFakeSource(items ...map[string]any) *fakeSource {
	s := &fakeSource{items: make(map[string]map[string]any)}
	for _, item := range items {
		id, _ := extractID(domain.EntityEmployee, item)
		s.items[id] = item
	}
	return s
}

func (s *fakeSource) ListAll(ctx context.Context, entityType domain.EntityType, cursor string) (adapters.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cursor != "" {
		return adapters.Page{}, nil
	}
	items := make([]map[string]any, 0, len(s.items))
	for _, item := range s.items {
		items = append(items, item)
	}
	return adapters.Page{Items: items, HasMore: false}, nil
}

func (s *fakeSource) GetByID(ctx context.Context, entityType domain.EntityType, id string) (map[string]any, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	return item, ok, nil
}

// fakeTarget is an in-memory adapters.Target that can be configured to fail
// Upsert/Delete for specific ids, to exercise the non-aborting-failure and
// hard-abort paths.
type fakeTarget struct {
	mu          sync.Mutex
	items       map[string]map[string]any
	upsertErr   map[string]error
	deleteErr   map[string]error
	upsertCalls []string
	deleteCalls []string
}

func newFakeTarget(items ...map[string]any) *fakeTarget {
	t := &fakeTarget{
		items:     make(map[string]map[string]any),
		upsertErr: make(map[string]error),
		deleteErr: make(map[string]error),
	}
	for _, item := range items {
		id, _ := extractID(domain.EntityEmployee, item)
		t.items[id] = item
	}
	return t
}

func (t *fakeTarget) ListAll(ctx context.Context, entityType domain.EntityType, cursor string) (adapters.Page, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cursor != "" {
		return adapters.Page{}, nil
	}
	items := make([]map[string]any, 0, len(t.items))
	for _, item := range t.items {
		items = append(items, item)
	}
	return adapters.Page{Items: items, HasMore: false}, nil
}

func (t *fakeTarget) GetByID(ctx context.Context, entityType domain.EntityType, id string) (map[string]any, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	item, ok := t.items[id]
	return item, ok, nil
}

func (t *fakeTarget) Upsert(ctx context.Context, entityType domain.EntityType, id, idempotencyKey string, payload map[string]any) (adapters.UpsertResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.upsertCalls = append(t.upsertCalls, id)
	if err := t.upsertErr[id]; err != nil {
		return adapters.UpsertResult{}, err
	}
	_, existed := t.items[id]
	t.items[id] = payload
	return adapters.UpsertResult{Created: !existed, ID: id}, nil
}

func (t *fakeTarget) Delete(ctx context.Context, entityType domain.EntityType, id string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.deleteCalls = append(t.deleteCalls, id)
	if err := t.deleteErr[id]; err != nil {
		return false, err
	}
	_, existed := t.items[id]
	delete(t.items, id)
	return existed, nil
}

var _ adapters.Target = (*fakeTarget)(nil)

func employeeRules() validator.EntityRules {
	return validator.EntityRules{
		{Field: "employee_id", Required: true},
		{Field: "first_name"},
		{Field: "last_name"},
		{Field: "email", Format: "email"},
	}
}

func newTestValidator() *validator.Validator {
	return validator.New(validator.Config{
		EmailDomain: "example.com",
		Rules:       map[domain.EntityType]validator.EntityRules{domain.EntityEmployee: employeeRules()},
	})
}

type testEngine struct {
	e       *Engine
	source  *fakeSource
	target  *fakeTarget
	queue   *failedqueue.Queue
	store   *fakeQueueStore
	tracker *tracker.Manager
}

// fakeQueueStore is a minimal in-memory failedqueue.Store, mirroring
// failedqueue_test.go's fakeStore.
type fakeQueueStore struct {
	mu      sync.Mutex
	nextID  int64
	records map[int64]domain.FailedRecord
}

func newFakeQueueStore() *fakeQueueStore {
	return &fakeQueueStore{records: make(map[int64]domain.FailedRecord)}
}

func (s *fakeQueueStore) Upsert(ctx context.Context, rec domain.FailedRecord) (domain.FailedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == 0 {
		s.nextID++
		rec.ID = s.nextID
	}
	s.records[rec.ID] = rec
	return rec, nil
}

func (s *fakeQueueStore) Get(ctx context.Context, id int64) (domain.FailedRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	return rec, ok, nil
}

func (s *fakeQueueStore) FindQueued(ctx context.Context, entityType domain.EntityType, entityID string) (domain.FailedRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records {
		if rec.EntityType == entityType && rec.EntityID == entityID && rec.State == domain.FailedRecordQueued {
			return rec, true, nil
		}
	}
	return domain.FailedRecord{}, false, nil
}

func (s *fakeQueueStore) List(ctx context.Context, f failedqueue.Filter) ([]domain.FailedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.FailedRecord
	for _, rec := range s.records {
		if f.State != "" && rec.State != f.State {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *fakeQueueStore) UpdateState(ctx context.Context, id int64, state domain.FailedRecordState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return errs.New(errs.DataMissing, "not found")
	}
	rec.State = state
	s.records[id] = rec
	return nil
}

func (s *fakeQueueStore) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

func (s *fakeQueueStore) Close() error { return nil }

func newTestEngine(sourceItems, targetItems []map[string]any) *testEngine {
	source := newFakeSource(sourceItems...)
	target := newFakeTarget(targetItems...)
	store := newFakeQueueStore()
	trk := tracker.New(0, nil, metrics.New().Sync())
	queue := failedqueue.New(store, nil, slog.Default())

	e := New(
		config.SyncConfig{Workers: 2, EntityConcurrency: 4, IntervalSeconds: 3600},
		map[domain.EntityType]adapters.Source{domain.EntityEmployee: source},
		target,
		newTestValidator(),
		trk,
		queue,
		nil,
		metrics.New().Sync(),
		slog.Default(),
	)

	return &testEngine{e: e, source: source, target: target, queue: queue, store: store, tracker: trk}
}

func TestSyncEntityType_CreatesNewRecords(t *testing.T) {
	te := newTestEngine([]map[string]any{
		{"employee_id": "1", "first_name": "Ada", "last_name": "Lovelace", "email": "ada@example.com"},
		{"employee_id": "2", "first_name": "Alan", "last_name": "Turing", "email": "alan@example.com"},
	}, nil)

	err := te.e.syncEntityType(context.Background(), "s1", domain.EntityEmployee)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"1", "2"}, te.target.upsertCalls)
	counts := te.tracker.Counts("s1")
	assert.EqualValues(t, 2, counts.Processed)
	assert.EqualValues(t, 2, counts.Created)
	assert.EqualValues(t, counts.Processed, counts.Created+counts.Updated+counts.Skipped+counts.Errors)
}

func TestSyncEntityType_SkipsUnchangedRecords(t *testing.T) {
	record := map[string]any{"employee_id": "1", "first_name": "Ada", "last_name": "Lovelace", "email": "ada@example.com"}
	te := newTestEngine([]map[string]any{record}, []map[string]any{record})

	err := te.e.syncEntityType(context.Background(), "s1", domain.EntityEmployee)
	require.NoError(t, err)

	assert.Empty(t, te.target.upsertCalls, "an unchanged record must not be re-written")
	counts := te.tracker.Counts("s1")
	assert.EqualValues(t, 1, counts.Skipped)
}

func TestSyncEntityType_UpdatesChangedRecord(t *testing.T) {
	existing := map[string]any{"employee_id": "1", "first_name": "Ada", "last_name": "Lovelace", "email": "ada@example.com"}
	changed := map[string]any{"employee_id": "1", "first_name": "Ada", "last_name": "Byron", "email": "ada@example.com"}
	te := newTestEngine([]map[string]any{changed}, []map[string]any{existing})

	err := te.e.syncEntityType(context.Background(), "s1", domain.EntityEmployee)
	require.NoError(t, err)

	assert.Equal(t, []string{"1"}, te.target.upsertCalls)
	counts := te.tracker.Counts("s1")
	assert.EqualValues(t, 1, counts.Updated)

	events := te.tracker.Events("s1")
	require.Len(t, events, 1)
	change, ok := events[0].Changes["last_name"]
	require.True(t, ok)
	assert.Equal(t, "Lovelace", change.Before)
	assert.Equal(t, "Byron", change.After)
}

func TestSyncEntityType_ValidationFailureQueuesRecordAndSkipsUpsert(t *testing.T) {
	// Extraction falls back to the generic "id" field when employee_id is
	// absent, so this record still gets indexed — but the validator's
	// employee_id-required rule is checked against the payload itself, not
	// the extraction fallback, so it still fails validation.
	te := newTestEngine([]map[string]any{
		{"id": "no-employee-id", "first_name": "No", "last_name": "ID"},
	}, nil)

	err := te.e.syncEntityType(context.Background(), "s1", domain.EntityEmployee)
	require.NoError(t, err, "a validation failure is recorded, not returned")

	assert.Empty(t, te.target.upsertCalls)
	counts := te.tracker.Counts("s1")
	assert.EqualValues(t, 1, counts.Errors)
}

func TestSyncEntityType_NonAbortingUpsertErrorIsQueuedAndContinues(t *testing.T) {
	te := newTestEngine([]map[string]any{
		{"employee_id": "1", "first_name": "Ada", "last_name": "Lovelace"},
		{"employee_id": "2", "first_name": "Alan", "last_name": "Turing"},
	}, nil)
	te.target.upsertErr["1"] = errs.New(errs.RateLimited, "target rejected: rate limited")

	err := te.e.syncEntityType(context.Background(), "s1", domain.EntityEmployee)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"1", "2"}, te.target.upsertCalls)
	counts := te.tracker.Counts("s1")
	assert.EqualValues(t, 1, counts.Created)
	assert.EqualValues(t, 1, counts.Errors)

	queued, err := te.queue.List(context.Background(), failedqueue.Filter{})
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, "1", queued[0].EntityID)
}

func TestSyncEntityType_AuthFailedAbortsFanOut(t *testing.T) {
	te := newTestEngine([]map[string]any{
		{"employee_id": "1", "first_name": "Ada", "last_name": "Lovelace"},
	}, nil)
	te.target.upsertErr["1"] = errs.New(errs.AuthFailed, "target rejected credentials")

	err := te.e.syncEntityType(context.Background(), "s1", domain.EntityEmployee)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.AuthFailed))
}

func TestSyncEntityType_DeletesDisabledSkipsOrphansInsteadOfDeleting(t *testing.T) {
	orphan := map[string]any{"employee_id": "99", "first_name": "Gone", "last_name": "Ghost"}
	te := newTestEngine(nil, []map[string]any{orphan})

	err := te.e.syncEntityType(context.Background(), "s1", domain.EntityEmployee)
	require.NoError(t, err)

	assert.Empty(t, te.target.deleteCalls)
	events := te.tracker.Events("s1")
	require.Len(t, events, 1)
	assert.Equal(t, domain.OpSkipped, events[0].Operation)
	assert.Equal(t, "source_absent_deletes_disabled", events[0].Reason)
}

func TestSyncEntityType_DeletesEnabledDeletesOrphans(t *testing.T) {
	orphan := map[string]any{"employee_id": "99", "first_name": "Gone", "last_name": "Ghost"}
	te := newTestEngine(nil, []map[string]any{orphan})
	te.e.cfg.DeletesEnabled = true

	err := te.e.syncEntityType(context.Background(), "s1", domain.EntityEmployee)
	require.NoError(t, err)

	assert.Equal(t, []string{"99"}, te.target.deleteCalls)
	events := te.tracker.Events("s1")
	require.Len(t, events, 1)
	assert.Equal(t, domain.OpDeleted, events[0].Operation)
}

func TestEngine_PauseRejectsTrigger(t *testing.T) {
	te := newTestEngine(nil, nil)
	te.e.Pause("operator")

	err := te.e.TriggerSync(domain.SyncEmployees)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Conflict))
}

func TestEngine_ResumeAllowsTrigger(t *testing.T) {
	te := newTestEngine(nil, nil)
	te.e.Pause("operator")
	te.e.Resume()

	err := te.e.TriggerSync(domain.SyncEmployees)
	assert.NoError(t, err)
}

func TestEngine_TriggerCoalescesRepeatsOfTheSameSyncType(t *testing.T) {
	te := newTestEngine(nil, nil)

	require.NoError(t, te.e.TriggerSync(domain.SyncEmployees))
	require.NoError(t, te.e.TriggerSync(domain.SyncEmployees))

	assert.Len(t, te.e.triggerCh, 1, "a second trigger for a sync type already queued is a no-op")
}

func TestEngine_Retry_SuccessUpsertsAndRecordsChangeEvent(t *testing.T) {
	te := newTestEngine([]map[string]any{
		{"employee_id": "1", "first_name": "Ada", "last_name": "Lovelace", "email": "ada@example.com"},
	}, nil)

	err := te.e.Retry(context.Background(), domain.EntityEmployee, "1")
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, te.target.upsertCalls)
}

func TestEngine_Retry_SourceGoneReturnsDataMissing(t *testing.T) {
	te := newTestEngine(nil, nil)

	err := te.e.Retry(context.Background(), domain.EntityEmployee, "missing")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.DataMissing))
}

func TestDiff_ReturnsInSyncWhenPayloadsMatch(t *testing.T) {
	te := newTestEngine(
		[]map[string]any{{"employee_id": "1", "first_name": "Ada", "last_name": "Lovelace", "email": "ada@example.com"}},
		[]map[string]any{{"employee_id": "1", "first_name": "Ada", "last_name": "Lovelace", "email": "ada@example.com"}},
	)

	d, err := te.e.Diff(context.Background(), domain.EntityEmployee, "1")
	require.NoError(t, err)
	assert.Equal(t, domain.DiffInSync, d.Status)
	assert.Empty(t, d.ChangedFields)
}

func TestDiff_ReturnsDifferentWithChangedFields(t *testing.T) {
	te := newTestEngine(
		[]map[string]any{{"employee_id": "1", "first_name": "Ada", "last_name": "Byron", "email": "ada@example.com"}},
		[]map[string]any{{"employee_id": "1", "first_name": "Ada", "last_name": "Lovelace", "email": "ada@example.com"}},
	)

	d, err := te.e.Diff(context.Background(), domain.EntityEmployee, "1")
	require.NoError(t, err)
	assert.Equal(t, domain.DiffDifferent, d.Status)
	require.Contains(t, d.ChangedFields, "last_name")
	assert.Equal(t, "Byron", d.ChangedFields["last_name"].After)
}

func TestDiff_ReturnsSourceMissingWhenOnlyTargetHasRecord(t *testing.T) {
	te := newTestEngine(nil, []map[string]any{{"employee_id": "1", "first_name": "Ada"}})

	d, err := te.e.Diff(context.Background(), domain.EntityEmployee, "1")
	require.NoError(t, err)
	assert.Equal(t, domain.DiffSourceMissing, d.Status)
}

func TestDiff_ReturnsTargetMissingWhenOnlySourceHasRecord(t *testing.T) {
	te := newTestEngine([]map[string]any{{"employee_id": "1", "first_name": "Ada", "last_name": "Lovelace", "email": "ada@example.com"}}, nil)

	d, err := te.e.Diff(context.Background(), domain.EntityEmployee, "1")
	require.NoError(t, err)
	assert.Equal(t, domain.DiffTargetMissing, d.Status)
}

func TestExtractID_PrefersEntityTypedFieldOverPlainID(t *testing.T) {
	id, ok := extractID(domain.EntityEmployee, map[string]any{"employee_id": "e1", "id": "generic1"})
	require.True(t, ok)
	assert.Equal(t, "e1", id)
}

func TestExtractID_FallsBackToPlainID(t *testing.T) {
	id, ok := extractID(domain.EntityVehicle, map[string]any{"id": "v1"})
	require.True(t, ok)
	assert.Equal(t, "v1", id)
}

func TestBuildChanges_OmitsUnchangedFields(t *testing.T) {
	changes := buildChanges(
		map[string]any{"first_name": "Ada", "last_name": "Lovelace"},
		map[string]any{"first_name": "Ada", "last_name": "Byron"},
	)
	require.Len(t, changes, 1)
	assert.Equal(t, "Byron", changes["last_name"].Before)
	assert.Equal(t, "Lovelace", changes["last_name"].After)
}
