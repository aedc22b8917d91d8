package failedqueue

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iius-rcox/safetyamp-sync/internal/domain"
)

// fakeStore is an in-memory Store used to test Queue's business logic in
// isolation from any real database, the same way erp_test.go exercises
// classify() without a live Postgres connection.
type fakeStore struct {
	mu      sync.Mutex
	nextID  int64
	records map[int64]domain.FailedRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[int64]domain.FailedRecord)}
}

func (f *fakeStore) Upsert(ctx context.Context, rec domain.FailedRecord) (domain.FailedRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec.ID == 0 {
		f.nextID++
		rec.ID = f.nextID
	}
	f.records[rec.ID] = rec
	return rec, nil
}

func (f *fakeStore) Get(ctx context.Context, id int64) (domain.FailedRecord, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	return rec, ok, nil
}

func (f *fakeStore) FindQueued(ctx context.Context, entityType domain.EntityType, entityID string) (domain.FailedRecord, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.records {
		if rec.EntityType == entityType && rec.EntityID == entityID && rec.State == domain.FailedRecordQueued {
			return rec, true, nil
		}
	}
	return domain.FailedRecord{}, false, nil
}

func (f *fakeStore) List(ctx context.Context, filter Filter) ([]domain.FailedRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.FailedRecord
	for _, rec := range f.records {
		if rec.State != filter.State {
			continue
		}
		if filter.EntityType != nil && rec.EntityType != *filter.EntityType {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (f *fakeStore) UpdateState(ctx context.Context, id int64, state domain.FailedRecordState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok {
		return errors.New("not found")
	}
	rec.State = state
	f.records[id] = rec
	return nil
}

func (f *fakeStore) Delete(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, id)
	return nil
}

func (f *fakeStore) Close() error { return nil }

type fakeRetrier struct {
	fail map[string]bool
}

func (r *fakeRetrier) Retry(ctx context.Context, entityType domain.EntityType, entityID string) error {
	if r.fail[entityID] {
		return errors.New("upstream still rejects this record")
	}
	return nil
}

func TestEnqueue_CreatesNewQueuedRecord(t *testing.T) {
	q := New(newFakeStore(), nil, nil)

	rec, err := q.Enqueue(context.Background(), domain.EntityEmployee, "42", Failure{Message: "missing id"})
	require.NoError(t, err)
	assert.Equal(t, 1, rec.AttemptCount)
	assert.Equal(t, domain.FailedRecordQueued, rec.State)
}

func TestEnqueue_UpdatesExistingQueuedRecordInPlace(t *testing.T) {
	q := New(newFakeStore(), nil, nil)
	ctx := context.Background()

	first, err := q.Enqueue(ctx, domain.EntityEmployee, "42", Failure{Message: "first failure"})
	require.NoError(t, err)

	second, err := q.Enqueue(ctx, domain.EntityEmployee, "42", Failure{Message: "second failure"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.AttemptCount)
	assert.Equal(t, "second failure", second.LastErrorMsg)

	all, err := q.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 1, "one failure per entity, not one row per attempt")
}

func TestRetry_SuccessRemovesRecordFromQueue(t *testing.T) {
	store := newFakeStore()
	q := New(store, &fakeRetrier{}, nil)
	ctx := context.Background()

	rec, err := q.Enqueue(ctx, domain.EntityVehicle, "v1", Failure{Message: "conflict"})
	require.NoError(t, err)

	require.NoError(t, q.Retry(ctx, rec.ID))

	_, found, err := store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRetry_FailureKeepsRecordQueuedAndBumpsAttemptCount(t *testing.T) {
	store := newFakeStore()
	q := New(store, &fakeRetrier{fail: map[string]bool{"v1": true}}, nil)
	ctx := context.Background()

	rec, err := q.Enqueue(ctx, domain.EntityVehicle, "v1", Failure{Message: "conflict"})
	require.NoError(t, err)

	err = q.Retry(ctx, rec.ID)
	assert.Error(t, err)

	updated, found, err := store.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, domain.FailedRecordQueued, updated.State)
	assert.Equal(t, 2, updated.AttemptCount)
}

func TestRetryAll_AttemptsEveryQueuedRecordEvenAfterAFailure(t *testing.T) {
	store := newFakeStore()
	q := New(store, &fakeRetrier{fail: map[string]bool{"v1": true}}, nil)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, domain.EntityVehicle, "v1", Failure{Message: "bad"})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, domain.EntityVehicle, "v2", Failure{Message: "bad"})
	require.NoError(t, err)

	result, err := q.RetryAll(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
}

func TestDismiss_HidesRecordFromDefaultListing(t *testing.T) {
	store := newFakeStore()
	q := New(store, nil, nil)
	ctx := context.Background()

	rec, err := q.Enqueue(ctx, domain.EntityEmployee, "1", Failure{Message: "bad"})
	require.NoError(t, err)

	require.NoError(t, q.Dismiss(ctx, rec.ID))

	queued, err := q.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Empty(t, queued)

	dismissed, err := q.List(ctx, Filter{State: domain.FailedRecordDismissed})
	require.NoError(t, err)
	require.Len(t, dismissed, 1)
}

func TestRetry_WithoutConfiguredRetrierReturnsInternalError(t *testing.T) {
	store := newFakeStore()
	q := New(store, nil, nil)
	ctx := context.Background()

	rec, err := q.Enqueue(ctx, domain.EntityEmployee, "1", Failure{Message: "bad"})
	require.NoError(t, err)

	err = q.Retry(ctx, rec.ID)
	assert.Error(t, err)
}
