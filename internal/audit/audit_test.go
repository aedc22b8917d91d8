package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iius-rcox/safetyamp-sync/internal/domain"
)

// fakeStore is an in-memory Store, the same shape as
// internal/failedqueue's fakeStore, used to test Log's business logic in
// isolation from any real database.
type fakeStore struct {
	mu      sync.Mutex
	nextID  int64
	entries []domain.AuditEntry
}

func newFakeStore() *fakeStore {
	return &fakeStore{}
}

func (f *fakeStore) Insert(ctx context.Context, entry domain.AuditEntry) (domain.AuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	entry.ID = f.nextID
	f.entries = append(f.entries, entry)
	return entry, nil
}

func (f *fakeStore) List(ctx context.Context, filter Filter) ([]domain.AuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.AuditEntry
	for i := len(f.entries) - 1; i >= 0; i-- {
		entry := f.entries[i]
		if filter.Action != nil && entry.Action != *filter.Action {
			continue
		}
		if !filter.Since.IsZero() && entry.Timestamp.Before(filter.Since) {
			continue
		}
		out = append(out, entry)
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (f *fakeStore) Close() error { return nil }

func TestRecord_AppendsEntryWithServerTimestamp(t *testing.T) {
	store := newFakeStore()
	log := New(store, nil)

	before := time.Now()
	err := log.Record(context.Background(), "alice", "10.0.0.1", domain.AuditTriggerSync, "sync", "manual trigger")
	require.NoError(t, err)

	all, err := log.List(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "alice", all[0].User)
	assert.Equal(t, domain.AuditTriggerSync, all[0].Action)
	assert.False(t, all[0].Timestamp.Before(before))
}

func TestList_FiltersByAction(t *testing.T) {
	store := newFakeStore()
	log := New(store, nil)
	ctx := context.Background()

	require.NoError(t, log.Record(ctx, "alice", "", domain.AuditTriggerSync, "sync", ""))
	require.NoError(t, log.Record(ctx, "bob", "", domain.AuditPauseSync, "sync", ""))

	pauseAction := domain.AuditPauseSync
	filtered, err := log.List(ctx, Filter{Action: &pauseAction})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "bob", filtered[0].User)
}

func TestList_ReturnsMostRecentFirst(t *testing.T) {
	store := newFakeStore()
	log := New(store, nil)
	ctx := context.Background()

	require.NoError(t, log.Record(ctx, "alice", "", domain.AuditCacheInvalidate, "cache", "first"))
	require.NoError(t, log.Record(ctx, "alice", "", domain.AuditCacheRefresh, "cache", "second"))

	all, err := log.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "second", all[0].Details)
	assert.Equal(t, "first", all[1].Details)
}

func TestList_RespectsLimit(t *testing.T) {
	store := newFakeStore()
	log := New(store, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, log.Record(ctx, "alice", "", domain.AuditExport, "export", ""))
	}

	limited, err := log.List(ctx, Filter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}
