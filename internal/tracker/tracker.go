// Package tracker is the Change Tracker, Error Notifier, and Event Manager
// (spec §4.5): a session-scoped store of ChangeEvents and counters, a
// cooldown-gated rolling error window, and the single record() entrypoint
// syncers call to update both atomically.
package tracker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iius-rcox/safetyamp-sync/internal/domain"
	"github.com/iius-rcox/safetyamp-sync/internal/errs"
	"github.com/iius-rcox/safetyamp-sync/internal/metrics"
)

// Result is what a syncer reports for one entity after attempting to
// reconcile it.
type Result struct {
	SessionID  string
	EntityType domain.EntityType
	EntityID   string
	Operation  domain.Operation
	Changes    map[string]domain.FieldChange
	Reason     string
	Err        error
}

// errorKey identifies one rolling error window bucket.
type errorKey struct {
	errorType  string
	entityType domain.EntityType
}

type errorWindow struct {
	count        int
	sampleIDs    []string
	lastSeenAt   time.Time
	lastNotified time.Time
	hasNewSince  bool
}

const sampleBound = 10

// Notifier sends an aggregated Notification through a transport (SMTP,
// webhook, ...).
type Notifier interface {
	Notify(ctx context.Context, n domain.Notification, sample []string) error
}

// Manager is the combined Change Tracker / Error Notifier / Event Manager.
type Manager struct {
	mu       sync.Mutex
	cooldown time.Duration
	notifier Notifier
	mx       *metrics.SyncMetrics
	events        []domain.ChangeEvent
	counts        map[string]*domain.SessionCounts // keyed by session id
	windows       map[errorKey]*errorWindow
	notifications []domain.Notification
	nextNotifyID  int64
}

// New builds a Manager. notifier may be nil, in which case notifications are
// computed but not dispatched (used in tests and when no transport is
// configured).
func New(cooldown time.Duration, notifier Notifier, mx *metrics.SyncMetrics) *Manager {
	return &Manager{
		cooldown: cooldown,
		notifier: notifier,
		mx:       mx,
		counts:   make(map[string]*domain.SessionCounts),
		windows:  make(map[errorKey]*errorWindow),
	}
}

// Record is the single mutation entrypoint: it appends a ChangeEvent, rolls
// the session counters, and updates the error window, all under one lock so
// concurrent syncers never interleave a partial update (spec §4.5).
func (m *Manager) Record(ctx context.Context, r Result) domain.ChangeEvent {
	m.mu.Lock()

	event := domain.ChangeEvent{
		ID:         uuid.NewString(),
		SessionID:  r.SessionID,
		Timestamp:  time.Now(),
		EntityType: r.EntityType,
		EntityID:   r.EntityID,
		Operation:  r.Operation,
		Changes:    r.Changes,
		Reason:     r.Reason,
	}
	if r.Err != nil {
		event.Error = r.Err.Error()
	}
	m.events = append(m.events, event)

	counts := m.counts[r.SessionID]
	if counts == nil {
		counts = &domain.SessionCounts{}
		m.counts[r.SessionID] = counts
	}
	counts.Processed++
	switch r.Operation {
	case domain.OpCreated:
		counts.Created++
	case domain.OpUpdated:
		counts.Updated++
	case domain.OpSkipped:
		counts.Skipped++
	case domain.OpError:
		counts.Errors++
	}

	if m.mx != nil {
		m.mx.ChangesTotal.WithLabelValues(string(r.EntityType), string(r.Operation), statusLabel(r.Err)).Inc()
	}

	var toNotify *domain.Notification
	var sample []string
	if r.Err != nil {
		toNotify, sample = m.recordError(r, string(errs.CodeOf(r.Err)))
	}
	m.mu.Unlock()

	if toNotify != nil {
		if m.notifier != nil {
			if err := m.notifier.Notify(ctx, *toNotify, sample); err != nil {
				toNotify.Status = domain.NotificationFailed
				toNotify.Error = err.Error()
			} else {
				toNotify.Status = domain.NotificationSent
			}
		}
		m.mu.Lock()
		m.nextNotifyID++
		toNotify.ID = m.nextNotifyID
		m.notifications = append(m.notifications, *toNotify)
		m.mu.Unlock()
	}

	return event
}

// recordError updates the rolling error window for (errorType, entityType)
// and returns a Notification (and its id sample) when should_send_notification
// is true: there are new errors since the last sent notification and the
// cooldown has elapsed. Caller must hold m.mu.
func (m *Manager) recordError(r Result, errorType string) (*domain.Notification, []string) {
	key := errorKey{errorType: errorType, entityType: r.EntityType}
	w := m.windows[key]
	if w == nil {
		w = &errorWindow{}
		m.windows[key] = w
	}

	now := time.Now()
	w.count++
	w.lastSeenAt = now
	w.hasNewSince = true
	if len(w.sampleIDs) < sampleBound {
		w.sampleIDs = append(w.sampleIDs, r.EntityID)
	}

	if m.mx != nil {
		m.mx.ErrorsTotal.WithLabelValues(errorType, string(r.EntityType), "sync").Inc()
	}

	if !m.shouldSendNotification(w, now) {
		return nil, nil
	}

	sample := append([]string(nil), w.sampleIDs...)
	n := &domain.Notification{
		Type:       errorType,
		Subject:    fmt.Sprintf("%s: %d errors for %s", errorType, w.count, r.EntityType),
		Status:     domain.NotificationPending,
		Timestamp:  now,
		ErrorCount: w.count,
	}

	w.lastNotified = now
	w.hasNewSince = false
	w.sampleIDs = nil
	w.count = 0

	return n, sample
}

// shouldSendNotification is true only when there are new errors since the
// last sent notification and notification_cooldown has elapsed.
func (m *Manager) shouldSendNotification(w *errorWindow, now time.Time) bool {
	if !w.hasNewSince {
		return false
	}
	if w.lastNotified.IsZero() {
		return true
	}
	return now.Sub(w.lastNotified) >= m.cooldown
}

// Events returns every ChangeEvent recorded for sessionID, oldest first.
func (m *Manager) Events(sessionID string) []domain.ChangeEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.ChangeEvent
	for _, e := range m.events {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// Counts returns the current SessionCounts for sessionID.
func (m *Manager) Counts(sessionID string) domain.SessionCounts {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c := m.counts[sessionID]; c != nil {
		return *c
	}
	return domain.SessionCounts{}
}

// Notifications returns sent/pending/failed notifications, most recent
// first, optionally restricted to one status.
func (m *Manager) Notifications(status domain.NotificationStatus, limit int) []domain.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.Notification
	for i := len(m.notifications) - 1; i >= 0; i-- {
		n := m.notifications[i]
		if status != "" && n.Status != status {
			continue
		}
		out = append(out, n)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// errorWeight ranks how much one occurrence of an error code should count
// toward its severity bucket, per spec §7's "configured weight per error
// code" — auth failures and internal errors are weighted heaviest since a
// single one usually means the whole session aborted.
var errorWeight = map[string]int{
	"auth_failed":            5,
	"internal":               4,
	"dependency_unavailable": 3,
	"conflict":               2,
	"validation_failed":      1,
	"data_missing":           1,
	"rate_limited":           1,
	"transport":              1,
}

func severityFor(score int) domain.Severity {
	switch {
	case score >= 15:
		return domain.SeverityHigh
	case score >= 5:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}

// ErrorSuggestions aggregates the rolling error windows seen within the last
// `since` window into one suggestion per (error_type, entity_type), sorted
// by occurrence count descending — spec §4.8's GET /errors/suggestions.
func (m *Manager) ErrorSuggestions(since time.Time) []domain.ErrorSuggestion {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.ErrorSuggestion
	for key, w := range m.windows {
		if w.lastSeenAt.Before(since) {
			continue
		}
		score := w.count * errorWeight[key.errorType]
		out = append(out, domain.ErrorSuggestion{
			ErrorType:   key.errorType,
			EntityType:  key.entityType,
			Count:       w.count,
			Severity:    severityFor(score),
			Suggestion:  suggestionFor(key.errorType),
			FirstSeenAt: w.lastSeenAt,
			LastSeenAt:  w.lastSeenAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	return out
}

func suggestionFor(errorType string) string {
	switch errorType {
	case "auth_failed":
		return "check target/source credentials and token expiry"
	case "dependency_unavailable":
		return "check downstream service health and retry backoff settings"
	case "validation_failed":
		return "review failed-record queue for field-level causes"
	case "conflict":
		return "inspect concurrent writers or stale idempotency keys"
	case "rate_limited":
		return "lower http_rps_per_host or raise the target's rate limit"
	case "data_missing":
		return "check referential mappings (site/department/job ids)"
	default:
		return "inspect recent error log entries for detail"
	}
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
