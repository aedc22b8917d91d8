// Package domain holds the types shared by every component of the sync
// engine: entities, cache records, sessions, change events, and the other
// data described by the integration's data model.
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"
)

// EntityType enumerates the closed set of entity kinds the engine knows how
// to reconcile.
type EntityType string

const (
	EntityEmployee   EntityType = "employee"
	EntityVehicle    EntityType = "vehicle"
	EntityDepartment EntityType = "department"
	EntityJob        EntityType = "job"
	EntityTitle      EntityType = "title"
	EntityAssetType  EntityType = "asset_type"
	EntityRole       EntityType = "role"
	EntitySite       EntityType = "site"
)

// EntityTypes lists every known entity type, used for validating config and
// iterating in tests.
var EntityTypes = []EntityType{
	EntitySite, EntityDepartment, EntityTitle, EntityRole,
	EntityAssetType, EntityEmployee, EntityVehicle, EntityJob,
}

// SyncOrder is the fixed dependency order syncers run in within a session.
var SyncOrder = []EntityType{
	EntitySite, EntityDepartment, EntityTitle, EntityRole,
	EntityAssetType, EntityEmployee, EntityVehicle, EntityJob,
}

// Entity is the abstract record the engine moves between a source system and
// the target. SourcePayload and TargetPayload are normalized maps rather
// than untyped JSON blobs — the validator never touches raw wire payloads.
type Entity struct {
	EntityType     EntityType
	EntityID       string
	SourcePayload  map[string]any
	TargetPayload  map[string]any
	Fingerprint    string
	ExternalRef    string // optional FK into a fleet/directory source record
}

// ComputeFingerprint returns a stable hash over the normalized fields of
// payload, sorted by key so the result is deterministic regardless of map
// iteration order.
func ComputeFingerprint(payload map[string]any) string {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		b, _ := json.Marshal(payload[k])
		h.Write(b)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// IdempotencyKey derives the key used for upsert idempotency, per spec
// (entity_type, entity_id, fingerprint).
func IdempotencyKey(entityType EntityType, entityID, fingerprint string) string {
	h := sha256.New()
	h.Write([]byte(entityType))
	h.Write([]byte{':'})
	h.Write([]byte(entityID))
	h.Write([]byte{':'})
	h.Write([]byte(fingerprint))
	return hex.EncodeToString(h.Sum(nil))
}

// SyncType enumerates what a SyncSession reconciles.
type SyncType string

const (
	SyncEmployees   SyncType = "employees"
	SyncVehicles    SyncType = "vehicles"
	SyncDepartments SyncType = "departments"
	SyncJobs        SyncType = "jobs"
	SyncTitles      SyncType = "titles"
	SyncFull        SyncType = "full"
)

// SessionStatus is the lifecycle state of a SyncSession.
type SessionStatus string

const (
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// SessionCounts tracks the per-session record outcome totals. Processed must
// always equal the sum of the other four fields (spec §8 testable property).
type SessionCounts struct {
	Processed int64 `json:"processed"`
	Created   int64 `json:"created"`
	Updated   int64 `json:"updated"`
	Skipped   int64 `json:"skipped"`
	Errors    int64 `json:"errors"`
}

// SyncSession is one bounded run of the engine.
type SyncSession struct {
	SessionID string        `json:"session_id"`
	SyncType  SyncType      `json:"sync_type"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   *time.Time    `json:"ended_at,omitempty"`
	Status    SessionStatus `json:"status"`
	Counts    SessionCounts `json:"counts"`
	Reason    string        `json:"reason,omitempty"`
}

// Operation is the terminal outcome of processing one entity.
type Operation string

const (
	OpCreated Operation = "created"
	OpUpdated Operation = "updated"
	OpDeleted Operation = "deleted"
	OpSkipped Operation = "skipped"
	OpError   Operation = "error"
)

// FieldChange captures a before/after pair for one changed field.
type FieldChange struct {
	Before any `json:"before,omitempty"`
	After  any `json:"after,omitempty"`
}

// ChangeEvent is one terminal outcome recorded for an entity within a
// session.
type ChangeEvent struct {
	ID         string                 `json:"id"`
	SessionID  string                 `json:"session_id"`
	Timestamp  time.Time              `json:"timestamp"`
	EntityType EntityType             `json:"entity_type"`
	EntityID   string                 `json:"entity_id"`
	Operation  Operation              `json:"operation"`
	Changes    map[string]FieldChange `json:"changes,omitempty"`
	Reason     string                 `json:"reason,omitempty"`
	Error      string                 `json:"error,omitempty"`
}

// FailedRecordState is the lifecycle state of a FailedRecord.
type FailedRecordState string

const (
	FailedRecordQueued    FailedRecordState = "queued"
	FailedRecordDismissed FailedRecordState = "dismissed"
)

// FailedField describes one field-level validation or upsert failure.
type FailedField struct {
	Error string `json:"error"`
	Value any    `json:"value,omitempty"`
}

// FailedRecord is a durable entry for an entity that needs manual attention.
type FailedRecord struct {
	ID              int64                  `json:"id"`
	EntityType      EntityType             `json:"entity_type"`
	EntityID        string                 `json:"entity_id"`
	FirstFailedAt   time.Time              `json:"first_failed_at"`
	LastFailedAt    time.Time              `json:"last_failed_at"`
	AttemptCount    int                    `json:"attempt_count"`
	HTTPStatus      int                    `json:"http_status,omitempty"`
	LastErrorMsg    string                 `json:"last_error_message"`
	FailedFields    map[string]FailedField `json:"failed_fields,omitempty"`
	State           FailedRecordState      `json:"state"`
}

// NotificationStatus is the lifecycle state of a Notification.
type NotificationStatus string

const (
	NotificationPending NotificationStatus = "pending"
	NotificationSent    NotificationStatus = "sent"
	NotificationFailed  NotificationStatus = "failed"
)

// Notification is an aggregated error summary emitted by the error notifier.
type Notification struct {
	ID         int64              `json:"id"`
	Type       string             `json:"type"`
	Subject    string             `json:"subject"`
	Recipient  string             `json:"recipient"`
	Status     NotificationStatus `json:"status"`
	Timestamp  time.Time          `json:"timestamp"`
	Error      string             `json:"error,omitempty"`
	ErrorCount int                `json:"error_count"`
}

// AuditAction enumerates operator-initiated actions recorded by the audit log.
type AuditAction string

const (
	AuditCacheInvalidate AuditAction = "cache_invalidate"
	AuditCacheRefresh    AuditAction = "cache_refresh"
	AuditRetryRecord     AuditAction = "retry_record"
	AuditDismissRecord   AuditAction = "dismiss_record"
	AuditTriggerSync     AuditAction = "trigger_sync"
	AuditExport          AuditAction = "export"
	AuditPauseSync       AuditAction = "pause_sync"
	AuditResumeSync      AuditAction = "resume_sync"
)

// AuditEntry is an immutable record of an operator action taken through the
// control plane.
type AuditEntry struct {
	ID        int64       `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	User      string      `json:"user"`
	IPAddress string      `json:"ip_address,omitempty"`
	Action    AuditAction `json:"action"`
	Resource  string      `json:"resource"`
	Details   string      `json:"details,omitempty"`
}

// PauseState is the process-wide pause switch for the sync scheduler.
type PauseState struct {
	Paused   bool       `json:"paused"`
	PausedBy string     `json:"paused_by,omitempty"`
	PausedAt *time.Time `json:"paused_at,omitempty"`
}

// Severity buckets an ErrorSuggestion by how urgently it warrants operator
// attention, per spec §7's notification policy.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// ErrorSuggestion is one aggregated error pattern surfaced by
// GET /errors/suggestions. Severity is computed from occurrence count and a
// per-error-code weight; the age of the errors does not affect it.
type ErrorSuggestion struct {
	ErrorType   string     `json:"error_type"`
	EntityType  EntityType `json:"entity_type,omitempty"`
	Count       int        `json:"count"`
	Severity    Severity   `json:"severity"`
	Suggestion  string     `json:"suggestion"`
	FirstSeenAt time.Time  `json:"first_seen_at"`
	LastSeenAt  time.Time  `json:"last_seen_at"`
}

// DiffStatus is the comparison outcome GET /diff/{entity_type}/{entity_id}
// reports for one entity.
type DiffStatus string

const (
	DiffInSync        DiffStatus = "in_sync"
	DiffDifferent     DiffStatus = "different"
	DiffSourceMissing DiffStatus = "source_missing"
	DiffTargetMissing DiffStatus = "target_missing"
	DiffBothMissing   DiffStatus = "both_missing"
)

// Diff is the source-vs-target comparison for one entity.
type Diff struct {
	EntityType    EntityType             `json:"entity_type"`
	EntityID      string                 `json:"entity_id"`
	Status        DiffStatus             `json:"status"`
	ChangedFields map[string]FieldChange `json:"changed_fields,omitempty"`
}
