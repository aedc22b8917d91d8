package controlplane

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iius-rcox/safetyamp-sync/internal/audit"
	"github.com/iius-rcox/safetyamp-sync/internal/domain"
	"github.com/iius-rcox/safetyamp-sync/internal/errs"
	"github.com/iius-rcox/safetyamp-sync/internal/failedqueue"
	"github.com/iius-rcox/safetyamp-sync/internal/httpclient"
)

// handlers holds the control plane's per-route logic, closing over Deps.
type handlers struct {
	deps Deps
}

func newHandlers(deps Deps) *handlers {
	return &handlers{deps: deps}
}

func (h *handlers) metricsHandler() http.Handler {
	return promhttp.HandlerFor(h.deps.Metrics.Gatherer(), promhttp.HandlerOpts{})
}

// health is a liveness probe: the process is up and serving requests.
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ready reports whether every configured source and the target are
// reachable (the cache always counts as up), per spec §4.8's
// readiness-vs-liveness distinction.
func (h *handlers) ready(w http.ResponseWriter, r *http.Request) {
	deps := h.dependencyStatuses(r.Context())

	ready := true
	for _, d := range deps {
		if !d.Up {
			ready = false
			break
		}
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{"ready": ready, "dependencies": deps})
}

// statusLive is served directly by statusHub.serveWS (router.go), since it
// upgrades the connection rather than returning JSON.

func (h *handlers) syncStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"running": h.deps.Engine.RunningSessions(),
		"recent":  h.deps.Engine.RecentSessions(20),
		"pause":   h.deps.Engine.PauseState(),
	})
}

type triggerRequest struct {
	SyncType domain.SyncType `json:"sync_type"`
}

// syncTrigger enqueues a sync session (spec §4.8: "POST /sync/trigger
// {sync_type}"). A trigger already pending for that sync type is accepted
// as a no-op, per the engine's own coalescing.
func (h *handlers) syncTrigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeValidationError(w, r, err.Error())
		return
	}
	if req.SyncType == "" {
		req.SyncType = domain.SyncFull
	}

	if err := h.deps.Engine.TriggerSync(req.SyncType); err != nil {
		writeError(w, r, err)
		return
	}
	h.audit(r, domain.AuditTriggerSync, string(req.SyncType), "")
	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true, "sync_type": req.SyncType})
}

func (h *handlers) syncPauseGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Engine.PauseState())
}

type pauseRequest struct {
	Paused bool `json:"paused"`
}

// syncPausePost toggles the scheduler's pause switch (spec §4.8: "rate
// limited; excessive calls return 429", enforced by router.go's
// rateLimitMiddleware wrapping this handler).
func (h *handlers) syncPausePost(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeValidationError(w, r, err.Error())
		return
	}

	user := userFrom(r).Name
	var state domain.PauseState
	if req.Paused {
		state = h.deps.Engine.Pause(user)
		h.audit(r, domain.AuditPauseSync, "scheduler", "")
	} else {
		state = h.deps.Engine.Resume()
		h.audit(r, domain.AuditResumeSync, "scheduler", "")
	}
	writeJSON(w, http.StatusOK, state)
}

// entitiesCounts reports per-sync-type counts from the retained session
// history, for the dashboard's at-a-glance summary.
func (h *handlers) entitiesCounts(w http.ResponseWriter, r *http.Request) {
	recent := h.deps.Engine.RecentSessions(0)
	counts := make(map[domain.SyncType]domain.SessionCounts, len(recent))
	for _, s := range recent {
		counts[s.SyncType] = s.Counts
	}
	writeJSON(w, http.StatusOK, counts)
}

func (h *handlers) cacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Cache.Stats(r.Context()))
}

// cacheInvalidate drops one key from every cache tier.
func (h *handlers) cacheInvalidate(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	if err := h.deps.Cache.Invalidate(r.Context(), key); err != nil {
		writeError(w, r, err)
		return
	}
	h.audit(r, domain.AuditCacheInvalidate, key, "")
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "status": "invalidated"})
}

// cacheRefresh forces a key to be dropped so the next normal GetOrLoad
// repopulates it — the control plane has no registered Loader for arbitrary
// keys, so unlike cache.Manager.Refresh (which takes one), a bare
// invalidate is the refresh primitive available at this layer.
func (h *handlers) cacheRefresh(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	if err := h.deps.Cache.Invalidate(r.Context(), key); err != nil {
		writeError(w, r, err)
		return
	}
	h.audit(r, domain.AuditCacheRefresh, key, "")
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "status": "invalidated_pending_reload"})
}

// apiCalls surfaces the outbound HTTP client's recent call log (spec §4.8's
// GET /api-calls), filterable by service/method/status/errors_only.
func (h *handlers) apiCalls(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := httpclient.CallLogFilter{
		Service:    q.Get("service"),
		Method:     q.Get("method"),
		ErrorsOnly: q.Get("errors_only") == "true",
		Limit:      atoiOr(q.Get("limit"), 100),
	}
	if sc := q.Get("status_code"); sc != "" {
		f.StatusCode, _ = strconv.Atoi(sc)
	}
	writeJSON(w, http.StatusOK, h.deps.HTTPClient.RecentCalls(f))
}

// dependencyStatus is one external system's reachability as seen by
// dependenciesHealth's sentinel probe.
type dependencyStatus struct {
	Name string `json:"name"`
	Up   bool   `json:"up"`
	Note string `json:"note,omitempty"`
}

const sentinelProbeID = "__health_probe__"

// dependenciesHealth probes every configured Source and the Target with a
// sentinel GetByID call (spec §4.8's GET /dependencies/health). Neither
// adapters.Source nor adapters.Target exposes a dedicated health-check
// method (see DESIGN.md), so reachability is inferred from the error
// taxonomy: a nil error or data_missing on a sentinel id both prove the
// adapter's round-trip to the remote system succeeded, while
// transport/dependency_unavailable/auth_failed mean it did not.
func (h *handlers) dependenciesHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.dependencyStatuses(r.Context()))
}

func (h *handlers) dependencyStatuses(ctx context.Context) []dependencyStatus {
	var out []dependencyStatus
	for entityType, source := range h.deps.Sources {
		entityType, source := entityType, source
		out = append(out, probeSource(ctx, string(entityType)+" source", func() error {
			_, _, err := source.GetByID(ctx, entityType, sentinelProbeID)
			return err
		}))
	}
	out = append(out, probeSource(ctx, "target", func() error {
		_, _, err := h.deps.Target.GetByID(ctx, domain.EntityEmployee, sentinelProbeID)
		return err
	}))
	// The cache is never a hard dependency: its LRU and disk tiers are
	// always available even when the optional Redis tier is down.
	stats := h.deps.Cache.Stats(ctx)
	note := "redis tier down, serving from LRU/disk fallback"
	if stats.RedisUp {
		note = ""
	}
	out = append(out, dependencyStatus{Name: "cache", Up: true, Note: note})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func probeSource(ctx context.Context, name string, probe func() error) dependencyStatus {
	err := probe()
	if err == nil || errs.Is(err, errs.DataMissing) {
		return dependencyStatus{Name: name, Up: true}
	}
	return dependencyStatus{Name: name, Up: false, Note: err.Error()}
}

func (h *handlers) errorSuggestions(w http.ResponseWriter, r *http.Request) {
	hours := atoiOr(r.URL.Query().Get("hours"), 24)
	since := time.Now().Add(-time.Duration(hours) * time.Hour)
	writeJSON(w, http.StatusOK, h.deps.Tracker.ErrorSuggestions(since))
}

func (h *handlers) failedRecordsList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := failedqueue.Filter{
		Limit:  atoiOr(q.Get("limit"), 100),
		Offset: atoiOr(q.Get("offset"), 0),
	}
	if et := q.Get("entity_type"); et != "" {
		entityType := domain.EntityType(et)
		f.EntityType = &entityType
	}
	recs, err := h.deps.Queue.List(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *handlers) failedRecordRetry(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeValidationError(w, r, "id must be an integer")
		return
	}
	if err := h.deps.Queue.Retry(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	h.audit(r, domain.AuditRetryRecord, strconv.FormatInt(id, 10), "")
	writeJSON(w, http.StatusOK, map[string]string{"status": "retried"})
}

func (h *handlers) failedRecordDismiss(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeValidationError(w, r, "id must be an integer")
		return
	}
	if err := h.deps.Queue.Dismiss(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	h.audit(r, domain.AuditDismissRecord, strconv.FormatInt(id, 10), "")
	writeJSON(w, http.StatusOK, map[string]string{"status": "dismissed"})
}

func (h *handlers) failedRecordsRetryAll(w http.ResponseWriter, r *http.Request) {
	var entityType *domain.EntityType
	if et := r.URL.Query().Get("entity_type"); et != "" {
		v := domain.EntityType(et)
		entityType = &v
	}
	result, err := h.deps.Queue.RetryAll(r.Context(), entityType)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.audit(r, domain.AuditRetryRecord, "all", "")
	writeJSON(w, http.StatusOK, result)
}

func (h *handlers) notifications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := domain.NotificationStatus(q.Get("status"))
	limit := atoiOr(q.Get("limit"), 50)
	writeJSON(w, http.StatusOK, h.deps.Tracker.Notifications(status, limit))
}

func (h *handlers) auditList(w http.ResponseWriter, r *http.Request) {
	if h.deps.AuditLog == nil {
		writeJSON(w, http.StatusOK, []domain.AuditEntry{})
		return
	}
	f := auditFilterFromQuery(r.URL.Query())
	entries, err := h.deps.AuditLog.List(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func auditFilterFromQuery(q url.Values) audit.Filter {
	f := audit.Filter{
		Limit:  atoiOr(q.Get("limit"), 100),
		Offset: atoiOr(q.Get("offset"), 0),
	}
	if a := q.Get("action"); a != "" {
		action := domain.AuditAction(a)
		f.Action = &action
	}
	return f
}

func (h *handlers) diff(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	entityType := domain.EntityType(vars["entity_type"])
	entityID := vars["entity_id"]

	d, err := h.deps.Engine.Diff(r.Context(), entityType, entityID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// export streams a CSV or JSON report of recent sync activity (spec §4.8's
// GET /export/{report}), backed by the engine's in-memory session history
// rather than a durable store — exports cover only what is still retained.
func (h *handlers) export(w http.ResponseWriter, r *http.Request) {
	report := mux.Vars(r)["report"]
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}

	switch report {
	case "sessions":
		h.writeExport(w, r, format, "sessions", sessionRows(h.deps.Engine.RecentSessions(0)))
	default:
		writeValidationError(w, r, "unknown report: "+report)
	}
}

func sessionRows(sessions []domain.SyncSession) [][]string {
	rows := [][]string{{"session_id", "sync_type", "status", "started_at", "processed", "created", "updated", "skipped", "errors"}}
	for _, s := range sessions {
		rows = append(rows, []string{
			s.SessionID, string(s.SyncType), string(s.Status), s.StartedAt.Format(time.RFC3339),
			strconv.FormatInt(s.Counts.Processed, 10), strconv.FormatInt(s.Counts.Created, 10),
			strconv.FormatInt(s.Counts.Updated, 10), strconv.FormatInt(s.Counts.Skipped, 10),
			strconv.FormatInt(s.Counts.Errors, 10),
		})
	}
	return rows
}

func (h *handlers) writeExport(w http.ResponseWriter, r *http.Request, format, name string, rows [][]string) {
	h.audit(r, domain.AuditExport, name, format)
	if format == "csv" {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="`+name+`.csv"`)
		cw := csv.NewWriter(w)
		_ = cw.WriteAll(rows)
		cw.Flush()
		return
	}

	header := rows[0]
	out := make([]map[string]string, 0, len(rows)-1)
	for _, row := range rows[1:] {
		rec := make(map[string]string, len(header))
		for i, col := range header {
			rec[col] = row[i]
		}
		out = append(out, rec)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) audit(r *http.Request, action domain.AuditAction, resource, details string) {
	if h.deps.AuditLog == nil {
		return
	}
	user := userFrom(r).Name
	if err := h.deps.AuditLog.Record(r.Context(), user, r.RemoteAddr, action, resource, details); err != nil {
		h.deps.logger().Warn("control plane: failed to record audit entry", "error", err, "action", action)
	}
}

func atoiOr(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func decodeJSON(r *http.Request, v any) error {
	if r.ContentLength == 0 {
		return nil
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
