package controlplane

import (
	"net/http"

	"github.com/gorilla/mux"
	httpSwagger "github.com/swaggo/http-swagger"

	pkgmiddleware "github.com/iius-rcox/safetyamp-sync/pkg/middleware"
)

// routeTemplate returns the matched route's path template ("/diff/{type}/{id}"
// rather than the literal request path) so metrics stay low-cardinality.
func routeTemplate(r *http.Request) string {
	route := mux.CurrentRoute(r)
	if route == nil {
		return r.URL.Path
	}
	tmpl, err := route.GetPathTemplate()
	if err != nil {
		return r.URL.Path
	}
	return tmpl
}

// NewRouter builds the control plane's HTTP handler (spec §4.8), applying
// middleware in the teacher's internal/api/router.go order: request-id,
// logging, metrics, CORS, compression, security headers, path normalization,
// and auth on every route, then per-route role checks and rate-limit.
func NewRouter(deps Deps, hub *statusHub) http.Handler {
	h := newHandlers(deps)
	rl := newRateLimiter(30, 10)
	auth := authMiddleware(AuthConfig{})

	r := mux.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(deps.logger()))
	r.Use(metricsMiddleware(deps.Metrics.ControlPlane()))
	r.Use(corsMiddleware(DefaultCORSConfig()))
	r.Use(compressionMiddleware)
	r.Use(pkgmiddleware.SecureHeaders())
	r.Use(pkgmiddleware.PathNormalizationMiddleware())
	r.Use(auth)

	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.HandleFunc("/ready", h.ready).Methods(http.MethodGet)
	r.Handle("/metrics", h.metricsHandler()).Methods(http.MethodGet)

	r.HandleFunc("/status/live", hub.serveWS).Methods(http.MethodGet)
	r.HandleFunc("/sync/trigger/status", h.syncStatus).Methods(http.MethodGet)
	r.HandleFunc("/sync/trigger", requireRole(RoleOperator, h.syncTrigger)).Methods(http.MethodPost)
	r.HandleFunc("/sync/pause", h.syncPauseGet).Methods(http.MethodGet)
	r.Handle("/sync/pause", rateLimitMiddleware(rl)(requireRole(RoleOperator, h.syncPausePost))).Methods(http.MethodPost)

	r.HandleFunc("/entities/counts", h.entitiesCounts).Methods(http.MethodGet)

	r.HandleFunc("/cache/stats", h.cacheStats).Methods(http.MethodGet)
	r.HandleFunc("/cache/invalidate/{key}", requireRole(RoleOperator, h.cacheInvalidate)).Methods(http.MethodPost)
	r.HandleFunc("/cache/refresh/{key}", requireRole(RoleOperator, h.cacheRefresh)).Methods(http.MethodPost)

	r.HandleFunc("/api-calls", h.apiCalls).Methods(http.MethodGet)
	r.HandleFunc("/dependencies/health", h.dependenciesHealth).Methods(http.MethodGet)
	r.HandleFunc("/errors/suggestions", h.errorSuggestions).Methods(http.MethodGet)

	r.HandleFunc("/failed-records", h.failedRecordsList).Methods(http.MethodGet)
	r.HandleFunc("/failed-records/{id}/retry", requireRole(RoleOperator, h.failedRecordRetry)).Methods(http.MethodPost)
	r.HandleFunc("/failed-records/{id}/dismiss", requireRole(RoleOperator, h.failedRecordDismiss)).Methods(http.MethodPost)
	r.HandleFunc("/failed-records/retry-all", requireRole(RoleOperator, h.failedRecordsRetryAll)).Methods(http.MethodPost)

	r.HandleFunc("/notifications", h.notifications).Methods(http.MethodGet)
	r.HandleFunc("/audit", h.auditList).Methods(http.MethodGet)

	r.HandleFunc("/diff/{entity_type}/{entity_id}", h.diff).Methods(http.MethodGet)
	r.HandleFunc("/export/{report}", h.export).Methods(http.MethodGet)

	r.PathPrefix("/docs/").Handler(httpSwagger.WrapHandler)

	return r
}
