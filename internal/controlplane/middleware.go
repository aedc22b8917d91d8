package controlplane

import (
	"compress/gzip"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/iius-rcox/safetyamp-sync/internal/errs"
	"github.com/iius-rcox/safetyamp-sync/internal/metrics"
)

type ctxKey string

const (
	ctxKeyRequestID ctxKey = "request_id"
	ctxKeyUser      ctxKey = "user"

	headerRequestID = "X-Request-ID"
)

// requestIDMiddleware stamps every request with a correlation id, generating
// one when the caller didn't supply it — the teacher's
// internal/api/middleware/request_id.go pattern.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)
		ctx := context.WithValue(r.Context(), ctxKeyRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestIDFrom(r *http.Request) string {
	if id, ok := r.Context().Value(ctxKeyRequestID).(string); ok {
		return id
	}
	return ""
}

type responseWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *responseWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// loggingMiddleware logs one structured line per request, the teacher's
// internal/api/middleware/logging.go shape.
func loggingMiddleware(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w}
			next.ServeHTTP(rw, r)
			log.Info("control plane request",
				"method", r.Method, "path", r.URL.Path, "status", rw.status,
				"bytes", rw.bytes, "elapsed_ms", time.Since(start).Milliseconds(),
				"request_id", requestIDFrom(r),
			)
		})
	}
}

// metricsMiddleware records ControlPlaneMetrics observations per request,
// keyed on the route template (not the raw path, to keep cardinality
// bounded) via mux.CurrentRoute.
func metricsMiddleware(mx *metrics.ControlPlaneMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mx.InFlight.Inc()
			defer mx.InFlight.Dec()

			start := time.Now()
			rw := &responseWriter{ResponseWriter: w}
			next.ServeHTTP(rw, r)

			route := routeTemplate(r)
			mx.RequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
			mx.RequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(rw.status)).Inc()
		})
	}
}

// CORSConfig configures allowed origins/methods/headers for browser clients
// hitting the control plane's /status/live dashboard.
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	MaxAge         int
}

// DefaultCORSConfig permits everything, suitable for an internal operator
// tool behind its own auth layer.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", headerRequestID},
		MaxAge:         600,
	}
}

// corsMiddleware is adapted from the teacher's
// internal/api/middleware/cors.go, fixing a bug there: Max-Age was written
// via string(rune(config.MaxAge)), which encodes the int as a single
// Unicode code point instead of its decimal digits. strconv.Itoa is correct.
func corsMiddleware(cfg CORSConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && isOriginAllowed(origin, cfg.AllowedOrigins) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", strings.Join(cfg.AllowedMethods, ", "))
				w.Header().Set("Access-Control-Allow-Headers", strings.Join(cfg.AllowedHeaders, ", "))
				w.Header().Set("Access-Control-Max-Age", strconv.Itoa(cfg.MaxAge))
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isOriginAllowed(origin string, allowed []string) bool {
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
		if strings.HasPrefix(a, "*.") && strings.HasSuffix(origin, a[1:]) {
			return true
		}
	}
	return false
}

type gzipResponseWriter struct {
	http.ResponseWriter
	gz *gzip.Writer
}

func (w *gzipResponseWriter) Write(b []byte) (int, error) { return w.gz.Write(b) }

// compressionMiddleware gzip-encodes responses for clients that advertise
// support, the teacher's internal/api/middleware/compression.go shape.
func compressionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Add("Vary", "Accept-Encoding")
		gz := gzip.NewWriter(w)
		defer gz.Close()
		next.ServeHTTP(&gzipResponseWriter{ResponseWriter: w, gz: gz}, r)
	})
}

// Role is an operator's authorization level, mirroring the teacher's
// viewer/operator/admin hierarchy from internal/api/middleware/types.go.
type Role string

const (
	RoleViewer   Role = "viewer"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

var roleRank = map[Role]int{RoleViewer: 1, RoleOperator: 2, RoleAdmin: 3}

func hasRequiredRole(have, need Role) bool {
	return roleRank[have] >= roleRank[need]
}

// User identifies the authenticated operator making a request.
type User struct {
	Name string
	Role Role
}

// AuthConfig holds the API-key-to-user map the control plane authenticates
// requests against. A key maps 1:1 to an operator identity, the same
// shape as the teacher's internal/api/middleware.AuthConfig, minus the
// unimplemented JWT path (this service has no user-facing login flow).
type AuthConfig struct {
	APIKeys map[string]User
}

// authMiddleware parses "Authorization: ApiKey <key>" and attaches the
// resolved User to the request context. Requests without a recognized key
// are rejected with auth_failed; a nil/empty AuthConfig accepts every
// request as an anonymous admin, for tests and single-operator deployments
// that front the control plane with a reverse-proxy's own auth instead.
func authMiddleware(cfg AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(cfg.APIKeys) == 0 {
				ctx := context.WithValue(r.Context(), ctxKeyUser, User{Name: "anonymous", Role: RoleAdmin})
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			auth := r.Header.Get("Authorization")
			const prefix = "ApiKey "
			if !strings.HasPrefix(auth, prefix) {
				writeError(w, r, authFailedf("missing or malformed Authorization header"))
				return
			}
			key := strings.TrimPrefix(auth, prefix)
			user, ok := cfg.APIKeys[key]
			if !ok {
				writeError(w, r, authFailedf("unrecognized API key"))
				return
			}
			ctx := context.WithValue(r.Context(), ctxKeyUser, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func userFrom(r *http.Request) User {
	if u, ok := r.Context().Value(ctxKeyUser).(User); ok {
		return u
	}
	return User{Name: "anonymous", Role: RoleViewer}
}

// requireRole rejects requests from a User below need, for handlers that
// mutate state (spec §4.8: "All write endpoints require authenticated
// operator identity").
func requireRole(need Role, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !hasRequiredRole(userFrom(r).Role, need) {
			writeError(w, r, authFailedf("operator role %q is insufficient", userFrom(r).Role))
			return
		}
		next(w, r)
	}
}

// rateLimiter is a per-client token bucket map, the teacher's
// internal/api/middleware/rate_limit.go shape, applied to /sync/pause per
// spec §4.8 ("rate-limited; excessive calls return 429").
type rateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func newRateLimiter(requestsPerMinute, burst int) *rateLimiter {
	return &rateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:    burst,
	}
}

func (rl *rateLimiter) allow(clientID string) bool {
	rl.mu.Lock()
	l, ok := rl.limiters[clientID]
	if !ok {
		l = rate.NewLimiter(rl.rps, rl.burst)
		rl.limiters[clientID] = l
	}
	rl.mu.Unlock()
	return l.Allow()
}

func rateLimitMiddleware(rl *rateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID := userFrom(r).Name
			if !rl.allow(clientID) {
				writeJSON(w, http.StatusTooManyRequests, errorEnvelope{Error: apiError{
					Code: "rate_limited", Message: "too many requests", RequestID: requestIDFrom(r),
				}})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func authFailedf(format string, args ...any) error {
	return errs.New(errs.AuthFailed, fmt.Sprintf(format, args...))
}
