// Package controlplane is the Control-Plane Server (spec §4.8): a
// gorilla/mux HTTP API exposing health/readiness, live sync status, cache
// and dependency inspection, the failed-record queue, notifications, the
// audit log, sync triggers, a source-vs-target diff tool, and streaming
// exports. Grounded on the teacher's internal/api package — same
// middleware ordering, with role checks applied per route on a single
// router — rewired onto this
// service's own engine, cache, queue, audit, and metrics components.
package controlplane

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/iius-rcox/safetyamp-sync/internal/adapters"
	"github.com/iius-rcox/safetyamp-sync/internal/audit"
	"github.com/iius-rcox/safetyamp-sync/internal/cache"
	"github.com/iius-rcox/safetyamp-sync/internal/config"
	"github.com/iius-rcox/safetyamp-sync/internal/domain"
	"github.com/iius-rcox/safetyamp-sync/internal/engine"
	"github.com/iius-rcox/safetyamp-sync/internal/failedqueue"
	"github.com/iius-rcox/safetyamp-sync/internal/httpclient"
	"github.com/iius-rcox/safetyamp-sync/internal/metrics"
	"github.com/iius-rcox/safetyamp-sync/internal/tracker"
)

// Deps bundles every component the control plane's handlers read from or
// write to. All fields are required except AuditLog, which is optional in
// tests that don't exercise audited endpoints.
type Deps struct {
	Engine     *engine.Engine
	Cache      *cache.Manager
	Queue      *failedqueue.Queue
	AuditLog   *audit.Log
	Tracker    *tracker.Manager
	HTTPClient *httpclient.Client
	Metrics    *metrics.Registry
	Sources    map[domain.EntityType]adapters.Source
	Target     adapters.Target
	Log        *slog.Logger
}

func (d *Deps) logger() *slog.Logger {
	if d.Log != nil {
		return d.Log
	}
	return slog.Default()
}

// Server wraps a *http.Server configured from config.ServerConfig, the same
// graceful-shutdown shape as the teacher's cmd/server/main.go.
type Server struct {
	httpServer *http.Server
	hub        *statusHub
	log        *slog.Logger
}

// NewServer builds a Server bound to cfg, serving the router built from deps.
func NewServer(cfg config.ServerConfig, deps Deps) *Server {
	hub := newStatusHub(deps.Engine, deps.logger())
	router := NewRouter(deps, hub)
	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Host + ":" + strconv.Itoa(cfg.Port),
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		hub: hub,
		log: deps.logger(),
	}
}

// Run serves until ctx is canceled, then shuts down gracefully within
// gracePeriod.
func (s *Server) Run(ctx context.Context, gracePeriod time.Duration) error {
	go s.hub.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("control plane listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), gracePeriod)
		defer cancel()
		s.log.Info("control plane shutting down")
		return s.httpServer.Shutdown(shutdownCtx)
	}
}
