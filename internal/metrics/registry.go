// Package metrics is the process's single Prometheus registry. It mirrors
// the teacher's category-manager pattern (lazy-initialized groups behind a
// singleton) but the categories here are Sync, HTTP, Cache, and
// ControlPlane, carrying the
// exact metric names and label sets the control plane's /metrics endpoint
// is required to expose.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "safetyamp_sync"

// Registry is the central holder of every metric family the service emits.
// Safe for concurrent use; obtain the process-wide instance with Default().
type Registry struct {
	reg *prometheus.Registry

	syncOnce  sync.Once
	sync      *SyncMetrics
	httpOnce  sync.Once
	http      *HTTPMetrics
	cacheOnce sync.Once
	cache     *CacheMetrics

	controlPlaneOnce sync.Once
	controlPlane     *ControlPlaneMetrics
}

var (
	defaultRegistry *Registry
	defaultOnce     sync.Once
)

// Default returns the process-wide Registry, creating it (and registering
// Go/process collectors) on first call.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = New()
	})
	return defaultRegistry
}

// New builds a Registry backed by a fresh prometheus.Registry, useful in
// tests that need isolation from the process-wide singleton.
func New() *Registry {
	r := prometheus.NewRegistry()
	r.MustRegister(prometheus.NewGoCollector())
	r.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	return &Registry{reg: r}
}

// Gatherer exposes the underlying prometheus.Gatherer for the /metrics HTTP
// handler.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// Sync returns the sync-engine metric group.
func (r *Registry) Sync() *SyncMetrics {
	r.syncOnce.Do(func() { r.sync = newSyncMetrics(r.reg) })
	return r.sync
}

// HTTP returns the rate-limited HTTP client metric group.
func (r *Registry) HTTP() *HTTPMetrics {
	r.httpOnce.Do(func() { r.http = newHTTPMetrics(r.reg) })
	return r.http
}

// Cache returns the cache-manager metric group.
func (r *Registry) Cache() *CacheMetrics {
	r.cacheOnce.Do(func() { r.cache = newCacheMetrics(r.reg) })
	return r.cache
}

// ControlPlane returns the control plane's inbound-request metric group.
func (r *Registry) ControlPlane() *ControlPlaneMetrics {
	r.controlPlaneOnce.Do(func() { r.controlPlane = newControlPlaneMetrics(r.reg) })
	return r.controlPlane
}
