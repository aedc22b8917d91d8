package metrics

import "github.com/prometheus/client_golang/prometheus"

// ControlPlaneMetrics carries the control plane's own inbound-request
// instrumentation, distinct from HTTPMetrics (which times this service's
// outbound calls to Target/Fleet/Directory). Grounded on the teacher's
// internal/api/middleware/metrics.go, adapted to register against this
// service's own Registry instead of promauto's global default registry.
type ControlPlaneMetrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	InFlight        prometheus.Gauge
}

func newControlPlaneMetrics(reg *prometheus.Registry) *ControlPlaneMetrics {
	m := &ControlPlaneMetrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "controlplane",
			Name:      "http_requests_total",
			Help:      "Total control-plane HTTP requests by route, method, and status.",
		}, []string{"route", "method", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "controlplane",
			Name:      "http_request_duration_seconds",
			Help:      "Duration of control-plane HTTP requests by route and method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "controlplane",
			Name:      "http_requests_in_flight",
			Help:      "Control-plane HTTP requests currently being handled.",
		}),
	}
	reg.MustRegister(m.RequestsTotal, m.RequestDuration, m.InFlight)
	return m
}
