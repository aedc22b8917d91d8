package metrics

import "github.com/prometheus/client_golang/prometheus"

// HTTPMetrics carries the rate-limited HTTP client's request histogram.
type HTTPMetrics struct {
	RequestDuration *prometheus.HistogramVec
}

func newHTTPMetrics(reg *prometheus.Registry) *HTTPMetrics {
	m := &HTTPMetrics{
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of outbound HTTP requests by host, method, and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"host", "method", "status"}),
	}
	reg.MustRegister(m.RequestDuration)
	return m
}
