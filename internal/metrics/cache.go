package metrics

import "github.com/prometheus/client_golang/prometheus"

// CacheMetrics carries the cache & freshness manager's gauges, one labeled
// set per named cache tier/entity.
type CacheMetrics struct {
	LastUpdatedTimestamp *prometheus.GaugeVec
	ItemsTotal           *prometheus.GaugeVec
	TTLSeconds           *prometheus.GaugeVec
}

func newCacheMetrics(reg *prometheus.Registry) *CacheMetrics {
	m := &CacheMetrics{
		LastUpdatedTimestamp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_last_updated_timestamp_seconds",
			Help:      "Unix timestamp a cache entry was last refreshed.",
		}, []string{"cache"}),
		ItemsTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_items_total",
			Help:      "Number of items currently held in a cache.",
		}, []string{"cache"}),
		TTLSeconds: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_ttl_seconds",
			Help:      "Configured TTL in seconds for a cache.",
		}, []string{"cache"}),
	}
	reg.MustRegister(m.LastUpdatedTimestamp, m.ItemsTotal, m.TTLSeconds)
	return m
}
