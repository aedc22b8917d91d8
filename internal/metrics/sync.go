package metrics

import "github.com/prometheus/client_golang/prometheus"

// SyncMetrics carries the sync engine's counters, histograms, and gauges
// (spec §6 "Emitted telemetry").
type SyncMetrics struct {
	OperationsTotal  *prometheus.CounterVec
	RecordsProcessed *prometheus.CounterVec
	ChangesTotal     *prometheus.CounterVec
	ErrorsTotal      *prometheus.CounterVec

	Duration *prometheus.HistogramVec

	InProgress         prometheus.Gauge
	LastSyncTimestamp  prometheus.Gauge
}

func newSyncMetrics(reg *prometheus.Registry) *SyncMetrics {
	m := &SyncMetrics{
		OperationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_operations_total",
			Help:      "Total sync operations by operation kind and terminal status.",
		}, []string{"operation", "status"}),
		RecordsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_processed_total",
			Help:      "Total entities processed by sync type.",
		}, []string{"sync_type"}),
		ChangesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "changes_total",
			Help:      "Total change events by entity type, operation, and status.",
		}, []string{"entity_type", "operation", "status"}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total errors by taxonomy code, entity type, and source.",
		}, []string{"error_type", "entity_type", "source"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Duration of sync operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		InProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_in_progress",
			Help:      "1 if any sync session is currently running.",
		}),
		LastSyncTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_sync_timestamp_seconds",
			Help:      "Unix timestamp of the last completed sync session.",
		}),
	}

	reg.MustRegister(
		m.OperationsTotal, m.RecordsProcessed, m.ChangesTotal, m.ErrorsTotal,
		m.Duration, m.InProgress, m.LastSyncTimestamp,
	)
	return m
}
