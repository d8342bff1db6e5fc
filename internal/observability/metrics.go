package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges shared by
// the sync pipeline and the API server.
type Metrics struct {
	FacilitiesFetched  *prometheus.CounterVec // labels: state
	FacilitiesUpserted prometheus.Counter
	FetchErrors        *prometheus.CounterVec // labels: state
	SnapshotRows       prometheus.Counter
	SyncRunning        prometheus.Gauge
	SyncDuration       prometheus.Histogram
	StateSyncDuration  *prometheus.HistogramVec // labels: state

	// Flag gauges, set to the latest per-state counts after each sync.
	RepeatViolators *prometheus.GaugeVec // labels: state
	PenaltyGaps     *prometheus.GaugeVec // labels: state

	// API read path.
	APIRequestDuration *prometheus.HistogramVec // labels: route, status
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.FacilitiesFetched,
		m.FacilitiesUpserted,
		m.FetchErrors,
		m.SnapshotRows,
		m.SyncRunning,
		m.SyncDuration,
		m.StateSyncDuration,
		m.RepeatViolators,
		m.PenaltyGaps,
		m.APIRequestDuration,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		FacilitiesFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "permitwatch",
			Name:      "facilities_fetched_total",
			Help:      "Facility records fetched from upstream sources, by state.",
		}, []string{"state"}),
		FacilitiesUpserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "permitwatch",
			Name:      "facilities_upserted_total",
			Help:      "Facility rows written to Postgres.",
		}),
		FetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "permitwatch",
			Name:      "fetch_errors_total",
			Help:      "Failed state fetches, by state.",
		}, []string{"state"}),
		SnapshotRows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "permitwatch",
			Name:      "snapshot_rows_total",
			Help:      "Rows written to CSV snapshot files.",
		}),
		SyncRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "permitwatch",
			Name:      "sync_running",
			Help:      "1 while a sync run is in progress, 0 otherwise.",
		}),
		SyncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "permitwatch",
			Name:      "sync_duration_seconds",
			Help:      "Duration of a complete all-states sync run.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),
		StateSyncDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "permitwatch",
			Name:      "state_sync_duration_seconds",
			Help:      "Duration of a single state's fetch-transform-load cycle.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"state"}),
		RepeatViolators: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "permitwatch",
			Name:      "repeat_violators",
			Help:      "Facilities flagged as repeat violators in the latest sync, by state.",
		}, []string{"state"}),
		PenaltyGaps: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "permitwatch",
			Name:      "penalty_gaps",
			Help:      "Facilities flagged with a penalty gap in the latest sync, by state.",
		}, []string{"state"}),
		APIRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "permitwatch",
			Name:      "api_request_duration_seconds",
			Help:      "API request duration by route and status code.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"route", "status"}),
	}
}
