package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters and histograms for the ingest and
// refresh paths.
type Metrics struct {
	ReadingsInserted  prometheus.Counter
	DuplicatesIgnored prometheus.Counter
	MalformedDropped  prometheus.Counter
	GaugesSeeded      prometheus.Gauge

	FetchFailures   *prometheus.CounterVec // label: source
	RefreshDuration prometheus.Histogram
}

// NewMetrics creates and registers all engine metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		ReadingsInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flowmark",
			Name:      "readings_inserted_total",
			Help:      "Total reading rows inserted into the store.",
		}),
		DuplicatesIgnored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flowmark",
			Name:      "readings_duplicates_ignored_total",
			Help:      "Total reading rows skipped by the idempotent insert.",
		}),
		MalformedDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flowmark",
			Name:      "records_malformed_dropped_total",
			Help:      "Total provider records dropped during normalization.",
		}),
		GaugesSeeded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "flowmark",
			Name:      "gauges_seeded",
			Help:      "Number of gauge rows created by the one-time seed.",
		}),
		FetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowmark",
			Name:      "fetch_failures_total",
			Help:      "Total provider fetch failures.",
		}, []string{"source"}),
		RefreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "flowmark",
			Name:      "refresh_duration_seconds",
			Help:      "Wall time of a single gauge refresh cycle.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	prometheus.MustRegister(
		m.ReadingsInserted,
		m.DuplicatesIgnored,
		m.MalformedDropped,
		m.GaugesSeeded,
		m.FetchFailures,
		m.RefreshDuration,
	)
	return m
}

// NewNopMetrics creates unregistered metrics for tests.
func NewNopMetrics() *Metrics {
	return &Metrics{
		ReadingsInserted: prometheus.NewCounter(prometheus.CounterOpts{Name: "test_readings_inserted_total"}),
		DuplicatesIgnored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "test_readings_duplicates_ignored_total",
		}),
		MalformedDropped: prometheus.NewCounter(prometheus.CounterOpts{Name: "test_records_malformed_dropped_total"}),
		GaugesSeeded:     prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_gauges_seeded"}),
		FetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "test_fetch_failures_total",
		}, []string{"source"}),
		RefreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{Name: "test_refresh_duration_seconds"}),
	}
}
