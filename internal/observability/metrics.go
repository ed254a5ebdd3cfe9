package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

const namespace = "landfall_rainfall"

// Metrics holds the Prometheus counters, histograms, and gauges for the batch.
type Metrics struct {
	EventsProcessed    prometheus.Counter
	EventsSkipped      prometheus.Counter
	EventFailures      *prometheus.CounterVec // labels: kind={service,parse,dataset,canceled,other}
	CheckpointsWritten prometheus.Counter
	PendingEvents      prometheus.Gauge
	RunnerActive       prometheus.Gauge
	EventDuration      prometheus.Histogram
	GridPointsFetched  prometheus.Counter
	PublishErrors      prometheus.Counter

	// Data rods client metrics.
	DataRodsRequests *prometheus.CounterVec // labels: outcome={success,http_error,transport_error}
	DataRodsRetries  prometheus.Counter
	DataRodsDuration prometheus.Histogram
}

// NewMetrics creates and registers all batch metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		EventsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_processed_total",
			Help:      "Events whose rainfall total was computed and checkpointed.",
		}),
		EventsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_skipped_total",
			Help:      "Events skipped because a total was already present.",
		}),
		EventFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_failures_total",
			Help:      "Event aggregations that failed, by error kind.",
		}, []string{"kind"}),
		CheckpointsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoints_written_total",
			Help:      "Dataset checkpoints persisted.",
		}),
		PendingEvents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_events",
			Help:      "Events still waiting for a rainfall total.",
		}),
		RunnerActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runner_active",
			Help:      "1 while the batch runner is working, 0 otherwise.",
		}),
		EventDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_aggregation_duration_seconds",
			Help:      "Time to fetch and sum every grid point of one event.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200},
		}),
		GridPointsFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grid_points_fetched_total",
			Help:      "Grid point series fetched and parsed.",
		}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Event results that could not be published.",
		}),
		DataRodsRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datarods_requests_total",
			Help:      "Data rods HTTP attempts by outcome.",
		}, []string{"outcome"}),
		DataRodsRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datarods_retries_total",
			Help:      "Data rods attempts that failed and were retried.",
		}),
		DataRodsDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "datarods_request_duration_seconds",
			Help:      "Data rods HTTP request duration in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
	}

	prometheus.MustRegister(
		m.EventsProcessed,
		m.EventsSkipped,
		m.EventFailures,
		m.CheckpointsWritten,
		m.PendingEvents,
		m.RunnerActive,
		m.EventDuration,
		m.GridPointsFetched,
		m.PublishErrors,
		m.DataRodsRequests,
		m.DataRodsRetries,
		m.DataRodsDuration,
	)

	return m
}

// NewMetricsForTesting creates Metrics without registering them, so multiple
// tests can each build their own.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		EventsProcessed:    prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "events_processed_total"}),
		EventsSkipped:      prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "events_skipped_total"}),
		EventFailures:      prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "event_failures_total"}, []string{"kind"}),
		CheckpointsWritten: prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "checkpoints_written_total"}),
		PendingEvents:      prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "pending_events"}),
		RunnerActive:       prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "runner_active"}),
		EventDuration:      prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "event_aggregation_duration_seconds"}),
		GridPointsFetched:  prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "grid_points_fetched_total"}),
		PublishErrors:      prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "publish_errors_total"}),
		DataRodsRequests:   prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "datarods_requests_total"}, []string{"outcome"}),
		DataRodsRetries:    prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "datarods_retries_total"}),
		DataRodsDuration:   prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "datarods_request_duration_seconds"}),
	}
}

// ReadValue returns the current value of a counter or gauge, or the sample
// count of a histogram.
func ReadValue(m prometheus.Metric) float64 {
	var out dto.Metric
	if err := m.Write(&out); err != nil {
		return 0
	}
	switch {
	case out.Counter != nil:
		return out.GetCounter().GetValue()
	case out.Gauge != nil:
		return out.GetGauge().GetValue()
	case out.Histogram != nil:
		return float64(out.GetHistogram().GetSampleCount())
	default:
		return 0
	}
}
