package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "geocoder"

// Metrics holds the Prometheus counters, histograms, and gauges for the
// resolver, the Mapbox adapter, and the location pipeline.
type Metrics struct {
	// Resolver metrics.
	LookupAttempts *prometheus.CounterVec // labels: attempt={first,retry}, outcome={resolved,unavailable,transient}
	Retries        prometheus.Counter
	GiveUps        prometheus.Counter
	Deliveries     *prometheus.CounterVec // labels: consumer={display,event}, result={delivered,dropped}
	JobsInFlight   prometheus.Gauge

	// Geocoding capability metrics.
	GeocodeRequests    *prometheus.CounterVec // labels: outcome={success,error,empty}
	GeocodeCache       *prometheus.CounterVec // labels: result={hit,miss}
	GeocodeAPIDuration prometheus.Histogram
	GeocodeEnabled     prometheus.Gauge

	// Pipeline metrics.
	MessagesConsumed prometheus.Counter
	MessagesProduced prometheus.Counter
	ParseErrors      prometheus.Counter
	RecordsAbandoned prometheus.Counter
	PipelineRunning  prometheus.Gauge
	BatchSize        prometheus.Histogram
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		LookupAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lookup_attempts_total",
			Help:      "Geocoding attempts by attempt number and classified outcome.",
		}, []string{"attempt", "outcome"}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lookup_retries_total",
			Help:      "Retry jobs dispatched after a transient first-attempt failure.",
		}),
		GiveUps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lookup_give_ups_total",
			Help:      "Lookups abandoned after a transient failure on the retry attempt.",
		}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Finalized results by consumer kind and whether the consumer was still reachable.",
		}, []string{"consumer", "result"}),
		JobsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_in_flight",
			Help:      "Lookup jobs dispatched but not yet finalized.",
		}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mapbox_requests_total",
			Help:      "Mapbox reverse geocoding requests by outcome.",
		}, []string{"outcome"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mapbox_cache_total",
			Help:      "Geocoding cache lookups by result.",
		}, []string{"result"}),
		GeocodeAPIDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "mapbox_api_duration_seconds",
			Help:      "Mapbox API request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		GeocodeEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mapbox_enabled",
			Help:      "1 when Mapbox geocoding is enabled, 0 otherwise.",
		}),
		MessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_consumed_total",
			Help:      "Total location messages read from the source topic.",
		}),
		MessagesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_produced_total",
			Help:      "Total records written to the sink topic.",
		}),
		ParseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_errors_total",
			Help:      "Source messages skipped because they could not be parsed.",
		}),
		RecordsAbandoned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_abandoned_total",
			Help:      "Records published unresolved after waiting longer than the resolve timeout.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 when the pipeline is active, 0 when shut down.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "publish_batch_size",
			Help:      "Number of records per batch written to the sink topic.",
			Buckets:   []float64{1, 5, 10, 20, 30, 40, 50, 75, 100},
		}),
	}

	prometheus.MustRegister(
		m.LookupAttempts,
		m.Retries,
		m.GiveUps,
		m.Deliveries,
		m.JobsInFlight,
		m.GeocodeRequests,
		m.GeocodeCache,
		m.GeocodeAPIDuration,
		m.GeocodeEnabled,
		m.MessagesConsumed,
		m.MessagesProduced,
		m.ParseErrors,
		m.RecordsAbandoned,
		m.PipelineRunning,
		m.BatchSize,
	)

	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		LookupAttempts:     prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "lookup_attempts_total"}, []string{"attempt", "outcome"}),
		Retries:            prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "lookup_retries_total"}),
		GiveUps:            prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "lookup_give_ups_total"}),
		Deliveries:         prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "deliveries_total"}, []string{"consumer", "result"}),
		JobsInFlight:       prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "jobs_in_flight"}),
		GeocodeRequests:    prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "mapbox_requests_total"}, []string{"outcome"}),
		GeocodeCache:       prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "mapbox_cache_total"}, []string{"result"}),
		GeocodeAPIDuration: prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "mapbox_api_duration_seconds"}),
		GeocodeEnabled:     prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "mapbox_enabled"}),
		MessagesConsumed:   prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "messages_consumed_total"}),
		MessagesProduced:   prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "messages_produced_total"}),
		ParseErrors:        prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "parse_errors_total"}),
		RecordsAbandoned:   prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "records_abandoned_total"}),
		PipelineRunning:    prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "pipeline_running"}),
		BatchSize:          prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "publish_batch_size"}),
	}
}
