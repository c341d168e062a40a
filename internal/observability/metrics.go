package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "dwd_ingest"

// Metrics holds the Prometheus counters, histograms, and gauges for the ingest pipeline.
type Metrics struct {
	InputsProcessed *prometheus.CounterVec // labels: decoder
	InputsFailed    *prometheus.CounterVec // labels: decoder
	RecordsDecoded  *prometheus.CounterVec // labels: decoder
	RecordsSkipped  *prometheus.CounterVec // labels: decoder, reason
	RecordsLoaded   prometheus.Counter
	LoadErrors      prometheus.Counter
	PipelineRunning prometheus.Gauge
	StationsLoaded  prometheus.Gauge

	BatchSize      prometheus.Histogram
	DecodeDuration *prometheus.HistogramVec // labels: decoder

	// Retrieval metrics.
	FetchRequests *prometheus.CounterVec // labels: outcome={success,error,circuit_open}
	FetchCache    *prometheus.CounterVec // labels: result={hit,miss,expired}
	FetchDuration prometheus.Histogram
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics without registering them to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		InputsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inputs_processed_total",
			Help:      "Input files decoded to completion, by decoder.",
		}, []string{"decoder"}),
		InputsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inputs_failed_total",
			Help:      "Input files that could not be decoded or loaded, by decoder.",
		}, []string{"decoder"}),
		RecordsDecoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_decoded_total",
			Help:      "Records produced by each decoder.",
		}, []string{"decoder"}),
		RecordsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_skipped_total",
			Help:      "Units of input skipped by a decoder, by reason.",
		}, []string{"decoder", "reason"}),
		RecordsLoaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_loaded_total",
			Help:      "Total records written to the sink.",
		}),
		LoadErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "load_errors_total",
			Help:      "Total failed sink writes, including retried ones.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 while a pipeline run is active, 0 otherwise.",
		}),
		StationsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stations_loaded",
			Help:      "Number of DWD stations with a known WMO id.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Number of records per sink batch.",
			Buckets:   []float64{1, 10, 50, 100, 250, 500, 1000},
		}),
		DecodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "decode_duration_seconds",
			Help:      "Duration of decoding and loading one input file.",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300},
		}, []string{"decoder"}),
		FetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_requests_total",
			Help:      "Remote retrievals by outcome.",
		}, []string{"outcome"}),
		FetchCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_cache_total",
			Help:      "Retrieval cache lookups by result.",
		}, []string{"result"}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Duration of one remote retrieval, retries included.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.InputsProcessed,
		m.InputsFailed,
		m.RecordsDecoded,
		m.RecordsSkipped,
		m.RecordsLoaded,
		m.LoadErrors,
		m.PipelineRunning,
		m.StationsLoaded,
		m.BatchSize,
		m.DecodeDuration,
		m.FetchRequests,
		m.FetchCache,
		m.FetchDuration,
	}
}

// RecordSkip counts one unit skipped by a decoder. Its signature matches
// decoder.Options.OnSkip.
func (m *Metrics) RecordSkip(decoder, reason string) {
	m.RecordsSkipped.WithLabelValues(decoder, reason).Inc()
}
