package metrics

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/datatrails/go-datatrails-ledger/environment"
)

const (
	namespace = "ledger"
)

// TransactionsCounterMetric counts optimistic transaction runs by name and
// outcome.
func TransactionsCounterMetric() *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_total",
			Help:      "Total number of transaction runs by name and outcome.",
		},
		[]string{"name", "outcome"},
	)
}

// TransactionAttemptsMetric shows how often runs had to retry after a watch
// conflict. One attempt is the uncontended case.
func TransactionAttemptsMetric() *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transaction_attempts",
			Help:      "Histogram of WATCH/EXEC attempts per transaction run.",
			Buckets:   []float64{0, 1, 2, 4, 8, 16, 32, 64},
		},
		[]string{"name"},
	)
}

// TransactionLatencyMetric measures a run from the first WATCH to its
// outcome. bucket limits are in seconds...
func TransactionLatencyMetric() *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transaction_latency",
			Help:      "Histogram of time to reach a transaction outcome.",
			Buckets:   []float64{.001, .0025, .005, .01, .02, .04, .08, .16, .32, 1, 5, 10},
		},
		[]string{"name"},
	)
}

func CounterEvictedMetric() *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "counter_evicted_total",
			Help:      "Total number of counter buckets evicted by precision.",
		},
		[]string{"precision"},
	)
}

func CounterRegistryRemovedMetric() prometheus.Counter {
	return prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "counter_registry_removed_total",
			Help:      "Total number of emptied counter tiers removed from the registry.",
		},
	)
}

func JanitorPassDurationMetric() prometheus.Histogram {
	return prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "janitor_pass_duration",
			Help:      "Histogram of time to sweep the counter registry once.",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 15, 30, 60},
		},
	)
}

// Metrics. Only those metrics specified
// are returned. The GoCollector and ProcessCollector metrics are omitted by
// using our own registry.
type Metrics struct {
	serviceName string
	port        string
	registry    *prometheus.Registry
	log         Logger
}

func New(log Logger, serviceName string) *Metrics {
	return &Metrics{
		log:         log,
		serviceName: strings.ToLower(serviceName),
		registry:    prometheus.NewRegistry(),
	}
}

// NewFromEnvironment returns nil unless USE_METRICS is truthy, in which case
// METRICS_PORT is required.
func NewFromEnvironment(log Logger, serviceName string) *Metrics {
	useMetrics := environment.GetTruthyOrFatal("USE_METRICS")
	var port string
	if useMetrics {
		port = environment.GetOrFatal("METRICS_PORT")
	}
	var m *Metrics
	if port != "" {
		m = New(log, serviceName)
		m.port = port
	}
	return m
}

func (m *Metrics) String() string {
	return m.serviceName
}

func (m *Metrics) Register(cs ...prometheus.Collector) {
	m.registry.MustRegister(cs...)
}

func (m *Metrics) Port() string {
	if m != nil {
		return m.port
	}
	return ""
}

// NewPromHandler - this handler is used on the endpoint that serves metrics endpoint
// which is provided on a different port to the service.
// The default InstrumentMetricHandler is suppressed.
func (m *Metrics) NewPromHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
