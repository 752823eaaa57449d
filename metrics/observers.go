package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	kv "github.com/datatrails/go-datatrails-ledger/redis"
)

// TransactionObservers records redis.Runner outcomes. Pass it to
// redis.WithObserver.
type TransactionObservers struct {
	transactions *prometheus.CounterVec
	attempts     *prometheus.HistogramVec
	latency      *prometheus.HistogramVec
	log          Logger
}

func NewTransactionObservers(m *Metrics) *TransactionObservers {
	o := TransactionObservers{
		log:          m.log,
		transactions: TransactionsCounterMetric(),
		attempts:     TransactionAttemptsMetric(),
		latency:      TransactionLatencyMetric(),
	}
	m.Register(o.transactions, o.attempts, o.latency)
	return &o
}

func (o *TransactionObservers) ObserveTransaction(name string, outcome kv.Outcome, attempts int, elapsed time.Duration) {
	o.transactions.WithLabelValues(name, outcome.String()).Inc()
	o.attempts.WithLabelValues(name).Observe(float64(attempts))
	o.latency.WithLabelValues(name).Observe(elapsed.Seconds())
}

// JanitorObservers records counter janitor passes. Pass it to
// counters.WithJanitorObserver.
type JanitorObservers struct {
	evicted      *prometheus.CounterVec
	removed      prometheus.Counter
	passDuration prometheus.Histogram
	log          Logger
}

func NewJanitorObservers(m *Metrics) *JanitorObservers {
	o := JanitorObservers{
		log:          m.log,
		evicted:      CounterEvictedMetric(),
		removed:      CounterRegistryRemovedMetric(),
		passDuration: JanitorPassDurationMetric(),
	}
	m.Register(o.evicted, o.removed, o.passDuration)
	return &o
}

func (o *JanitorObservers) ObserveEvicted(precision time.Duration, buckets int) {
	o.evicted.WithLabelValues(strconv.FormatInt(int64(precision/time.Second), 10)).Add(float64(buckets))
}

func (o *JanitorObservers) ObserveRegistryRemoved() {
	o.removed.Inc()
}

func (o *JanitorObservers) ObservePass(elapsed time.Duration) {
	o.log.Debugf("janitor pass %v", elapsed)
	o.passDuration.Observe(elapsed.Seconds())
}
