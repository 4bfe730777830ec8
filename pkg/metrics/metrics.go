// Package metrics exposes Prometheus instrumentation for the storage
// substrate, the transaction manager, the gates, and the cache/KV
// engines, served over the standard promhttp handler.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cache metrics
	CacheRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "miniflare_cache_requests_total",
			Help: "Total cache match/put/delete operations by namespace and result",
		},
		[]string{"namespace", "op", "result"},
	)

	CacheEntriesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "miniflare_cache_entries_total",
			Help: "Current number of cache entries by namespace",
		},
		[]string{"namespace"},
	)

	// KV metrics
	KVRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "miniflare_kv_requests_total",
			Help: "Total KV namespace operations by namespace, op, and result",
		},
		[]string{"namespace", "op", "result"},
	)

	// Storage substrate metrics
	StorageOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "miniflare_storage_operation_duration_seconds",
			Help:    "Storage operator call latency by operation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// Transaction manager metrics
	TransactionRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "miniflare_transaction_retries_total",
			Help: "Total optimistic-concurrency retries by the transaction manager",
		},
		[]string{"reason"},
	)

	TransactionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "miniflare_transaction_duration_seconds",
			Help:    "End-to-end run_transaction duration, including retries",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Gate metrics
	GateWaitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "miniflare_gate_wait_duration_seconds",
			Help:    "Time a waiter spent queued behind an input or output gate",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"gate"},
	)

	// Request context metrics
	SubrequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "miniflare_subrequests_total",
			Help: "Total subrequests counted against a RequestContext, by kind",
		},
		[]string{"kind"},
	)

	SubrequestLimitExceededTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "miniflare_subrequest_limit_exceeded_total",
			Help: "Total binding calls rejected for exceeding the external subrequest limit",
		},
	)

	// Sweeper metrics
	SweepCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "miniflare_sweep_cycles_total",
			Help: "Total background expiration-sweep cycles run",
		},
	)

	SweepEvictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "miniflare_sweep_evictions_total",
			Help: "Total entries proactively evicted by the background expiration sweeper",
		},
	)

	SweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "miniflare_sweep_duration_seconds",
			Help:    "Duration of one background expiration-sweep cycle",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		CacheRequestsTotal,
		CacheEntriesTotal,
		KVRequestsTotal,
		StorageOperationDuration,
		TransactionRetriesTotal,
		TransactionDuration,
		GateWaitDuration,
		SubrequestsTotal,
		SubrequestLimitExceededTotal,
		SweepCyclesTotal,
		SweepEvictionsTotal,
		SweepDuration,
	)
}

// Handler returns the HTTP handler serving the Prometheus exposition
// format, the way the teacher serves cluster metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a small helper for timing an operation and observing its
// duration against a histogram when it completes.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time against histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Observer) {
	histogram.Observe(t.Duration().Seconds())
}

// ObserveDurationVec records the elapsed time against a label
// combination of a HistogramVec.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(t.Duration().Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
