package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the performance-counter hooks c1_io.c keeps in its
// perfc_set (PERFC_LT_C1_IOQUE, PERFC_LT_C1_IOTOT, PERFC_LT_C1_IOPRO,
// PERFC_BA_C1_IOERR, PERFC_RA_C1_IOQUE, PERFC_RA_C1_TXBEG/TXCOM/TXABT),
// expressed as Prometheus collectors. A Metrics value is always usable;
// registering it with a Prometheus registry is optional.
type Metrics struct {
	QueueLatency   prometheus.Histogram // time a work item sits on a worker's FIFO
	TotalLatency   prometheus.Histogram // enqueue to completion
	ProcessLatency prometheus.Histogram // dequeue to completion

	Enqueued   prometheus.Counter // items handed to a worker
	IOErrors   prometheus.Counter // errors latched by workers (tree write and iterator failures)
	Overflows  prometheus.Counter // free-pool misses serviced by allocation

	TxnBegins  prometheus.Counter
	TxnCommits prometheus.Counter
	TxnAborts  prometheus.Counter
}

// NewMetrics constructs a Metrics value labeled by mpoolName. Pass the
// result to a prometheus.Registerer via Register, or ignore registration
// entirely for tests.
func NewMetrics(mpoolName string) *Metrics {
	labels := prometheus.Labels{"mpool": mpoolName}
	factory := promauto.With(nil)

	return &Metrics{
		QueueLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "kvingest",
			Name:        "queue_latency_seconds",
			Help:        "Time a work item spends on a worker FIFO before being dequeued.",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
		TotalLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "kvingest",
			Name:        "total_latency_seconds",
			Help:        "Time from enqueue to completed write.",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
		ProcessLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "kvingest",
			Name:        "process_latency_seconds",
			Help:        "Time from dequeue to completed write.",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
		Enqueued: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "kvingest",
			Name:        "items_enqueued_total",
			Help:        "Work items handed off to a worker.",
			ConstLabels: labels,
		}),
		IOErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "kvingest",
			Name:        "io_errors_total",
			Help:        "Tree write or iterator failures latched by workers.",
			ConstLabels: labels,
		}),
		Overflows: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "kvingest",
			Name:        "pool_overflow_total",
			Help:        "Work item reservations that missed the preallocated pool.",
			ConstLabels: labels,
		}),
		TxnBegins: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "kvingest",
			Name:        "txn_begin_total",
			Help:        "Transaction begin records issued.",
			ConstLabels: labels,
		}),
		TxnCommits: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "kvingest",
			Name:        "txn_commit_total",
			Help:        "Transaction commit records issued.",
			ConstLabels: labels,
		}),
		TxnAborts: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "kvingest",
			Name:        "txn_abort_total",
			Help:        "Transaction abort records issued.",
			ConstLabels: labels,
		}),
	}
}

// Register adds every collector in m to reg.
func (m *Metrics) Register(reg prometheus.Registerer) {
	reg.MustRegister(
		m.QueueLatency, m.TotalLatency, m.ProcessLatency,
		m.Enqueued, m.IOErrors, m.Overflows,
		m.TxnBegins, m.TxnCommits, m.TxnAborts,
	)
}
