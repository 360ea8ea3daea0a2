package runner

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/parcelforge/conveyor/queue"
)

// Metrics is the runner's Prometheus surface: dispatch throughput,
// outcome counts, handler latency, and a per-worker status gauge.
type Metrics struct {
	dispatched   prometheus.Counter
	outcomes     *prometheus.CounterVec
	latency      prometheus.Histogram
	workerStatus *prometheus.GaugeVec
}

// NewMetrics builds and registers the runner metrics. A nil registerer
// uses the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		dispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "conveyor_invocations_dispatched_total",
			Help: "Total number of invocations dispatched to handlers",
		}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conveyor_invocations_committed_total",
			Help: "Total number of terminal invocation commits by result",
		}, []string{"result"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "conveyor_invocation_duration_seconds",
			Help:    "Handler execution time in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		workerStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "conveyor_worker_status",
			Help: "Worker loop status; 1 for the current state, 0 otherwise",
		}, []string{"worker", "status"}),
	}

	reg.MustRegister(m.dispatched, m.outcomes, m.latency, m.workerStatus)
	return m
}

// RecordDispatch counts one handler execution.
func (m *Metrics) RecordDispatch(seconds float64) {
	if m == nil {
		return
	}
	m.dispatched.Inc()
	m.latency.Observe(seconds)
}

// RecordCommit counts one committed terminal result.
func (m *Metrics) RecordCommit(result queue.Result) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(string(result)).Inc()
}

var statusValues = []Status{StatusWorking, StatusDequeuing, StatusDispatching, StatusSleeping, StatusStopping, StatusError}

// SetWorkerStatus flips the status gauge for a worker.
func (m *Metrics) SetWorkerStatus(workerID string, status Status) {
	if m == nil {
		return
	}
	for _, s := range statusValues {
		value := 0.0
		if s == status {
			value = 1.0
		}
		m.workerStatus.WithLabelValues(workerID, string(s)).Set(value)
	}
}
