package worker

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the counters/gauges the worker pool exports, following the
// naming convention of orbas1-Synnergy's prometheus wiring in its consensus
// and networking packages.
type Metrics struct {
	JobsPopped    *prometheus.CounterVec
	JobsCompleted *prometheus.CounterVec
	JobsFailed    *prometheus.CounterVec
	QueueDepth    *prometheus.GaugeVec
}

// NewMetrics registers and returns a fresh Metrics set on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		JobsPopped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cityrollup",
			Subsystem: "worker",
			Name:      "jobs_popped_total",
			Help:      "Jobs popped off the queue, by topic.",
		}, []string{"topic"}),
		JobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cityrollup",
			Subsystem: "worker",
			Name:      "jobs_completed_total",
			Help:      "Jobs that produced an output proof, by circuit type.",
		}, []string{"circuit_type"}),
		JobsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cityrollup",
			Subsystem: "worker",
			Name:      "jobs_failed_total",
			Help:      "Jobs whose prove call returned an error, by circuit type.",
		}, []string{"circuit_type"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "cityrollup",
			Subsystem: "worker",
			Name:      "queue_depth",
			Help:      "Current ready-to-run job count, by topic.",
		}, []string{"topic"}),
	}
	reg.MustRegister(m.JobsPopped, m.JobsCompleted, m.JobsFailed, m.QueueDepth)
	return m
}
