// Package metrics registers the prometheus collectors named in
// SPEC_FULL.md §2.1.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles every collector the scheduler exposes.
type Metrics struct {
	JobsDispatched    prometheus.Counter
	AttemptDuration   prometheus.Histogram
	RetrierTerminated prometheus.Counter
	CleanerBytesFreed prometheus.Counter
	PortPoolInUse     prometheus.Gauge
}

// New constructs and registers all collectors against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		JobsDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scheduler",
			Name:      "jobs_dispatched_total",
			Help:      "Total number of jobs submitted to the workflow runtime.",
		}),
		AttemptDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "scheduler",
			Name:      "attempt_duration_seconds",
			Help:      "Duration of each attempt from submission to terminal status.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		RetrierTerminated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scheduler",
			Name:      "retrier_jobs_terminated_total",
			Help:      "Total number of jobs terminalized by the retrier after exhausting retry budget.",
		}),
		CleanerBytesFreed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scheduler",
			Name:      "cleaner_bytes_freed_total",
			Help:      "Total bytes reclaimed from workspace directories.",
		}),
		PortPoolInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "scheduler",
			Name:      "kube_worker_port_pool_in_use",
			Help:      "Number of worker ports currently checked out.",
		}),
	}
	reg.MustRegister(m.JobsDispatched, m.AttemptDuration, m.RetrierTerminated, m.CleanerBytesFreed, m.PortPoolInUse)
	return m
}
