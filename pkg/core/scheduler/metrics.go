package scheduler

import "github.com/prometheus/client_golang/prometheus"

// metrics is what the control loop publishes: a gauge of container
// state-set sizes keyed by status, a counter of completed jobs keyed by
// verdict, and a submission-latency histogram.
type metrics struct {
	stateSizes      *prometheus.GaugeVec
	completedTotal  *prometheus.CounterVec
	submitDuration  prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer, session string) *metrics {
	m := &metrics{
		stateSizes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "batchctl_jobs_in_state",
			Help:        "Number of jobs currently in each lifecycle status.",
			ConstLabels: prometheus.Labels{"session": session},
		}, []string{"status"}),
		completedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "batchctl_jobs_completed_total",
			Help:        "Total number of jobs that reached a terminal status.",
			ConstLabels: prometheus.Labels{"session": session},
		}, []string{"verdict"}),
		submitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "batchctl_submit_tick_duration_seconds",
			Help:        "Wall-clock duration of one submit_jobs pass.",
			ConstLabels: prometheus.Labels{"session": session},
			Buckets:     prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.stateSizes, m.completedTotal, m.submitDuration)
	}
	return m
}
