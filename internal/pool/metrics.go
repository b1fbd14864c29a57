package pool

import "github.com/prometheus/client_golang/prometheus"

// Metric label values.
const (
	kindClosed = "closed"
	kindOpen   = "open"

	outcomeOK    = "ok"
	outcomeFault = "fault"
)

var (
	idleSlots = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "benchrunner_pool_idle_slots",
			Help: "Idle slots in the most recently updated pool of each kind.",
		},
		[]string{"kind"},
	)

	completionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "benchrunner_pool_completions_total",
			Help: "Total slot operations completed, by pool kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	faultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "benchrunner_pool_faults_total",
			Help: "Total sticky faults recorded, by pool kind.",
		},
		[]string{"kind"},
	)

	acquireWait = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "benchrunner_pool_acquire_wait_seconds",
			Help:    "Time spent blocked in AcquireIdle, in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 12),
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(idleSlots)
	prometheus.MustRegister(completionsTotal)
	prometheus.MustRegister(faultsTotal)
	prometheus.MustRegister(acquireWait)

	for _, kind := range []string{kindClosed, kindOpen} {
		idleSlots.WithLabelValues(kind)
		completionsTotal.WithLabelValues(kind, outcomeOK)
		completionsTotal.WithLabelValues(kind, outcomeFault)
		faultsTotal.WithLabelValues(kind)
		acquireWait.WithLabelValues(kind)
	}
}
