package sim

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/seantiz/benchrunner/internal/model"
)

// Metric label values for operation outcome.
const (
	outcomeOK     = "ok"
	outcomeFailed = "failed"
)

var (
	operationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "benchrunner_sim_operation_seconds",
			Help:    "Duration of one simulated inference operation, in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
	)

	busyStreams = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "benchrunner_sim_busy_streams",
			Help: "Number of simulated execution streams currently running an operation.",
		},
	)

	operationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "benchrunner_sim_operations_total",
			Help: "Total number of simulated inference operations by outcome.",
		},
		[]string{"workload", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(operationDuration)
	prometheus.MustRegister(busyStreams)
	prometheus.MustRegister(operationsTotal)

	for _, w := range model.Workloads() {
		operationsTotal.WithLabelValues(w.Name, outcomeOK)
		operationsTotal.WithLabelValues(w.Name, outcomeFailed)
	}
}
