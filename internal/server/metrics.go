package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the minimization service.
type Metrics struct {
	// Runs counts finished runs by solver method and terminal verdict.
	Runs *prometheus.CounterVec
	// Duration observes wall-clock run time in seconds.
	Duration prometheus.Histogram
	// Running gauges the number of jobs currently executing.
	Running prometheus.Gauge
}

// NewMetrics registers the service metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qnewt",
			Name:      "runs_total",
			Help:      "Finished minimization runs by method and verdict.",
		}, []string{"method", "verdict"}),
		Duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "qnewt",
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of minimization runs.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		Running: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "qnewt",
			Name:      "jobs_running",
			Help:      "Number of minimization jobs currently executing.",
		}),
	}
}
