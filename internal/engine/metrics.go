package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coderbot_program_runs_total",
			Help: "Total number of program runs by outcome.",
		},
		[]string{"status"},
	)

	runDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coderbot_program_run_duration_seconds",
			Help:    "Program run duration in seconds, teardown included.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900},
		},
	)

	teardownFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coderbot_teardown_failures_total",
			Help: "Total number of failed teardown steps.",
		},
		[]string{"step"},
	)

	runningPrograms = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coderbot_program_running",
			Help: "Number of programs currently running.",
		},
	)
)

func init() {
	prometheus.MustRegister(runsTotal)
	prometheus.MustRegister(runDuration)
	prometheus.MustRegister(teardownFailures)
	prometheus.MustRegister(runningPrograms)
}
