package scheduler

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the maintenance job.
type Metrics struct {
	Runs             prometheus.Counter
	Failures         prometheus.Counter
	SessionsPaused   prometheus.Counter
	SessionsArchived prometheus.Counter
	TickDuration     prometheus.Histogram
}

// NewMetrics registers the job metrics on reg. Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}
	opts := func(name, help string) prometheus.CounterOpts {
		return prometheus.CounterOpts{Namespace: "ideaflow", Subsystem: "maintenance", Name: name, Help: help}
	}
	m := &Metrics{
		Runs:             prometheus.NewCounter(opts("runs_total", "Maintenance passes started.")),
		Failures:         prometheus.NewCounter(opts("failures_total", "Maintenance passes that stopped on an error.")),
		SessionsPaused:   prometheus.NewCounter(opts("sessions_paused_total", "Idle active sessions paused.")),
		SessionsArchived: prometheus.NewCounter(opts("sessions_archived_total", "Completed sessions archived.")),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ideaflow",
			Subsystem: "maintenance",
			Name:      "run_duration_seconds",
			Help:      "Duration of each maintenance pass.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}),
	}
	reg.MustRegister(m.Runs, m.Failures, m.SessionsPaused, m.SessionsArchived, m.TickDuration)
	return m
}
