package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rcourtman/shellgate/internal/classify"
)

// promMirror mirrors the registry's counters onto Prometheus metrics for
// the operator sidecar's /metrics endpoint.
type promMirror struct {
	commandsTotal        *prometheus.CounterVec
	blockedTotal         prometheus.Counter
	truncatedTotal       prometheus.Counter
	timeoutsTotal        prometheus.Counter
	confirmationRequired prometheus.Counter
	durationSeconds      prometheus.Histogram
}

// EnablePrometheus registers the mirror's collectors on reg and starts
// mirroring subsequent records. Call once at startup.
func (r *Registry) EnablePrometheus(reg prometheus.Registerer) error {
	m := &promMirror{
		commandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shellgate_commands_total",
				Help: "Commands handled, by classification level",
			},
			[]string{"level"},
		),
		blockedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shellgate_blocked_total",
			Help: "Commands refused by policy",
		}),
		truncatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shellgate_truncated_total",
			Help: "Executions whose output was truncated",
		}),
		timeoutsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shellgate_timeouts_total",
			Help: "Executions terminated by timeout",
		}),
		confirmationRequired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shellgate_confirmation_required_total",
			Help: "Attempts refused for lack of the confirmation flag",
		}),
		durationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "shellgate_command_duration_seconds",
			Help:    "Wall-clock duration of completed executions",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300, 1800},
		}),
	}

	collectors := []prometheus.Collector{
		m.commandsTotal, m.blockedTotal, m.truncatedTotal,
		m.timeoutsTotal, m.confirmationRequired, m.durationSeconds,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	// Pre-create the level series so dashboards see zeros, not gaps.
	for _, level := range classify.Levels {
		m.commandsTotal.WithLabelValues(string(level))
	}

	r.mu.Lock()
	r.prom = m
	r.mu.Unlock()
	return nil
}

func (m *promMirror) observe(rec Record) {
	m.commandsTotal.WithLabelValues(string(rec.Level)).Inc()
	if rec.Blocked {
		m.blockedTotal.Inc()
	}
	if rec.Truncated {
		m.truncatedTotal.Inc()
	}
	if rec.TimedOut {
		m.timeoutsTotal.Inc()
	}
	if rec.DurationMs > 0 {
		m.durationSeconds.Observe(float64(rec.DurationMs) / 1000)
	}
}
