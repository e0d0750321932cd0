package task

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records run counts and durations per task. A nil *Metrics records nothing.
type Metrics struct {
	runs     *prometheus.CounterVec
	active   *prometheus.GaugeVec
	duration *prometheus.HistogramVec
	waiting  *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg when it is not nil
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskrun",
			Name:      "runs_total",
			Help:      "Finished task runs by final state.",
		}, []string{"task", "state"}),
		active: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "taskrun",
			Name:      "active_runs",
			Help:      "Task runs that have started and not yet settled.",
		}, []string{"task"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "taskrun",
			Name:      "run_duration_seconds",
			Help:      "Time from run start to settlement, throttle wait included.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"task"}),
		waiting: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "taskrun",
			Name:      "throttle_waiting",
			Help:      "Runs waiting for throttle admission.",
		}, []string{"task"}),
	}
	if reg != nil {
		reg.MustRegister(m.runs, m.active, m.duration, m.waiting)
	}
	return m
}

func (m *Metrics) runStarted(task string) {
	if m == nil {
		return
	}
	m.active.WithLabelValues(task).Inc()
}

func (m *Metrics) runFinished(task string, state State, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.active.WithLabelValues(task).Dec()
	m.runs.WithLabelValues(task, string(state)).Inc()
	m.duration.WithLabelValues(task).Observe(elapsed.Seconds())
}

func (m *Metrics) throttleWait(task string, delta float64) {
	if m == nil {
		return
	}
	m.waiting.WithLabelValues(task).Add(delta)
}
