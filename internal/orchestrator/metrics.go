package orchestrator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports per-handler and per-phase durations via
// prometheus/client_golang (§4.4 Timing: "Per-handler and per-phase
// durations are reported to diagnostics for observability"). Registered
// against a caller-supplied registry so cmd/speccompiler can choose whether
// to expose them over promhttp.
type Metrics struct {
	handlerDuration *prometheus.HistogramVec
	phaseDuration   *prometheus.HistogramVec
}

// NewMetrics creates and registers the orchestrator's collectors against
// reg. Pass prometheus.NewRegistry() for an isolated registry, or
// prometheus.DefaultRegisterer to expose alongside other process metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		handlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "speccompiler",
			Subsystem: "orchestrator",
			Name:      "handler_duration_seconds",
			Help:      "Duration of a single phase-handler invocation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"phase", "handler"}),
		phaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "speccompiler",
			Subsystem: "orchestrator",
			Name:      "phase_duration_seconds",
			Help:      "Duration of one full pipeline phase.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"phase"}),
	}
	reg.MustRegister(m.handlerDuration, m.phaseDuration)
	return m
}

func (m *Metrics) ObserveHandler(phase, handler string, d time.Duration) {
	if m == nil {
		return
	}
	m.handlerDuration.WithLabelValues(phase, handler).Observe(d.Seconds())
}

func (m *Metrics) ObservePhase(phase string, d time.Duration) {
	if m == nil {
		return
	}
	m.phaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}
