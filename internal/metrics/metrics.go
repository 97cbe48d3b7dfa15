// Package metrics exposes relay counters to Prometheus. A nil *Metrics is
// valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chatrelay"

type Metrics struct {
	streams       *prometheus.CounterVec
	active        prometheus.Gauge
	frames        *prometheus.CounterVec
	sideEffects   *prometheus.CounterVec
	firstFragment prometheus.Histogram
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		streams: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_total",
			Help:      "Relayed chat streams by terminal outcome.",
		}, []string{"outcome"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "streams_active",
			Help:      "Chat streams currently in flight.",
		}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Event frames written to clients by event type.",
		}, []string{"event"}),
		sideEffects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "side_effects_total",
			Help:      "Best-effort side effects by kind and result.",
		}, []string{"kind", "result"}),
		firstFragment: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "first_fragment_seconds",
			Help:      "Time from request receipt to the first generated fragment.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),
	}

	if reg != nil {
		reg.MustRegister(m.streams, m.active, m.frames, m.sideEffects, m.firstFragment)
	}
	return m
}

func (m *Metrics) StreamStarted() {
	if m == nil {
		return
	}
	m.active.Inc()
}

func (m *Metrics) StreamFinished(outcome string) {
	if m == nil {
		return
	}
	m.active.Dec()
	m.streams.WithLabelValues(outcome).Inc()
}

func (m *Metrics) FrameSent(event string) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(event).Inc()
}

func (m *Metrics) SideEffect(kind string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "failed"
	}
	m.sideEffects.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) FirstFragment(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.firstFragment.Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
