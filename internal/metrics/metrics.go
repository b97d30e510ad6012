// Package metrics exposes replay progress as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/pacer/internal/emitter"
)

const prefix = "pacer_"

var allStates = []emitter.State{
	emitter.StateNew,
	emitter.StateOpen,
	emitter.StateRunning,
	emitter.StateExhausted,
	emitter.StateCancelled,
	emitter.StateFailed,
}

// Metrics implements emitter.Observer on top of Prometheus collectors.
type Metrics struct {
	registry prometheus.Gatherer

	emitted       prometheus.Counter
	discarded     prometheus.Counter
	wait          prometheus.Histogram
	lastEventTime prometheus.Gauge
	state         *prometheus.GaugeVec
}

// New creates the collectors and registers them with a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := newMetrics(reg)
	m.registry = reg
	return m
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		emitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "records_emitted_total",
			Help: "Number of records handed to the sink",
		}),
		discarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "records_discarded_total",
			Help: "Number of records discarded for being older than the last emitted one",
		}),
		wait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    prefix + "pacing_wait_seconds",
			Help:    "Pacing delay applied before each emission",
			Buckets: []float64{0, 0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 3600},
		}),
		lastEventTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: prefix + "last_event_time_seconds",
			Help: "Event time of the most recently emitted record, as Unix seconds",
		}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: prefix + "state",
			Help: "Current emitter lifecycle state (1 for the active state)",
		}, []string{"state"}),
	}
	reg.MustRegister(m.emitted, m.discarded, m.wait, m.lastEventTime, m.state)
	m.RecordState(emitter.StateNew)
	return m
}

// RecordEmitted implements emitter.Observer.
func (m *Metrics) RecordEmitted(eventTime time.Time, wait time.Duration) {
	m.emitted.Inc()
	m.wait.Observe(wait.Seconds())
	m.lastEventTime.Set(float64(eventTime.UnixMilli()) / 1000)
}

// RecordDiscarded implements emitter.Observer.
func (m *Metrics) RecordDiscarded(time.Time) {
	m.discarded.Inc()
}

// RecordState implements emitter.Observer.
func (m *Metrics) RecordState(state emitter.State) {
	for _, s := range allStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.state.WithLabelValues(s.String()).Set(v)
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
