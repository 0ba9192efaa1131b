// Package metrics exposes pipeline, buffer pool and idle state metrics in
// Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tjfontaine/reqpipe/internal/bufpool"
	"github.com/tjfontaine/reqpipe/internal/core/domain"
	"github.com/tjfontaine/reqpipe/internal/idle"
	"github.com/tjfontaine/reqpipe/internal/pipeline"
)

const namespace = "reqpipe"

// Metrics holds the collectors of one host. Each host owns its registry so
// tests can build several hosts in one process.
type Metrics struct {
	registry *prometheus.Registry
	factory  promauto.Factory

	RequestsTotal   *prometheus.CounterVec
	RequestDuration prometheus.Histogram
	PhaseDuration   *prometheus.HistogramVec
	RequestsActive  prometheus.Gauge
}

var _ pipeline.Observer = (*Metrics)(nil)

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		factory:  f,

		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Requests completed by the pipeline, by outcome and failing stage.",
			},
			[]string{"outcome", "failed_stage"},
		),
		RequestDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Time from BeginRequest to the final SendResponse.",
				Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
		),
		PhaseDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Time spent in each stage phase, including suspension.",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
			},
			[]string{"stage"},
		),
		RequestsActive: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "requests_active",
				Help:      "Requests currently executing.",
			},
		),
	}
}

// Registry returns the registry backing the collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// PhaseCompleted implements pipeline.Observer.
func (m *Metrics) PhaseCompleted(stage domain.Stage, post bool, d time.Duration) {
	name := stage.String()
	if post {
		name = "Post" + name
	}
	m.PhaseDuration.WithLabelValues(name).Observe(d.Seconds())
}

// RequestCompleted implements pipeline.Observer.
func (m *Metrics) RequestCompleted(res pipeline.Result, d time.Duration) {
	outcome, stage := "ok", ""
	if f := res.Failure(); f != nil {
		outcome = "error"
		stage = f.Stage.String()
		if f.Post {
			stage = "Post" + stage
		}
	}
	m.RequestsTotal.WithLabelValues(outcome, stage).Inc()
	m.RequestDuration.Observe(d.Seconds())
}

// RegisterPools exports the counters of every pool in set.
func (m *Metrics) RegisterPools(set *bufpool.Set) {
	for _, s := range set.Stats() {
		name := s.Name
		stats := func() bufpool.Stats { return poolStats(set, name) }
		labels := prometheus.Labels{"pool": name}

		m.factory.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bufpool", Name: "hits_total",
			Help: "Acquires served from the free list.", ConstLabels: labels,
		}, func() float64 { return float64(stats().Hits) })
		m.factory.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bufpool", Name: "misses_total",
			Help: "Acquires that allocated a fresh buffer.", ConstLabels: labels,
		}, func() float64 { return float64(stats().Misses) })
		m.factory.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bufpool", Name: "drops_total",
			Help: "Releases discarded because the pool was full.", ConstLabels: labels,
		}, func() float64 { return float64(stats().Drops) })
		m.factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "bufpool", Name: "held",
			Help: "Buffers currently retained.", ConstLabels: labels,
		}, func() float64 { return float64(stats().Held) })
		m.factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "bufpool", Name: "ceiling",
			Help: "Maximum number of retained buffers.", ConstLabels: labels,
		}, func() float64 { return float64(stats().Ceiling) })
	}
}

func poolStats(set *bufpool.Set, name string) bufpool.Stats {
	for _, s := range set.Stats() {
		if s.Name == name {
			return s
		}
	}
	return bufpool.Stats{Name: name}
}

// RegisterIdle exports the idle supervisor state.
func (m *Metrics) RegisterIdle(sup *idle.Supervisor, now func() time.Time) {
	m.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "idle", Name: "outstanding_requests",
		Help: "Requests counted by the idle supervisor.",
	}, func() float64 { return float64(sup.Snapshot().Outstanding) })
	m.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "idle", Name: "seconds_since_activity",
		Help: "Seconds since the last request started or finished.",
	}, func() float64 { return now().Sub(sup.Snapshot().LastEvent).Seconds() })
}

// RegisterGauge exports an arbitrary value, such as the application pool
// size.
func (m *Metrics) RegisterGauge(name, help string, fn func() float64) {
	m.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn)
}
