// Package metrics exposes selection coordinator activity to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nmfscope/server/internal/coordinator"
	"github.com/nmfscope/server/internal/selection"
)

// Metrics holds the collectors of one server. Each instance owns its own
// registry so tests and multiple servers do not collide.
type Metrics struct {
	registry *prometheus.Registry

	events     *prometheus.CounterVec
	dropped    *prometheus.CounterVec
	broadcasts *prometheus.CounterVec
	renders    *prometheus.CounterVec
	echoes     *prometheus.CounterVec
	unchanged  *prometheus.CounterVec
	datasets   prometheus.Gauge
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nmfscope_selection_events_total",
			Help: "Native selection events received, by result",
		}, []string{"dataset", "view", "result"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nmfscope_selection_dropped_handles_total",
			Help: "Out-of-range handles dropped from proposals",
		}, []string{"dataset", "view"}),
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nmfscope_selection_broadcasts_total",
			Help: "Confirmed selection changes broadcast to views",
		}, []string{"dataset", "origin"}),
		renders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nmfscope_selection_view_renders_total",
			Help: "Render instructions produced by broadcasts",
		}, []string{"dataset", "origin"}),
		echoes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nmfscope_selection_suppressed_echoes_total",
			Help: "Broadcasts that skipped the originating view",
		}, []string{"dataset", "view"}),
		unchanged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nmfscope_selection_unchanged_total",
			Help: "Proposals that left the active set unchanged",
		}, []string{"dataset", "origin"}),
		datasets: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nmfscope_datasets_loaded",
			Help: "Number of datasets with a live session",
		}),
	}

	m.registry.MustRegister(
		m.events,
		m.dropped,
		m.broadcasts,
		m.renders,
		m.echoes,
		m.unchanged,
		m.datasets,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetDatasets records the number of loaded datasets.
func (m *Metrics) SetDatasets(n int) {
	m.datasets.Set(float64(n))
}

// Observer returns a coordinator observer that labels everything with
// dataset.
func (m *Metrics) Observer(dataset string) coordinator.Observer {
	return &observer{m: m, dataset: dataset}
}

type observer struct {
	m       *Metrics
	dataset string
}

func (o *observer) EventIngested(v selection.ViewID) {
	o.m.events.WithLabelValues(o.dataset, v.String(), "accepted").Inc()
}

func (o *observer) EventRejected(v selection.ViewID) {
	o.m.events.WithLabelValues(o.dataset, v.String(), "rejected").Inc()
}

func (o *observer) HandlesDropped(v selection.ViewID, n int) {
	o.m.dropped.WithLabelValues(o.dataset, v.String()).Add(float64(n))
}

func (o *observer) Broadcast(origin selection.ViewID, rendered int) {
	o.m.broadcasts.WithLabelValues(o.dataset, origin.String()).Inc()
	o.m.renders.WithLabelValues(o.dataset, origin.String()).Add(float64(rendered))
}

func (o *observer) EchoSuppressed(v selection.ViewID) {
	o.m.echoes.WithLabelValues(o.dataset, v.String()).Inc()
}

func (o *observer) Unchanged(origin selection.ViewID) {
	o.m.unchanged.WithLabelValues(o.dataset, origin.String()).Inc()
}
