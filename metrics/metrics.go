// Package metrics provides Prometheus collectors for the ingestion pipeline.
//
// All recording methods are safe on a nil *Metrics, so components can take
// an optional collector without guarding every call.
package metrics

import (
	"net/http"
	"time"

	"github.com/poiesic/docket/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for docket
type Metrics struct {
	registry *prometheus.Registry

	// Document metrics
	PhaseDuration  *prometheus.HistogramVec
	DocumentsTotal *prometheus.CounterVec

	// Task metrics
	TasksTotal   *prometheus.CounterVec
	RetriesTotal *prometheus.CounterVec

	// Cache metrics
	CacheLookupsTotal *prometheus.CounterVec
}

// New creates the collectors and registers them on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		PhaseDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docket_document_phase_seconds",
				Help:    "Duration of document processing phases in seconds",
				Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"phase"},
		),
		DocumentsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docket_documents_total",
				Help: "Documents that reached a terminal status",
			},
			[]string{"status"},
		),
		TasksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docket_tasks_total",
				Help: "Tasks that reached a terminal status",
			},
			[]string{"type", "status"},
		),
		RetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docket_task_retries_total",
				Help: "Retry attempts scheduled after transient failures",
			},
			[]string{"type"},
		),
		CacheLookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docket_cache_lookups_total",
				Help: "Chunk cache lookups by result",
			},
			[]string{"result"},
		),
	}
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the collectors in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObservePhases records every completed phase of doc.
func (m *Metrics) ObservePhases(doc *core.Document) {
	if m == nil {
		return
	}
	for phase, d := range doc.PhaseDurations() {
		m.ObservePhase(phase, d)
	}
}

// ObservePhase records one phase duration.
func (m *Metrics) ObservePhase(phase core.Phase, d time.Duration) {
	if m == nil {
		return
	}
	m.PhaseDuration.WithLabelValues(string(phase)).Observe(d.Seconds())
}

func (m *Metrics) DocumentFinished(status core.DocumentStatus) {
	if m == nil {
		return
	}
	m.DocumentsTotal.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) TaskFinished(taskType string, status core.TaskStatus) {
	if m == nil {
		return
	}
	m.TasksTotal.WithLabelValues(taskType, string(status)).Inc()
}

func (m *Metrics) TaskRetried(taskType string) {
	if m == nil {
		return
	}
	m.RetriesTotal.WithLabelValues(taskType).Inc()
}

// CacheLookup counts a chunk cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookupsTotal.WithLabelValues(result).Inc()
}
