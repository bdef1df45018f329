// Package metrics exposes Prometheus collectors for the control plane.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"agentbox/internal/model"
)

const namespace = "agentbox"

var probeBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}

// Metrics holds every collector the control plane reports.
type Metrics struct {
	registry *prometheus.Registry

	probes       *prometheus.CounterVec
	probeLatency *prometheus.HistogramVec
	rejections   *prometheus.CounterVec
	buildSlots   prometheus.Gauge
	deployments  *prometheus.GaugeVec
}

// New registers the collectors on reg. A nil reg gets a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		registry: reg,
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "probes_total",
			Help:      "Health probes by color and result",
		}, []string{"color", "result"}),
		probeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "probe_duration_seconds",
			Help:      "Latency distribution of health probes",
			Buckets:   probeBuckets,
		}, []string{"color"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "guard",
			Name:      "rejections_total",
			Help:      "Requests rejected by the access guard",
		}, []string{"reason"}),
		buildSlots: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "guard",
			Name:      "build_slots_in_use",
			Help:      "Deployments currently holding a build slot",
		}),
		deployments: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "deployments",
			Help:      "Deployments by lifecycle state",
		}, []string{"state"}),
	}

	m.probes = register(reg, m.probes)
	m.probeLatency = register(reg, m.probeLatency)
	m.rejections = register(reg, m.rejections)
	m.buildSlots = register(reg, m.buildSlots)
	m.deployments = register(reg, m.deployments)

	return m
}

// register adds c to reg, reusing the existing collector when an identical
// one was registered before.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveProbe records one health probe.
func (m *Metrics) ObserveProbe(color model.Color, healthy bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := "unhealthy"
	if healthy {
		result = "healthy"
	}
	m.probes.WithLabelValues(string(color), result).Inc()
	m.probeLatency.WithLabelValues(string(color)).Observe(elapsed.Seconds())
}

// RecordRejection counts a guard rejection (rate_limited, forbidden, ...).
func (m *Metrics) RecordRejection(reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(reason).Inc()
}

// SetBuildSlots reports how many build slots are taken.
func (m *Metrics) SetBuildSlots(n int) {
	if m == nil {
		return
	}
	m.buildSlots.Set(float64(n))
}

// SetDeploymentStates replaces the per-state deployment gauges. States
// missing from counts are reported as zero.
func (m *Metrics) SetDeploymentStates(counts map[model.State]int) {
	if m == nil {
		return
	}
	for _, state := range model.AllStates {
		m.deployments.WithLabelValues(string(state)).Set(float64(counts[state]))
	}
}
