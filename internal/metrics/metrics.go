// Package metrics owns the monitor's Prometheus surface. Everything here is
// pass-through observability: no control-plane decision reads these series.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collectors groups the monitor's exported instruments.
type Collectors struct {
	// CPUUsage is the instantaneous host CPU utilization percentage.
	CPUUsage prometheus.Gauge
	// RequestLatency observes every accepted latency sample, in seconds.
	RequestLatency prometheus.Histogram
}

// NewCollectors builds the instrument set, unregistered.
func NewCollectors() *Collectors {
	return &Collectors{
		CPUUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cpu_usage_percent",
			Help: "Instantaneous host CPU utilization percentage.",
		}),
		RequestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "request_latency_seconds",
			Help:    "End-to-end latency of dispatched inference requests in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Register adds every instrument to reg.
func (c *Collectors) Register(reg prometheus.Registerer) error {
	for _, col := range []prometheus.Collector{c.CPUUsage, c.RequestLatency} {
		if err := registerCollector(reg, col); err != nil {
			return err
		}
	}
	return nil
}

// registerCollector registers the collector, ignoring duplicates so that
// rebuilding a server against a shared registry stays idempotent.
func registerCollector(reg prometheus.Registerer, collector prometheus.Collector) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if err := reg.Register(collector); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return nil
		}
		return err
	}
	return nil
}

// Handler serves the registry in Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
