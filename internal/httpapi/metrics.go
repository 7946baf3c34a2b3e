package httpapi

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ebongard/renfield/internal/breaker"
)

// MetricsHandler exposes GET /metrics (spec §6.2) over a dedicated
// registry, scraping internal/breaker.Manager on every collection
// rather than updating gauges out of band, the same pull-based
// pattern prometheus/client_golang's own Collector interface is built
// around.
type MetricsHandler struct {
	registry *prometheus.Registry
}

// NewMetricsHandler registers a breakerCollector over breakers plus
// the standard Go/process collectors.
func NewMetricsHandler(breakers *breaker.Manager) *MetricsHandler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	reg.MustRegister(&breakerCollector{breakers: breakers})
	return &MetricsHandler{registry: reg}
}

// breakerCollector adapts breaker.Manager.AllStats to Prometheus,
// implementing prometheus.Collector directly instead of keeping a
// parallel set of gauges in sync with the breaker package's own state.
type breakerCollector struct {
	breakers *breaker.Manager
}

var (
	breakerStateDesc = prometheus.NewDesc(
		"renfield_circuit_breaker_state",
		"Circuit breaker state (0=closed, 1=open, 2=half_open) per resource.",
		[]string{"resource"}, nil,
	)
	breakerFailuresDesc = prometheus.NewDesc(
		"renfield_circuit_breaker_failures_total",
		"Consecutive failure count per resource's circuit breaker.",
		[]string{"resource"}, nil,
	)
	breakerSuccessesDesc = prometheus.NewDesc(
		"renfield_circuit_breaker_successes_total",
		"Consecutive success count per resource's circuit breaker.",
		[]string{"resource"}, nil,
	)
)

func (c *breakerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- breakerStateDesc
	ch <- breakerFailuresDesc
	ch <- breakerSuccessesDesc
}

func (c *breakerCollector) Collect(ch chan<- prometheus.Metric) {
	if c.breakers == nil {
		return
	}
	for resource, stats := range c.breakers.AllStats() {
		ch <- prometheus.MustNewConstMetric(breakerStateDesc, prometheus.GaugeValue, float64(stats.State), resource)
		ch <- prometheus.MustNewConstMetric(breakerFailuresDesc, prometheus.CounterValue, float64(stats.FailureCount), resource)
		ch <- prometheus.MustNewConstMetric(breakerSuccessesDesc, prometheus.CounterValue, float64(stats.SuccessCount), resource)
	}
}
