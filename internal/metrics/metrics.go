// Package metrics holds the process-wide operational counters exposed on
// the /metrics endpoint. Counters are monotonic; exact consistency with
// persisted counts is not required.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so tests can run side by side without
// default-registry collisions.
type Metrics struct {
	JobsProcessed     prometheus.Counter
	JobsFailed        prometheus.Counter
	FilesDeduplicated prometheus.Counter
	IndicatorsFound   prometheus.Counter

	registry  *prometheus.Registry
	startedAt time.Time
}

// New creates and registers the pipeline counters and the uptime gauge.
func New() *Metrics {
	m := &Metrics{
		JobsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "leakwatch_jobs_processed_total",
			Help: "Jobs completed through the full pipeline.",
		}),
		JobsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "leakwatch_jobs_failed_total",
			Help: "Jobs that ended in failure.",
		}),
		FilesDeduplicated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "leakwatch_files_deduplicated_total",
			Help: "Files skipped by remote-identity or content dedup.",
		}),
		IndicatorsFound: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "leakwatch_indicators_found_total",
			Help: "Indicators extracted from archive contents.",
		}),
		registry:  prometheus.NewRegistry(),
		startedAt: time.Now(),
	}

	uptime := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "leakwatch_uptime_seconds",
		Help: "Seconds since process start.",
	}, func() float64 {
		return time.Since(m.startedAt).Seconds()
	})

	m.registry.MustRegister(
		m.JobsProcessed, m.JobsFailed, m.FilesDeduplicated, m.IndicatorsFound, uptime,
	)
	return m
}

// Uptime returns the time since the metrics were created.
func (m *Metrics) Uptime() time.Duration {
	return time.Since(m.startedAt)
}

// Handler serves the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
