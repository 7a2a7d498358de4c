// Package metrics exposes the pipeline's Prometheus instrumentation behind
// one registry so tests can construct isolated instances.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles every collector the pipeline records into.
type Registry struct {
	registry *prometheus.Registry

	AppendsTotal       *prometheus.CounterVec
	ConflictsTotal     prometheus.Counter
	RetriesTotal       prometheus.Counter
	CommandsTotal      *prometheus.CounterVec
	ProjectionApplies  prometheus.Counter
	ProjectionRebuilds prometheus.Counter
	ReadDuration       prometheus.Histogram
}

// New creates a registry with all pipeline collectors registered.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,
		AppendsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_events_appended_total",
			Help: "Events durably appended, by event type.",
		}, []string{"event_type"}),
		ConflictsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_append_conflicts_total",
			Help: "Appends rejected by the optimistic-concurrency check.",
		}),
		RetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_command_retries_total",
			Help: "Command retries after a lost version race.",
		}),
		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_commands_total",
			Help: "Commands handled, by type and outcome.",
		}, []string{"command_type", "outcome"}),
		ProjectionApplies: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_projection_applies_total",
			Help: "Events applied incrementally to the read model.",
		}),
		ProjectionRebuilds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_projection_rebuilds_total",
			Help: "Full read-model rebuilds from the event log.",
		}),
		ReadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sentinel_store_read_seconds",
			Help:    "Latency of event store reads.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.AppendsTotal,
		r.ConflictsTotal,
		r.RetriesTotal,
		r.CommandsTotal,
		r.ProjectionApplies,
		r.ProjectionRebuilds,
		r.ReadDuration,
	)

	return r
}

// Handler serves the registry in Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
