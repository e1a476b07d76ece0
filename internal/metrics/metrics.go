// Package metrics implements the Prometheus counters SPEC_FULL.md's ambient
// observability section calls for: commits, reducer calls by outcome,
// energy consumed, and WAL bytes appended. Grounded on
// github.com/prometheus/client_golang, pack-wired across the example
// corpus; the teacher bindings crate exposes no metrics of its own since it
// never runs as a long-lived process.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every counter this server exports, registered against its
// own registry rather than the global default so multiple Hosts in one
// process (tests, multi-database deployments) never collide on metric
// names.
type Metrics struct {
	registry *prometheus.Registry

	ReducerCalls     *prometheus.CounterVec
	Commits          prometheus.Counter
	EnergyUsed       prometheus.Counter
	WALBytesAppended prometheus.Counter
}

// New registers and returns a fresh counter set.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ReducerCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stdb_reducer_calls_total",
			Help: "Reducer calls, labeled by outcome status.",
		}, []string{"status"}),
		Commits: factory.NewCounter(prometheus.CounterOpts{
			Name: "stdb_commits_total",
			Help: "Committed transactions.",
		}),
		EnergyUsed: factory.NewCounter(prometheus.CounterOpts{
			Name: "stdb_energy_used_total",
			Help: "Energy units consumed across all reducer calls.",
		}),
		WALBytesAppended: factory.NewCounter(prometheus.CounterOpts{
			Name: "stdb_wal_bytes_appended_total",
			Help: "Bytes appended to the commit log.",
		}),
	}
}

// Handler serves the registry in the Prometheus text exposition format,
// mounted at GET /metrics by internal/httpapi.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
