// Package metrics exposes Prometheus instrumentation for the memory engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "hybridmem"

// Metrics groups the collectors of one memory manager. Each manager registers
// on its own registry so several can live in one process.
type Metrics struct {
	Registry *prometheus.Registry

	Queries        prometheus.Counter
	CacheHits      prometheus.Counter
	Searches       *prometheus.CounterVec
	Writes         *prometheus.CounterVec
	FailedWrites   *prometheus.CounterVec
	Removed        *prometheus.CounterVec
	EmbedDuration  prometheus.Histogram
	MaintenanceRun *prometheus.CounterVec

	Nodes   prometheus.Gauge
	Edges   prometheus.Gauge
	Entries prometheus.Gauge
}

// New creates and registers the collectors on reg, or on a fresh registry
// when reg is nil.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		Queries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Total number of search queries",
		}),
		CacheHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Search queries answered from the query cache",
		}),
		Searches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_total",
			Help:      "Retrieval paths executed, by path",
		}, []string{"path"}),
		Writes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "writes_total",
			Help:      "Memories written, by kind",
		}, []string{"kind"}),
		FailedWrites: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failed_writes_total",
			Help:      "Memory writes that were skipped, by reason",
		}, []string{"reason"}),
		Removed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "removed_total",
			Help:      "Items removed by maintenance or explicit calls, by store",
		}, []string{"store"}),
		EmbedDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "embed_duration_seconds",
			Help:      "Embedding latency in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}),
		MaintenanceRun: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "maintenance_runs_total",
			Help:      "Maintenance passes, by outcome",
		}, []string{"outcome"}),
		Nodes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "graph_nodes",
			Help:      "Nodes in the memory graph",
		}),
		Edges: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "graph_edges",
			Help:      "Edges in the memory graph",
		}),
		Entries: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "vector_entries",
			Help:      "Entries in the vector index",
		}),
	}
}

// SetSizes updates the store size gauges.
func (m *Metrics) SetSizes(nodes, edges, entries int) {
	m.Nodes.Set(float64(nodes))
	m.Edges.Set(float64(edges))
	m.Entries.Set(float64(entries))
}
