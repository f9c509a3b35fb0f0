// Package metrics exposes the Prometheus counters and gauges the core
// components publish. Each Registry wraps its own private
// prometheus.Registry rather than the global default one, so multiple
// DHT nodes in one process don't collide on metric names.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles the counters/gauges one neos process publishes: a
// connection pool, a DHT node, and the indexing pipeline each get their
// own named metrics, all registered against this Registry's own
// prometheus.Registry.
type Registry struct {
	reg *prometheus.Registry

	PoolDials     prometheus.Counter
	PoolRecycled  prometheus.Counter
	PoolDiscarded prometheus.Counter

	DhtOpsTotal    *prometheus.CounterVec
	DhtTableKeys   *prometheus.GaugeVec
	DhtLogLength   prometheus.Gauge

	IndexDocsInserted prometheus.Counter
	IndexDocsSkipped  prometheus.Counter
	IndexFilesMerged  prometheus.Counter
}

// New builds a Registry with every metric registered, mirroring
// HealthLogger's NewHealthLogger constructor shape: build gauges/counters,
// MustRegister them all, return the bundle.
func New() *Registry {
	reg := prometheus.NewRegistry()

	m := &Registry{
		reg: reg,
		PoolDials: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "neos_transport_pool_dials_total",
			Help: "Total number of fresh connections dialed by the transport pool",
		}),
		PoolRecycled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "neos_transport_pool_recycled_total",
			Help: "Total number of pooled connections recycled on checkout",
		}),
		PoolDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "neos_transport_pool_discarded_total",
			Help: "Total number of pooled connections discarded as unusable",
		}),
		DhtOpsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "neos_dht_ops_total",
			Help: "Total number of DHT operations served, by op kind",
		}, []string{"op"}),
		DhtTableKeys: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "neos_dht_table_keys",
			Help: "Number of keys currently stored per table",
		}, []string{"table"}),
		DhtLogLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "neos_dht_log_length",
			Help: "Number of entries committed to a node's replicated log",
		}),
		IndexDocsInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "neos_index_docs_inserted_total",
			Help: "Total number of documents inserted into an index segment",
		}),
		IndexDocsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "neos_index_docs_skipped_total",
			Help: "Total number of webpages dropped by the minimum-clean-words or host-centrality-threshold gate",
		}),
		IndexFilesMerged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "neos_index_files_merged_total",
			Help: "Total number of partial index segments merged into a parent",
		}),
	}

	reg.MustRegister(
		m.PoolDials, m.PoolRecycled, m.PoolDiscarded,
		m.DhtOpsTotal, m.DhtTableKeys, m.DhtLogLength,
		m.IndexDocsInserted, m.IndexDocsSkipped, m.IndexFilesMerged,
	)
	return m
}

// Gatherer exposes the underlying registry for an admin HTTP surface to
// serve; wiring an actual metrics endpoint is left to the caller.
func (m *Registry) Gatherer() prometheus.Gatherer { return m.reg }
