package mpt

import "github.com/prometheus/client_golang/prometheus"

const metricsNamespace = "mptkv"

var (
	// trieOperations counts public trie operations by their kind.
	trieOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Help:      "Number of trie operations",
			Name:      "trie_operations_total",
			Namespace: metricsNamespace,
		},
		[]string{"op"},
	)
	storeReads = prometheus.NewCounter(
		prometheus.CounterOpts{
			Help:      "Number of node reads from the underlying store",
			Name:      "node_store_reads_total",
			Namespace: metricsNamespace,
		},
	)
	cacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Help:      "Number of node reads served by the node cache",
			Name:      "node_cache_hits_total",
			Namespace: metricsNamespace,
		},
	)
	storeWrites = prometheus.NewCounter(
		prometheus.CounterOpts{
			Help:      "Number of nodes written to the underlying store",
			Name:      "node_store_writes_total",
			Namespace: metricsNamespace,
		},
	)
	prunedNodes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Help:      "Number of superseded nodes deleted from the store",
			Name:      "pruned_nodes_total",
			Namespace: metricsNamespace,
		},
	)
	checkpointDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Help:      "Number of outstanding checkpoints of the last modified trie",
			Name:      "checkpoint_depth",
			Namespace: metricsNamespace,
		},
	)
)

func init() {
	prometheus.MustRegister(
		trieOperations,
		storeReads,
		cacheHits,
		storeWrites,
		prunedNodes,
		checkpointDepth,
	)
}

func countOperation(op string) {
	trieOperations.WithLabelValues(op).Inc()
}

func updateCheckpointDepthMetric(depth int) {
	checkpointDepth.Set(float64(depth))
}
