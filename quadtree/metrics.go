package quadtree

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	treeLabel    = "tree"
	relabelLabel = "relabel"
)

var (
	normalizeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "quadtree_normalize_duration_seconds",
		Help:    "The time to normalize a quadtree.",
		Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
	}, []string{
		treeLabel,
		relabelLabel,
	})

	splitCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quadtree_splits_total",
		Help: "The number of leaves split.",
	}, []string{treeLabel})

	mergeCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quadtree_merges_total",
		Help: "The number of branches merged.",
	}, []string{treeLabel})

	entityGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "quadtree_entities",
		Help: "The number of entities stored in a quadtree.",
	}, []string{treeLabel})

	nodeGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "quadtree_nodes",
		Help: "The number of nodes of a quadtree.",
	}, []string{treeLabel})

	depthGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "quadtree_depth",
		Help: "The depth of the deepest leaf of a quadtree.",
	}, []string{treeLabel})
)

func instrumentNormalize(tree string, relabel bool, d time.Duration) {
	normalizeDuration.
		With(prometheus.Labels{
			treeLabel:    tree,
			relabelLabel: strconv.FormatBool(relabel),
		}).
		Observe(d.Seconds())
}

func instrumentRebalance(tree string, splits, merges int) {
	if splits != 0 {
		splitCount.
			With(prometheus.Labels{treeLabel: tree}).
			Add(float64(splits))
	}

	if merges != 0 {
		mergeCount.
			With(prometheus.Labels{treeLabel: tree}).
			Add(float64(merges))
	}
}

func instrumentShape(tree string, entities, nodes, depth int) {
	labels := prometheus.Labels{treeLabel: tree}
	entityGauge.With(labels).Set(float64(entities))
	nodeGauge.With(labels).Set(float64(nodes))
	depthGauge.With(labels).Set(float64(depth))
}
