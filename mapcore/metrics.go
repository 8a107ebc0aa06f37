package mapcore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultLabel  = "result"
	formatLabel  = "format"
	outcomeLabel = "outcome"
)

var (
	featureLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "comunimap_feature_loads_total",
		Help: "The number of feature loads by result.",
	}, []string{
		resultLabel,
		formatLabel,
	})

	droppedRecords = promauto.NewCounter(prometheus.CounterOpts{
		Name: "comunimap_dropped_records_total",
		Help: "The number of malformed records dropped while loading.",
	})

	storedFeatures = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "comunimap_features",
		Help: "The number of features in the current snapshot.",
	})

	clusterPasses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "comunimap_cluster_passes_total",
		Help: "The number of clustering passes.",
	})

	clusterPassDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "comunimap_cluster_pass_seconds",
		Help:    "The duration of a clustering pass.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
	})

	styleCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "comunimap_style_cache_lookups_total",
		Help: "Style cache lookups by result (hit or miss).",
	}, []string{
		resultLabel,
	})

	clicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "comunimap_clicks_total",
		Help: "Map clicks by outcome (empty, singleton, cluster).",
	}, []string{
		outcomeLabel,
	})
)
