package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for PasteOps.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeStorage  = "storage_error"
)

var (
	PasteOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pasties_paste_operations_total",
			Help: "no. of paste operations by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pasties_cache_hits_total",
			Help: "no. of view cache hits",
		},
		[]string{"layer"},
	)
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pasties_cache_misses_total",
		Help: "no. of reads that went to storage",
	})
	URLCollisions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pasties_url_collisions_total",
		Help: "no. of generated urls that were already taken",
	})
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pasties_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)
)
