package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PasteCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastebox_paste_created_total",
		Help: "no. of pastes created",
	})
	PasteRetrieved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastebox_paste_retrieved_total",
		Help: "no. of full paste reads served",
	})
	PasteBurned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastebox_paste_burned_total",
		Help: "no. of burn-after-read pastes consumed",
	})
	PasteDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastebox_paste_deleted_total",
		Help: "no. of explicit paste deletions",
	})
	DecryptFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastebox_decrypt_failures_total",
		Help: "no. of failed decryption attempts",
	})
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastebox_cache_hits_total",
		Help: "no. of cache hits",
	})
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastebox_cache_misses_total",
		Help: "no. of cache misses",
	})
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pastebox_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pastebox_rate_limit_hits_total",
			Help: "no. of rate limit violations",
		},
		[]string{"endpoint"},
	)
	PruneCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastebox_prune_cycles_total",
		Help: "no. of purge worker cycles",
	})
)
