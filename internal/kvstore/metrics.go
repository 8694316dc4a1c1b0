package kvstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts contained failures and cache effectiveness per partition.
type Metrics struct {
	Errors      *prometheus.CounterVec
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec
}

// NewMetrics registers store metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Errors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bansync_store_errors_total",
			Help: "Store operations that failed and were contained",
		}, []string{"partition", "op"}),
		CacheHits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bansync_store_cache_hits_total",
			Help: "Record reads served from the cache",
		}, []string{"partition"}),
		CacheMisses: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bansync_store_cache_misses_total",
			Help: "Record reads that went to the backend",
		}, []string{"partition"}),
	}
}

func (m *Metrics) incError(p Partition, op string) {
	if m == nil {
		return
	}
	m.Errors.WithLabelValues(string(p), op).Inc()
}

func (m *Metrics) cacheHit(p Partition) {
	if m == nil {
		return
	}
	m.CacheHits.WithLabelValues(string(p)).Inc()
}

func (m *Metrics) cacheMiss(p Partition) {
	if m == nil {
		return
	}
	m.CacheMisses.WithLabelValues(string(p)).Inc()
}
