// Package metrics defines the prometheus counters/gauges/histograms
// required by every process (spec.md §6) and a small Timer convenience
// type.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetcore_messages_total",
		Help: "Total messages processed by the ingest pipeline, by result.",
	}, []string{"result"})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fleetcore_queue_depth",
		Help: "Current depth of an in-process bounded queue.",
	}, []string{"queue"})

	BatchWriteSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fleetcore_batch_write_seconds",
		Help:    "Duration of a batch-writer flush.",
		Buckets: prometheus.DefBuckets,
	})

	CacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetcore_cache_hits_total",
		Help: "Cache hits, by cache name.",
	}, []string{"cache"})

	CacheMissesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetcore_cache_misses_total",
		Help: "Cache misses, by cache name.",
	}, []string{"cache"})

	DeliveryFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetcore_delivery_failures_total",
		Help: "Route delivery failures, by destination kind.",
	}, []string{"destination_kind"})

	DLQWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetcore_dlq_writes_total",
		Help: "Dead-letter entries written, by destination kind.",
	}, []string{"destination_kind"})

	RateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetcore_rate_limited_total",
		Help: "Admission requests rejected by the rate limiter, by scope.",
	}, []string{"scope"})
)

// Timer captures elapsed wall time for histogram recording.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

func (t *Timer) RecordBatchWrite() {
	BatchWriteSeconds.Observe(t.Elapsed().Seconds())
}
