// Package routefanout implements the bounded delivery-job queue from
// spec.md §4.2.8: after a telemetry record is accepted, a delivery job
// is enqueued and a separate worker pool publishes matching jobs onto
// the ROUTES bus subject. The ingest path must never block on this.
package routefanout

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/nexusiot/fleetcore/internal/bus"
	"github.com/nexusiot/fleetcore/internal/domain"
	"github.com/nexusiot/fleetcore/internal/metrics"
)

const defaultQueueCapacity = 10000

// RouteMatcher decides which routes apply to a record, here rather than
// inline in the batch writer. The matcher cmd/ingestor wires in
// (repo.MatchRoutes) checks topic_filter only; payload_filter is not
// evaluated at fan-out, and is applied by the route delivery worker
// before dispatch.
type RouteMatcher func(ctx context.Context, rec domain.TelemetryRecord) ([]domain.Route, error)

// Queue is a bounded, drop-on-full fan-out queue from accepted
// telemetry records to published ROUTES-stream delivery jobs.
type Queue struct {
	ch      chan domain.TelemetryRecord
	match   RouteMatcher
	pub     bus.Publisher
	log     *zap.Logger
	workers int

	mu      sync.Mutex
	dropped uint64
}

// New creates a Queue with the given capacity (spec default 10 000) and
// worker pool size (DELIVERY_WORKER_COUNT, default 2).
func New(capacity, workers int, match RouteMatcher, pub bus.Publisher, log *zap.Logger) *Queue {
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	if workers <= 0 {
		workers = 2
	}
	return &Queue{
		ch:      make(chan domain.TelemetryRecord, capacity),
		match:   match,
		pub:     pub,
		log:     log,
		workers: workers,
	}
}

// Enqueue offers a record to the queue without blocking. A full queue
// drops the record and increments a warning counter; it never blocks
// the ingest path.
func (q *Queue) Enqueue(rec domain.TelemetryRecord) {
	select {
	case q.ch <- rec:
	default:
		q.mu.Lock()
		q.dropped++
		q.mu.Unlock()
		metrics.QueueDepth.WithLabelValues("route_fanout_dropped").Inc()
		q.log.Warn("route fan-out queue full, dropping record",
			zap.String("tenant", rec.Tenant), zap.String("device_id", rec.DeviceID))
	}
}

// Dropped returns the cumulative number of records dropped due to a
// full queue.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Run starts the worker pool and blocks until ctx is cancelled or the
// queue channel is closed. Each worker matches routes for a record and
// publishes one delivery job per matching route onto routes.{tenant}.
func (q *Queue) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(q.workers)
	for i := 0; i < q.workers; i++ {
		go func() {
			defer wg.Done()
			q.worker(ctx)
		}()
	}
	wg.Wait()
}

func (q *Queue) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-q.ch:
			if !ok {
				return
			}
			q.publishJobs(ctx, rec)
		}
	}
}

func (q *Queue) publishJobs(ctx context.Context, rec domain.TelemetryRecord) {
	routes, err := q.match(ctx, rec)
	if err != nil {
		q.log.Error("route matching failed", zap.String("tenant", rec.Tenant), zap.Error(err))
		return
	}
	recordBody, err := json.Marshal(rec)
	if err != nil {
		q.log.Error("failed to encode telemetry record for delivery", zap.Error(err))
		return
	}

	subject := bus.Subject(bus.StreamRoutes, rec.Tenant)
	for _, route := range routes {
		job := domain.DeliveryJob{
			Tenant:      rec.Tenant,
			RouteID:     route.RouteID,
			Subject:     subject,
			Payload:     recordBody,
			Attempt:     0,
			MaxAttempts: bus.MaxDeliveries,
		}
		body, err := json.Marshal(job)
		if err != nil {
			q.log.Error("failed to encode delivery job", zap.Error(err))
			continue
		}
		if err := q.pub.Publish(ctx, subject, body); err != nil {
			q.log.Error("failed to publish delivery job", zap.String("subject", subject), zap.Error(err))
			continue
		}
	}
}

// Drain closes the input channel and returns at once: it does not wait
// for the workers or for in-flight Enqueue callers, and an Enqueue after
// Drain panics (send on a closed channel), so callers stop producers
// first. Used by spec.md §4.2.9's shutdown sequence (stage e: "drain
// the route-delivery queue up to 5 s").
func (q *Queue) Drain() {
	close(q.ch)
}

// Len reports the number of jobs currently buffered, for
// backpressure/health reporting.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap reports the queue's configured capacity.
func (q *Queue) Cap() int {
	return cap(q.ch)
}
