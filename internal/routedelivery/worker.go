// Package routedelivery implements the Route Delivery Worker (spec.md
// §4.5): pull-consume from the ROUTES stream, dispatch by
// destination_kind with bounded retries, and dead-letter non-retryable
// failures.
package routedelivery

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/itchyny/gojq"
	"go.uber.org/zap"

	"github.com/nexusiot/fleetcore/internal/bus"
	"github.com/nexusiot/fleetcore/internal/domain"
	"github.com/nexusiot/fleetcore/internal/metrics"
	"github.com/nexusiot/fleetcore/internal/obs"
	"github.com/nexusiot/fleetcore/internal/routedelivery/destination"
)

const (
	maxPayloadTruncate = 8 * 1024
	maxErrorTruncate   = 2 * 1024
	backpressureSleep  = 50 * time.Millisecond
	backpressureRatio  = 0.8
)

// RouteLookup resolves a delivery job's route by (tenant, route_id).
type RouteLookup func(ctx context.Context, tenant, routeID string) (domain.Route, error)

// DeadLetterSink persists a dead-letter entry for a non-retryable
// delivery failure.
type DeadLetterSink func(ctx context.Context, entry domain.DeadLetterEntry) error

// Worker drives the ROUTES-stream pull-consume loop.
type Worker struct {
	Consumer    bus.Consumer
	Registry    destination.Registry
	LookupRoute RouteLookup
	DeadLetter  DeadLetterSink
	Log         *zap.Logger
	// QueueFillRatio reports this worker's current delivery-queue
	// fill-ratio for the backpressure pause (spec.md §4.5); optional.
	QueueFillRatio func() float64
}

// Run starts the pull-consume loop until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if w.QueueFillRatio != nil && w.QueueFillRatio() > backpressureRatio {
			time.Sleep(backpressureSleep)
		}

		msgs, err := w.Consumer.Fetch(ctx, 10, 500*time.Millisecond)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.Log.Error("fetch failed", zap.Error(err))
			continue
		}

		for _, msg := range msgs {
			w.process(ctx, msg)
		}
	}
}

func (w *Worker) process(ctx context.Context, msg bus.Message) {
	ctx, end := obs.StartSpan(ctx, "routedelivery", "attempt")
	defer end(nil)

	var job domain.DeliveryJob
	if err := json.Unmarshal(msg.Body, &job); err != nil {
		w.Log.Error("dropping malformed delivery job", zap.Error(err))
		w.ack(ctx, msg.ID)
		return
	}

	route, err := w.LookupRoute(ctx, job.Tenant, job.RouteID)
	if err != nil {
		w.Log.Error("route lookup failed, leaving job unacked for redelivery",
			zap.String("tenant", job.Tenant), zap.String("route_id", job.RouteID), zap.Error(err))
		return
	}
	if !route.Enabled {
		w.ack(ctx, msg.ID)
		return
	}

	if route.PayloadFilter != "" {
		matched, ferr := matchesFilter(route.PayloadFilter, job.Payload)
		if ferr != nil {
			w.Log.Error("payload filter evaluation failed", zap.String("route_id", route.RouteID), zap.Error(ferr))
		}
		if ferr != nil || !matched {
			w.ack(ctx, msg.ID)
			return
		}
	}

	result, derr := w.Registry.Dispatch(ctx, route, job.Payload)
	switch result {
	case destination.ResultSuccess:
		metrics.MessagesTotal.WithLabelValues("delivered").Inc()
		w.ack(ctx, msg.ID)

	case destination.ResultRetryable:
		metrics.DeliveryFailuresTotal.WithLabelValues(string(route.DestinationKind)).Inc()
		if msg.DeliveryCount >= int64(bus.MaxDeliveries) {
			w.deadLetter(ctx, msg, route, derr)
			return
		}
		w.Log.Warn("retryable delivery failure, leaving job unacked for redelivery",
			zap.String("tenant", job.Tenant), zap.String("route_id", route.RouteID), zap.Error(derr))
		// not acked: the bus will redeliver up to bus.MaxDeliveries.

	case destination.ResultPermanent:
		metrics.DeliveryFailuresTotal.WithLabelValues(string(route.DestinationKind)).Inc()
		w.deadLetter(ctx, msg, route, derr)
	}
}

func (w *Worker) deadLetter(ctx context.Context, msg bus.Message, route domain.Route, derr error) {
	entry := domain.DeadLetterEntry{
		ID:           uuid.NewString(),
		Tenant:       route.Tenant,
		RouteID:      route.RouteID,
		Topic:        route.TopicFilter,
		Payload:      truncate(msg.Body, maxPayloadTruncate),
		DestKind:     route.DestinationKind,
		DestConfig:   route.DestinationConfig,
		ErrorMessage: truncateString(errString(derr), maxErrorTruncate),
		FailedAt:     time.Now().UTC(),
	}
	if err := w.DeadLetter(ctx, entry); err != nil {
		w.Log.Error("failed to write dead-letter entry", zap.String("route_id", route.RouteID), zap.Error(err))
		return
	}
	metrics.DLQWritesTotal.WithLabelValues(string(route.DestinationKind)).Inc()
	w.ack(ctx, msg.ID)
}

func (w *Worker) ack(ctx context.Context, id string) {
	if err := w.Consumer.Ack(ctx, id); err != nil {
		w.Log.Error("ack failed", zap.String("id", id), zap.Error(err))
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func truncate(b []byte, max int) []byte {
	if len(b) <= max {
		return b
	}
	out := make([]byte, max)
	copy(out, b[:max])
	return out
}

func truncateString(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// matchesFilter evaluates a gojq payload_filter expression against the
// delivery job's raw JSON payload, truthy result means the route matches.
func matchesFilter(expr string, payload []byte) (bool, error) {
	query, err := gojq.Parse(expr)
	if err != nil {
		return false, err
	}

	var input interface{}
	if err := json.Unmarshal(payload, &input); err != nil {
		return false, err
	}

	iter := query.Run(input)
	v, ok := iter.Next()
	if !ok {
		return false, nil
	}
	if err, ok := v.(error); ok {
		return false, err
	}
	switch t := v.(type) {
	case bool:
		return t, nil
	case nil:
		return false, nil
	default:
		return true, nil
	}
}
