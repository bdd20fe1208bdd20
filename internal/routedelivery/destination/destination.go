// Package destination implements the three route destination_kinds from
// spec.md §4.5: webhook, mqtt_republish, object_storage, each wrapped in
// a circuit breaker so a persistently failing sink stops absorbing
// delivery-worker capacity.
package destination

import (
	"context"

	"github.com/nexusiot/fleetcore/internal/domain"
)

// Result classifies a delivery attempt's outcome per spec.md §4.5's
// retry policy.
type Result int

const (
	ResultSuccess Result = iota
	ResultRetryable
	ResultPermanent
)

// Destination delivers payload to the route's configured destination.
type Destination interface {
	Deliver(ctx context.Context, route domain.Route, payload []byte) (Result, error)
}

// Registry dispatches by domain.DestinationKind.
type Registry struct {
	Webhook       Destination
	MQTTRepublish Destination
	ObjectStorage Destination
}

// ErrUnknownDestinationKind is returned by Dispatch for an unrecognized
// destination_kind, treated as permanent (no retry can fix a
// misconfigured route).
type ErrUnknownDestinationKind struct{ Kind domain.DestinationKind }

func (e *ErrUnknownDestinationKind) Error() string {
	return "routedelivery: unknown destination_kind " + string(e.Kind)
}

func (r Registry) Dispatch(ctx context.Context, route domain.Route, payload []byte) (Result, error) {
	switch route.DestinationKind {
	case domain.DestinationWebhook:
		return r.Webhook.Deliver(ctx, route, payload)
	case domain.DestinationMQTTRepublish:
		return r.MQTTRepublish.Deliver(ctx, route, payload)
	case domain.DestinationObjectStorage:
		return r.ObjectStorage.Deliver(ctx, route, payload)
	default:
		return ResultPermanent, &ErrUnknownDestinationKind{Kind: route.DestinationKind}
	}
}
