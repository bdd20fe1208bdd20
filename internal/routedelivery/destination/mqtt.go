package destination

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eclipse/paho.golang/paho"
	"github.com/sony/gobreaker"

	"github.com/nexusiot/fleetcore/internal/domain"
)

const mqttPublishTimeout = 10 * time.Second

// MQTTRepublish delivers by publishing to the device-facing broker at
// QoS 1; success is a received PUBACK.
type MQTTRepublish struct {
	client  *paho.Client
	breaker *gobreaker.CircuitBreaker
}

func NewMQTTRepublish(client *paho.Client) *MQTTRepublish {
	return &MQTTRepublish{
		client: client,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "mqtt-republish-destination",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

func (m *MQTTRepublish) Deliver(ctx context.Context, route domain.Route, payload []byte) (Result, error) {
	topic, ok := route.DestinationConfig["topic"]
	if !ok || topic == "" {
		return ResultPermanent, fmt.Errorf("mqtt_republish destination missing topic for route %s", route.RouteID)
	}

	ctx, cancel := context.WithTimeout(ctx, mqttPublishTimeout)
	defer cancel()

	var rejected *brokerRejection
	_, err := m.breaker.Execute(func() (interface{}, error) {
		ack, err := m.client.Publish(ctx, &paho.Publish{
			Topic:   topic,
			QoS:     1,
			Payload: payload,
		})
		if err != nil {
			return nil, err
		}
		if ack != nil && ack.ReasonCode >= 0x80 {
			return nil, &brokerRejection{topic: topic, reasonCode: ack.ReasonCode}
		}
		return ack, nil
	})

	if err == nil {
		return ResultSuccess, nil
	}
	if errors.As(err, &rejected) {
		return ResultPermanent, rejected
	}
	// connection refused / timeout / any other transport-level failure.
	return ResultRetryable, err
}

// brokerRejection is an explicit application-level PUBACK/reason-code
// rejection from the broker (e.g. topic not authorized); distinct from a
// connection-level failure, it is not retryable.
type brokerRejection struct {
	topic      string
	reasonCode byte
}

func (e *brokerRejection) Error() string {
	return fmt.Sprintf("mqtt broker rejected publish to %s: reason 0x%x", e.topic, e.reasonCode)
}
