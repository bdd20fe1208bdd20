package bridge

import (
	"context"

	"github.com/eclipse/paho.golang/paho"
)

// Subscriber wires a paho.golang MQTT v5 client's publish handler into a
// Bridge, bridging device-facing topics onto the durable bus.
type Subscriber struct {
	client *paho.Client
	bridge *Bridge
}

func NewSubscriber(client *paho.Client, bridge *Bridge) *Subscriber {
	return &Subscriber{client: client, bridge: bridge}
}

// OnPublish is registered as the paho client's router handler. It does
// NOT ack at the MQTT protocol level itself (paho.golang acks QoS 1/2
// automatically on handler return for auto-ack sessions); callers running
// with manual ack must only ack after Handle returns nil.
func (s *Subscriber) OnPublish(ctx context.Context, p *paho.Publish) error {
	return s.bridge.Handle(ctx, IncomingMessage{Topic: p.Topic, Payload: p.Payload})
}

// Subscribe issues an MQTT SUBSCRIBE for the device-facing wildcard topic.
func (s *Subscriber) Subscribe(ctx context.Context) error {
	_, err := s.client.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{
			{Topic: "tenant/+/device/+/+", QoS: 1},
		},
	})
	return err
}
