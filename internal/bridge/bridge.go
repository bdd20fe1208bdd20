// Package bridge implements the Bus Bridge (spec.md §4.1): subscribes to
// device-facing MQTT topics and republishes each message as a durable bus
// envelope, only acking the MQTT delivery after the bus publish is
// durably confirmed.
package bridge

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/nexusiot/fleetcore/internal/bus"
	"github.com/nexusiot/fleetcore/internal/domain"
	"github.com/nexusiot/fleetcore/internal/obs"
	"github.com/nexusiot/fleetcore/internal/telemetry"
)

var topicPattern = regexp.MustCompile(`^tenant/([^/]+)/device/([^/]+)/([^/]+)$`)

// ParseTopic extracts (tenant, device, msgType) from a device-facing MQTT
// topic, or ok=false if the topic doesn't match the expected shape.
func ParseTopic(topic string) (tenant, device, msgType string, ok bool) {
	m := topicPattern.FindStringSubmatch(topic)
	if m == nil {
		return "", "", "", false
	}
	return m[1], m[2], m[3], true
}

// streamForMsgType maps a bridged message type to its bus stream, per
// spec.md §4.1 ("also shadow.{tenant}, commands.{tenant} by msg_type").
func streamForMsgType(msgType string) string {
	switch msgType {
	case "shadow":
		return bus.StreamShadow
	case "command":
		return bus.StreamCommands
	default:
		return bus.StreamTelemetry
	}
}

// ErrBridgePublishFailure signals the bus refused a publish; the caller's
// policy must be to NOT ack the MQTT broker so it redelivers.
type ErrBridgePublishFailure struct {
	Topic string
	Cause error
}

func (e *ErrBridgePublishFailure) Error() string {
	return fmt.Sprintf("bridge publish failed for topic %q: %v", e.Topic, e.Cause)
}

func (e *ErrBridgePublishFailure) Unwrap() error { return e.Cause }

// IncomingMessage is the minimal shape this package needs from an MQTT
// client message, decoupled from any specific client library type.
type IncomingMessage struct {
	Topic   string
	Payload []byte
}

// Bridge translates incoming MQTT messages into bus envelopes.
type Bridge struct {
	publisher bus.Publisher
	log       *zap.Logger
	inFlight  chan struct{} // bounds concurrent publishes
}

// New creates a Bridge with a bounded number of concurrent in-flight
// publishes, capping memory per spec.md §4.1.
func New(publisher bus.Publisher, maxInFlight int, log *zap.Logger) *Bridge {
	return &Bridge{
		publisher: publisher,
		log:       log,
		inFlight:  make(chan struct{}, maxInFlight),
	}
}

// Handle processes one incoming MQTT message. It returns
// *ErrBridgePublishFailure on a durable-publish failure; callers must
// leave the MQTT message unacknowledged in that case so the broker
// redelivers. A non-matching topic is dropped and acked (it is not a
// device-facing telemetry/shadow/command topic this bridge owns).
func (b *Bridge) Handle(ctx context.Context, msg IncomingMessage) (err error) {
	ctx, end := obs.StartSpan(ctx, "bridge", "publish")
	defer func() { end(err) }()

	tenant, device, msgType, ok := ParseTopic(msg.Topic)
	if !ok {
		b.log.Debug("ignoring non-device topic", zap.String("topic", msg.Topic))
		return nil
	}

	b.inFlight <- struct{}{}
	defer func() { <-b.inFlight }()

	env := domain.Envelope{
		Tenant:     tenant,
		Device:     device,
		MsgType:    msgType,
		Topic:      msg.Topic,
		ReceivedAt: time.Now().UTC(),
		Payload:    msg.Payload,
	}

	body, err := telemetry.EncodeEnvelope(env)
	if err != nil {
		return err
	}

	subject := bus.Subject(streamForMsgType(msgType), tenant)
	if err := b.publisher.Publish(ctx, subject, body); err != nil {
		return &ErrBridgePublishFailure{Topic: msg.Topic, Cause: err}
	}

	b.log.Debug("bridged message",
		zap.String("tenant", tenant), zap.String("device", device),
		zap.String("subject", subject))
	return nil
}
