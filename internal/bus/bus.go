// Package bus defines the durable message-bus contract used by all five
// processes (spec.md §6): acknowledged publish, pull-consume with
// consumer-group redelivery, and DLQ hand-off past the redelivery cap.
//
// No NATS/Kafka/AMQP client exists anywhere in the retrieval pack; Redis
// Streams (via the teacher's own redis/go-redis dependency) is the
// closest pack-grounded durable-queue primitive and is used here, since
// it natively provides consumer groups (XREADGROUP), per-consumer
// redelivery counts (XPENDING/XCLAIM), and acknowledged publish (XADD
// returns only once Redis durably appends the entry).
package bus

import (
	"context"
	"fmt"
	"time"
)

// Stream names, matching spec.md §6's subject patterns (tenant is
// interpolated into the subject by callers of Publish/Subscribe).
const (
	StreamTelemetry = "telemetry"
	StreamShadow    = "shadow"
	StreamCommands  = "commands"
	StreamRoutes    = "routes"
)

// MaxDeliveries bounds redelivery attempts before a message graduates to
// the DLQ bucket (spec.md §6 table: "max 3" for every stream).
const MaxDeliveries = 3

// Message is a single bus entry handed to a consumer.
type Message struct {
	ID           string
	Subject      string
	Body         []byte
	DeliveryCount int64
}

// Publisher publishes with acknowledged-before-advance semantics: Publish
// does not return until the bus confirms durable receipt.
type Publisher interface {
	Publish(ctx context.Context, subject string, body []byte) error
}

// Consumer pull-consumes from a subject filter under a named consumer
// group, matching spec.md's "pull-based consume... durable name" model.
type Consumer interface {
	// Fetch blocks up to the given timeout for up to count new messages.
	Fetch(ctx context.Context, count int, block time.Duration) ([]Message, error)
	// Ack acknowledges successful processing, advancing the consumer group.
	Ack(ctx context.Context, id string) error
	// DeadLetter moves a message that exceeded MaxDeliveries out of the
	// pending set and returns its body for DLQ persistence.
	DeadLetter(ctx context.Context, id string) ([]byte, error)
}

// Subject builds the tenant-scoped subject for a stream, e.g.
// Subject(StreamTelemetry, "acme") -> "telemetry.acme".
func Subject(stream, tenant string) string {
	return fmt.Sprintf("%s.%s", stream, tenant)
}
