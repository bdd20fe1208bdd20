package bus

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestRedisBus(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "RedisBus Suite")
}

var _ = Describe("RedisBus publish/consume", func() {
	var client *redis.Client
	var ctx context.Context

	BeforeEach(func() {
		mr, err := miniredis.Run()
		Expect(err).ToNot(HaveOccurred())
		client = redis.NewClient(&redis.Options{Addr: mr.Addr()})
		ctx = context.Background()
	})

	It("publishes and pull-consumes a message, then acks it", func() {
		b := NewRedisBus(client)
		subject := Subject(StreamTelemetry, "acme")

		Expect(b.Publish(ctx, subject, []byte(`{"hello":"world"}`))).To(Succeed())

		consumer, err := NewRedisConsumer(ctx, client, subject, "ingestor", "worker-1")
		Expect(err).ToNot(HaveOccurred())

		msgs, err := consumer.Fetch(ctx, 10, 10*time.Millisecond)
		Expect(err).ToNot(HaveOccurred())
		Expect(msgs).To(HaveLen(1))
		Expect(string(msgs[0].Body)).To(Equal(`{"hello":"world"}`))

		Expect(consumer.Ack(ctx, msgs[0].ID)).To(Succeed())

		// second fetch sees nothing new.
		msgs2, err := consumer.Fetch(ctx, 10, 10*time.Millisecond)
		Expect(err).ToNot(HaveOccurred())
		Expect(msgs2).To(BeEmpty())
	})

	It("supports two independent consumer groups reading the same stream", func() {
		b := NewRedisBus(client)
		subject := Subject(StreamRoutes, "acme")
		Expect(b.Publish(ctx, subject, []byte("job-1"))).To(Succeed())

		c1, err := NewRedisConsumer(ctx, client, subject, "group-a", "w1")
		Expect(err).ToNot(HaveOccurred())
		c2, err := NewRedisConsumer(ctx, client, subject, "group-b", "w1")
		Expect(err).ToNot(HaveOccurred())

		m1, _ := c1.Fetch(ctx, 10, 10*time.Millisecond)
		m2, _ := c2.Fetch(ctx, 10, 10*time.Millisecond)
		Expect(m1).To(HaveLen(1))
		Expect(m2).To(HaveLen(1))
	})
})

func TestSubject(t *testing.T) {
	require.Equal(t, "telemetry.acme", Subject(StreamTelemetry, "acme"))
	require.Equal(t, "routes.acme", Subject(StreamRoutes, "acme"))
}
