package ingest

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nexusiot/fleetcore/internal/authcache"
	"github.com/nexusiot/fleetcore/internal/bus"
)

type fakeConsumer struct {
	msgs    []bus.Message
	fetched int32
	acked   int32
}

func (c *fakeConsumer) Fetch(ctx context.Context, count int, block time.Duration) ([]bus.Message, error) {
	if atomic.AddInt32(&c.fetched, 1) > 1 {
		select {
		case <-ctx.Done():
		case <-time.After(block):
		}
		return nil, nil
	}
	return c.msgs, nil
}

func (c *fakeConsumer) Ack(ctx context.Context, id string) error {
	atomic.AddInt32(&c.acked, 1)
	return nil
}

func (c *fakeConsumer) DeadLetter(ctx context.Context, id string) ([]byte, error) {
	return nil, nil
}

func TestRunner_ProcessesAndAcksFetchedMessages(t *testing.T) {
	loader := func(ctx context.Context, tenant, device string) (authcache.Entry, error) {
		return authcache.Entry{SiteID: "site-1", DeviceStatus: "active", SubscriptionStatus: "active"}, nil
	}
	p, _, _, _ := newTestPipeline(t, loader)

	body := envelopeBody(t, "acme", "dev-1", []byte(`{"site_id":"site-1","ts":`+fmt.Sprint(time.Now().Unix())+`,"metrics":{}}`))
	consumer := &fakeConsumer{msgs: []bus.Message{{ID: "1", Body: body}}}

	runner := NewRunner(consumer, p, 1, 10, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	runner.Run(ctx)

	require.EqualValues(t, 1, consumer.acked)
}

func TestRunner_PoisonMessageGoesToDeadLetterWithoutProcessing(t *testing.T) {
	loader := func(ctx context.Context, tenant, device string) (authcache.Entry, error) {
		t.Fatal("should not look up auth for a poison message")
		return authcache.Entry{}, nil
	}
	p, _, _, _ := newTestPipeline(t, loader)

	consumer := &fakeConsumer{msgs: []bus.Message{{ID: "1", Body: []byte("garbage"), DeliveryCount: bus.MaxDeliveries + 1}}}
	runner := NewRunner(consumer, p, 1, 10, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	runner.Run(ctx)

	assert.EqualValues(t, 0, consumer.acked)
}
