package routefanout

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nexusiot/fleetcore/internal/domain"
)

type fakePublisher struct {
	mu        sync.Mutex
	published [][]byte
	subjects  []string
}

func (f *fakePublisher) Publish(ctx context.Context, subject string, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subjects = append(f.subjects, subject)
	f.published = append(f.published, body)
	return nil
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func oneRoute(ctx context.Context, rec domain.TelemetryRecord) ([]domain.Route, error) {
	return []domain.Route{{Tenant: rec.Tenant, RouteID: "route-1", Enabled: true}}, nil
}

func noRoutes(ctx context.Context, rec domain.TelemetryRecord) ([]domain.Route, error) {
	return nil, nil
}

func TestQueue_PublishesOneJobPerMatchedRoute(t *testing.T) {
	pub := &fakePublisher{}
	q := New(10, 1, oneRoute, pub, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		q.Run(ctx)
		close(done)
	}()

	q.Enqueue(domain.TelemetryRecord{Tenant: "acme", DeviceID: "dev-1", Time: time.Now()})

	require.Eventually(t, func() bool { return pub.count() == 1 }, time.Second, time.Millisecond)
	cancel()
	q.Drain()
	<-done

	assert.Equal(t, "routes.acme", pub.subjects[0])

	var job domain.DeliveryJob
	require.NoError(t, json.Unmarshal(pub.published[0], &job))
	assert.Equal(t, "route-1", job.RouteID)
	assert.Equal(t, "acme", job.Tenant)
}

func TestQueue_NoRoutesPublishesNothing(t *testing.T) {
	pub := &fakePublisher{}
	q := New(10, 1, noRoutes, pub, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		q.Run(ctx)
		close(done)
	}()

	q.Enqueue(domain.TelemetryRecord{Tenant: "acme", DeviceID: "dev-1"})
	time.Sleep(20 * time.Millisecond)

	cancel()
	q.Drain()
	<-done

	assert.Equal(t, 0, pub.count())
}

func TestQueue_DropsWhenFull(t *testing.T) {
	// no worker consuming, so the channel fills up immediately.
	q := New(2, 1, oneRoute, &fakePublisher{}, zap.NewNop())

	q.Enqueue(domain.TelemetryRecord{Tenant: "acme"})
	q.Enqueue(domain.TelemetryRecord{Tenant: "acme"})
	q.Enqueue(domain.TelemetryRecord{Tenant: "acme"}) // dropped

	assert.Equal(t, uint64(1), q.Dropped())
	assert.Equal(t, 2, q.Len())
	assert.Equal(t, 2, q.Cap())
}
