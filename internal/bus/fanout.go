package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// TenantLister resolves the current set of tenant IDs a FanoutConsumer
// should fan its subject across -- the Redis Streams stand-in for
// spec.md §6's NATS-style wildcard subject filter (`telemetry.>`),
// since XREADGROUP takes exact stream keys rather than a pattern.
type TenantLister func(ctx context.Context) ([]string, error)

// FanoutConsumer round-robins Fetch across one RedisConsumer per known
// tenant's subject (e.g. telemetry.acme, telemetry.globex, ...),
// refreshing the tenant set on a cadence, and satisfies Consumer so the
// Ingestor's single pull-consume Runner can be handed one wildcard-style
// consumer regardless of how many tenants currently exist.
type FanoutConsumer struct {
	client   *redis.Client
	stream   string
	group    string
	consumer string
	list     TenantLister
	refresh  time.Duration

	mu         sync.Mutex
	bySubject  map[string]*RedisConsumer
	order      []string
	next       int
	lastListed time.Time
	idSubject  map[string]string
}

func NewFanoutConsumer(client *redis.Client, stream, group, consumerName string, list TenantLister, refresh time.Duration) *FanoutConsumer {
	return &FanoutConsumer{
		client:    client,
		stream:    stream,
		group:     group,
		consumer:  consumerName,
		list:      list,
		refresh:   refresh,
		bySubject: make(map[string]*RedisConsumer),
		idSubject: make(map[string]string),
	}
}

func (f *FanoutConsumer) ensureTenants(ctx context.Context) error {
	f.mu.Lock()
	stale := time.Since(f.lastListed) >= f.refresh || len(f.order) == 0
	f.mu.Unlock()
	if !stale {
		return nil
	}

	tenants, err := f.list(ctx)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range tenants {
		subject := Subject(f.stream, t)
		if _, ok := f.bySubject[subject]; ok {
			continue
		}
		c, cerr := NewRedisConsumer(ctx, f.client, subject, f.group, f.consumer)
		if cerr != nil {
			continue
		}
		f.bySubject[subject] = c
		f.order = append(f.order, subject)
	}
	f.lastListed = time.Now()
	return nil
}

// Fetch advances one subject in round-robin order per call so no single
// tenant's telemetry volume can starve another's Fetch slot.
func (f *FanoutConsumer) Fetch(ctx context.Context, count int, block time.Duration) ([]Message, error) {
	if err := f.ensureTenants(ctx); err != nil {
		return nil, err
	}

	f.mu.Lock()
	n := len(f.order)
	if n == 0 {
		f.mu.Unlock()
		select {
		case <-ctx.Done():
		case <-time.After(block):
		}
		return nil, nil
	}
	subject := f.order[f.next%n]
	f.next++
	c := f.bySubject[subject]
	f.mu.Unlock()

	perSubjectBlock := block / time.Duration(n)
	if perSubjectBlock <= 0 {
		perSubjectBlock = time.Millisecond
	}

	msgs, err := c.Fetch(ctx, count, perSubjectBlock)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	for _, m := range msgs {
		f.idSubject[m.ID] = subject
	}
	f.mu.Unlock()
	return msgs, nil
}

func (f *FanoutConsumer) consumerFor(id string) (*RedisConsumer, string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	subject, ok := f.idSubject[id]
	if !ok {
		return nil, "", false
	}
	return f.bySubject[subject], subject, true
}

func (f *FanoutConsumer) Ack(ctx context.Context, id string) error {
	c, _, ok := f.consumerFor(id)
	if !ok {
		return fmt.Errorf("bus: fanout ack for unknown message id %s", id)
	}
	if err := c.Ack(ctx, id); err != nil {
		return err
	}
	f.mu.Lock()
	delete(f.idSubject, id)
	f.mu.Unlock()
	return nil
}

func (f *FanoutConsumer) DeadLetter(ctx context.Context, id string) ([]byte, error) {
	c, _, ok := f.consumerFor(id)
	if !ok {
		return nil, fmt.Errorf("bus: fanout dead-letter for unknown message id %s", id)
	}
	body, err := c.DeadLetter(ctx, id)
	f.mu.Lock()
	delete(f.idSubject, id)
	f.mu.Unlock()
	return body, err
}
