package bus

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBus implements Publisher and yields RedisConsumers scoped to a
// subject + consumer group, backed by Redis Streams.
type RedisBus struct {
	client *redis.Client
}

func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{client: client}
}

// Publish issues XADD and only returns once Redis has acknowledged the
// append, satisfying spec.md §6's acknowledged-publish requirement.
func (b *RedisBus) Publish(ctx context.Context, subject string, body []byte) error {
	_, err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: subject,
		Values: map[string]interface{}{"body": body},
	}).Result()
	return err
}

// RedisConsumer is a pull consumer bound to one subject/group/consumer name.
type RedisConsumer struct {
	client   *redis.Client
	subject  string
	group    string
	consumer string
}

// NewRedisConsumer ensures the consumer group exists (MKSTREAM so the
// stream need not pre-exist) and returns a ready consumer.
func NewRedisConsumer(ctx context.Context, client *redis.Client, subject, group, consumer string) (*RedisConsumer, error) {
	err := client.XGroupCreateMkStream(ctx, subject, group, "0").Err()
	if err != nil && !isBusyGroupErr(err) {
		return nil, err
	}
	return &RedisConsumer{client: client, subject: subject, group: group, consumer: consumer}, nil
}

func isBusyGroupErr(err error) bool {
	return err != nil && (err.Error() == "BUSYGROUP Consumer Group name already exists")
}

func (c *RedisConsumer) Fetch(ctx context.Context, count int, block time.Duration) ([]Message, error) {
	res, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  []string{c.subject, ">"},
		Count:    int64(count),
		Block:    block,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []Message
	for _, stream := range res {
		for _, entry := range stream.Messages {
			count, _ := c.deliveryCount(ctx, entry.ID)
			body, _ := entry.Values["body"].(string)
			out = append(out, Message{
				ID:            entry.ID,
				Subject:       c.subject,
				Body:          []byte(body),
				DeliveryCount: count,
			})
		}
	}
	return out, nil
}

func (c *RedisConsumer) deliveryCount(ctx context.Context, id string) (int64, error) {
	pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: c.subject,
		Group:  c.group,
		Start:  id,
		End:    id,
		Count:  1,
	}).Result()
	if err != nil || len(pending) == 0 {
		return 1, err
	}
	return pending[0].RetryCount, nil
}

func (c *RedisConsumer) Ack(ctx context.Context, id string) error {
	return c.client.XAck(ctx, c.subject, c.group, id).Err()
}

// DeadLetter fetches the message body one last time (via XRange) and
// acks it out of the pending list, since the bus itself has no separate
// DLQ concept — graduation to the application's dead_letter table is the
// consumer's responsibility once DeliveryCount exceeds MaxDeliveries.
func (c *RedisConsumer) DeadLetter(ctx context.Context, id string) ([]byte, error) {
	msgs, err := c.client.XRange(ctx, c.subject, id, id).Result()
	if err != nil {
		return nil, err
	}
	var body []byte
	if len(msgs) > 0 {
		if s, ok := msgs[0].Values["body"].(string); ok {
			body = []byte(s)
		}
	}
	if err := c.Ack(ctx, id); err != nil {
		return body, err
	}
	return body, nil
}
