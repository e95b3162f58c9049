package redis

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

type Cache struct {
	client *redis.Client
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Client() *redis.Client {
	return c.client
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// WebhookLog remembers processed payment webhook ids so redeliveries are
// acknowledged without touching the database. It is an optimization only.
type WebhookLog struct {
	client *redis.Client
	ttl    time.Duration
}

func NewWebhookLog(client *redis.Client, ttl time.Duration) *WebhookLog {
	return &WebhookLog{client: client, ttl: ttl}
}

func webhookKey(eventID string) string {
	return "webhook:" + eventID
}

func (w *WebhookLog) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := w.client.Exists(ctx, webhookKey(eventID)).Result()
	if err != nil {
		return false, errors.Wrap(err, "webhook exists")
	}
	return n == 1, nil
}

func (w *WebhookLog) MarkProcessed(ctx context.Context, eventID string) error {
	return errors.Wrap(w.client.Set(ctx, webhookKey(eventID), 1, w.ttl).Err(), "webhook mark")
}
