package redis

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

// Idempotency stores replayable responses under "idemp:<key>" and guards
// in-flight requests with "idemp:lock:<key>".
type Idempotency struct {
	client *redis.Client
}

func NewIdempotency(client *redis.Client) *Idempotency {
	return &Idempotency{client: client}
}

// Load returns nil without error when nothing is stored.
func (i *Idempotency) Load(ctx context.Context, key string) ([]byte, error) {
	val, err := i.client.Get(ctx, "idemp:"+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "idempotency get")
	}
	return val, nil
}

func (i *Idempotency) Save(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	return errors.Wrap(i.client.Set(ctx, "idemp:"+key, data, ttl).Err(), "idempotency set")
}

func (i *Idempotency) Lock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := i.client.SetNX(ctx, "idemp:lock:"+key, 1, ttl).Result()
	return ok, errors.Wrap(err, "idempotency lock")
}

func (i *Idempotency) Unlock(ctx context.Context, key string) error {
	return errors.Wrap(i.client.Del(ctx, "idemp:lock:"+key).Err(), "idempotency unlock")
}
