// Package idempotency replays the stored response of a request that was
// already served under the same Idempotency-Key.
package idempotency

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
)

// Store is implemented by the Redis adapter.
type Store interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Lock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

type Response struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

var ErrInFlight = errors.New("request with this idempotency key is in progress")

type Idempotency struct {
	store   Store
	ttl     time.Duration
	lockTTL time.Duration
}

func NewIdempotency(store Store, ttl time.Duration) *Idempotency {
	return &Idempotency{store: store, ttl: ttl, lockTTL: 30 * time.Second}
}

// Begin returns the stored response for key, or claims key for the caller.
// ErrInFlight means another request holds the claim.
func (i *Idempotency) Begin(ctx context.Context, key string) (*Response, error) {
	data, err := i.store.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	if data != nil {
		var resp Response
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, errors.Wrap(err, "decode stored response")
		}
		return &resp, nil
	}
	ok, err := i.store.Lock(ctx, key, i.lockTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.WithStack(ErrInFlight)
	}
	return nil, nil
}

// Finish stores resp for replay and drops the claim. Server errors are not
// stored so the client may retry them.
func (i *Idempotency) Finish(ctx context.Context, key string, resp Response) error {
	if resp.Status < 500 {
		data, err := json.Marshal(resp)
		if err != nil {
			return errors.Wrap(err, "encode response")
		}
		if err := i.store.Save(ctx, key, data, i.ttl); err != nil {
			return err
		}
	}
	return i.store.Unlock(ctx, key)
}
