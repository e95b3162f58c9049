package retry

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/event-ticketing/internal/domain"
)

var ErrExhausted = errors.New("retry attempts exhausted")

type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 8, BaseDelay: 5 * time.Millisecond, MaxDelay: 250 * time.Millisecond}
}

// Retryable reports whether err came from losing an optimistic write.
func Retryable(err error) bool {
	return errors.Is(err, domain.ErrStaleVersion) || errors.Is(err, domain.ErrSerializationFailure)
}

// Do runs fn until it succeeds, fails with a non-retryable error, or the
// attempts run out. onConflict is called before each backoff and may be nil.
func Do(ctx context.Context, p Policy, onConflict func(attempt int), fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		err = fn(ctx)
		if err == nil || !Retryable(err) {
			return err
		}
		if onConflict != nil {
			onConflict(i + 1)
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return errors.WithStack(ctx.Err())
		case <-time.After(p.backoff(i)):
		}
	}
	return errors.Mark(errors.Wrapf(err, "after %d attempts", attempts), ErrExhausted)
}

// backoff is full jitter over an exponentially growing window.
func (p Policy) backoff(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	window := p.BaseDelay << attempt
	if p.MaxDelay > 0 && (window > p.MaxDelay || window <= 0) {
		window = p.MaxDelay
	}
	return time.Duration(rand.Int64N(int64(window) + 1))
}
