package retry

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/stretchr/testify/assert"
)

func fastPolicy(n int) Policy {
	return Policy{MaxAttempts: n, BaseDelay: time.Microsecond, MaxDelay: time.Millisecond}
}

func TestDoRetriesStaleVersion(t *testing.T) {
	calls := 0
	conflicts := 0
	err := Do(context.Background(), fastPolicy(5), func(int) { conflicts++ }, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.Wrap(domain.ErrStaleVersion, "cas")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, conflicts)
}

func TestDoStopsOnBusinessError(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(5), nil, func(context.Context) error {
		calls++
		return domain.ErrInsufficientStock
	})

	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Equal(t, 1, calls)
}

func TestDoExhausts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(4), nil, func(context.Context) error {
		calls++
		return domain.ErrSerializationFailure
	})

	assert.True(t, errors.Is(err, ErrExhausted))
	assert.Equal(t, 4, calls)
}

func TestDoHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, Policy{MaxAttempts: 3, BaseDelay: time.Hour, MaxDelay: time.Hour}, nil, func(context.Context) error {
		return domain.ErrStaleVersion
	})
	assert.ErrorIs(t, err, context.Canceled)
}
