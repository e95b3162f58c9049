package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	redisadapter "github.com/robertarktes/event-ticketing/internal/adapters/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookLog(t *testing.T) {
	db, mock := redismock.NewClientMock()
	log := redisadapter.NewWebhookLog(db, 24*time.Hour)
	ctx := context.Background()

	mock.ExpectExists("webhook:evt_1").SetVal(0)
	seen, err := log.Seen(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, seen)

	mock.ExpectSet("webhook:evt_1", 1, 24*time.Hour).SetVal("OK")
	require.NoError(t, log.MarkProcessed(ctx, "evt_1"))

	mock.ExpectExists("webhook:evt_1").SetVal(1)
	seen, err = log.Seen(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, seen)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotency(t *testing.T) {
	db, mock := redismock.NewClientMock()
	idem := redisadapter.NewIdempotency(db)
	ctx := context.Background()

	mock.ExpectGet("idemp:k1").RedisNil()
	data, err := idem.Load(ctx, "k1")
	require.NoError(t, err)
	assert.Nil(t, data)

	mock.ExpectSetNX("idemp:lock:k1", 1, time.Minute).SetVal(true)
	ok, err := idem.Lock(ctx, "k1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectSetNX("idemp:lock:k1", 1, time.Minute).SetVal(false)
	ok, err = idem.Lock(ctx, "k1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	mock.ExpectSet("idemp:k1", []byte(`{"status":201}`), time.Hour).SetVal("OK")
	require.NoError(t, idem.Save(ctx, "k1", []byte(`{"status":201}`), time.Hour))

	mock.ExpectDel("idemp:lock:k1").SetVal(1)
	require.NoError(t, idem.Unlock(ctx, "k1"))

	mock.ExpectGet("idemp:k1").SetVal(`{"status":201}`)
	data, err = idem.Load(ctx, "k1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":201}`, string(data))

	assert.NoError(t, mock.ExpectationsWereMet())
}
