package payment

import (
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookVerifier(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	v := NewWebhookVerifier("whsec", 0)
	v.now = func() time.Time { return now }
	body := []byte(`{"id":"evt_1","type":"checkout.session.completed","data":{"session_id":"cs_1"}}`)

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, v.Verify(v.SignatureFor(now.Add(-time.Minute), body), body))
	})

	t.Run("tampered body", func(t *testing.T) {
		err := v.Verify(v.SignatureFor(now, body), append(body, ' '))
		assert.True(t, errors.Is(err, domain.ErrBadSignature))
	})

	t.Run("stale timestamp", func(t *testing.T) {
		err := v.Verify(v.SignatureFor(now.Add(-6*time.Minute), body), body)
		assert.True(t, errors.Is(err, domain.ErrUnauthorized))
	})

	t.Run("other secret", func(t *testing.T) {
		other := NewWebhookVerifier("nope", 0)
		err := v.Verify(other.SignatureFor(now, body), body)
		assert.True(t, errors.Is(err, domain.ErrBadSignature))
	})

	t.Run("rotated secret", func(t *testing.T) {
		other := NewWebhookVerifier("old", 0)
		_, sig, _ := strings.Cut(v.SignatureFor(now, body), ",v1=")
		header := other.SignatureFor(now, body) + ",v1=" + sig
		assert.NoError(t, v.Verify(header, body))
	})

	t.Run("malformed", func(t *testing.T) {
		assert.Error(t, v.Verify("garbage", body))
		assert.Error(t, v.Verify("t=abc,v1=00", body))
	})
}

func TestParseEvent(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"id":"evt_1","type":"payment.failed","created":1700000000,"data":{"session_id":"cs_1","payment_ref":"pi_1"}}`))
	require.NoError(t, err)
	assert.Equal(t, "evt_1", ev.ID)
	assert.Equal(t, EventPaymentFailed, ev.Type)
	assert.Equal(t, "cs_1", ev.SessionID)
	assert.Equal(t, "pi_1", ev.PaymentRef)

	_, err = ParseEvent([]byte(`{"type":"x"}`))
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	_, err = ParseEvent([]byte(`not json`))
	assert.Error(t, err)
}
