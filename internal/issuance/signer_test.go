package issuance

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignerRejectsForeignTokens(t *testing.T) {
	s, err := NewSigner("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	other, err := NewSigner("fedcba9876543210fedcba9876543210")
	require.NoError(t, err)

	token, err := other.Sign("TKT-0000000000000001", uuid.New(), time.Now())
	require.NoError(t, err)
	_, err = s.Verify(token)
	assert.True(t, errors.Is(err, domain.ErrBadSignature))

	_, err = s.Verify("not-a-token")
	assert.True(t, errors.Is(err, domain.ErrBadSignature))

	staff, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "x", "typ": "staff"}).SignedString(s.key)
	require.NoError(t, err)
	_, err = s.Verify(staff)
	assert.True(t, errors.Is(err, domain.ErrBadSignature))
}

func TestNewSignerRequiresKey(t *testing.T) {
	_, err := NewSigner("short")
	assert.Error(t, err)
}
