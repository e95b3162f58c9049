package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "jwt-secret-0123456789"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORE", "")
	t.Setenv("FEE_RATE", "")
	t.Setenv("PURCHASE_TTL", "")
	t.Setenv("RESERVE_MAX_ATTEMPTS", "")
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("TICKET_SIGNING_KEY", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "crdb", cfg.Store)
	assert.Equal(t, "0.1", cfg.FeeRate.String())
	assert.Equal(t, 30*time.Minute, cfg.PurchaseTTL)
	assert.Equal(t, 8, cfg.ReserveMaxAttempts)
	assert.Equal(t, testSecret, cfg.TicketSigningKey)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE", "memory")
	t.Setenv("FEE_RATE", "0.05")
	t.Setenv("PURCHASE_TTL", "10m")
	t.Setenv("RESERVE_MAX_ATTEMPTS", "20")
	t.Setenv("JWT_SECRET", testSecret)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store)
	assert.Equal(t, "0.05", cfg.FeeRate.String())
	assert.Equal(t, 10*time.Minute, cfg.PurchaseTTL)
	assert.Equal(t, 20, cfg.ReserveMaxAttempts)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("FEE_RATE", "1.5")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("FEE_RATE", "0.1")
	t.Setenv("STORE", "sqlite")
	_, err = Load()
	assert.Error(t, err)
}

func TestLoadRequiresJWTSecret(t *testing.T) {
	t.Setenv("STORE", "memory")
	t.Setenv("FEE_RATE", "")
	t.Setenv("RESERVE_MAX_ATTEMPTS", "")
	t.Setenv("TICKET_SIGNING_KEY", "0123456789abcdef0123456789abcdef")

	for _, secret := range []string{"", "short"} {
		t.Setenv("JWT_SECRET", secret)
		_, err := Load()
		assert.ErrorContains(t, err, "JWT_SECRET", "secret %q", secret)
	}

	t.Setenv("JWT_SECRET", testSecret)
	_, err := Load()
	assert.NoError(t, err)
}
