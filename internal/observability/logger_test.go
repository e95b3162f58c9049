package observability

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerTo(&buf, "info")

	log.WithFields(map[string]interface{}{"purchase_id": "p-1", "quantity": 2}).
		WithError(errors.New("boom")).
		Warn("release failed")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "release failed", line["msg"])
	assert.Equal(t, "warning", line["level"])
	assert.Equal(t, "p-1", line["purchase_id"])
	assert.Equal(t, float64(2), line["quantity"])
	assert.Equal(t, "boom", line["error"])
}

func TestLoggerLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerTo(&buf, "error")
	log.Info("hidden")
	assert.Zero(t, buf.Len())
}
