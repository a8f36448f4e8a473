package observability

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_JSONFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "storefront-test", "warn", "json")

	logger.Info().Msg("dropped")
	logger.Warn().Str("op", "checkout").Msg("kept")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "kept", entry["message"])
	assert.Equal(t, "storefront-test", entry["app"])
	assert.Equal(t, "checkout", entry["op"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, parseLevel("DEBUG"))
	assert.Equal(t, zerolog.Disabled, parseLevel("off"))
	assert.Equal(t, zerolog.InfoLevel, parseLevel("bogus"))
}

func TestRecordCartMutation(t *testing.T) {
	before := testutil.ToFloat64(cartMutations.WithLabelValues("add", "ok"))
	RecordCartMutation("add", "ok")
	RecordCartMutation("add", "ok")
	assert.Equal(t, before+2, testutil.ToFloat64(cartMutations.WithLabelValues("add", "ok")))
}

func TestRecordBackendRequest(t *testing.T) {
	before := testutil.ToFloat64(backendRequests.WithLabelValues("GET", "/products", "200"))
	RecordBackendRequest("GET", "/products", 200, 12*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(backendRequests.WithLabelValues("GET", "/products", "200")))
}

func TestClientMetricsReachDefaultRegistry(t *testing.T) {
	RecordCheckout("ok", "confirmed")

	n, err := testutil.GatherAndCount(prometheus.DefaultGatherer, "storefront_checkout_attempts_total")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)
}
