package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersAreRegistered(t *testing.T) {
	before := testutil.ToFloat64(HandshakesTotal.WithLabelValues("rejected"))
	HandshakesTotal.WithLabelValues("rejected").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(HandshakesTotal.WithLabelValues("rejected")))

	n, err := testutil.GatherAndCount(Registry(), "messenger_handshakes_total")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)
}

func TestHandlerExposesPrefixedMetrics(t *testing.T) {
	Connections.Set(2)
	FlushLatency.Observe(3)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "messenger_connections 2")
	assert.Contains(t, string(body), "messenger_flush_latency_ms_bucket")
	assert.Contains(t, string(body), "go_goroutines")
}
