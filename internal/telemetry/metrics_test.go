package telemetry

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveHandle(t *testing.T) {
	before := testutil.ToFloat64(MessagesTotal.WithLabelValues("read"))

	ObserveHandle("read", time.Now())
	ObserveHandle("read", time.Now())

	assert.Equal(t, before+2, testutil.ToFloat64(MessagesTotal.WithLabelValues("read")))
}

func TestMetricsHandlerExposesNamespace(t *testing.T) {
	SetBuildInfo("test", "deadbeef")
	GossipSends.WithLabelValues(ResultSent).Inc()

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	for _, name := range []string{
		"zephyrgossip_build_info",
		"zephyrgossip_uptime_seconds",
		"zephyrgossip_gossip_sends_total",
	} {
		assert.True(t, strings.Contains(string(body), name), "missing %s", name)
	}
}
