package prometheus

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	return rec.Body.String()
}

func TestMetrics_Exposition(t *testing.T) {
	m := New("outreach")

	m.ObserveHTTPRequest("POST", "/api/v1/tests", 201, 25*time.Millisecond)
	m.ObserveSend("acct-1", "sent", 1.5)
	m.ObserveSend("acct-1", "failed_permanent", 0.2)
	m.SetQueueDepth("acct-1", "high", 3)
	m.RateWindowSuspended("acct-1")
	m.EventRecorded("responded")
	m.TestCompleted("target_reached")

	body := scrape(t, m)
	assert.Contains(t, body, `outreach_http_requests_total{method="POST",route="/api/v1/tests",status="201"} 1`)
	assert.Contains(t, body, `outreach_dispatch_sends_total{account="acct-1",outcome="sent"} 1`)
	assert.Contains(t, body, `outreach_dispatch_sends_total{account="acct-1",outcome="failed_permanent"} 1`)
	assert.Contains(t, body, `outreach_dispatch_queue_depth{account="acct-1",priority="high"} 3`)
	assert.Contains(t, body, `outreach_dispatch_rate_window_suspensions_total{account="acct-1"} 1`)
	assert.Contains(t, body, `outreach_tracking_events_recorded_total{type="responded"} 1`)
	assert.Contains(t, body, `outreach_experiment_tests_completed_total{reason="target_reached"} 1`)
}

func TestMetrics_PrivateRegistry(t *testing.T) {
	a := New("outreach")
	b := New("outreach")

	a.TestCompleted("manual")

	body := scrape(t, b)
	assert.False(t, strings.Contains(body, `reason="manual"`))
}
