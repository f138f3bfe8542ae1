package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_RouteCompleted(t *testing.T) {
	m := New(nil)

	m.RouteCompleted("assigned", "high", 20*time.Millisecond)
	m.RouteCompleted("assigned", "high", 30*time.Millisecond)
	m.RouteCompleted("queued", "urgent", time.Second)

	expected := `
		# HELP support_router_routes_total Routing requests by outcome and priority.
		# TYPE support_router_routes_total counter
		support_router_routes_total{outcome="assigned",priority="high"} 2
		support_router_routes_total{outcome="queued",priority="urgent"} 1
	`
	require.NoError(t, testutil.CollectAndCompare(m.routes, strings.NewReader(expected)))
	assert.Equal(t, 2, testutil.CollectAndCount(m.routeDuration))
}

func TestMetrics_Counters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.CommitConflict()
	m.CommitConflict()
	m.Degraded("analysis")
	m.AlertRaised("sla_breach")
	m.MessageReceived()
	m.MessageSent()
	m.MessageSent()
	m.QueueDepth("acme", 4)
	m.QueueDepth("acme", 3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.commitConflicts))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.degraded.WithLabelValues("analysis")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.alerts.WithLabelValues("sla_breach")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.messages.WithLabelValues("outbound")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.queueDepth.WithLabelValues("acme")))
}

func TestMetrics_Handler(t *testing.T) {
	m := New(nil)
	m.CommitConflict()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "support_router_commit_conflicts_total 1")
}
