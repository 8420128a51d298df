package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsAreNoops(t *testing.T) {
	var (
		rm *RepositoryMetrics
		sm *ServiceMetrics
		hm *HubMetrics
		h  *HandlerMetrics
	)

	assert.NotPanics(t, func() {
		rm.ObserveQuery("Append", "success", time.Now())
		rm.ObserveCache("hit")
		sm.ObserveMethod("CreateListing", "success", time.Now())
		sm.ObserveStage("received")
		hm.SetSessions(3)
		hm.ObserveDelivery(1, 1)
		h.ObserveRequest("GET", "/api/listings", "success", time.Now())
	})
}

func TestServiceMetrics_Stages(t *testing.T) {
	m := NewServiceMetrics(prometheus.NewRegistry())

	m.ObserveStage("received")
	m.ObserveStage("received")
	m.ObserveStage("done")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.StageCount.WithLabelValues("received")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.StageCount.WithLabelValues("done")))
}

func TestRepositoryMetrics_Queries(t *testing.T) {
	m := NewRepositoryMetrics(prometheus.NewRegistry())

	m.ObserveQuery("Append", "success", time.Now())
	m.ObserveCache("miss")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.QueryCount.WithLabelValues("Append", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CacheResults.WithLabelValues("miss")))
}

func TestHandlerMetrics_HTTPHandler(t *testing.T) {
	reg := NewRegistry()
	m := NewHandlerMetrics(reg)
	m.ObserveRequest("POST", "/api/listings", "success", time.Now())

	rec := httptest.NewRecorder()
	m.HTTPHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `market_feed_handler_requests_total{endpoint="/api/listings",method="POST",status="success"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestRegisteringTwicePanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewHubMetrics(reg)
	assert.Panics(t, func() { NewHubMetrics(reg) })
}

func TestInitTracer_UnreachableCollector(t *testing.T) {
	_, err := InitTracer(TracerConfig{ServiceName: "market-feed", Environment: "test", Version: "dev", Endpoint: "127.0.0.1:1"})
	assert.ErrorContains(t, err, "not reachable")
}
