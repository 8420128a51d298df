package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HandlerMetrics struct {
	RequestCount    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	gatherer        prometheus.Gatherer
}

type ServiceMetrics struct {
	MethodCount    *prometheus.CounterVec
	MethodDuration *prometheus.HistogramVec
	StageCount     *prometheus.CounterVec
}

type RepositoryMetrics struct {
	QueryCount    *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	CacheResults  *prometheus.CounterVec
}

type HubMetrics struct {
	Sessions   prometheus.Gauge
	Deliveries *prometheus.CounterVec
}

// Registry bundles the registerer metrics are added to and the gatherer the
// /metrics endpoint reads from.
type Registry interface {
	prometheus.Registerer
	prometheus.Gatherer
}

func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return reg
}

const namespace = "market_feed"

// Latency buckets per layer: HTTP includes decoding and the whole commit,
// store operations are dominated by fsync or a database round trip.
var (
	requestBuckets = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5}
	storeBuckets   = []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, 1}
)

// countAndTime registers a counter and a histogram sharing labels, named
// <subsystem>_<total> and <subsystem>_<duration>.
func countAndTime(reg prometheus.Registerer, subsystem, total, duration, what string, buckets []float64, labels ...string) (*prometheus.CounterVec, *prometheus.HistogramVec) {
	count := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      total,
		Help:      "Number of " + what + ".",
	}, labels)

	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      duration,
		Help:      "Duration of " + what + " in seconds.",
		Buckets:   buckets,
	}, labels)

	reg.MustRegister(count, latency)
	return count, latency
}

func NewHandlerMetrics(reg Registry) *HandlerMetrics {
	count, latency := countAndTime(reg, "handler", "requests_total", "request_duration_seconds",
		"HTTP requests served by the listing API", requestBuckets, "method", "endpoint", "status")

	return &HandlerMetrics{RequestCount: count, RequestDuration: latency, gatherer: reg}
}

func NewServiceMetrics(reg prometheus.Registerer) *ServiceMetrics {
	count, latency := countAndTime(reg, "service", "methods_total", "method_duration_seconds",
		"ingestion and feed calls", requestBuckets, "method", "status")

	stages := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingestion",
		Name:      "stage_total",
		Help:      "Listing submissions reaching each ingestion stage.",
	}, []string{"stage"})
	reg.MustRegister(stages)

	return &ServiceMetrics{MethodCount: count, MethodDuration: latency, StageCount: stages}
}

func NewRepositoryMetrics(reg prometheus.Registerer) *RepositoryMetrics {
	count, latency := countAndTime(reg, "repository", "queries_total", "query_duration_seconds",
		"listing store operations", storeBuckets, "query", "status")

	cacheResults := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "repository",
		Name:      "cache_results_total",
		Help:      "Recent-feed cache lookups by result: hit, miss, error or bypass.",
	}, []string{"result"})
	reg.MustRegister(cacheResults)

	return &RepositoryMetrics{QueryCount: count, QueryDuration: latency, CacheResults: cacheResults}
}

func NewHubMetrics(reg prometheus.Registerer) *HubMetrics {
	sessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "hub",
		Name:      "sessions",
		Help:      "Currently subscribed viewer sessions.",
	})

	deliveries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "hub",
		Name:      "deliveries_total",
		Help:      "Broadcast deliveries to sessions by outcome. A dropped delivery closes the session.",
	}, []string{"outcome"})

	reg.MustRegister(sessions, deliveries)

	return &HubMetrics{Sessions: sessions, Deliveries: deliveries}
}

// ObserveQuery records one store operation. A nil receiver is a no-op.
func (m *RepositoryMetrics) ObserveQuery(query, status string, start time.Time) {
	if m == nil {
		return
	}
	m.QueryCount.WithLabelValues(query, status).Inc()
	m.QueryDuration.WithLabelValues(query, status).Observe(time.Since(start).Seconds())
}

func (m *RepositoryMetrics) ObserveCache(result string) {
	if m == nil {
		return
	}
	m.CacheResults.WithLabelValues(result).Inc()
}

func (m *ServiceMetrics) ObserveMethod(method, status string, start time.Time) {
	if m == nil {
		return
	}
	m.MethodCount.WithLabelValues(method, status).Inc()
	m.MethodDuration.WithLabelValues(method, status).Observe(time.Since(start).Seconds())
}

func (m *ServiceMetrics) ObserveStage(stage string) {
	if m == nil {
		return
	}
	m.StageCount.WithLabelValues(stage).Inc()
}

func (m *HubMetrics) SetSessions(n int) {
	if m == nil {
		return
	}
	m.Sessions.Set(float64(n))
}

func (m *HubMetrics) ObserveDelivery(sent, dropped int) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues("sent").Add(float64(sent))
	m.Deliveries.WithLabelValues("dropped").Add(float64(dropped))
}

func (m *HandlerMetrics) ObserveRequest(method, endpoint, status string, start time.Time) {
	if m == nil {
		return
	}
	m.RequestCount.WithLabelValues(method, endpoint, status).Inc()
	m.RequestDuration.WithLabelValues(method, endpoint, status).Observe(time.Since(start).Seconds())
}

func (hm *HandlerMetrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(hm.gatherer, promhttp.HandlerOpts{})
}
