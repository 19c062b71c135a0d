// Package metrics exposes Prometheus instrumentation for the
// facilitator service.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the facilitator's Prometheus collectors. Each instance
// carries its own registry so tests can create them freely.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	verifyTotal     *prometheus.CounterVec
	settleTotal     *prometheus.CounterVec
	activeRequests  prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "facilitator_requests_total",
		Help: "Total HTTP requests handled.",
	}, []string{"method", "endpoint", "status"})

	m.requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "facilitator_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint"})

	m.verifyTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "facilitator_verify_total",
		Help: "Payment verification outcomes.",
	}, []string{"network", "scheme", "result"})

	m.settleTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "facilitator_settle_total",
		Help: "Payment settlement outcomes.",
	}, []string{"network", "scheme", "result"})

	m.activeRequests = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "facilitator_active_requests",
		Help: "Requests currently in flight.",
	})

	m.registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.verifyTotal,
		m.settleTotal,
		m.activeRequests,
	)
	return m
}

// Middleware records request counts, latency, and in-flight gauge for
// every route except the metrics endpoint itself.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		m.activeRequests.Inc()
		start := time.Now()

		c.Next()

		m.activeRequests.Dec()
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		m.requestsTotal.WithLabelValues(c.Request.Method, endpoint, strconv.Itoa(c.Writer.Status())).Inc()
		m.requestDuration.WithLabelValues(c.Request.Method, endpoint).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) RecordVerify(network, scheme string, ok bool) {
	m.verifyTotal.WithLabelValues(network, scheme, result(ok)).Inc()
}

func (m *Metrics) RecordSettle(network, scheme string, ok bool) {
	m.settleTotal.WithLabelValues(network, scheme, result(ok)).Inc()
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// Handler serves the Prometheus scrape endpoint.
func (m *Metrics) Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
