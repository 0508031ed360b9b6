package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics records request-level Prometheus metrics scraped at /metrics.
type HTTPMetrics struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight prometheus.Gauge
}

// NewHTTPMetrics builds the HTTP instruments and registers them on the
// default registry.
func NewHTTPMetrics() (*HTTPMetrics, error) {
	requestsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payflow_http_requests_total",
		Help: "Total HTTP requests by method, route and status code.",
	}, []string{"method", "route", "status_code"})
	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payflow_http_request_duration_seconds",
		Help:    "HTTP request latency by method and route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
	requestsInFlight := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "payflow_http_requests_in_flight",
		Help: "HTTP requests currently being served.",
	})

	for _, c := range []prometheus.Collector{requestsTotal, requestDuration, requestsInFlight} {
		if err := prometheus.Register(c); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				switch existing := are.ExistingCollector.(type) {
				case *prometheus.CounterVec:
					requestsTotal = existing
				case *prometheus.HistogramVec:
					requestDuration = existing
				case prometheus.Gauge:
					requestsInFlight = existing
				}
				continue
			}
			return nil, err
		}
	}

	return &HTTPMetrics{
		requestsTotal:    requestsTotal,
		requestDuration:  requestDuration,
		requestsInFlight: requestsInFlight,
	}, nil
}

// GinMiddleware observes every request served by the engine.
func GinMiddleware(m *HTTPMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}

		start := time.Now()
		m.requestsInFlight.Inc()
		c.Next()
		m.requestsInFlight.Dec()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		method := c.Request.Method
		m.requestsTotal.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.requestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}
