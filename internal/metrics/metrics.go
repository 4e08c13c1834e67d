package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	generations    *prometheus.CounterVec
	stageFailures  *prometheus.CounterVec
	generationTime prometheus.Histogram
	illustrations  *prometheus.CounterVec
	apiRequests    *prometheus.CounterVec
	apiLatency     *prometheus.HistogramVec
}

// New builds a metrics set on its own registry so tests can create as many
// as they like.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sandbox_generations_total",
			Help: "Generation runs by outcome.",
		}, []string{"outcome"}),
		stageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sandbox_generation_stage_failures_total",
			Help: "Generation stages that fell back to a neutral result.",
		}, []string{"stage"}),
		generationTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sandbox_generation_duration_seconds",
			Help:    "Time from fan-out to merge.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		illustrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sandbox_illustrations_total",
			Help: "Delayed illustration completions by outcome.",
		}, []string{"outcome"}),
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sandbox_http_requests_total",
			Help: "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sandbox_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	m.registry.MustRegister(
		m.generations,
		m.stageFailures,
		m.generationTime,
		m.illustrations,
		m.apiRequests,
		m.apiLatency,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) ObserveGeneration(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.generations.WithLabelValues(outcome).Inc()
	m.generationTime.Observe(d.Seconds())
}

func (m *Metrics) StageFailed(stage string) {
	if m == nil {
		return
	}
	m.stageFailures.WithLabelValues(stage).Inc()
}

func (m *Metrics) IllustrationDone(outcome string) {
	if m == nil {
		return
	}
	m.illustrations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveAPI(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.apiRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.apiLatency.WithLabelValues(method, route).Observe(d.Seconds())
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware instruments request counts and latency.
func (m *Metrics) Middleware() gin.HandlerFunc {
	if m == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		m.ObserveAPI(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
