// Package metrics holds the Prometheus collectors for the pipeline.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	CyclesTotal       *prometheus.CounterVec
	CycleDuration     prometheus.Histogram
	StepFailures      *prometheus.CounterVec
	StageTransitions  *prometheus.CounterVec
	MessagesSent      *prometheus.CounterVec
	MessagesReceived  prometheus.Counter
	InferenceTokens   prometheus.Counter
	InferenceFailures *prometheus.CounterVec
	OffersMade        prometheus.Counter
	OfferAmount       prometheus.Histogram
}

// New registers every collector on a fresh registry, so tests can build as many as they need.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{Name: "http_requests_total", Help: "Total number of HTTP requests"},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request latency in seconds", Buckets: prometheus.DefBuckets},
			[]string{"method", "path"},
		),
		CyclesTotal: f.NewCounterVec(
			prometheus.CounterOpts{Name: "pipeline_cycles_total", Help: "Pipeline cycles by outcome"},
			[]string{"outcome"},
		),
		CycleDuration: f.NewHistogram(
			prometheus.HistogramOpts{Name: "pipeline_cycle_duration_seconds", Help: "Pipeline cycle duration", Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120}},
		),
		StepFailures: f.NewCounterVec(
			prometheus.CounterOpts{Name: "pipeline_step_failures_total", Help: "Per-lead failures by cycle step"},
			[]string{"step"},
		),
		StageTransitions: f.NewCounterVec(
			prometheus.CounterOpts{Name: "pipeline_stage_transitions_total", Help: "Lead stage transitions"},
			[]string{"from", "to"},
		),
		MessagesSent: f.NewCounterVec(
			prometheus.CounterOpts{Name: "pipeline_messages_sent_total", Help: "Outbound messages by kind"},
			[]string{"kind"},
		),
		MessagesReceived: f.NewCounter(
			prometheus.CounterOpts{Name: "pipeline_messages_received_total", Help: "Inbound seller messages"},
		),
		InferenceTokens: f.NewCounter(
			prometheus.CounterOpts{Name: "pipeline_inference_tokens_total", Help: "Tokens consumed by the conversation agent"},
		),
		InferenceFailures: f.NewCounterVec(
			prometheus.CounterOpts{Name: "pipeline_inference_failures_total", Help: "Agent turns that fell back to canned replies"},
			[]string{"reason"},
		),
		OffersMade: f.NewCounter(
			prometheus.CounterOpts{Name: "pipeline_offers_made_total", Help: "Offers sent to sellers"},
		),
		OfferAmount: f.NewHistogram(
			prometheus.HistogramOpts{Name: "pipeline_offer_amount", Help: "Final offer amounts", Buckets: prometheus.ExponentialBuckets(25000, 2, 7)},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}

// Middleware records request counts and latency keyed by route template.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
