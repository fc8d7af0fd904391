package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight *prometheus.GaugeVec

	// Admission control metrics
	AdmissionsAllowed *prometheus.CounterVec
	AdmissionsDenied  *prometheus.CounterVec

	// Retry metrics
	RetryAttempts *prometheus.CounterVec

	// Failover metrics
	FailoverExecutions *prometheus.CounterVec
	FailoverSwitches   *prometheus.CounterVec
	ProbesTotal        *prometheus.CounterVec
	ProbeDuration      *prometheus.HistogramVec
	ProviderHealthy    *prometheus.GaugeVec

	// Dead-letter queue metrics
	DLQCaptures *prometheus.CounterVec
	DLQReplays  *prometheus.CounterVec
	DLQDepth    *prometheus.GaugeVec

	registry *prometheus.Registry
}

// Config holds metrics configuration
type Config struct {
	Namespace string `json:"namespace"`
	Enabled   bool   `json:"enabled"`
}

// DefaultConfig returns default metrics configuration
func DefaultConfig() *Config {
	return &Config{
		Namespace: "bulwark",
		Enabled:   true,
	}
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(config *Config) *Metrics {
	if config == nil {
		config = DefaultConfig()
	}

	if !config.Enabled {
		return &Metrics{}
	}

	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Name:      "http_requests_in_flight",
				Help:      "Number of HTTP requests currently being processed",
			},
			[]string{"method"},
		),
		AdmissionsAllowed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "admissions_allowed_total",
				Help:      "Total number of calls admitted by the rate limiter",
			},
			[]string{"endpoint"},
		),
		AdmissionsDenied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "admissions_denied_total",
				Help:      "Total number of calls denied by the rate limiter",
			},
			[]string{"endpoint", "window"},
		),
		RetryAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "retry_attempts_total",
				Help:      "Total number of retry attempts",
			},
			[]string{"outcome"},
		),
		FailoverExecutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "failover_executions_total",
				Help:      "Total number of failover-managed executions",
			},
			[]string{"endpoint", "outcome"},
		),
		FailoverSwitches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "failover_switches_total",
				Help:      "Total number of active provider switches",
			},
			[]string{"endpoint", "trigger"},
		),
		ProbesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "health_probes_total",
				Help:      "Total number of provider health probes",
			},
			[]string{"provider", "result"},
		),
		ProbeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Name:      "health_probe_duration_seconds",
				Help:      "Health probe duration in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"provider"},
		),
		ProviderHealthy: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Name:      "provider_healthy",
				Help:      "Whether a provider is currently healthy (1) or not (0)",
			},
			[]string{"provider"},
		),
		DLQCaptures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "dlq_captures_total",
				Help:      "Total number of dead-letter captures",
			},
			[]string{"endpoint"},
		),
		DLQReplays: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "dlq_replays_total",
				Help:      "Total number of dead-letter replays",
			},
			[]string{"outcome"},
		),
		DLQDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Name:      "dlq_depth",
				Help:      "Current number of entries in the dead-letter queue",
			},
			[]string{"status"},
		),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.AdmissionsAllowed,
		m.AdmissionsDenied,
		m.RetryAttempts,
		m.FailoverExecutions,
		m.FailoverSwitches,
		m.ProbesTotal,
		m.ProbeDuration,
		m.ProviderHealthy,
		m.DLQCaptures,
		m.DLQReplays,
		m.DLQDepth,
	)

	return m
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() gin.HandlerFunc {
	if m.registry == nil {
		return func(c *gin.Context) {
			c.Status(204)
		}
	}
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return gin.WrapH(h)
}

// GinMiddleware returns a Gin middleware that records HTTP metrics
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.HTTPRequestsTotal == nil {
			c.Next()
			return
		}

		start := time.Now()
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = "unknown"
		}

		m.HTTPRequestsInFlight.WithLabelValues(method).Inc()
		c.Next()
		m.HTTPRequestsInFlight.WithLabelValues(method).Dec()

		status := strconv.Itoa(c.Writer.Status())
		m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		m.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}

// RecordProbe records the result of a provider health probe
func (m *Metrics) RecordProbe(provider string, healthy bool, duration time.Duration) {
	if m.ProbesTotal == nil {
		return
	}
	result := "failure"
	healthValue := 0.0
	if healthy {
		result = "success"
		healthValue = 1.0
	}
	m.ProbesTotal.WithLabelValues(provider, result).Inc()
	m.ProbeDuration.WithLabelValues(provider).Observe(duration.Seconds())
	m.ProviderHealthy.WithLabelValues(provider).Set(healthValue)
}
