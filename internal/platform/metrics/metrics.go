// Package metrics holds the Prometheus collectors exported on /metrics.
// They are registered with the default registry at init.
package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestTotals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sidra_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sidra_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "path"},
	)

	HTTPRequestInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sidra_http_requests_in_flight",
			Help: "Current in-flight requests",
		},
	)

	RateLimiterBuckets = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sidra_rate_limiter_buckets",
			Help: "Number of per-client rate limit buckets held",
		},
	)

	PanicsRecovered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sidra_panics_recovered_total",
			Help: "Handler panics turned into 500 responses",
		},
	)

	WizardTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sidra_wizard_transitions_total",
			Help: "Intake wizard navigation attempts",
		},
		[]string{"direction", "result"},
	)

	WizardSubmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sidra_wizard_submissions_total",
			Help: "Intake form submissions",
		},
		[]string{"mode", "result"},
	)

	ReferenceFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sidra_reference_fetches_total",
			Help: "Reference list loads",
		},
		[]string{"kind", "result"},
	)
)

func init() {
	prometheus.MustRegister(HTTPRequestTotals)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(HTTPRequestInFlight)
	prometheus.MustRegister(RateLimiterBuckets)
	prometheus.MustRegister(PanicsRecovered)
	prometheus.MustRegister(WizardTransitions)
	prometheus.MustRegister(WizardSubmissions)
	prometheus.MustRegister(ReferenceFetches)
}

// Middleware records request counts and latency labelled by route pattern.
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			HTTPRequestInFlight.Inc()
			defer HTTPRequestInFlight.Dec()

			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			HTTPRequestTotals.WithLabelValues(c.Request().Method, path, strconv.Itoa(status)).Inc()
			HTTPRequestDuration.WithLabelValues(c.Request().Method, path).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Result maps an outcome onto the "result" label.
func Result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
