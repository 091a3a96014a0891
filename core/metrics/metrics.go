package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the application metrics on a dedicated prometheus registry.
type Registry struct {
	registry *prometheus.Registry

	HTTPRequestsTotal       *prometheus.CounterVec
	HTTPRequestDuration     *prometheus.HistogramVec
	OutboundRequestsTotal   *prometheus.CounterVec
	OutboundRequestDuration *prometheus.HistogramVec
	OutboundRetriesTotal    *prometheus.CounterVec
	TokenRefreshesTotal     *prometheus.CounterVec
	TokensClearedTotal      prometheus.Counter
}

func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"method", "path"},
		),
		OutboundRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xero_outbound_requests_total",
				Help: "Outbound calls to the ledger by endpoint and result",
			},
			[]string{"endpoint", "status"},
		),
		OutboundRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "xero_outbound_request_duration_seconds",
				Help:    "Outbound ledger call duration in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"endpoint"},
		),
		OutboundRetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xero_outbound_retries_total",
				Help: "Internal retries of ledger calls by reason",
			},
			[]string{"reason"},
		),
		TokenRefreshesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xero_token_refreshes_total",
				Help: "Token refresh attempts by outcome",
			},
			[]string{"outcome"},
		),
		TokensClearedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "xero_tokens_cleared_total",
				Help: "Token sets cleared after an irrecoverable failure",
			},
		),
	}

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.HTTPRequestsTotal,
		r.HTTPRequestDuration,
		r.OutboundRequestsTotal,
		r.OutboundRequestDuration,
		r.OutboundRetriesTotal,
		r.TokenRefreshesTotal,
		r.TokensClearedTotal,
	)
	return r
}

// Gatherer exposes the underlying registry for tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// ObserveOutbound records one outbound call. status is the HTTP status or "error".
func (r *Registry) ObserveOutbound(endpoint, status string, elapsed time.Duration) {
	r.OutboundRequestsTotal.WithLabelValues(endpoint, status).Inc()
	r.OutboundRequestDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

func (r *Registry) IncRetry(reason string) {
	r.OutboundRetriesTotal.WithLabelValues(reason).Inc()
}

func (r *Registry) IncRefresh(outcome string) {
	r.TokenRefreshesTotal.WithLabelValues(outcome).Inc()
}

func (r *Registry) IncTokensCleared() {
	r.TokensClearedTotal.Inc()
}

// Middleware counts inbound requests by route template.
func (r *Registry) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			path := c.Path()
			if path == "" {
				path = "unmatched"
			}

			r.HTTPRequestsTotal.WithLabelValues(c.Request().Method, path, strconv.Itoa(status)).Inc()
			r.HTTPRequestDuration.WithLabelValues(c.Request().Method, path).Observe(time.Since(start).Seconds())
			return err
		}
	}
}
