package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	auth "github.com/goliatone/go-portal-auth"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the auth metrics. It is an auth.AuditSink so every
// recorded audit entry is counted by action.
type Collector struct {
	registry        *prometheus.Registry
	auditEvents     *prometheus.CounterVec
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	inFlight        prometheus.Gauge
}

var _ auth.AuditSink = (*Collector)(nil)

func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		auditEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "portal_auth",
				Name:      "audit_events_total",
				Help:      "Audit entries recorded, by action.",
			},
			[]string{"action", "entity"},
		),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "portal_auth",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests.",
			},
			[]string{"method", "route", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "portal_auth",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latencies in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "portal_auth",
			Name:      "http_in_flight_requests",
			Help:      "In-flight HTTP requests.",
		}),
	}

	c.registry.MustRegister(
		c.auditEvents,
		c.requestsTotal,
		c.requestDuration,
		c.inFlight,
		prometheus.NewGoCollector(),
	)
	return c
}

// Registry exposes the underlying registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Consume implements auth.AuditSink
func (c *Collector) Consume(_ context.Context, entry auth.AuditEntry) error {
	c.auditEvents.WithLabelValues(string(entry.Action), entry.Entity).Inc()
	return nil
}

// Middleware measures requests by route pattern
func (c *Collector) Middleware() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		c.inFlight.Inc()
		defer c.inFlight.Dec()

		start := time.Now()
		err := ctx.Next()

		status := ctx.Response().StatusCode()
		if err != nil {
			if ferr, ok := err.(*fiber.Error); ok {
				status = ferr.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}

		route := ctx.Route().Path
		labels := []string{ctx.Method(), route, strconv.Itoa(status)}
		c.requestDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
		c.requestsTotal.WithLabelValues(labels...).Inc()

		return err
	}
}

// Handler serves the registry in the Prometheus text format
func (c *Collector) Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
}
