package metrics

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sakashimaa/order-saga/pkg/bus"
)

const namespace = "order_saga"

type SagaMetrics struct {
	StageOutcomes   *prometheus.CounterVec
	HandlerDuration *prometheus.HistogramVec
	Duplicates      *prometheus.CounterVec
	OutboxRelayed   *prometheus.CounterVec
	OutboxBacklog   prometheus.Gauge
	DeadLettered    *prometheus.CounterVec
	HTTPRequests    *prometheus.CounterVec
}

// NewSagaMetrics registers the saga collectors for service on reg. Every
// service process gets its own registry so tests can use a fresh one.
func NewSagaMetrics(reg prometheus.Registerer, service string) *SagaMetrics {
	m := &SagaMetrics{
		StageOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "stage_outcomes_total",
			Help:      "Saga stage outcomes applied to orders.",
		}, []string{"stage", "outcome"}),
		HandlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "handler_duration_seconds",
			Help:      "Time spent handling one delivered event.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event", "result"}),
		Duplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "duplicate_deliveries_total",
			Help:      "Deliveries acknowledged as no-ops because the work was already done.",
		}, []string{"event"}),
		OutboxRelayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "outbox_relayed_total",
			Help:      "Outbox rows handed to the transport.",
		}, []string{"result"}),
		OutboxBacklog: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "outbox_backlog",
			Help:      "Outbox rows waiting to be relayed.",
		}),
		DeadLettered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "dead_lettered_total",
			Help:      "Messages moved to a dead-letter topic after exhausting retries.",
		}, []string{"topic"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"handler", "status"}),
	}

	reg.MustRegister(
		m.StageOutcomes,
		m.HandlerDuration,
		m.Duplicates,
		m.OutboxRelayed,
		m.OutboxBacklog,
		m.DeadLettered,
		m.HTTPRequests,
	)

	return m
}

// NewRegistry returns a registry preloaded with the go and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return reg
}

func Handler(reg *prometheus.Registry) fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		Registry: reg,
	}))
}

// Observe wraps a bus handler with the duration histogram.
func (m *SagaMetrics) Observe(next bus.HandlerFunc) bus.HandlerFunc {
	return func(ctx context.Context, msg bus.Message) error {
		start := time.Now()
		err := next(ctx, msg)

		result := "ok"
		if err != nil {
			result = "error"
		}
		m.HandlerDuration.WithLabelValues(msg.Event, result).Observe(time.Since(start).Seconds())

		return err
	}
}

// Mount adds /health and /metrics to app.
func Mount(app *fiber.App, reg *prometheus.Registry) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.SendString("OK")
	})
	app.Get("/metrics", Handler(reg))
}

// NewOpsApp is the operational app of services without a public API.
func NewOpsApp(reg *prometheus.Registry) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	Mount(app, reg)
	return app
}
