package http

import (
	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sakashimaa/order-saga/internal/order/transport/http/handler"
	"github.com/sakashimaa/order-saga/pkg/config"
	"github.com/sakashimaa/order-saga/pkg/metrics"
)

type Handlers struct {
	Order *handler.OrderHandler
}

// NewApp builds the order API with tracing, rate limiting and the
// operational endpoints.
func NewApp(cfg config.Limiter, h *Handlers, reg *prometheus.Registry) *fiber.App {
	app := fiber.New()

	app.Use(otelfiber.Middleware())

	metrics.Mount(app, reg)

	api := app.Group("/api", limiter.New(limiter.Config{
		Max:        cfg.Max,
		Expiration: cfg.Expiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests. Try again later.",
			})
		},
	}))

	order := api.Group("/orders")
	order.Post("", h.Order.Create)
	order.Get("/:id", h.Order.FindByID)
	order.Post("/:id/delivered", h.Order.MarkDelivered)

	return app
}
