package handler

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/sakashimaa/order-saga/internal/order/repository"
	"github.com/sakashimaa/order-saga/internal/order/service"
	"github.com/sakashimaa/order-saga/pkg/domain"
	"github.com/sakashimaa/order-saga/pkg/metrics"
	"github.com/sakashimaa/order-saga/pkg/mylogger"
	"github.com/sakashimaa/order-saga/pkg/utils"
	"go.uber.org/zap"
)

type CreateOrderRequest struct {
	MemberID        int64                  `json:"member_id" validate:"required,gt=0"`
	Email           string                 `json:"email" validate:"omitempty,email"`
	ShippingAddress string                 `json:"shipping_address" validate:"required"`
	Items           []domain.OrderLineItem `json:"items" validate:"required,min=1,dive"`
}

type OrderItemResponse struct {
	ProductID     int64 `json:"product_id"`
	SellerID      int64 `json:"seller_id"`
	Quantity      int64 `json:"quantity"`
	UnitPrice     int64 `json:"unit_price"`
	DiscountValue int64 `json:"discount_value"`
	TotalPrice    int64 `json:"total_price"`
}

type StageResponse struct {
	Outcome   string `json:"outcome"`
	Reference string `json:"reference,omitempty"`
}

type OrderResponse struct {
	ID              string                   `json:"id"`
	MemberID        int64                    `json:"member_id"`
	ShippingAddress string                   `json:"shipping_address"`
	Status          string                   `json:"status"`
	TotalAmount     int64                    `json:"total_amount"`
	Items           []OrderItemResponse      `json:"items"`
	Stages          map[string]StageResponse `json:"stages"`
}

type OrderHandler struct {
	service  service.OrderService
	validate *validator.Validate
	metrics  *metrics.SagaMetrics
	logger   *zap.Logger
}

func NewOrderHandler(service service.OrderService, metrics *metrics.SagaMetrics, logger *zap.Logger) *OrderHandler {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	return &OrderHandler{
		service:  service,
		validate: validate,
		metrics:  metrics,
		logger:   logger,
	}
}

func (h *OrderHandler) Create(c *fiber.Ctx) error {
	input := new(CreateOrderRequest)

	if err := c.BodyParser(input); err != nil {
		mylogger.Warn(c.UserContext(), h.logger, "failed to parse body in create", zap.Error(err))

		return h.respond(c, "create", fiber.StatusBadRequest, fiber.Map{
			"error": "error parsing body",
		})
	}

	if err := h.validate.Struct(input); err != nil {
		return h.respond(c, "create", fiber.StatusBadRequest, fiber.Map{
			"error":  "validation failed",
			"fields": utils.FormatValidationError(err),
		})
	}

	order, err := h.service.PlaceOrder(c.UserContext(), service.PlaceOrderInput{
		MemberID:        input.MemberID,
		Email:           input.Email,
		ShippingAddress: input.ShippingAddress,
		Items:           input.Items,
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidOrder) {
			return h.respond(c, "create", fiber.StatusUnprocessableEntity, fiber.Map{
				"error": err.Error(),
			})
		}

		mylogger.Error(c.UserContext(), h.logger, "create order failed", zap.Error(err))

		return h.respond(c, "create", fiber.StatusInternalServerError, fiber.Map{
			"error": "internal error",
		})
	}

	return h.respond(c, "create", fiber.StatusCreated, toResponse(order))
}

func (h *OrderHandler) FindByID(c *fiber.Ctx) error {
	order, err := h.service.GetOrder(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.fail(c, "get", err)
	}

	return h.respond(c, "get", fiber.StatusOK, toResponse(order))
}

func (h *OrderHandler) MarkDelivered(c *fiber.Ctx) error {
	order, err := h.service.MarkDelivered(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.fail(c, "delivered", err)
	}

	return h.respond(c, "delivered", fiber.StatusOK, toResponse(order))
}

func (h *OrderHandler) fail(c *fiber.Ctx, name string, err error) error {
	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
		return h.respond(c, name, fiber.StatusNotFound, fiber.Map{"error": "order not found"})
	case errors.Is(err, domain.ErrIllegalTransition),
		errors.Is(err, domain.ErrTerminalStatus),
		errors.Is(err, domain.ErrStaleStatus),
		errors.Is(err, domain.ErrStageRecorded),
		errors.Is(err, repository.ErrOrderExists):
		return h.respond(c, name, fiber.StatusConflict, fiber.Map{"error": err.Error()})
	default:
		mylogger.Error(c.UserContext(), h.logger, "order request failed", zap.String("handler", name), zap.Error(err))
		return h.respond(c, name, fiber.StatusInternalServerError, fiber.Map{"error": "internal error"})
	}
}

func (h *OrderHandler) respond(c *fiber.Ctx, name string, status int, body any) error {
	h.metrics.HTTPRequests.WithLabelValues(name, statusLabel(status)).Inc()
	return c.Status(status).JSON(body)
}

func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	default:
		return "2xx"
	}
}

func toResponse(order *domain.Order) OrderResponse {
	items := make([]OrderItemResponse, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, OrderItemResponse{
			ProductID:     item.ProductID,
			SellerID:      item.SellerID,
			Quantity:      item.Quantity,
			UnitPrice:     item.UnitPrice,
			DiscountValue: item.DiscountValue,
			TotalPrice:    item.TotalPrice,
		})
	}

	stages := make(map[string]StageResponse, len(order.Stages))
	for stage, record := range order.Stages {
		stages[string(stage)] = StageResponse{
			Outcome:   string(record.Outcome),
			Reference: record.Reference,
		}
	}

	return OrderResponse{
		ID:              order.ID,
		MemberID:        order.MemberID,
		ShippingAddress: order.ShippingAddress,
		Status:          order.Status.String(),
		TotalAmount:     order.TotalAmount,
		Items:           items,
		Stages:          stages,
	}
}
