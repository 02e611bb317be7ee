package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"orderdesk/internal/faults"
	"orderdesk/internal/models"
	"orderdesk/internal/services"
)

// StatusClientClosedRequest mirrors nginx's 499 so withdrawn requests are
// distinguishable from server faults.
const StatusClientClosedRequest = 499

// OrderHandler handles HTTP requests for order registration.
type OrderHandler struct {
	service *services.OrderService
	logger  *zap.Logger
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(service *services.OrderService, logger *zap.Logger) *OrderHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderHandler{
		service: service,
		logger:  logger,
	}
}

// RegisterRoutes registers the order routes with the Fiber app.
func (h *OrderHandler) RegisterRoutes(router fiber.Router) {
	orderRoutes := router.Group("/orders")
	orderRoutes.Post("/", h.HandleRegisterOrder)
}

// HandleRegisterOrder accepts an order-creation command, runs the
// registration workflow, and maps failure kinds to HTTP statuses.
func (h *OrderHandler) HandleRegisterOrder(c *fiber.Ctx) error {
	var req models.OrderRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"code":    "INVALID_BODY",
			"message": "request body is not a valid order command",
		})
	}

	result, err := h.service.RegisterOrder(c.UserContext(), &req)
	if err != nil {
		return h.writeFailure(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(result)
}

func (h *OrderHandler) writeFailure(c *fiber.Ctx, err error) error {
	failure, ok := faults.As(err)
	if !ok {
		h.logger.Error("unclassified error reached the HTTP layer", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"code":    "INTERNAL_ERROR",
			"message": "order registration failed",
		})
	}

	if retryAfter, ok := failure.Meta["retry_after"].(string); ok {
		c.Set(fiber.HeaderRetryAfter, retryAfter)
	}

	body := fiber.Map{
		"code":    failure.Code,
		"message": failure.Message,
	}
	if len(failure.Meta) > 0 {
		body["details"] = failure.Meta
	}
	return c.Status(statusForKind(failure.Kind)).JSON(body)
}

func statusForKind(kind faults.Kind) int {
	switch kind {
	case faults.Validation:
		return fiber.StatusBadRequest
	case faults.BusinessRule:
		return fiber.StatusUnprocessableEntity
	case faults.ExternalService:
		return fiber.StatusServiceUnavailable
	case faults.Cancelled:
		return StatusClientClosedRequest
	default:
		// Storage, Transaction, Configuration: internal faults with no
		// retry guidance for the caller.
		return fiber.StatusInternalServerError
	}
}
