package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/vutran/payrec/app/models"
	"github.com/vutran/payrec/app/repository"
	"github.com/vutran/payrec/internal/pkg/payment"
	"gorm.io/gorm"
)

var (
	paymentService *payment.Service
	repos          *repository.Repositories
)

// InitializePaymentController injects the payment service and read-side
// repositories used by the order/payment handlers.
func InitializePaymentController(svc *payment.Service, r *repository.Repositories) {
	paymentService = svc
	repos = r
}

type createOrderRequest struct {
	OrderCode      string `json:"orderCode"`
	Amount         int64  `json:"amount"`
	Description    string `json:"description"`
	LinkedEntityID string `json:"linkedEntityId"`
}

func HandleCreateOrder(c *fiber.Ctx) error {
	if paymentService == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "service_unavailable"})
	}

	var req createOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body"})
	}
	if req.OrderCode == "" {
		req.OrderCode = "ORD-" + uuid.NewString()
	}

	order := &models.Order{
		OrderCode:      req.OrderCode,
		Amount:         req.Amount,
		Description:    req.Description,
		LinkedEntityID: req.LinkedEntityID,
	}
	if err := order.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_order", "message": err.Error()})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pmt, err := paymentService.CreateOrder(ctx, order)
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "order_exists"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "order_create_failed"})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"order":   order,
		"payment": pmt,
	})
}

func HandleGetPaymentStatus(c *fiber.Ctx) error {
	if repos == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "service_unavailable"})
	}

	orderCode := c.Params("orderCode")
	pmt, err := repos.Payment.GetByOrderCode(orderCode)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "payment_not_found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "payment_lookup_failed"})
	}

	return c.Status(fiber.StatusOK).JSON(pmt)
}

type linkOrderRequest struct {
	EntityID string `json:"entityId"`
}

func HandleLinkOrder(c *fiber.Ctx) error {
	if repos == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "service_unavailable"})
	}

	var req linkOrderRequest
	if err := c.BodyParser(&req); err != nil || req.EntityID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "entity_id_required"})
	}

	err := repos.Order.AttachLinkedEntity(c.Params("orderCode"), req.EntityID)
	if err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "order_not_found"})
		case errors.Is(err, models.ErrOrderAlreadyLinked):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "order_already_linked"})
		default:
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "order_link_failed"})
		}
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}
