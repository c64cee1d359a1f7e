package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/vutran/payrec/internal/pkg/metrics/counter"
	"github.com/vutran/payrec/internal/pkg/payment"
)

var webhookService *payment.Service

// InitializeWebhookController injects the payment service used by the
// webhook handler.
func InitializeWebhookController(svc *payment.Service) {
	webhookService = svc
}

// ingestTimeout is the overall request deadline for one webhook. If the
// transaction cannot commit within it the gateway gets a retryable error;
// the idempotency ledger absorbs the eventual redelivery.
const ingestTimeout = 15 * time.Second

func HandlePaymentWebhook(c *fiber.Ctx) error {
	if webhookService == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "service_unavailable"})
	}
	rawBody := append([]byte(nil), c.BodyRaw()...)

	if err := counter.AddReceived(); err != nil {
		log.Warnf("[Webhook] received counter increment failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), ingestTimeout)
	defer cancel()

	res, err := webhookService.Ingest(ctx, rawBody)
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrMalformedPayload):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
		case errors.Is(err, payment.ErrInvalidSignature):
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature"})
		default:
			log.Errorf("[Webhook] ingest failed: %v", err)
			// Retryable: the gateway redelivers and the ledger dedupes.
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_persist_failed"})
		}
	}

	if res.Duplicate {
		if err := counter.AddDuplicate(); err != nil {
			log.Warnf("[Webhook] duplicate counter increment failed: %v", err)
		}
	}
	if res.Conflict {
		if err := counter.AddConflict(); err != nil {
			log.Warnf("[Webhook] conflict counter increment failed: %v", err)
		}
	}
	if res.CompletedNow {
		if err := counter.AddCompleted(); err != nil {
			log.Warnf("[Webhook] completed counter increment failed: %v", err)
		}
	}

	// Business conflicts are acknowledged with 200 to stop retry storms;
	// reconciliation picks them up from the flagged event.
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"code": payment.GatewayCodeSuccess,
		"desc": "success",
		"data": fiber.Map{
			"orderCode":      res.OrderCode,
			"status":         res.PaymentStatus,
			"duplicate":      res.Duplicate,
			"linkedEntityId": res.LinkedEntityID,
		},
	})
}
