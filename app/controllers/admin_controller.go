package controllers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/vutran/payrec/app/models"
	"github.com/vutran/payrec/internal/pkg/payment"
)

// HandleTriggerReconciliation runs a reconciliation sweep on demand.
func HandleTriggerReconciliation(c *fiber.Ctx) error {
	m := payment.GetManager()
	if m == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "manager_not_running"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	report, err := m.RunScanOnce(ctx)
	if err != nil {
		log.Errorf("[Admin] manual reconciliation failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "reconciliation_failed"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "report": report})
}

// HandleListConflicts lists webhook events flagged for reconciliation.
func HandleListConflicts(c *fiber.Ctx) error {
	if repos == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "service_unavailable"})
	}

	offset := c.QueryInt("offset", 0)
	limit := c.QueryInt("limit", 50)
	if limit > 200 {
		limit = 200
	}

	events, err := repos.WebhookEvent.ListByStatus(models.WebhookStatusConflict, offset, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "conflict_list_failed"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"count": len(events), "events": events})
}

// HandleListAudits lists the reconciliation audit trail, optionally
// filtered by order code.
func HandleListAudits(c *fiber.Ctx) error {
	if repos == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "service_unavailable"})
	}

	if orderCode := c.Query("orderCode"); orderCode != "" {
		audits, err := repos.PaymentAudit.ListByOrderCode(orderCode)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "audit_list_failed"})
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"count": len(audits), "audits": audits})
	}

	offset := c.QueryInt("offset", 0)
	limit := c.QueryInt("limit", 50)
	if limit > 200 {
		limit = 200
	}
	audits, err := repos.PaymentAudit.List(offset, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "audit_list_failed"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"count": len(audits), "audits": audits})
}
