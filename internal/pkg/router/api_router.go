package router

import (
	"github.com/vutran/payrec/app/controllers"
	"github.com/vutran/payrec/internal/pkg/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	// Gateway callbacks stay outside the rate limiter; the idempotency
	// ledger makes redeliveries harmless, throttling them only delays
	// settlement.
	app.Post("/webhooks/payment", controllers.HandlePaymentWebhook)

	api := app.Group("/api", limiter.New())
	v1 := api.Group("/v1")
	v1.Post("/orders", controllers.HandleCreateOrder)
	v1.Patch("/orders/:orderCode/link", controllers.HandleLinkOrder)
	v1.Get("/payments/:orderCode", controllers.HandleGetPaymentStatus)

	admin := v1.Group("/admin", middleware.AdminAPIKeyMiddleware())
	admin.Post("/reconcile", controllers.HandleTriggerReconciliation)
	admin.Get("/conflicts", controllers.HandleListConflicts)
	admin.Get("/audits", controllers.HandleListAudits)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
