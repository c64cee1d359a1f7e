package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/vutran/payrec/app/controllers"
	"github.com/vutran/payrec/app/repository"
	"github.com/vutran/payrec/internal/pkg/cache"
	"github.com/vutran/payrec/internal/pkg/database"
	"github.com/vutran/payrec/internal/pkg/env"
	"github.com/vutran/payrec/internal/pkg/payment"
	"github.com/vutran/payrec/internal/pkg/router"
)

func main() {
	app, manager := NewApplication()

	// Graceful shutdown: drain the background workers before the listener
	// closes, otherwise an in-flight sweep can lose its lock release.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutdown signal received")
		manager.Stop()
		_ = app.Shutdown()
	}()

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() (*fiber.App, *payment.Manager) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	db := database.GetDB()

	checksumKey := env.GetEnv("GATEWAY_CHECKSUM_KEY", "")
	if checksumKey == "" {
		log.Fatal("GATEWAY_CHECKSUM_KEY is not configured")
	}

	notifier := payment.NewSMTPNotifierFromEnv()
	linker := payment.NewOrderEntityLinker(db)
	svc := payment.NewService(db, notifier, linker, checksumKey)

	repos := repository.NewRepositories(db)
	controllers.InitializeWebhookController(svc)
	controllers.InitializePaymentController(svc, repos)

	grace := 60
	if v, err := strconv.Atoi(env.GetEnv("RECONCILE_GRACE_MINUTES", "60")); err == nil && v > 0 {
		grace = v
	}
	reconciler := payment.NewReconciler(db, svc, payment.NewGatewayClientFromEnv(), time.Duration(grace)*time.Minute)

	manager := payment.NewManager(reconciler)
	payment.SetManager(manager)
	manager.Start()

	app := fiber.New(fiber.Config{
		AppName:      "payrec",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("METRICS_USER", "admin"): env.GetEnv("METRICS_PASSWORD", "test"),
		},
	}), monitor.New())

	// ROUTER
	router.InstallRouter(app)

	return app, manager
}
