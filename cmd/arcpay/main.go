package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/anshitraj/arcpay-core/app/controllers"
	"github.com/anshitraj/arcpay-core/app/repository"
	"github.com/anshitraj/arcpay-core/internal/pkg/apikeys"
	"github.com/anshitraj/arcpay-core/internal/pkg/bridge"
	"github.com/anshitraj/arcpay-core/internal/pkg/cache"
	"github.com/anshitraj/arcpay-core/internal/pkg/chain"
	"github.com/anshitraj/arcpay-core/internal/pkg/database"
	"github.com/anshitraj/arcpay-core/internal/pkg/env"
	"github.com/anshitraj/arcpay-core/internal/pkg/payment"
	"github.com/anshitraj/arcpay-core/internal/pkg/router"
	"github.com/anshitraj/arcpay-core/internal/pkg/webhook"
)

func main() {
	app, shutdown := NewApplication()
	defer shutdown()

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))
	if err := app.Listen(addr); err != nil {
		log.Fatal(err)
	}
}

// NewApplication wires the full gateway: storage, cache, state machine,
// background workers and the HTTP surface. The returned shutdown function
// stops the workers in reverse start order.
func NewApplication() (*fiber.App, func()) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()
	repository.InitializeFactory(database.GetDB())

	repos := repository.GetGlobalFactory()
	registry := chain.NewRegistry()

	// Webhook delivery engine
	webhookManager := webhook.GetManager()

	// Payment state machine feeding the dispatcher
	machine := payment.NewMachine(
		repos.GetPaymentIntentRepository(),
		webhookManager.GetDispatcher(),
	)
	sweeper := payment.NewExpirySweeper(machine, repos.GetPaymentIntentRepository())
	watcher := chain.NewWatcher(repos.GetPaymentIntentRepository(), machine, registry)

	// Bridge orchestrator, resuming any in-flight transfers
	orchestrator := bridge.NewOrchestrator(
		repos.GetBridgeTransferRepository(),
		registry,
		bridge.NewHTTPExecutor(),
		bridge.NewHTTPAttester(),
	)

	webhookManager.Start()
	sweeper.Start()
	watcher.Start()
	if err := orchestrator.ResumeInFlight(); err != nil {
		log.Printf("Failed to resume in-flight bridge transfers: %v", err)
	}

	app := fiber.New(fiber.Config{
		AppName: "arcpay-core",
	})
	app.Use(recover.New(), logger.New())
	app.Get("/metrics", monitor.New())

	keyManager := apikeys.NewManager(repos.GetApiKeyRepository(), apikeys.NewSecretStore())

	apiRouter := router.NewApiRouter(
		controllers.NewPaymentController(machine, repos.GetPaymentIntentRepository(), repos.GetWebhookRepository()),
		controllers.NewWebhookController(repos.GetWebhookRepository()),
		controllers.NewApiKeyController(keyManager),
		controllers.NewBridgeController(orchestrator, repos.GetBridgeTransferRepository(), registry),
	)
	router.InstallRouter(app, apiRouter)

	shutdown := func() {
		orchestrator.Shutdown()
		watcher.Stop()
		sweeper.Stop()
		webhookManager.Stop()
	}
	return app, shutdown
}
