package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/anshitraj/arcpay-core/app/controllers"
	"github.com/anshitraj/arcpay-core/internal/pkg/middleware"
)

// ApiRouter installs the payment gateway API surface.
type ApiRouter struct {
	payments *controllers.PaymentController
	webhooks *controllers.WebhookController
	keys     *controllers.ApiKeyController
	bridge   *controllers.BridgeController
}

// NewApiRouter creates the router over wired controllers.
func NewApiRouter(
	payments *controllers.PaymentController,
	webhooks *controllers.WebhookController,
	keys *controllers.ApiKeyController,
	bridge *controllers.BridgeController,
) *ApiRouter {
	return &ApiRouter{payments: payments, webhooks: webhooks, keys: keys, bridge: bridge}
}

// InstallRouter attaches all API routes. Everything below /api requires a
// merchant secret key.
func (h *ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(), middleware.APIKeyAuthMiddleware())

	payments := api.Group("/payments")
	payments.Post("/create", h.payments.HandleCreate)
	payments.Post("/submit-tx", h.payments.HandleSubmitTx)
	// Legacy alias kept for SDKs still calling confirm.
	payments.Post("/confirm", h.payments.HandleSubmitTx)
	payments.Post("/fail", h.payments.HandleFail)
	payments.Post("/expire", h.payments.HandleExpire)
	payments.Post("/refund", h.payments.HandleRefund)
	payments.Get("/", h.payments.HandleList)
	payments.Get("/:id", h.payments.HandleGet)
	payments.Get("/:id/events", h.payments.HandleListEvents)

	webhooks := api.Group("/webhooks")
	webhooks.Post("/", h.webhooks.HandleCreateSubscription)
	webhooks.Get("/", h.webhooks.HandleListSubscriptions)
	webhooks.Get("/:id", h.webhooks.HandleGetSubscription)
	webhooks.Patch("/:id", h.webhooks.HandleUpdateSubscription)
	webhooks.Delete("/:id", h.webhooks.HandleDeleteSubscription)
	api.Get("/events/:id", h.webhooks.HandleGetEvent)

	keys := api.Group("/keys")
	keys.Post("/", h.keys.HandleCreate)
	keys.Get("/", h.keys.HandleList)
	keys.Post("/:id/reveal", h.keys.HandleReveal)
	keys.Post("/:id/regenerate", h.keys.HandleRegenerate)
	keys.Patch("/:id", h.keys.HandleRename)
	keys.Delete("/:id", h.keys.HandleDelete)

	bridge := api.Group("/bridge")
	bridge.Post("/estimate", h.bridge.HandleEstimate)
	bridge.Post("/transfers", h.bridge.HandleInitiate)
	bridge.Get("/transfers", h.bridge.HandleList)
	bridge.Get("/transfers/:id", h.bridge.HandleGet)
	bridge.Post("/transfers/:id/cancel", h.bridge.HandleCancel)
}
