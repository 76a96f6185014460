package router

import (
	"github.com/gofiber/fiber/v2"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// InstallRouter attaches all routers plus a health endpoint.
func InstallRouter(app *fiber.App, routers ...Router) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	for _, r := range routers {
		r.InstallRouter(app)
	}
}
