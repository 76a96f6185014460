package middleware

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/anshitraj/arcpay-core/app/models"
	"github.com/anshitraj/arcpay-core/app/repository"
	"github.com/anshitraj/arcpay-core/internal/pkg/apikeys"
)

// Locals keys set for authenticated requests.
const (
	KeyAPIKeyID = "API_KEY_ID"
	KeyMode     = "API_KEY_MODE"
)

// APIKeyAuthMiddleware authenticates requests carrying a merchant secret
// key. Publishable keys never authenticate server-side calls.
func APIKeyAuthMiddleware() fiber.Handler {
	manager := apikeys.NewManager(
		repository.GetGlobalFactory().GetApiKeyRepository(),
		apikeys.NewSecretStore(),
	)
	return func(c *fiber.Ctx) error {
		rawKey := extractAPIKeyFromHeader(c)
		if rawKey == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing API key"})
		}

		key, err := manager.Authenticate(rawKey)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid API key"})
			}
			log.Errorf("[Auth] API key lookup failed: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "API key verification failed"})
		}
		if key.KeyType != models.KeyTypeSecret {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid API key"})
		}

		c.Locals(KeyAPIKeyID, key.ID)
		c.Locals(KeyMode, key.Mode)

		return c.Next()
	}
}

func extractAPIKeyFromHeader(c *fiber.Ctx) string {
	apiKey := strings.TrimSpace(c.Get("X-API-Key"))
	if apiKey != "" {
		return apiKey
	}
	auth := strings.TrimSpace(c.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
