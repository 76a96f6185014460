package controllers

import (
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/anshitraj/arcpay-core/app/models"
	"github.com/anshitraj/arcpay-core/internal/pkg/apikeys"
	"github.com/anshitraj/arcpay-core/internal/pkg/cache"
)

const listCacheTTLSeconds = 300

// ApiKeyController exposes the key lifecycle. Plaintext appears in exactly
// two responses: pair creation and the one-time reveal.
type ApiKeyController struct {
	manager *apikeys.Manager
}

// NewApiKeyController wires the controller to the key manager.
func NewApiKeyController(manager *apikeys.Manager) *ApiKeyController {
	return &ApiKeyController{manager: manager}
}

type createKeyPairRequest struct {
	Mode string `json:"mode" validate:"required,oneof=test live"`
	Name string `json:"name" validate:"max=150"`
}

// HandleCreate issues a publishable/secret pair and returns both plaintexts
// once.
func (kc *ApiKeyController) HandleCreate(c *fiber.Ctx) error {
	var req createKeyPairRequest
	if err := parseAndValidate(c, &req); err != nil {
		return validationErrorResponse(c, err)
	}

	pair, err := kc.manager.CreatePair(req.Mode, req.Name, principal(c))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"publishable_key": fiber.Map{
			"id":        pair.Publishable.ID,
			"prefix":    pair.Publishable.Prefix,
			"plaintext": pair.PublishableKey,
		},
		"secret_key": fiber.Map{
			"id":        pair.Secret.ID,
			"prefix":    pair.Secret.Prefix,
			"plaintext": pair.SecretKey,
		},
		"message": "Store the secret key now; it is shown once",
	})
}

// HandleList returns the keys for a mode. Listings are cached per mode;
// every create/regenerate/delete invalidates the cache.
func (kc *ApiKeyController) HandleList(c *fiber.Ctx) error {
	mode := c.Query("mode", models.KeyModeTest)

	if cached, err := cache.Get(apikeys.ListCacheKey(mode)); err == nil && cached != "" {
		var keys []models.ApiKey
		if json.Unmarshal([]byte(cached), &keys) == nil {
			return c.JSON(fiber.Map{"keys": keys})
		}
	}

	keys, err := kc.manager.ListByMode(mode)
	if err != nil {
		return errorResponse(c, err)
	}

	if raw, err := json.Marshal(keys); err == nil {
		if err := cache.Set(apikeys.ListCacheKey(mode), string(raw), listCacheTTLSeconds*time.Second); err != nil {
			log.Debugf("[ApiKeys] List cache write failed: %v", err)
		}
	}
	return c.JSON(fiber.Map{"keys": keys})
}

// HandleReveal returns a secret key's plaintext, one time per generation.
func (kc *ApiKeyController) HandleReveal(c *fiber.Ctx) error {
	result, err := kc.manager.Reveal(c.Params("id"), principal(c))
	if err != nil {
		return errorResponse(c, err)
	}
	if !result.Revealed {
		return c.JSON(fiber.Map{
			"id":       result.Key.ID,
			"prefix":   result.Key.Prefix,
			"revealed": false,
			"message":  "Secret already revealed; regenerate to obtain new material",
		})
	}
	return c.JSON(fiber.Map{
		"id":        result.Key.ID,
		"plaintext": result.Plaintext,
		"revealed":  true,
	})
}

// HandleRegenerate replaces a key's material and returns the new plaintext
// once. The old key stops authenticating immediately.
func (kc *ApiKeyController) HandleRegenerate(c *fiber.Ctx) error {
	key, plaintext, err := kc.manager.Regenerate(c.Params("id"), principal(c))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{
		"id":        key.ID,
		"prefix":    key.Prefix,
		"plaintext": plaintext,
		"message":   "Previous key material is invalid as of now",
	})
}

type renameKeyRequest struct {
	Name string `json:"name" validate:"required,max=150"`
}

// HandleRename updates a key's display name.
func (kc *ApiKeyController) HandleRename(c *fiber.Ctx) error {
	var req renameKeyRequest
	if err := parseAndValidate(c, &req); err != nil {
		return validationErrorResponse(c, err)
	}
	key, err := kc.manager.Rename(c.Params("id"), req.Name)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(key)
}

// HandleDelete removes the whole pair the key belongs to.
func (kc *ApiKeyController) HandleDelete(c *fiber.Ctx) error {
	if err := kc.manager.Delete(c.Params("id"), principal(c)); err != nil {
		return errorResponse(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// principal identifies the requester for audit entries: the authenticated
// key ID when present, otherwise the dashboard session.
func principal(c *fiber.Ctx) string {
	if id, ok := c.Locals("API_KEY_ID").(string); ok && id != "" {
		return id
	}
	return "dashboard"
}
