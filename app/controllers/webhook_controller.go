package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/anshitraj/arcpay-core/app/models"
	"github.com/anshitraj/arcpay-core/app/repository"
)

// WebhookController manages merchant webhook subscriptions and exposes the
// event/delivery audit trail.
type WebhookController struct {
	repo repository.WebhookRepository
}

// NewWebhookController wires the controller to the webhook repository.
func NewWebhookController(repo repository.WebhookRepository) *WebhookController {
	return &WebhookController{repo: repo}
}

type createSubscriptionRequest struct {
	URL        string   `json:"url" validate:"required,url,startswith=https://"`
	EventTypes []string `json:"eventTypes" validate:"required,min=1"`
}

// HandleCreateSubscription registers an endpoint. The signing secret is
// generated here and returned exactly once; afterwards it is only used
// server-side to sign deliveries.
func (wc *WebhookController) HandleCreateSubscription(c *fiber.Ctx) error {
	var req createSubscriptionRequest
	if err := parseAndValidate(c, &req); err != nil {
		return validationErrorResponse(c, err)
	}

	sub, err := models.NewWebhookSubscription(req.URL, req.EventTypes)
	if err != nil {
		return validationErrorResponse(c, err)
	}
	if err := wc.repo.CreateSubscription(sub); err != nil {
		return errorResponse(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":          sub.ID,
		"url":         sub.URL,
		"event_types": sub.EventTypeList(),
		"active":      sub.Active,
		"secret":      sub.Secret,
		"message":     "Store the secret now; it is not returned again",
	})
}

// HandleListSubscriptions returns subscriptions; inactive ones on request.
func (wc *WebhookController) HandleListSubscriptions(c *fiber.Ctx) error {
	includeInactive := c.QueryBool("include_inactive", false)
	subs, err := wc.repo.ListSubscriptions(includeInactive)
	if err != nil {
		return errorResponse(c, err)
	}
	out := make([]fiber.Map, 0, len(subs))
	for _, sub := range subs {
		out = append(out, subscriptionView(&sub))
	}
	return c.JSON(fiber.Map{"subscriptions": out})
}

// HandleGetSubscription returns one subscription without its secret.
func (wc *WebhookController) HandleGetSubscription(c *fiber.Ctx) error {
	sub, err := wc.repo.GetSubscription(c.Params("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(subscriptionView(sub))
}

type updateSubscriptionRequest struct {
	URL        *string  `json:"url" validate:"omitempty,url,startswith=https://"`
	EventTypes []string `json:"eventTypes"`
	Active     *bool    `json:"active"`
}

// HandleUpdateSubscription updates URL, event set or active flag. Setting
// active=false is the soft delete.
func (wc *WebhookController) HandleUpdateSubscription(c *fiber.Ctx) error {
	sub, err := wc.repo.GetSubscription(c.Params("id"))
	if err != nil {
		return errorResponse(c, err)
	}

	var req updateSubscriptionRequest
	if err := parseAndValidate(c, &req); err != nil {
		return validationErrorResponse(c, err)
	}

	if req.URL != nil {
		sub.URL = *req.URL
	}
	if req.EventTypes != nil {
		sub.EventTypes = ""
		if len(req.EventTypes) > 0 {
			sub.EventTypes = joinEventTypes(req.EventTypes)
		}
	}
	if req.Active != nil {
		sub.Active = *req.Active
	}
	if err := sub.Validate(); err != nil {
		return validationErrorResponse(c, err)
	}
	if err := wc.repo.UpdateSubscription(sub); err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(subscriptionView(sub))
}

// HandleDeleteSubscription hard-deletes a subscription on explicit request.
func (wc *WebhookController) HandleDeleteSubscription(c *fiber.Ctx) error {
	if _, err := wc.repo.GetSubscription(c.Params("id")); err != nil {
		return errorResponse(c, err)
	}
	if err := wc.repo.DeleteSubscription(c.Params("id")); err != nil {
		return errorResponse(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// HandleGetEvent returns an event with its per-subscription deliveries.
func (wc *WebhookController) HandleGetEvent(c *fiber.Ctx) error {
	event, err := wc.repo.GetEvent(c.Params("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	deliveries, err := wc.repo.ListDeliveriesByEvent(event.ID)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"event": event, "deliveries": deliveries})
}

func subscriptionView(sub *models.WebhookSubscription) fiber.Map {
	return fiber.Map{
		"id":          sub.ID,
		"url":         sub.URL,
		"event_types": sub.EventTypeList(),
		"active":      sub.Active,
		"created_at":  sub.CreatedAt,
	}
}

func joinEventTypes(types []string) string {
	out := ""
	for i, t := range types {
		if i > 0 {
			out += ","
		}
		out += t
	}
	return out
}
