package controllers

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/anshitraj/arcpay-core/app/models"
	"github.com/anshitraj/arcpay-core/internal/pkg/apikeys"
	"github.com/anshitraj/arcpay-core/internal/pkg/payment"
)

var validate = validator.New()

// parseAndValidate binds the JSON body and runs struct validation.
// Validation failures are the caller's fault and never persisted.
func parseAndValidate(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return fmt.Errorf("malformed request body: %w", err)
	}
	return validate.Struct(out)
}

// validationErrorResponse renders a 400 with per-field messages.
func validationErrorResponse(c *fiber.Ctx, err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fmt.Sprintf("%s failed on %s", strings.ToLower(fe.Field()), fe.Tag()))
		}
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "validation_error",
			"message": strings.Join(fields, "; "),
		})
	}
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error":   "validation_error",
		"message": err.Error(),
	})
}

// errorResponse maps domain errors onto HTTP statuses. Callers always learn
// whether their request was invalid (4xx, no retry) or whether the system
// will retry on their behalf (stated in the message, not by failing).
func errorResponse(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "not_found", "message": "Resource not found",
		})
	case errors.Is(err, payment.ErrInvalidTransition):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "invalid_transition", "message": "Payment state does not allow this transition; state unchanged",
		})
	case errors.Is(err, payment.ErrNotExpired):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "not_expired", "message": "Payment has not reached its expiry timestamp",
		})
	case errors.Is(err, apikeys.ErrLimitExceeded):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "limit_exceeded", "message": "API key pair limit reached for this mode",
		})
	case errors.Is(err, apikeys.ErrNotSecretKey), errors.Is(err, apikeys.ErrInvalidMode),
		errors.Is(err, models.ErrInvalidAmount):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "validation_error", "message": err.Error(),
		})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "internal_server_error", "message": "Unexpected error",
	})
}
