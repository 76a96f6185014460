package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/anshitraj/arcpay-core/app/repository"
	"github.com/anshitraj/arcpay-core/internal/pkg/bridge"
	"github.com/anshitraj/arcpay-core/internal/pkg/chain"
)

// BridgeController exposes cross-chain transfer estimation and execution.
type BridgeController struct {
	orchestrator *bridge.Orchestrator
	transfers    repository.BridgeTransferRepository
	registry     *chain.Registry
}

// NewBridgeController wires the controller to the orchestrator.
func NewBridgeController(orchestrator *bridge.Orchestrator, transfers repository.BridgeTransferRepository, registry *chain.Registry) *BridgeController {
	return &BridgeController{orchestrator: orchestrator, transfers: transfers, registry: registry}
}

type estimateRequest struct {
	Amount        string `json:"amount" validate:"required"`
	Currency      string `json:"currency"`
	SourceChainID int64  `json:"fromChain" validate:"required"`
	DestChainID   int64  `json:"toChain" validate:"required"`
}

// HandleEstimate returns a non-binding quote. No side effects.
func (bc *BridgeController) HandleEstimate(c *fiber.Ctx) error {
	var req estimateRequest
	if err := parseAndValidate(c, &req); err != nil {
		return validationErrorResponse(c, err)
	}
	quote, err := bridge.Estimate(req.Amount, req.Currency, req.SourceChainID, req.DestChainID,
		bc.registry.ConfirmationDepth(req.SourceChainID))
	if err != nil {
		return validationErrorResponse(c, err)
	}
	return c.JSON(quote)
}

// HandleInitiate creates a transfer and triggers the source-chain burn.
func (bc *BridgeController) HandleInitiate(c *fiber.Ctx) error {
	var req estimateRequest
	if err := parseAndValidate(c, &req); err != nil {
		return validationErrorResponse(c, err)
	}
	transfer, err := bc.orchestrator.Initiate(c.Context(), req.Amount, req.Currency, req.SourceChainID, req.DestChainID)
	if err != nil {
		if transfer != nil {
			// Burn submission failed; the transfer record carries the
			// failure detail for the caller.
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
				"error":    "bridge_error",
				"message":  "Burn submission failed; transfer recorded as failed",
				"transfer": transfer,
			})
		}
		return validationErrorResponse(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(transfer)
}

// HandleGet returns a transfer with its persisted phase and hashes.
func (bc *BridgeController) HandleGet(c *fiber.Ctx) error {
	transfer, err := bc.transfers.GetByID(c.Params("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(transfer)
}

// HandleList returns transfers, newest first.
func (bc *BridgeController) HandleList(c *fiber.Ctx) error {
	offset := c.QueryInt("offset", 0)
	limit := c.QueryInt("limit", 50)
	if limit < 1 || limit > 200 {
		limit = 50
	}
	transfers, err := bc.transfers.List(offset, limit)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"transfers": transfers})
}

// HandleCancel stops polling a transfer. On-chain effects already committed
// stay committed.
func (bc *BridgeController) HandleCancel(c *fiber.Ctx) error {
	if err := bc.orchestrator.Cancel(c.Params("id")); err != nil {
		if errors.Is(err, bridge.ErrTransferNotCancelable) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "not_cancelable", "message": "Transfer is not being polled",
			})
		}
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"message": "Polling stopped; committed on-chain effects are unaffected"})
}
