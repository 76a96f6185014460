package controllers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/anshitraj/arcpay-core/app/models"
	"github.com/anshitraj/arcpay-core/app/repository"
	"github.com/anshitraj/arcpay-core/internal/pkg/payment"
)

// PaymentController exposes the payment intent lifecycle over HTTP. Status
// changes all go through the state machine; the controller never writes
// status itself.
type PaymentController struct {
	machine *payment.Machine
	intents repository.PaymentIntentRepository
	events  repository.WebhookRepository
}

// NewPaymentController wires the controller to its collaborators.
func NewPaymentController(machine *payment.Machine, intents repository.PaymentIntentRepository, events repository.WebhookRepository) *PaymentController {
	return &PaymentController{machine: machine, intents: intents, events: events}
}

type createPaymentRequest struct {
	Amount             string  `json:"amount" validate:"required"`
	Currency           string  `json:"currency"`
	SettlementCurrency string  `json:"settlementCurrency" validate:"omitempty,oneof=USDC EURC"`
	MerchantWallet     string  `json:"merchantWallet" validate:"required"`
	ChainID            int64   `json:"paymentChainId"`
	Description        string  `json:"description" validate:"max=500"`
	CustomerEmail      *string `json:"customerEmail" validate:"omitempty,email"`
	ExpiresInMinutes   int     `json:"expiresInMinutes" validate:"omitempty,min=1,max=10080"`
	IsTest             *bool   `json:"isTest"`
	GasSponsored       bool    `json:"gasSponsored"`
}

// HandleCreate creates a payment intent and emits payment.created.
func (pc *PaymentController) HandleCreate(c *fiber.Ctx) error {
	var req createPaymentRequest
	if err := parseAndValidate(c, &req); err != nil {
		return validationErrorResponse(c, err)
	}

	// An absent isTest flag is recorded as legacy, never guessed.
	mode := models.ModeLegacy
	if req.IsTest != nil {
		mode = models.ModeLive
		if *req.IsTest {
			mode = models.ModeTest
		}
	}

	intent, err := models.NewPaymentIntent(req.Amount, req.Currency, req.SettlementCurrency, req.MerchantWallet, mode)
	if err != nil {
		return validationErrorResponse(c, err)
	}
	intent.ChainID = req.ChainID
	intent.Description = req.Description
	intent.CustomerEmail = req.CustomerEmail
	intent.GasSponsored = req.GasSponsored
	if req.ExpiresInMinutes > 0 {
		expiresAt := time.Now().Add(time.Duration(req.ExpiresInMinutes) * time.Minute)
		intent.ExpiresAt = &expiresAt
	}

	if err := pc.machine.Create(intent); err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(intent)
}

// HandleGet returns a payment intent by ID.
func (pc *PaymentController) HandleGet(c *fiber.Ctx) error {
	intent, err := pc.intents.GetByID(c.Params("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(intent)
}

// HandleList returns payment intents, newest first.
func (pc *PaymentController) HandleList(c *fiber.Ctx) error {
	offset := c.QueryInt("offset", 0)
	limit := c.QueryInt("limit", 50)
	if limit < 1 || limit > 200 {
		limit = 50
	}
	intents, err := pc.intents.List(offset, limit)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"payments": intents})
}

type submitTxRequest struct {
	PaymentID     string  `json:"paymentId" validate:"required"`
	TxHash        string  `json:"txHash" validate:"required"`
	PayerWallet   string  `json:"payerWallet" validate:"required"`
	CustomerEmail *string `json:"customerEmail" validate:"omitempty,email"`
}

// HandleSubmitTx attaches settlement evidence and moves the payment to
// pending. Confirmation itself only comes from the settlement watcher.
func (pc *PaymentController) HandleSubmitTx(c *fiber.Ctx) error {
	var req submitTxRequest
	if err := parseAndValidate(c, &req); err != nil {
		return validationErrorResponse(c, err)
	}
	intent, err := pc.machine.MarkPending(req.PaymentID, req.TxHash, req.PayerWallet, req.CustomerEmail)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{
		"payment": intent,
		"message": "Transaction recorded; confirmation pending on-chain finality",
	})
}

type failPaymentRequest struct {
	PaymentID string `json:"paymentId" validate:"required"`
	Reason    string `json:"reason" validate:"max=500"`
}

// HandleFail marks a payment as failed.
func (pc *PaymentController) HandleFail(c *fiber.Ctx) error {
	var req failPaymentRequest
	if err := parseAndValidate(c, &req); err != nil {
		return validationErrorResponse(c, err)
	}
	intent, err := pc.machine.Fail(req.PaymentID, req.Reason)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"payment": intent})
}

type expirePaymentRequest struct {
	PaymentID string `json:"paymentId" validate:"required"`
}

// HandleExpire expires a past-due payment on request; the sweeper handles
// the rest.
func (pc *PaymentController) HandleExpire(c *fiber.Ctx) error {
	var req expirePaymentRequest
	if err := parseAndValidate(c, &req); err != nil {
		return validationErrorResponse(c, err)
	}
	intent, err := pc.machine.Expire(req.PaymentID)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"payment": intent})
}

type refundPaymentRequest struct {
	PaymentID string `json:"paymentId" validate:"required"`
}

// HandleRefund moves a confirmed payment to refunded.
func (pc *PaymentController) HandleRefund(c *fiber.Ctx) error {
	var req refundPaymentRequest
	if err := parseAndValidate(c, &req); err != nil {
		return validationErrorResponse(c, err)
	}
	intent, err := pc.machine.Refund(req.PaymentID)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"payment": intent})
}

// HandleListEvents returns the webhook events recorded for a payment.
func (pc *PaymentController) HandleListEvents(c *fiber.Ctx) error {
	if _, err := pc.intents.GetByID(c.Params("id")); err != nil {
		return errorResponse(c, err)
	}
	events, err := pc.events.ListEventsByPayment(c.Params("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"events": events})
}
