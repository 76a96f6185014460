package payment

import (
	"time"

	"github.com/anshitraj/arcpay-core/app/models"
)

// EventPayload is the exact wire shape POSTed to webhook endpoints:
// {"type": ..., "data": {"payment": ...}, "timestamp": ISO8601}. Field order
// and naming are part of the signing contract; consumers verify the
// HMAC over these raw bytes.
type EventPayload struct {
	Type      string    `json:"type"`
	Data      EventData `json:"data"`
	Timestamp string    `json:"timestamp"`
}

// EventData wraps the payment snapshot.
type EventData struct {
	Payment PaymentView `json:"payment"`
}

// PaymentView is the externally visible snapshot of a payment intent at the
// moment of the transition the event describes.
type PaymentView struct {
	ID                 string  `json:"id"`
	Status             string  `json:"status"`
	Amount             string  `json:"amount"`
	Currency           string  `json:"currency"`
	SettlementCurrency string  `json:"settlement_currency"`
	MerchantWallet     string  `json:"merchant_wallet"`
	PayerWallet        *string `json:"payer_wallet,omitempty"`
	TxHash             *string `json:"tx_hash,omitempty"`
	Description        string  `json:"description,omitempty"`
	Mode               string  `json:"mode"`
	CreatedAt          string  `json:"created_at"`
}

// NewPaymentView builds the snapshot embedded in webhook payloads.
func NewPaymentView(intent *models.PaymentIntent) PaymentView {
	return PaymentView{
		ID:                 intent.ID,
		Status:             intent.Status,
		Amount:             intent.Amount,
		Currency:           intent.Currency,
		SettlementCurrency: intent.SettlementCurrency,
		MerchantWallet:     intent.MerchantWallet,
		PayerWallet:        intent.PayerWallet,
		TxHash:             intent.TxHash,
		Description:        intent.Description,
		Mode:               intent.Mode,
		CreatedAt:          intent.CreatedAt.UTC().Format(time.RFC3339),
	}
}
