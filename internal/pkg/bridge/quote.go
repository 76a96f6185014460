package bridge

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/anshitraj/arcpay-core/app/models"
	"github.com/anshitraj/arcpay-core/internal/pkg/env"
)

// Quote is a non-binding estimate for a cross-chain transfer. Producing one
// has no side effects.
type Quote struct {
	Amount            string        `json:"amount"`
	Currency          string        `json:"currency"`
	SourceChainID     int64         `json:"source_chain_id"`
	DestChainID       int64         `json:"dest_chain_id"`
	Fee               string        `json:"fee"`
	AmountAfterFee    string        `json:"amount_after_fee"`
	EstimatedDuration time.Duration `json:"estimated_duration_ns"`
}

// Estimate quotes fee and duration for a transfer. Fee basis points come
// from BRIDGE_FEE_BPS (default 10); duration scales with the source chain's
// confirmation depth since attestation waits for burn finality.
func Estimate(amount, currency string, sourceChainID, destChainID int64, confirmationDepth uint64) (*Quote, error) {
	if err := models.ValidateAmount(amount); err != nil {
		return nil, err
	}
	if currency == "" {
		currency = "USDC"
	}
	if sourceChainID == destChainID {
		return nil, fmt.Errorf("source and destination chains must differ")
	}

	amt, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, models.ErrInvalidAmount
	}

	feeBps := env.GetEnvInt("BRIDGE_FEE_BPS", 10)
	fee := amt.Mul(decimal.New(int64(feeBps), -4)).Round(6)
	after := amt.Sub(fee)

	blockTime := time.Duration(env.GetEnvInt("BRIDGE_BLOCK_SECONDS", 12)) * time.Second
	duration := time.Duration(confirmationDepth)*blockTime + 2*time.Minute

	return &Quote{
		Amount:            amt.String(),
		Currency:          currency,
		SourceChainID:     sourceChainID,
		DestChainID:       destChainID,
		Fee:               fee.String(),
		AmountAfterFee:    after.String(),
		EstimatedDuration: duration,
	}, nil
}
