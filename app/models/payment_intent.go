package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	PaymentStatusCreated   = "created"
	PaymentStatusPending   = "pending"
	PaymentStatusConfirmed = "confirmed"
	PaymentStatusFailed    = "failed"
	PaymentStatusExpired   = "expired"
	PaymentStatusRefunded  = "refunded"
)

// Mode distinguishes test and live payments. Rows written before the flag
// existed carry ModeLegacy instead of being silently classified either way.
const (
	ModeTest   = "test"
	ModeLive   = "live"
	ModeLegacy = "legacy"
)

var ErrInvalidAmount = errors.New("amount must be a positive decimal string")

// PaymentIntent is a merchant's request to receive a specific amount,
// tracked through its lifecycle to settlement. Amount is a decimal string
// and immutable after creation; status is mutated only through the payment
// state machine.
type PaymentIntent struct {
	ID                 string         `gorm:"primaryKey;type:varchar(45)" json:"id"`
	Amount             string         `gorm:"type:varchar(40);not null" json:"amount" validate:"required"`
	Currency           string         `gorm:"type:varchar(10);not null;default:'USDC'" json:"currency" validate:"required,max=10"`
	SettlementCurrency string         `gorm:"type:varchar(10);not null;default:'USDC'" json:"settlement_currency" validate:"omitempty,oneof=USDC EURC"`
	Status             string         `gorm:"type:varchar(20);not null;default:'created';index" json:"status"`
	MerchantWallet     string         `gorm:"type:varchar(100);not null;index" json:"merchant_wallet" validate:"required"`
	PayerWallet        *string        `gorm:"type:varchar(100)" json:"payer_wallet,omitempty"`
	TxHash             *string        `gorm:"type:varchar(100);index" json:"tx_hash,omitempty"`
	ChainID            int64          `gorm:"not null;default:0" json:"chain_id"`
	Description        string         `gorm:"type:varchar(500)" json:"description,omitempty" validate:"max=500"`
	CustomerEmail      *string        `gorm:"type:varchar(200)" json:"customer_email,omitempty"`
	FailureReason      string         `gorm:"type:varchar(500)" json:"failure_reason,omitempty"`
	Mode               string         `gorm:"type:varchar(10);not null;default:'legacy';index" json:"mode"`
	GasSponsored       bool           `gorm:"default:false" json:"gas_sponsored"`
	DisputedAt         *time.Time     `gorm:"type:timestamp" json:"disputed_at,omitempty"`
	ExpiresAt          *time.Time     `gorm:"type:timestamp" json:"expires_at,omitempty"`
	CreatedAt          time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt          time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt          gorm.DeletedAt `gorm:"index" json:"-"`
}

func (p *PaymentIntent) Validate() error {
	v := validator.New()
	if err := v.Struct(p); err != nil {
		return err
	}
	return ValidateAmount(p.Amount)
}

// ValidateAmount checks the decimal string without ever going through a
// float. Currency-exact amounts stay strings end to end.
func ValidateAmount(raw string) error {
	amt, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return ErrInvalidAmount
	}
	if !amt.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}

// NewPaymentIntent builds a validated intent in the created state.
func NewPaymentIntent(amount, currency, settlementCurrency, merchantWallet, mode string) (*PaymentIntent, error) {
	if currency == "" {
		currency = "USDC"
	}
	if settlementCurrency == "" {
		settlementCurrency = currency
	}
	p := &PaymentIntent{
		ID:                 NewPaymentID(),
		Amount:             strings.TrimSpace(amount),
		Currency:           currency,
		SettlementCurrency: settlementCurrency,
		Status:             PaymentStatusCreated,
		MerchantWallet:     merchantWallet,
		Mode:               NormalizeMode(mode),
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// NewPaymentID returns a display-prefixed payment identifier.
func NewPaymentID() string {
	return fmt.Sprintf("pay_%s", strings.ReplaceAll(uuid.New().String(), "-", ""))
}

// NormalizeMode maps arbitrary input to the three-state mode enum.
func NormalizeMode(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case ModeTest:
		return ModeTest
	case ModeLive:
		return ModeLive
	default:
		return ModeLegacy
	}
}

// IsTerminal reports whether the status admits no further transitions.
// Confirmed still allows the refund branch.
func (p *PaymentIntent) IsTerminal() bool {
	return IsTerminalStatus(p.Status)
}

func IsTerminalStatus(status string) bool {
	switch status {
	case PaymentStatusFailed, PaymentStatusExpired, PaymentStatusRefunded:
		return true
	}
	return false
}

// IsExpired reports whether the expiry timestamp has passed. Intents without
// an expiry never expire.
func (p *PaymentIntent) IsExpired(now time.Time) bool {
	return p.ExpiresAt != nil && now.After(*p.ExpiresAt)
}
